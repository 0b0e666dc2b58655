package rewrite

import (
	"context"
	"fmt"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metastore"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// Repository and delivery conventions for published assets.
const (
	DefaultReferencePrefix = "/content/dam"

	MetadataSuffix = "/jcr:content/metadata"

	StatusProperty = "dam:scene7FileStatus"
	DomainProperty = "dam:scene7Domain"
	FileProperty   = "dam:scene7File"

	StatusPublishComplete = "PublishComplete"

	ImagePathSegment = "is/image/"
)

// MetadataStore is the lookup capability the resolver needs.
type MetadataStore interface {
	Lookup(ctx context.Context, key string) (metastore.Record, bool, error)
}

// Result is the outcome of resolving one reference: a replacement value or no change.
type Result struct {
	value    string
	replaced bool
}

// NoChange leaves the original value in place.
var NoChange = Result{}

// Replacement returns a Result that overwrites the reference with v.
func Replacement(v string) Result { return Result{value: v, replaced: true} }

// Value returns the replacement and whether there is one.
func (r Result) Value() (string, bool) { return r.value, r.replaced }

// Resolution classifies why a reference did or did not resolve, for metrics.
type Resolution string

const (
	ResolutionResolved     Resolution = "resolved"
	ResolutionNotFound     Resolution = "not_found"
	ResolutionNotPublished Resolution = "not_published"
	ResolutionIncomplete   Resolution = "incomplete"
	ResolutionError        Resolution = "error"
)

// Resolver maps asset references to delivery URLs using a MetadataStore.
type Resolver struct {
	store     MetadataStore
	onResolve func(Resolution)
}

// NewResolver returns a resolver over store. onResolve may be nil.
func NewResolver(store MetadataStore, onResolve func(Resolution)) *Resolver {
	return &Resolver{store: store, onResolve: onResolve}
}

// Resolve looks up the metadata record for candidate and builds the delivery
// URL when the asset is publish-complete. Every failure, including a panicking
// store, is reported as NoChange.
func (r *Resolver) Resolve(ctx context.Context, candidate string) (res Result) {
	L := log.FromContext(ctx)

	defer func() {
		if p := recover(); p != nil {
			L.Debug(ctx, "metadata lookup panicked, leaving reference unchanged",
				"reference", candidate,
				"panic", fmt.Sprint(p),
			)
			r.observe(ResolutionError)
			res = NoChange
		}
	}()

	rec, found, err := r.store.Lookup(ctx, candidate+MetadataSuffix)
	if err != nil {
		L.Debug(ctx, "metadata lookup failed, leaving reference unchanged",
			"reference", candidate,
			"error", xerrors.Wrap(err, "metadata lookup").Error(),
		)
		r.observe(ResolutionError)
		return NoChange
	}
	if !found || rec == nil {
		r.observe(ResolutionNotFound)
		return NoChange
	}

	if rec[StatusProperty] != StatusPublishComplete {
		L.Debug(ctx, "asset not published to image delivery", "reference", candidate)
		r.observe(ResolutionNotPublished)
		return NoChange
	}

	domain, okDomain := rec[DomainProperty]
	file, okFile := rec[FileProperty]
	if !okDomain || !okFile {
		L.Debug(ctx, "image delivery metadata incomplete",
			"reference", candidate,
			"has_domain", okDomain,
			"has_file", okFile,
		)
		r.observe(ResolutionIncomplete)
		return NoChange
	}

	r.observe(ResolutionResolved)
	return Replacement(domain + ImagePathSegment + file)
}

func (r *Resolver) observe(res Resolution) {
	if r.onResolve != nil {
		r.onResolve(res)
	}
}
