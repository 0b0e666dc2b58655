package rewrite

import (
	"context"
	"errors"
	"testing"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/metastore"
)

const testRef = "/content/dam/test-image.jpg"

func publishedRecord() metastore.Record {
	return metastore.Record{
		StatusProperty: StatusPublishComplete,
		DomainProperty: "https://img.example.com/",
		FileProperty:   "test-image",
	}
}

// storeFunc adapts a function to MetadataStore.
type storeFunc func(ctx context.Context, key string) (metastore.Record, bool, error)

func (f storeFunc) Lookup(ctx context.Context, key string) (metastore.Record, bool, error) {
	return f(ctx, key)
}

func TestResolver_Resolve(t *testing.T) {
	tests := []struct {
		name    string
		records map[string]metastore.Record
		want    string
		replace bool
		res     Resolution
	}{
		{
			name:    "publish complete",
			records: map[string]metastore.Record{testRef + MetadataSuffix: publishedRecord()},
			want:    "https://img.example.com/is/image/test-image",
			replace: true,
			res:     ResolutionResolved,
		},
		{
			name:    "no record",
			records: nil,
			res:     ResolutionNotFound,
		},
		{
			name: "status absent",
			records: map[string]metastore.Record{testRef + MetadataSuffix: {
				DomainProperty: "https://img.example.com/",
				FileProperty:   "test-image",
			}},
			res: ResolutionNotPublished,
		},
		{
			name: "status other",
			records: map[string]metastore.Record{testRef + MetadataSuffix: {
				StatusProperty: "NotPublished",
				DomainProperty: "https://img.example.com/",
				FileProperty:   "test-image",
			}},
			res: ResolutionNotPublished,
		},
		{
			name: "domain missing",
			records: map[string]metastore.Record{testRef + MetadataSuffix: {
				StatusProperty: StatusPublishComplete,
				FileProperty:   "test-image",
			}},
			res: ResolutionIncomplete,
		},
		{
			name: "file missing",
			records: map[string]metastore.Record{testRef + MetadataSuffix: {
				StatusProperty: StatusPublishComplete,
				DomainProperty: "https://img.example.com/",
			}},
			res: ResolutionIncomplete,
		},
		{
			name: "empty domain still counts as present",
			records: map[string]metastore.Record{testRef + MetadataSuffix: {
				StatusProperty: StatusPublishComplete,
				DomainProperty: "",
				FileProperty:   "test-image",
			}},
			want:    "is/image/test-image",
			replace: true,
			res:     ResolutionResolved,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []Resolution
			r := NewResolver(metastore.NewMap(tt.records), func(res Resolution) { got = append(got, res) })

			v, ok := r.Resolve(t.Context(), testRef).Value()
			if ok != tt.replace || v != tt.want {
				t.Fatalf("Resolve = %q, %v; want %q, %v", v, ok, tt.want, tt.replace)
			}
			if len(got) != 1 || got[0] != tt.res {
				t.Fatalf("resolutions = %v, want [%s]", got, tt.res)
			}
		})
	}
}

func TestResolver_LookupKey(t *testing.T) {
	var keys []string
	r := NewResolver(storeFunc(func(_ context.Context, key string) (metastore.Record, bool, error) {
		keys = append(keys, key)
		return nil, false, nil
	}), nil)
	r.Resolve(t.Context(), testRef)
	if len(keys) != 1 || keys[0] != "/content/dam/test-image.jpg/jcr:content/metadata" {
		t.Fatalf("lookup keys = %v", keys)
	}
}

func TestResolver_StoreErrorIsNoChange(t *testing.T) {
	var got Resolution
	r := NewResolver(storeFunc(func(context.Context, string) (metastore.Record, bool, error) {
		return nil, false, errors.New("store unavailable")
	}), func(res Resolution) { got = res })

	if res := r.Resolve(t.Context(), testRef); res != NoChange {
		t.Fatalf("Resolve = %+v, want NoChange", res)
	}
	if got != ResolutionError {
		t.Fatalf("resolution = %s, want error", got)
	}
}

func TestResolver_StorePanicIsNoChange(t *testing.T) {
	var got Resolution
	r := NewResolver(storeFunc(func(context.Context, string) (metastore.Record, bool, error) {
		panic("boom")
	}), func(res Resolution) { got = res })

	if res := r.Resolve(t.Context(), testRef); res != NoChange {
		t.Fatalf("Resolve = %+v, want NoChange", res)
	}
	if got != ResolutionError {
		t.Fatalf("resolution = %s, want error", got)
	}
}
