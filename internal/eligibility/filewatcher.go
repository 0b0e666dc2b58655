package eligibility

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/log"
	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

const defaultDebounce = 500 * time.Millisecond

// fileDoc is the on-disk format:
//
//	prefixes:
//	  - /content/site/en
//	  - /content/site/de
type fileDoc struct {
	Prefixes []string `yaml:"prefixes"`
}

// LoadFile parses a prefix file.
func LoadFile(path string) (*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read eligibility file %s", path)
	}
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, xerrors.Wrapf(err, "parse eligibility file %s", path)
	}
	rule := NewRule(doc.Prefixes)
	if rule.Len() == 0 {
		return nil, xerrors.Newf("eligibility file %s lists no prefixes", path)
	}
	return rule, nil
}

type FileWatcherOptions struct {
	Logger   log.Logger
	Path     string
	Manager  *Manager
	Debounce time.Duration
	OnSwap   func(*Rule)
	// OnError is called for every rejected reload.
	OnError func(error)
}

// FileWatcher reloads the rule when its file changes on disk.
//
// The parent directory is watched rather than the file so that editors and
// config management that replace the file by rename keep triggering reloads.
type FileWatcher struct {
	opts FileWatcherOptions
	w    *fsnotify.Watcher

	mu       sync.Mutex
	debounce *time.Timer
}

// NewFileWatcher loads the file once into the manager and starts watching it.
func NewFileWatcher(opts FileWatcherOptions) (*FileWatcher, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	rule, err := LoadFile(opts.Path)
	if err != nil {
		return nil, err
	}
	opts.Manager.Set(rule, SourceFile)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, xerrors.Wrap(err, "create file watcher")
	}
	if err := fw.Add(filepath.Dir(opts.Path)); err != nil {
		fw.Close()
		return nil, xerrors.Wrapf(err, "watch %s", filepath.Dir(opts.Path))
	}
	return &FileWatcher{opts: opts, w: fw}, nil
}

// Run processes file events until ctx is cancelled.
func (f *FileWatcher) Run(ctx context.Context) error {
	defer f.w.Close()
	L := f.opts.Logger
	base := filepath.Base(f.opts.Path)

	for {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			if f.debounce != nil {
				f.debounce.Stop()
			}
			f.mu.Unlock()
			return nil

		case ev, ok := <-f.w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				f.schedule(ctx)
			}

		case err, ok := <-f.w.Errors:
			if !ok {
				return nil
			}
			L.Warn(ctx, "eligibility file watcher error", "error", err.Error())
		}
	}
}

func (f *FileWatcher) schedule(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.debounce != nil {
		f.debounce.Stop()
	}
	f.debounce = time.AfterFunc(f.opts.Debounce, func() { f.reload(ctx) })
}

// reload keeps the current rule when the new file is missing or invalid.
// A timer firing after Run has returned is a no-op.
func (f *FileWatcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	L := f.opts.Logger
	rule, err := LoadFile(f.opts.Path)
	if err != nil {
		L.Error(ctx, err, "eligibility reload rejected, keeping current rule")
		if f.opts.OnError != nil {
			f.opts.OnError(err)
		}
		return
	}
	if rule.Hash() == f.opts.Manager.Hash() {
		return
	}
	f.opts.Manager.Set(rule, SourceFile)
	L.Info(ctx, "eligibility rule reloaded from file",
		"path", f.opts.Path,
		"prefixes", rule.Len(),
	)
	if f.opts.OnSwap != nil {
		f.opts.OnSwap(rule)
	}
}
