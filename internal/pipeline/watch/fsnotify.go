package watch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifySource implements Source using fsnotify. Directories are watched
// recursively and directories created later are added as they appear.
type FSNotifySource struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	paths   map[string]bool
	skip    func(string) bool

	events chan Event
	errors chan error

	closed   bool
	closeCh  chan struct{}
	closedWg sync.WaitGroup
}

// SourceOption customizes an FSNotifySource.
type SourceOption func(*FSNotifySource)

// WithSkipDir excludes directories (and everything below them) from the
// recursive watch, typically the build output.
func WithSkipDir(skip func(dir string) bool) SourceOption {
	return func(s *FSNotifySource) {
		s.skip = skip
	}
}

// NewFSNotifySource watches every root recursively. A root that does not
// exist yet is replaced by its nearest existing ancestor so that creating it
// later is still observed.
func NewFSNotifySource(roots []string, opts ...SourceOption) (*FSNotifySource, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &SubscriptionError{Err: err}
	}
	s := &FSNotifySource{
		watcher: fsw,
		paths:   map[string]bool{},
		events:  make(chan Event, 256),
		errors:  make(chan error, 1),
		closeCh: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	for _, root := range roots {
		dir, err := existingAncestor(root)
		if err != nil {
			_ = fsw.Close()
			return nil, &SubscriptionError{Root: root, Err: err}
		}
		if err := s.watchRecursive(dir); err != nil {
			_ = fsw.Close()
			return nil, &SubscriptionError{Root: root, Err: err}
		}
	}
	s.closedWg.Add(1)
	go s.processLoop()
	return s, nil
}

// Events returns the event channel.
func (s *FSNotifySource) Events() <-chan Event { return s.events }

// Errors returns the error channel.
func (s *FSNotifySource) Errors() <-chan error { return s.errors }

// WatchedPaths returns every watched directory.
func (s *FSNotifySource) WatchedPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	return out
}

// Close stops the source.
func (s *FSNotifySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()

	s.closedWg.Wait()
	close(s.events)
	close(s.errors)
	return s.watcher.Close()
}

func (s *FSNotifySource) watchRecursive(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && s.skip != nil && s.skip(p) {
			return filepath.SkipDir
		}
		return s.watch(p)
	})
}

func (s *FSNotifySource) watch(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paths[dir] {
		return nil
	}
	if err := s.watcher.Add(dir); err != nil {
		return err
	}
	s.paths[dir] = true
	return nil
}

func (s *FSNotifySource) processLoop() {
	defer s.closedWg.Done()
	for {
		select {
		case <-s.closeCh:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.fail(err)
		}
	}
}

// fail reports a lost subscription. Only the first error is kept.
func (s *FSNotifySource) fail(err error) {
	select {
	case s.errors <- err:
	default:
	}
}

func (s *FSNotifySource) handle(ev fsnotify.Event) {
	var kind Kind
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		kind = Deleted
	case ev.Has(fsnotify.Create):
		kind = Created
	case ev.Has(fsnotify.Write):
		kind = Modified
	default:
		return
	}
	if kind == Created {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if s.skip != nil && s.skip(ev.Name) {
				return
			}
			if err := s.watchRecursive(ev.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.fail(&SubscriptionError{Root: ev.Name, Err: err})
				return
			}
			// Files copied in together with the directory were created
			// before the watch existed.
			_ = filepath.WalkDir(ev.Name, func(p string, d fs.DirEntry, err error) error {
				if err == nil && !d.IsDir() {
					s.send(Event{Path: p, Kind: Created, Time: time.Now()})
				}
				return nil
			})
			return
		}
	}
	s.send(Event{Path: ev.Name, Kind: kind, Time: time.Now()})
}

func (s *FSNotifySource) send(ev Event) {
	select {
	case s.events <- ev:
	case <-s.closeCh:
	}
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		info, err := os.Stat(abs)
		if err == nil {
			if !info.IsDir() {
				return filepath.Dir(abs), nil
			}
			return abs, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(abs)
		if parent == abs {
			return "", err
		}
		abs = parent
	}
}
