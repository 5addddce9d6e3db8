// Package watch records file events under a workspace root as ledger
// changes. It keeps the last seen content of every file so modifications
// and deletions carry their prior content.
package watch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"agentledger/internal/ledger"
	"agentledger/internal/storage"
)

// MaxFileBytes bounds the content captured per file. Larger files are
// tracked without content and compared by digest.
const MaxFileBytes = 8 << 20

// defaultIgnore is always skipped in addition to configured patterns.
var defaultIgnore = []string{".ledger", ".git", ".ledger-tmp-*"}

// Tracker receives the changes the watcher observes. Both *ledger.Ledger and
// *ledger.Manager satisfy it.
type Tracker interface {
	Track(ctx context.Context, req ledger.TrackRequest) (storage.Change, error)
}

type Options struct {
	// Root is the directory to watch recursively.
	Root string
	// Ignore holds glob patterns matched against base names and
	// root-relative paths.
	Ignore []string
	// Exclude lists absolute paths (and everything below them) to skip,
	// typically the ledger database.
	Exclude  []string
	Debounce time.Duration
	AgentID  string
	// OnChange is called after each tracked change.
	OnChange func(storage.Change)
	Logger   *zerolog.Logger
}

type Watcher struct {
	tracker Tracker
	opts    Options
	root    string
	fsw     *fsnotify.Watcher
	log     zerolog.Logger

	mu       sync.Mutex
	known    map[string]fileState // rel path -> last seen state
	timers   map[string]*time.Timer
	pending  chan string
	stopping bool
}

// New snapshots the tree under opts.Root and registers watches on every
// directory. Events that happen after New returns are observed by Run.
func New(tracker Tracker, opts Options) (*Watcher, error) {
	if tracker == nil {
		return nil, errors.New("watch: tracker is required")
	}
	root, err := filepath.Abs(strings.TrimSpace(opts.Root))
	if err != nil {
		return nil, fmt.Errorf("watch: resolve root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{
		tracker: tracker,
		opts:    opts,
		root:    root,
		fsw:     fsw,
		log:     log.Logger,
		known:   map[string]fileState{},
		timers:  map[string]*time.Timer{},
		pending: make(chan string, 256),
	}
	if opts.Logger != nil {
		w.log = *opts.Logger
	}
	if err := w.addTree(root, true); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the resolved watch root.
func (w *Watcher) Root() string {
	return w.root
}

// Run records changes until ctx is cancelled. Pending debounced events are
// dropped on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer w.stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-w.fsw.Events:
				if !ok {
					return nil
				}
				w.handleEvent(ev)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return nil
				}
				w.log.Warn().Err(err).Msg("watcher error")
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case rel := <-w.pending:
				w.record(gctx, rel)
			}
		}
	})

	return g.Wait()
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	rel, ok := w.rel(ev.Name)
	if !ok || w.ignored(ev.Name, rel) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name, false); err != nil {
				w.log.Warn().Err(err).Str("dir", rel).Msg("watch new directory")
			}
			return
		}
	}
	w.schedule(rel)
}

// schedule queues rel for recording once it has been quiet for the
// debounce interval.
func (w *Watcher) schedule(rel string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopping {
		return
	}
	if w.opts.Debounce <= 0 {
		w.enqueueLocked(rel)
		return
	}
	if t, ok := w.timers[rel]; ok {
		t.Reset(w.opts.Debounce)
		return
	}
	w.timers[rel] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.timers, rel)
		if !w.stopping {
			w.enqueueLocked(rel)
		}
	})
}

func (w *Watcher) enqueueLocked(rel string) {
	select {
	case w.pending <- rel:
	default:
		w.log.Warn().Str("path", rel).Msg("event queue full, dropping event")
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopping = true
	for rel, t := range w.timers {
		t.Stop()
		delete(w.timers, rel)
	}
}

// record compares rel against its last known content and tracks the
// difference, if any.
func (w *Watcher) record(ctx context.Context, rel string) {
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	current, exists, err := readState(abs)
	if err != nil {
		w.log.Warn().Err(err).Str("path", rel).Msg("read changed file")
		return
	}

	w.mu.Lock()
	previous, known := w.known[rel]
	if exists {
		w.known[rel] = current
	} else {
		delete(w.known, rel)
	}
	w.mu.Unlock()

	req := ledger.TrackRequest{Path: rel, AgentID: w.opts.AgentID}
	switch {
	case exists && !known:
		req.Type, req.Content = "create", current.content
	case exists && known:
		if previous.equal(current) {
			return
		}
		req.Type, req.Content, req.ContentBefore = "modify", current.content, previous.content
	case !exists && known:
		req.Type, req.ContentBefore = "delete", previous.content
	default:
		return
	}

	change, err := w.tracker.Track(ctx, req)
	if err != nil {
		w.log.Error().Err(err).Str("path", rel).Str("type", req.Type).Msg("track change")
		return
	}
	w.log.Info().Str("change", change.ID.String()).Str("type", req.Type).Str("path", rel).Msg("tracked")
	if w.opts.OnChange != nil {
		w.opts.OnChange(change)
	}
}

// addTree watches dir and its subdirectories. With snapshot set, file
// contents are remembered silently; otherwise each file is queued so files
// arriving with a new directory are tracked as creates.
func (w *Watcher) addTree(dir string, snapshot bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, ok := w.rel(path)
		if !ok {
			return nil
		}
		if rel != "." && w.ignored(path, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !snapshot {
			w.schedule(rel)
			return nil
		}
		if state, exists, err := readState(path); err == nil && exists {
			w.known[rel] = state
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	r, err := filepath.Rel(w.root, path)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(r), true
}

func (w *Watcher) ignored(abs, rel string) bool {
	for _, ex := range w.opts.Exclude {
		ex = filepath.Clean(ex)
		if abs == ex || strings.HasPrefix(abs, ex+string(filepath.Separator)) || strings.HasPrefix(abs, ex+"-") {
			return true
		}
	}
	parts := strings.Split(rel, "/")
	for _, pattern := range append(defaultIgnore, w.opts.Ignore...) {
		pattern = strings.TrimSuffix(strings.TrimSpace(pattern), "/")
		if pattern == "" {
			continue
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		for _, part := range parts {
			if matched, _ := filepath.Match(pattern, part); matched {
				return true
			}
		}
	}
	return false
}

// fileState is the last seen state of a file. content is nil for files
// above MaxFileBytes.
type fileState struct {
	content []byte
	digest  string
}

func (s fileState) equal(o fileState) bool {
	if s.content != nil && o.content != nil {
		return bytes.Equal(s.content, o.content)
	}
	return s.digest == o.digest
}

// readState reads the file at path. exists is false when the file is gone or
// is a directory.
func readState(path string) (fileState, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileState{}, false, nil
	}
	if err != nil {
		return fileState{}, false, err
	}
	if info.IsDir() {
		return fileState{}, false, nil
	}
	if info.Size() > MaxFileBytes {
		digest, err := streamDigest(path)
		if errors.Is(err, os.ErrNotExist) {
			return fileState{}, false, nil
		}
		if err != nil {
			return fileState{}, false, err
		}
		return fileState{digest: digest}, true, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fileState{}, false, nil
	}
	if err != nil {
		return fileState{}, false, err
	}
	if data == nil {
		data = []byte{}
	}
	return fileState{content: data, digest: storage.HashContent(data)}, true, nil
}

// streamDigest hashes a file without holding it in memory; the format
// matches storage.HashContent.
func streamDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum128().Bytes()), nil
}
