// Package watch saves chunk files dropped into an inbox directory.
//
// The watcher listens for create and write events on *.jsonl files, waits
// for writes to settle, saves the decoded chunks through the storage engine
// and renames the file with a .done suffix so it is not picked up again.
// Files that fail to decode, or that have records the store did not apply,
// are left in place and saved again on the next write or the next start.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/chunkstore/internal/chunkfile"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driving"
	"github.com/custodia-labs/chunkstore/internal/logger"
)

// DoneSuffix is appended to a chunk file after it has been saved.
const DoneSuffix = ".done"

// DefaultSettle is how long a file must go without writes before it is read.
const DefaultSettle = 500 * time.Millisecond

// Result reports what happened to one chunk file.
type Result struct {
	Path    string
	Outcome *domain.BatchOutcome
	Err     error

	// Done is true when the file was renamed with DoneSuffix.
	Done bool
}

// Unapplied returns the number of records that failed in the store or were
// cancelled. Validation failures are not counted: saving again cannot fix them.
func (r Result) Unapplied() int {
	if r.Outcome == nil {
		return 0
	}
	return len(r.Outcome.FailuresOfKind(domain.FailureStore)) +
		len(r.Outcome.FailuresOfKind(domain.FailureCancelled))
}

// Watcher saves chunk files that appear in a directory.
type Watcher struct {
	dir     string
	storage driving.ChunkStorage
	settle  time.Duration
	backlog bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets the quiet period after the last write event.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) { w.settle = d }
}

// WithBacklog makes Run save chunk files already in the directory before
// watching for new ones.
func WithBacklog(enabled bool) Option {
	return func(w *Watcher) { w.backlog = enabled }
}

// New creates a watcher for dir.
func New(dir string, storage driving.ChunkStorage, opts ...Option) (*Watcher, error) {
	if storage == nil {
		return nil, errors.New("watch: chunk storage is required")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", dir)
	}

	w := &Watcher{dir: dir, storage: storage, settle: DefaultSettle}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// settled is sent when a file's quiet period ends. gen identifies the event
// that armed the timer so superseded timers are ignored.
type settled struct {
	path string
	gen  int
}

// Run starts watching and returns a channel of per-file results.
// The channel is closed when ctx is cancelled or the watcher fails.
func (w *Watcher) Run(ctx context.Context) (<-chan Result, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close() //nolint:errcheck
		return nil, fmt.Errorf("watching %s: %w", w.dir, err)
	}

	results := make(chan Result)
	go w.loop(ctx, fw, results)
	logger.Info("Watching %s for %s files", w.dir, chunkfile.Extension)
	return results, nil
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, results chan<- Result) {
	defer close(results)
	defer fw.Close() //nolint:errcheck

	emit := func(r Result) bool {
		select {
		case results <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if w.backlog {
		for _, path := range w.pending() {
			if !emit(w.ProcessFile(ctx, path)) {
				return
			}
		}
	}

	ready := make(chan settled)
	gens := make(map[string]int)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			path := event.Name
			gens[path]++
			gen := gens[path]
			if t, ok := timers[path]; ok {
				t.Stop()
			}
			timers[path] = time.AfterFunc(w.settle, func() {
				select {
				case ready <- settled{path: path, gen: gen}:
				case <-ctx.Done():
				}
			})

		case s := <-ready:
			if s.gen != gens[s.path] {
				continue
			}
			delete(gens, s.path)
			delete(timers, s.path)
			if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
				logger.Debug("Watch: %s vanished before it settled", s.path)
				continue
			}
			if !emit(w.ProcessFile(ctx, s.path)) {
				return
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warn("Watch: %v", err)
		}
	}
}

// relevant reports whether event is a create or write of a chunk file.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(event.Name)
	if len(name) == 0 || name[0] == '.' {
		return false
	}
	return chunkfile.IsChunkFile(name)
}

// pending lists chunk files already in the directory, sorted by name.
func (w *Watcher) pending() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		logger.Warn("Watch: listing %s: %v", w.dir, err)
		return nil
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || e.Name()[0] == '.' || !chunkfile.IsChunkFile(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, e.Name()))
	}
	sort.Strings(paths)
	return paths
}

// ProcessFile decodes and saves one chunk file. The file is marked done
// only when every record was either stored or rejected by validation.
func (w *Watcher) ProcessFile(ctx context.Context, path string) Result {
	result := Result{Path: path}

	f, err := os.Open(path)
	if err != nil {
		result.Err = fmt.Errorf("opening %s: %w", path, err)
		return result
	}
	records, err := chunkfile.DecodeChunks(f)
	f.Close() //nolint:errcheck
	if err != nil {
		result.Err = fmt.Errorf("decoding %s: %w", path, err)
		logger.Error("Watch: %v", result.Err)
		return result
	}

	outcome, err := w.storage.SaveChunksBatch(ctx, records)
	if err != nil {
		result.Err = fmt.Errorf("saving %s: %w", path, err)
		logger.Error("Watch: %v", result.Err)
		return result
	}
	result.Outcome = outcome

	if n := result.Unapplied(); n > 0 {
		logger.Warn("Watch: %s: %d/%d chunks not applied, keeping file for retry",
			filepath.Base(path), n, outcome.TotalCount)
		return result
	}

	if err := os.Rename(path, path+DoneSuffix); err != nil {
		logger.Warn("Watch: marking %s done: %v", path, err)
	} else {
		result.Done = true
	}
	logger.Info("Watch: %s saved %d/%d chunks", filepath.Base(path), outcome.SuccessCount, outcome.TotalCount)
	return result
}
