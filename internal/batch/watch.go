package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"replate/internal/config"
	"replate/internal/converter"
	"replate/internal/logging"
)

const watchQueueSize = 256

// WatchOptions shapes a watch session.
type WatchOptions struct {
	InputDir  string
	OutputDir string
	// Settle is how long a file's size must stay unchanged before it is
	// converted. Zero falls back to the configured value.
	Settle time.Duration
	// Initial converts bundles already present when the watch starts.
	Initial bool
}

// Watcher converts bundles as they appear under a directory tree. New
// subdirectories are picked up as they are created.
type Watcher struct {
	conv      *converter.Converter
	logger    *slog.Logger
	inputDir  string
	outputDir string
	settle    time.Duration
	initial   bool

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fsw     *fsnotify.Watcher
	pending map[string]struct{}
	queue   chan string
}

// NewWatcher returns a Watcher over opts.InputDir. A nil logger disables
// logging.
func NewWatcher(cfg *config.Config, conv *converter.Converter, logger *slog.Logger, opts WatchOptions) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	info, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", opts.InputDir)
	}

	outDir := opts.OutputDir
	if outDir == "" {
		outDir = cfg.Paths.OutputDir
	}
	if outDir == "" {
		return nil, errors.New("output directory not set")
	}

	settle := opts.Settle
	if settle <= 0 {
		settle = time.Duration(cfg.Watch.SettleSeconds) * time.Second
	}

	return &Watcher{
		conv:      conv,
		logger:    logging.NewComponentLogger(logger, "watch"),
		inputDir:  opts.InputDir,
		outputDir: outDir,
		settle:    settle,
		initial:   opts.Initial,
	}, nil
}

// Start begins watching. It returns an error if the watcher is already
// running or the input tree cannot be registered.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := addTree(fsw, w.inputDir); err != nil {
		fsw.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.ctx = runCtx
	w.cancel = cancel
	w.fsw = fsw
	w.pending = make(map[string]struct{})
	w.queue = make(chan string, watchQueueSize)
	w.running = true

	w.wg.Add(2)
	go w.eventLoop()
	go w.convertLoop()

	if w.initial {
		w.wg.Add(1)
		go w.initialScan()
	}

	w.logger.Info("watching for bundles",
		logging.String("input", w.inputDir),
		logging.String(logging.FieldOutput, w.outputDir),
		logging.String("settle", w.settle.String()))
	return nil
}

// Stop halts the watcher and waits for in-flight work to finish. It is safe
// to call on a watcher that never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	fsw := w.fsw
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if fsw != nil {
		if err := fsw.Close(); err != nil {
			w.logger.Warn("failed to close filesystem watcher", logging.Error(err))
		}
	}
	w.wg.Wait()
	w.logger.Info("watch stopped")
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", logging.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			w.addNewDir(ev.Name)
		}
		return
	}
	if !isBundleName(filepath.Base(ev.Name)) {
		return
	}
	w.enqueue(ev.Name)
}

// addNewDir registers a freshly created directory and sweeps it for bundles
// that landed before the watch was in place.
func (w *Watcher) addNewDir(dir string) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := w.fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory",
					logging.String("dir", path), logging.Error(err))
			}
			return nil
		}
		if isBundleName(d.Name()) {
			w.enqueue(path)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("failed to scan new directory",
			logging.String("dir", dir), logging.Error(err))
	}
}

func (w *Watcher) initialScan() {
	defer w.wg.Done()
	files, err := Discover(w.inputDir, true)
	if err != nil {
		w.logger.Warn("initial scan failed", logging.Error(err))
		return
	}
	for _, f := range files {
		select {
		case <-w.ctx.Done():
			return
		default:
		}
		w.enqueue(f)
	}
}

func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	if w.pending == nil {
		w.mu.Unlock()
		return
	}
	if _, exists := w.pending[path]; exists {
		w.mu.Unlock()
		return
	}
	w.pending[path] = struct{}{}
	w.mu.Unlock()

	select {
	case w.queue <- path:
	case <-w.ctx.Done():
		w.clearPending(path)
	}
}

func (w *Watcher) clearPending(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()
}

func (w *Watcher) convertLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case path := <-w.queue:
			w.process(path)
		}
	}
}

func (w *Watcher) process(path string) {
	defer w.clearPending(path)

	if !w.waitSettled(path) {
		return
	}
	res, err := w.conv.Convert(w.ctx, path, w.outputDir)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.logger.Error("conversion failed",
			logging.String(logging.FieldSource, path), logging.Error(err))
		return
	}
	w.logger.Info("converted bundle",
		logging.String(logging.FieldSource, path),
		logging.String(logging.FieldOutput, res.OutputPath))
}

// waitSettled blocks until the file's size has stayed unchanged for the
// settle interval. It reports false when the watch is stopping or the file
// disappeared.
func (w *Watcher) waitSettled(path string) bool {
	var lastSize int64 = -1
	for {
		select {
		case <-w.ctx.Done():
			return false
		case <-time.After(w.settle):
		}
		info, err := os.Stat(path)
		if err != nil {
			w.logger.Warn("bundle vanished before conversion",
				logging.String(logging.FieldSource, path))
			return false
		}
		if info.Size() == lastSize {
			return true
		}
		lastSize = info.Size()
	}
}

func addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
