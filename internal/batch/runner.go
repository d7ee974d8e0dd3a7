// Package batch drives conversions over whole directory trees, either as a
// one-shot run or by watching for new bundles.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"replate/internal/config"
	"replate/internal/converter"
	"replate/internal/ledger"
	"replate/internal/logging"
	"replate/internal/preflight"
)

const bundleSuffix = ".gcode.3mf"

// Options shapes one batch run.
type Options struct {
	InputDir  string
	OutputDir string
	// Recursive descends into subdirectories; their relative position is
	// mirrored under the output root.
	Recursive bool
	// DryRun reports what would be converted without touching anything.
	DryRun bool
	// Workers caps concurrent conversions. Zero falls back to the configured
	// value, then to 1.
	Workers int
	// Resume skips sources already recorded in the ledger with an identical
	// size and modification time.
	Resume bool
}

// FileResult is the outcome for one discovered bundle.
type FileResult struct {
	Source    string
	OutputDir string
	// Output is the written bundle path, empty when skipped, failed, or on
	// a dry run.
	Output   string
	PlateID  int
	FastPath bool
	Skipped  bool
	Err      error
}

// Summary aggregates a batch run. Per-file failures are counted here rather
// than failing the run.
type Summary struct {
	RunID     string
	Found     int
	Converted int
	Skipped   int
	Failed    int
	Results   []FileResult
}

// Runner executes batch conversions. The ledger store may be nil, which
// disables resume and recording.
type Runner struct {
	cfg    *config.Config
	conv   *converter.Converter
	store  *ledger.Store
	logger *slog.Logger
}

// NewRunner returns a batch Runner. A nil logger disables logging.
func NewRunner(cfg *config.Config, conv *converter.Converter, store *ledger.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		cfg:    cfg,
		conv:   conv,
		store:  store,
		logger: logging.NewComponentLogger(logger, "batch"),
	}
}

// Run discovers bundles under opts.InputDir and converts them. Setup
// problems (missing input, unwritable destination, held lock) fail the run;
// per-file failures only count toward the summary.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	info, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path %s is not a directory", opts.InputDir)
	}

	outRoot := opts.OutputDir
	if outRoot == "" {
		outRoot = r.cfg.Paths.OutputDir
	}
	if outRoot == "" {
		return nil, errors.New("output directory not set")
	}

	files, err := Discover(opts.InputDir, opts.Recursive)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.WithContext(ctx, r.logger)
	started := time.Now()

	summary := &Summary{RunID: runID, Found: len(files)}
	logger.Info("batch run starting",
		logging.Int("found", len(files)),
		logging.Bool("dry_run", opts.DryRun))

	if opts.DryRun {
		for _, src := range files {
			summary.Results = append(summary.Results, FileResult{
				Source:    src,
				OutputDir: mirrorDir(opts.InputDir, outRoot, src),
			})
		}
		return summary, nil
	}

	if res := preflight.CheckDestination(outRoot); !res.Passed {
		return nil, fmt.Errorf("%w: %s", converter.ErrDestinationUnwritable, res.Detail)
	}
	if res := preflight.CheckFreeSpace(outRoot, totalSize(files)); !res.Passed {
		logger.Warn("free space check failed", logging.String("detail", res.Detail))
	}

	if r.store != nil {
		lock := flock.New(r.cfg.LockPath())
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire batch lock: %w", err)
		}
		if !ok {
			return nil, errors.New("another batch run is already writing the ledger")
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				logger.Warn("failed to release batch lock", logging.Error(err))
			}
		}()
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = r.cfg.Batch.Workers
	}
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan FileResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range jobs {
				results <- r.processOne(ctx, logger, src, opts, outRoot)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, src := range files {
			select {
			case jobs <- src:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		switch {
		case res.Err != nil:
			summary.Failed++
		case res.Skipped:
			summary.Skipped++
		default:
			summary.Converted++
		}
		summary.Results = append(summary.Results, res)
	}
	sort.Slice(summary.Results, func(i, j int) bool {
		return summary.Results[i].Source < summary.Results[j].Source
	})

	logger.Info("batch run finished",
		logging.Int("found", summary.Found),
		logging.Int("converted", summary.Converted),
		logging.Int("skipped", summary.Skipped),
		logging.Int("failed", summary.Failed),
		logging.Duration("elapsed", time.Since(started)))

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) processOne(ctx context.Context, logger *slog.Logger, src string, opts Options, outRoot string) FileResult {
	result := FileResult{Source: src, OutputDir: mirrorDir(opts.InputDir, outRoot, src)}
	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	srcInfo, err := os.Stat(src)
	if err != nil {
		result.Err = fmt.Errorf("stat source: %w", err)
		logger.Error("conversion failed", logging.String(logging.FieldSource, src), logging.Error(result.Err))
		return result
	}

	if opts.Resume && r.store != nil {
		done, err := r.store.AlreadyConverted(ctx, src, srcInfo.Size(), srcInfo.ModTime())
		if err != nil {
			logger.Warn("ledger lookup failed, converting anyway",
				logging.String(logging.FieldSource, src), logging.Error(err))
		} else if done {
			logger.Info("already converted, skipping", logging.String(logging.FieldSource, src))
			result.Skipped = true
			return result
		}
	}

	res, err := r.conv.Convert(ctx, src, result.OutputDir)
	if err != nil {
		result.Err = err
		if !errors.Is(err, context.Canceled) {
			logger.Error("conversion failed", logging.String(logging.FieldSource, src), logging.Error(err))
		}
		return result
	}

	result.Output = res.OutputPath
	result.PlateID = res.PlateID
	result.FastPath = res.FastPath

	if r.store != nil {
		runID, _ := logging.RunIDFromContext(ctx)
		record := &ledger.Conversion{
			SourcePath:  src,
			SourceSize:  srcInfo.Size(),
			SourceMTime: srcInfo.ModTime(),
			OutputPath:  res.OutputPath,
			PlateID:     res.PlateID,
			FastPath:    res.FastPath,
			RunID:       runID,
		}
		if err := r.store.Record(ctx, record); err != nil {
			logger.Warn("failed to record conversion",
				logging.String(logging.FieldSource, src), logging.Error(err))
		}
	}
	return result
}

// Discover returns the bundle files under root in sorted order. Without
// recursive only the top level is scanned.
func Discover(root string, recursive bool) ([]string, error) {
	var files []string
	if recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isBundleName(d.Name()) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan input directory: %w", err)
		}
	} else {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("scan input directory: %w", err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && isBundleName(entry.Name()) {
				files = append(files, filepath.Join(root, entry.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func isBundleName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), bundleSuffix)
}

// mirrorDir maps a source file's directory position under the output root.
func mirrorDir(inputRoot, outRoot, src string) string {
	rel, err := filepath.Rel(inputRoot, filepath.Dir(src))
	if err != nil || rel == "." {
		return outRoot
	}
	return filepath.Join(outRoot, rel)
}

func totalSize(files []string) int64 {
	var total int64
	for _, f := range files {
		if info, err := os.Stat(f); err == nil {
			total += info.Size()
		}
	}
	return total
}
