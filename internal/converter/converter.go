// Package converter turns a multi-plate project bundle into a single-plate
// bundle holding only the exported plate, renumbered to plate 1.
package converter

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"replate/internal/config"
	"replate/internal/fileutil"
	"replate/internal/logging"
	"replate/internal/plate"
	"replate/internal/rewrite"
	"replate/internal/threemf"
)

// bundleSuffix is the canonical extension of sliced project bundles.
const bundleSuffix = ".gcode.3mf"

// ErrDestinationUnwritable marks failures to create or write the output.
// Fatal for conversion.
var ErrDestinationUnwritable = errors.New("destination not writable")

// Result describes one finished conversion.
type Result struct {
	// OutputPath is the bundle that was written.
	OutputPath string
	// PlateID is the plate that was kept.
	PlateID int
	// FastPath is true when the input was already single-plate and was
	// copied through byte for byte.
	FastPath bool
	// Written and Dropped count output entries and discarded plate assets.
	// Both are zero on the fast path.
	Written int
	Dropped int
}

// Converter rewrites bundles according to the configured compression level.
// Safe for concurrent use.
type Converter struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New returns a Converter. A nil logger disables logging.
func New(cfg *config.Config, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Converter{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "converter"),
	}
}

// Convert normalizes the bundle at inputPath into outDir and returns where
// the output landed. The output name never clobbers an existing file; a
// numeric suffix is appended instead. On failure any partial output is
// removed.
func (c *Converter) Convert(ctx context.Context, inputPath, outDir string) (*Result, error) {
	if outDir == "" {
		return nil, errors.New("output directory not set")
	}

	arc, err := threemf.Open(inputPath)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With(logging.String(logging.FieldSource, inputPath))

	det, err := plate.Detect(arc, logger)
	if err != nil {
		return nil, err
	}

	outPath, err := resolveOutputPath(inputPath, outDir, det.ID)
	if err != nil {
		return nil, err
	}

	if plate.AlreadySingle(arc, logger) {
		logger.Info("bundle already single-plate, copying through",
			logging.String(logging.FieldOutput, outPath))
		if err := fileutil.CopyFileVerified(inputPath, outPath); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDestinationUnwritable, err)
		}
		return &Result{OutputPath: outPath, PlateID: det.ID, FastPath: true}, nil
	}

	logger.Info("converting to single plate",
		logging.Int(logging.FieldPlate, det.ID),
		logging.String(logging.FieldOutput, outPath))

	rw := rewrite.New(det.ID, logger)
	written, dropped, err := c.writeBundle(ctx, arc, rw, outPath)
	if err != nil {
		c.removePartial(outPath)
		return nil, err
	}

	logger.Info("wrote single-plate bundle",
		logging.String(logging.FieldOutput, outPath),
		logging.Int("written", written),
		logging.Int("dropped", dropped))

	return &Result{OutputPath: outPath, PlateID: det.ID, Written: written, Dropped: dropped}, nil
}

// writeBundle streams the archive's entries into a fresh zip at outPath,
// renaming, dropping, and rewriting them for the kept plate.
func (c *Converter) writeBundle(ctx context.Context, arc *threemf.Archive, rw *rewrite.Rewriter, outPath string) (int, int, error) {
	f, err := os.Create(outPath)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDestinationUnwritable, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	level := c.cfg.Output.CompressionLevel
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})

	written, dropped := 0, 0
	for _, entry := range arc.Entries {
		if err := ctx.Err(); err != nil {
			return written, dropped, err
		}
		if entry.Dir || threemf.IsJunk(entry.Name) {
			continue
		}
		name := arc.StripPrefix(entry.Name)
		if threemf.IsJunk(name) {
			continue
		}

		newName, keep := rw.RenameOrDrop(name)
		if !keep {
			dropped++
			c.logger.Debug("dropping plate asset", logging.String(logging.FieldEntry, name))
			continue
		}

		data := rw.Apply(newName, entry.Data)
		w, err := zw.Create(newName)
		if err != nil {
			return written, dropped, fmt.Errorf("%w: create %s: %v", ErrDestinationUnwritable, newName, err)
		}
		if _, err := w.Write(data); err != nil {
			return written, dropped, fmt.Errorf("%w: write %s: %v", ErrDestinationUnwritable, newName, err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, dropped, fmt.Errorf("%w: %v", ErrDestinationUnwritable, err)
	}
	if err := f.Close(); err != nil {
		return written, dropped, fmt.Errorf("%w: %v", ErrDestinationUnwritable, err)
	}
	return written, dropped, nil
}

func (c *Converter) removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("could not remove partial output",
			logging.String(logging.FieldOutput, path), logging.Error(err))
	}
}

// resolveOutputPath creates outDir and picks a non-clobbering output name:
// foo.gcode.3mf becomes foo_plate2.gcode.3mf, then foo_plate2_1.gcode.3mf
// and so on when taken.
func resolveOutputPath(inputPath, outDir string, plateID int) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDestinationUnwritable, err)
	}

	name := filepath.Base(inputPath)
	var base, ext string
	if strings.HasSuffix(strings.ToLower(name), bundleSuffix) {
		base = name[:len(name)-len(bundleSuffix)]
		ext = bundleSuffix
	} else {
		ext = filepath.Ext(name)
		base = strings.TrimSuffix(name, ext)
	}

	candidate := filepath.Join(outDir, fmt.Sprintf("%s_plate%d%s", base, plateID, ext))
	if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate, nil
	}
	for i := 1; ; i++ {
		candidate = filepath.Join(outDir, fmt.Sprintf("%s_plate%d_%d%s", base, plateID, i, ext))
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		}
	}
}
