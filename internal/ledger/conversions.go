package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Conversion is one recorded source-to-output run. SourceSize and SourceMTime
// identify the exact input revision that was converted.
type Conversion struct {
	ID          int64
	SourcePath  string
	SourceSize  int64
	SourceMTime time.Time
	OutputPath  string
	PlateID     int
	FastPath    bool
	RunID       string
	CreatedAt   time.Time
}

const conversionColumns = `id, source_path, source_size, source_mtime,
    output_path, plate_id, fast_path, run_id, created_at`

// Record inserts a finished conversion and fills in its ID and CreatedAt.
func (s *Store) Record(ctx context.Context, conv *Conversion) error {
	if conv == nil {
		return errors.New("conversion is nil")
	}
	now := time.Now().UTC()
	fastPath := 0
	if conv.FastPath {
		fastPath = 1
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO conversions (
            source_path, source_size, source_mtime, output_path,
            plate_id, fast_path, run_id, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.SourcePath,
		conv.SourceSize,
		formatTime(conv.SourceMTime),
		conv.OutputPath,
		conv.PlateID,
		fastPath,
		nullableString(conv.RunID),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	conv.ID = id
	conv.CreatedAt = now
	return nil
}

// AlreadyConverted reports whether a source with this exact path, size, and
// modification time has been recorded before.
func (s *Store) AlreadyConverted(ctx context.Context, sourcePath string, size int64, mtime time.Time) (bool, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM conversions
         WHERE source_path = ? AND source_size = ? AND source_mtime = ?`,
		sourcePath, size, formatTime(mtime),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query conversions: %w", err)
	}
	return count > 0, nil
}

// Recent returns the newest conversions, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Conversion, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+conversionColumns+` FROM conversions ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent conversions: %w", err)
	}
	defer rows.Close()

	var convs []Conversion
	for rows.Next() {
		conv, err := scanConversion(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversion(row scanner) (*Conversion, error) {
	var (
		conv      Conversion
		mtimeText string
		fastPath  int
		runID     sql.NullString
		createdAt string
	)
	if err := row.Scan(
		&conv.ID,
		&conv.SourcePath,
		&conv.SourceSize,
		&mtimeText,
		&conv.OutputPath,
		&conv.PlateID,
		&fastPath,
		&runID,
		&createdAt,
	); err != nil {
		return nil, fmt.Errorf("scan conversion: %w", err)
	}

	mtime, err := time.Parse(time.RFC3339Nano, mtimeText)
	if err != nil {
		return nil, fmt.Errorf("parse source mtime: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created at: %w", err)
	}

	conv.SourceMTime = mtime
	conv.FastPath = fastPath != 0
	conv.RunID = runID.String
	conv.CreatedAt = created
	return &conv, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
