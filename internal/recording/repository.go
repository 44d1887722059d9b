package recording

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aibox-vision/aibox/internal/database"
)

// Repository persists recording metadata in SQLite.
type Repository struct {
	db *database.DB
}

// NewRepository creates a recording repository.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a recording row and fills in its generated id.
func (r *Repository) Create(ctx context.Context, rec *Recording) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO recordings (
			source_id, output_path, event_type, confidence, metadata,
			frame_count, size_bytes, start_ts, end_ts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SourceID, rec.OutputPath, rec.EventType, rec.Confidence, rec.Metadata,
		rec.FrameCount, rec.SizeBytes,
		rec.StartTime.UnixMilli(), rec.EndTime.UnixMilli(), rec.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}

	rec.ID, _ = result.LastInsertId()
	return nil
}

// Get retrieves a recording by id.
func (r *Repository) Get(ctx context.Context, id int64) (*Recording, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_id, output_path, event_type, confidence, metadata,
		       frame_count, size_bytes, start_ts, end_ts, created_at
		FROM recordings WHERE id = ?
	`, id)

	rec, err := scanRecording(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("recording not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List retrieves recordings matching opts, newest first, plus the total
// match count before pagination.
func (r *Repository) List(ctx context.Context, opts ListOptions) ([]*Recording, int, error) {
	query := `SELECT id, source_id, output_path, event_type, confidence, metadata,
	                 frame_count, size_bytes, start_ts, end_ts, created_at
	          FROM recordings WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM recordings WHERE 1=1`
	args := []interface{}{}

	if opts.SourceID != "" {
		query += " AND source_id = ?"
		countQuery += " AND source_id = ?"
		args = append(args, opts.SourceID)
	}
	if opts.EventType != "" {
		query += " AND event_type = ?"
		countQuery += " AND event_type = ?"
		args = append(args, opts.EventType)
	}
	if !opts.StartTime.IsZero() {
		query += " AND start_ts >= ?"
		countQuery += " AND start_ts >= ?"
		args = append(args, opts.StartTime.UnixMilli())
	}
	if !opts.EndTime.IsZero() {
		query += " AND start_ts <= ?"
		countQuery += " AND start_ts <= ?"
		args = append(args, opts.EndTime.UnixMilli())
	}

	countArgs := make([]interface{}, len(args))
	copy(countArgs, args)
	var totalCount int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY start_ts DESC"

	limit := 50
	if opts.Limit > 0 && opts.Limit <= 1000 {
		limit = opts.Limit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recordings := []*Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, 0, err
		}
		recordings = append(recordings, rec)
	}

	return recordings, totalCount, rows.Err()
}

// Delete removes a recording row.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM recordings WHERE id = ?", id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("recording not found: %d", id)
	}
	return nil
}

// ListEndedBefore returns recordings whose clip ended before the cutoff.
func (r *Repository) ListEndedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Recording, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_id, output_path, event_type, confidence, metadata,
		       frame_count, size_bytes, start_ts, end_ts, created_at
		FROM recordings WHERE end_ts < ? ORDER BY end_ts ASC LIMIT ?
	`, cutoff.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recordings := []*Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, rec)
	}
	return recordings, rows.Err()
}

// TotalSize returns the total bytes of recordings for a source, or all
// sources when sourceID is empty.
func (r *Repository) TotalSize(ctx context.Context, sourceID string) (int64, error) {
	query := "SELECT COALESCE(SUM(size_bytes), 0) FROM recordings"
	args := []interface{}{}
	if sourceID != "" {
		query += " WHERE source_id = ?"
		args = append(args, sourceID)
	}

	var total int64
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&total)
	return total, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecording(row rowScanner) (*Recording, error) {
	rec := &Recording{}
	var metadata sql.NullString
	var confidence sql.NullFloat64
	var startTs, endTs, createdAt int64

	err := row.Scan(
		&rec.ID, &rec.SourceID, &rec.OutputPath, &rec.EventType, &confidence, &metadata,
		&rec.FrameCount, &rec.SizeBytes, &startTs, &endTs, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.StartTime = time.UnixMilli(startTs)
	rec.EndTime = time.UnixMilli(endTs)
	rec.CreatedAt = time.Unix(createdAt, 0)
	if confidence.Valid {
		rec.Confidence = confidence.Float64
	}
	if metadata.Valid {
		rec.Metadata = metadata.String
	}

	return rec, nil
}
