package events

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aibox-vision/aibox/internal/database"
)

// Service persists behavior events and fans them out to in-process
// subscribers.
type Service struct {
	db          *database.DB
	logger      *slog.Logger
	subscribers []chan *BehaviorEvent
	mu          sync.RWMutex
}

// NewService creates a behavior event service.
func NewService(db *database.DB) *Service {
	return &Service{
		db:          db,
		logger:      slog.Default().With("component", "event_service"),
		subscribers: make([]chan *BehaviorEvent, 0),
	}
}

// Subscribe returns a channel that receives newly created events. Slow
// subscribers miss events rather than blocking creation.
func (s *Service) Subscribe() chan *BehaviorEvent {
	ch := make(chan *BehaviorEvent, 100)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Service) Unsubscribe(ch chan *BehaviorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Create stores a new behavior event and notifies subscribers.
func (s *Service) Create(ctx context.Context, event *BehaviorEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var metadata interface{}
	if len(event.Metadata) > 0 {
		metadata = string(event.Metadata)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (
			event_id, camera_id, event_type, rule_id, object_id, reid_id,
			local_track_id, global_track_id, confidence,
			bbox_x, bbox_y, bbox_w, bbox_h, metadata, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.CameraID, event.EventType, event.RuleID, event.ObjectID, event.ReIDID,
		event.LocalTrackID, event.GlobalTrackID, event.Confidence,
		event.Bbox.Min.X, event.Bbox.Min.Y, event.Bbox.Dx(), event.Bbox.Dy(),
		metadata, event.Timestamp.UnixMilli(), event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	s.notifySubscribers(event)

	s.logger.Info("Event created",
		"id", event.ID,
		"type", event.EventType,
		"camera", event.CameraID,
		"global_track_id", event.GlobalTrackID,
	)
	return nil
}

// Get retrieves an event by id.
func (s *Service) Get(ctx context.Context, id string) (*BehaviorEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, camera_id, event_type, rule_id, object_id, reid_id,
		       local_track_id, global_track_id, confidence,
		       bbox_x, bbox_y, bbox_w, bbox_h, metadata, timestamp, created_at
		FROM events WHERE event_id = ?
	`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// List retrieves events matching opts, newest first, with the total
// count of matches before pagination.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*BehaviorEvent, int, error) {
	query := `SELECT event_id, camera_id, event_type, rule_id, object_id, reid_id,
	                 local_track_id, global_track_id, confidence,
	                 bbox_x, bbox_y, bbox_w, bbox_h, metadata, timestamp, created_at
	          FROM events WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM events WHERE 1=1`
	args := []interface{}{}

	if opts.CameraID != "" {
		query += " AND camera_id = ?"
		countQuery += " AND camera_id = ?"
		args = append(args, opts.CameraID)
	}
	if opts.EventType != "" {
		query += " AND event_type = ?"
		countQuery += " AND event_type = ?"
		args = append(args, opts.EventType)
	}
	if !opts.StartTime.IsZero() {
		query += " AND timestamp >= ?"
		countQuery += " AND timestamp >= ?"
		args = append(args, opts.StartTime.UnixMilli())
	}
	if !opts.EndTime.IsZero() {
		query += " AND timestamp <= ?"
		countQuery += " AND timestamp <= ?"
		args = append(args, opts.EndTime.UnixMilli())
	}

	countArgs := make([]interface{}, len(args))
	copy(countArgs, args)
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	query += " ORDER BY timestamp DESC"

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

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := []*BehaviorEvent{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	return events, totalCount, rows.Err()
}

// Delete removes an event.
func (s *Service) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE event_id = ?", id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("event not found: %s", id)
	}
	return nil
}

// GetStats returns event counts for the health surface.
func (s *Service) GetStats(ctx context.Context, cameraID string) (map[string]interface{}, error) {
	now := time.Now()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var today, total int

	query := "SELECT COUNT(*) FROM events WHERE timestamp >= ?"
	args := []interface{}{todayStart.UnixMilli()}
	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}
	_ = s.db.QueryRowContext(ctx, query, args...).Scan(&today)

	query = "SELECT COUNT(*) FROM events"
	args = []interface{}{}
	if cameraID != "" {
		query += " WHERE camera_id = ?"
		args = append(args, cameraID)
	}
	_ = s.db.QueryRowContext(ctx, query, args...).Scan(&total)

	return map[string]interface{}{
		"today": today,
		"total": total,
	}, nil
}

func (s *Service) notifySubscribers(event *BehaviorEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*BehaviorEvent, error) {
	event := &BehaviorEvent{}
	var ruleID, metadata sql.NullString
	var confidence sql.NullFloat64
	var bx, by, bw, bh sql.NullInt64
	var timestamp, createdAt int64

	err := row.Scan(
		&event.ID, &event.CameraID, &event.EventType, &ruleID, &event.ObjectID, &event.ReIDID,
		&event.LocalTrackID, &event.GlobalTrackID, &confidence,
		&bx, &by, &bw, &bh, &metadata, &timestamp, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	event.Timestamp = time.UnixMilli(timestamp)
	event.CreatedAt = time.Unix(createdAt, 0)

	if ruleID.Valid {
		event.RuleID = ruleID.String
	}
	if confidence.Valid {
		event.Confidence = confidence.Float64
	}
	if bx.Valid {
		event.Bbox = image.Rect(
			int(bx.Int64), int(by.Int64),
			int(bx.Int64)+int(bw.Int64), int(by.Int64)+int(bh.Int64),
		)
	}
	if metadata.Valid && metadata.String != "" {
		event.Metadata = []byte(metadata.String)
	}

	return event, nil
}
