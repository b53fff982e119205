package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"backend-fittrack/internal/db"
	"backend-fittrack/internal/events"
	"backend-fittrack/internal/tracker"
	"backend-fittrack/internal/workout"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotFound  = errors.New("tracking session not found")
	ErrSessionNotActive = errors.New("tracking session is not active")
	ErrForbidden        = errors.New("tracking session belongs to another user")
	ErrUnknownActivity  = errors.New("unknown activity")
	ErrInvalidWeight    = errors.New("body weight must be positive")
)

type Broadcaster interface {
	Broadcast(sessionID string, payload []byte)
}

type CompletionPublisher interface {
	PublishWorkoutCompleted(ctx context.Context, evt events.WorkoutCompleted) error
}

// activeSession pairs a live recorder with the row it persists to. mu keeps
// the database writes of one session in recorder order.
type activeSession struct {
	mu       sync.Mutex
	userID   string
	activity string
	recorder *tracker.Recorder
}

type Service struct {
	db        db.Querier
	hub       Broadcaster
	publisher CompletionPublisher
	now       func() time.Time

	mu     sync.Mutex
	active map[string]*activeSession
}

func NewService(db db.Querier, hub Broadcaster, publisher CompletionPublisher) *Service {
	return &Service{
		db:        db,
		hub:       hub,
		publisher: publisher,
		now:       time.Now,
		active:    map[string]*activeSession{},
	}
}

func (s *Service) StartSession(ctx context.Context, userID string, req StartRequest) (Session, error) {
	if req.Activity == "" {
		req.Activity = "running"
	}
	w, ok := workout.Lookup(req.Activity)
	if !ok {
		return Session{}, fmt.Errorf("%w: %s", ErrUnknownActivity, req.Activity)
	}
	if req.BodyWeightKg < 0 {
		return Session{}, ErrInvalidWeight
	}
	if req.BodyWeightKg == 0 {
		req.BodyWeightKg = tracker.DefaultBodyWeightKg
	}

	session := Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Activity:     w.Slug,
		StartedAt:    s.now(),
		BodyWeightKg: req.BodyWeightKg,
		Status:       StatusActive,
	}

	row := s.db.QueryRow(ctx, `
		INSERT INTO track_sessions (id, user_id, activity, started_at, body_weight_kg, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING started_at, status
	`, session.ID, session.UserID, session.Activity, session.StartedAt, session.BodyWeightKg, session.Status)
	if err := row.Scan(&session.StartedAt, &session.Status); err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}

	recorder := tracker.NewRecorder(
		tracker.WithBodyWeight(session.BodyWeightKg),
		tracker.WithClock(s.now),
		tracker.WithLogger(logrus.WithField("session_id", session.ID)),
	)
	if err := recorder.Start(context.Background()); err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	s.active[session.ID] = &activeSession{userID: userID, activity: session.Activity, recorder: recorder}
	s.mu.Unlock()
	return session, nil
}

// AddPoint persists one fix and the totals it produces, then applies it to
// the session's recorder and pushes the update to stream subscribers. A fix
// that fails to persist leaves the live totals untouched.
func (s *Service) AddPoint(ctx context.Context, userID, sessionID string, fix tracker.Fix) (PointResult, error) {
	as, err := s.lookupActive(userID, sessionID)
	if err != nil {
		return PointResult{}, err
	}
	if fix.Timestamp.IsZero() {
		fix.Timestamp = s.now()
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	progress, err := as.recorder.Preview(fix)
	if err != nil {
		if errors.Is(err, tracker.ErrNotTracking) {
			return PointResult{}, ErrSessionNotActive
		}
		return PointResult{}, err
	}

	point := TrackPoint{
		SessionID:  sessionID,
		Lat:        fix.Latitude,
		Lng:        fix.Longitude,
		AccuracyM:  fix.Accuracy,
		RecordedAt: fix.Timestamp,
	}
	err = db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO track_points (session_id, location, accuracy_m, recorded_at)
			VALUES ($1, ST_SetSRID(ST_MakePoint($2,$3), 4326)::geography, $4, $5)
			RETURNING id, created_at
		`, sessionID, point.Lng, point.Lat, point.AccuracyM, point.RecordedAt)
		if err := row.Scan(&point.ID, &point.CreatedAt); err != nil {
			return fmt.Errorf("insert point: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			UPDATE track_sessions
			SET total_distance_m = $2, calories_kcal = $3
			WHERE id=$1
		`, sessionID, progress.TotalDistanceKm*1000, progress.CaloriesKcal); err != nil {
			return fmt.Errorf("update totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return PointResult{}, err
	}

	// as.mu keeps Preview and Record on the same recorder state.
	if progress, err = as.recorder.Record(fix); err != nil {
		return PointResult{}, err
	}

	if s.hub != nil {
		payload, _ := json.Marshal(PathUpdate{SessionID: sessionID, Point: fix.Point(), Progress: progress})
		s.hub.Broadcast(sessionID, payload)
	}

	return PointResult{Point: point, Progress: progress}, nil
}

// StopSession marks the session completed and only then retires its
// recorder, so a failed write leaves the session active for a retry.
func (s *Service) StopSession(ctx context.Context, userID, sessionID string) (Summary, error) {
	as, err := s.lookupActive(userID, sessionID)
	if err != nil {
		return Summary{}, err
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	snap := as.recorder.Snapshot()
	if !snap.Active {
		return Summary{}, ErrSessionNotActive
	}

	endedAt := s.now()
	if _, err := s.db.Exec(ctx, `
		UPDATE track_sessions
		SET ended_at = $2, status = $3, total_distance_m = $4, calories_kcal = $5
		WHERE id=$1
	`, sessionID, endedAt, StatusCompleted, snap.TotalDistanceKm*1000, snap.CaloriesKcal); err != nil {
		return Summary{}, fmt.Errorf("complete session: %w", err)
	}

	if _, err := as.recorder.Stop(); err != nil {
		return Summary{}, ErrSessionNotActive
	}
	s.mu.Lock()
	delete(s.active, sessionID)
	s.mu.Unlock()

	summary := newSummary(sessionID, as.activity, StatusCompleted, len(snap.Path), snap.TotalDistanceKm, snap.CaloriesKcal, endedAt.Sub(snap.StartedAt))

	if s.publisher != nil {
		evt := events.WorkoutCompleted{
			SessionID:    sessionID,
			UserID:       userID,
			Activity:     as.activity,
			StartedAt:    snap.StartedAt,
			EndedAt:      endedAt,
			PointCount:   summary.PointCount,
			DistanceKm:   summary.DistanceKm,
			CaloriesKcal: summary.CaloriesKcal,
		}
		if err := s.publisher.PublishWorkoutCompleted(ctx, evt); err != nil {
			logrus.WithError(err).WithField("session_id", sessionID).Warn("publish workout completed")
		}
	}
	return summary, nil
}

// Summary reports live totals for active sessions and stored totals otherwise.
// Only the session's owner may read it.
func (s *Service) Summary(ctx context.Context, userID, sessionID string) (Summary, error) {
	s.mu.Lock()
	as := s.active[sessionID]
	s.mu.Unlock()
	if as != nil {
		if as.userID != userID {
			return Summary{}, ErrForbidden
		}
		snap := as.recorder.Snapshot()
		if snap.Active {
			return newSummary(sessionID, as.activity, StatusActive, len(snap.Path), snap.TotalDistanceKm, snap.CaloriesKcal, s.now().Sub(snap.StartedAt)), nil
		}
	}

	var (
		session Session
		endedAt *time.Time
	)
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, activity, status, started_at, ended_at, COALESCE(total_distance_m,0), COALESCE(calories_kcal,0)
		FROM track_sessions WHERE id=$1
	`, sessionID)
	if err := row.Scan(&session.ID, &session.UserID, &session.Activity, &session.Status, &session.StartedAt, &endedAt, &session.TotalDistanceM, &session.CaloriesKcal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Summary{}, ErrSessionNotFound
		}
		return Summary{}, err
	}
	if session.UserID != userID {
		return Summary{}, ErrForbidden
	}

	var pointCount int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM track_points WHERE session_id=$1`, sessionID).Scan(&pointCount); err != nil {
		return Summary{}, err
	}

	duration := s.now().Sub(session.StartedAt)
	if endedAt != nil {
		duration = endedAt.Sub(session.StartedAt)
	}
	return newSummary(session.ID, session.Activity, session.Status, pointCount, session.TotalDistanceM/1000, session.CaloriesKcal, duration), nil
}

func (s *Service) Points(ctx context.Context, userID, sessionID string) ([]TrackPoint, error) {
	if err := s.Authorize(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, ST_Y(location::geometry), ST_X(location::geometry), COALESCE(accuracy_m,0), recorded_at, created_at
		FROM track_points WHERE session_id=$1
		ORDER BY recorded_at, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	points := []TrackPoint{}
	for rows.Next() {
		var p TrackPoint
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Lat, &p.Lng, &p.AccuracyM, &p.RecordedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Authorize reports ErrSessionNotFound for unknown sessions and ErrForbidden
// when the session belongs to someone other than userID.
func (s *Service) Authorize(ctx context.Context, userID, sessionID string) error {
	s.mu.Lock()
	as := s.active[sessionID]
	s.mu.Unlock()
	if as != nil {
		if as.userID != userID {
			return ErrForbidden
		}
		return nil
	}

	var owner string
	if err := s.db.QueryRow(ctx, `SELECT user_id FROM track_sessions WHERE id=$1`, sessionID).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSessionNotFound
		}
		return err
	}
	if owner != userID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) lookupActive(userID, sessionID string) (*activeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	as, ok := s.active[sessionID]
	if !ok {
		return nil, ErrSessionNotActive
	}
	if as.userID != userID {
		return nil, ErrForbidden
	}
	return as, nil
}
