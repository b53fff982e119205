package tracking

import (
	"time"

	"backend-fittrack/internal/tracker"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Activity       string     `json:"activity"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	TotalDistanceM float64    `json:"total_distance_m"`
	CaloriesKcal   float64    `json:"calories_kcal"`
	BodyWeightKg   float64    `json:"body_weight_kg"`
	Status         string     `json:"status"`
}

type StartRequest struct {
	Activity     string  `json:"activity"`
	BodyWeightKg float64 `json:"body_weight_kg"`
}

type TrackPoint struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  float64   `json:"accuracy_m"`
	RecordedAt time.Time `json:"recorded_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type PointResult struct {
	Point    TrackPoint       `json:"point"`
	Progress tracker.Progress `json:"progress"`
}

// PathUpdate is pushed to stream subscribers after every accepted point.
type PathUpdate struct {
	SessionID string           `json:"session_id"`
	Point     tracker.Point    `json:"point"`
	Progress  tracker.Progress `json:"progress"`
}

type Summary struct {
	SessionID       string  `json:"session_id"`
	Activity        string  `json:"activity"`
	Status          string  `json:"status"`
	PointCount      int     `json:"point_count"`
	DistanceKm      float64 `json:"distance_km"`
	CaloriesKcal    float64 `json:"calories_kcal"`
	DurationSec     int64   `json:"duration_sec"`
	AverageSpeedMps float64 `json:"average_speed_mps"`
}

func newSummary(id, activity, status string, points int, distanceKm, kcal float64, duration time.Duration) Summary {
	avgSpeed := 0.0
	if duration.Seconds() > 0 {
		avgSpeed = distanceKm * 1000 / duration.Seconds()
	}
	return Summary{
		SessionID:       id,
		Activity:        activity,
		Status:          status,
		PointCount:      points,
		DistanceKm:      distanceKm,
		CaloriesKcal:    kcal,
		DurationSec:     int64(duration.Seconds()),
		AverageSpeedMps: avgSpeed,
	}
}
