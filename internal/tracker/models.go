package tracker

import "time"

type State int

const (
	Idle State = iota
	Tracking
)

func (s State) String() string {
	if s == Tracking {
		return "tracking"
	}
	return "idle"
}

// Fix is one location sample as produced by a location provider.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

func (f Fix) Point() Point {
	return Point{Lat: f.Latitude, Lng: f.Longitude}
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Progress is the running tally after a sample, without the path.
type Progress struct {
	Samples         int     `json:"samples"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	CaloriesKcal    float64 `json:"calories_kcal"`
}

type Snapshot struct {
	State           State     `json:"-"`
	Active          bool      `json:"active"`
	StartedAt       time.Time `json:"started_at"`
	Previous        *Point    `json:"previous,omitempty"`
	Path            []Point   `json:"path"`
	TotalDistanceKm float64   `json:"total_distance_km"`
	CaloriesKcal    float64   `json:"calories_kcal"`
	BodyWeightKg    float64   `json:"body_weight_kg"`
}

// WatchOptions mirror the acquisition settings handed to a location provider.
type WatchOptions struct {
	HighAccuracy bool
	MaximumAge   time.Duration
	Timeout      time.Duration
}

func DefaultWatchOptions() WatchOptions {
	return WatchOptions{
		HighAccuracy: true,
		MaximumAge:   0,
		Timeout:      5 * time.Second,
	}
}
