package apiclient

import (
	"context"
	"net/http"
	"time"

	"backend-fittrack/internal/tracker"
)

type FitnessDay struct {
	Date              time.Time `json:"date"`
	StepCount         int64     `json:"step_count"`
	HeartRate         float64   `json:"heart_rate"`
	Weight            float64   `json:"weight"`
	Sleep             int64     `json:"sleep"`
	BloodGlucose      float64   `json:"blood_glucose"`
	BloodPressure     float64   `json:"blood_pressure"`
	BodyFatPercentage float64   `json:"body_fat_percentage"`
}

func (c *Client) FitnessData(ctx context.Context, token string) ([]FitnessDay, error) {
	var out struct {
		Success     bool         `json:"success"`
		FitnessData []FitnessDay `json:"fitnessData"`
	}
	if err := c.do(ctx, http.MethodGet, "/fetch-google-fit-data", token, nil, &out); err != nil {
		return nil, err
	}
	return out.FitnessData, nil
}

type Workout struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func (c *Client) Workouts(ctx context.Context) ([]Workout, error) {
	var out []Workout
	if err := c.do(ctx, http.MethodGet, "/workouts", "", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type Profile struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Age         string `json:"age,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Weight      string `json:"weight,omitempty"`
	Height      string `json:"height,omitempty"`
	FitnessGoal string `json:"fitness_goal,omitempty"`
}

func (c *Client) Profile(ctx context.Context, token string) (Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodGet, "/profile", token, nil, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

func (c *Client) UpdateProfile(ctx context.Context, token string, update Profile) (Profile, error) {
	var out Profile
	if err := c.do(ctx, http.MethodPut, "/profile", token, update, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}

type RemoteSession struct {
	ID           string  `json:"id"`
	Activity     string  `json:"activity"`
	BodyWeightKg float64 `json:"body_weight_kg"`
	Status       string  `json:"status"`
}

func (c *Client) StartTracking(ctx context.Context, token, activity string, weightKg float64) (RemoteSession, error) {
	var out RemoteSession
	body := RemoteSession{Activity: activity, BodyWeightKg: weightKg}
	if err := c.do(ctx, http.MethodPost, "/tracking/sessions", token, body, &out); err != nil {
		return RemoteSession{}, err
	}
	return out, nil
}

func (c *Client) PostFix(ctx context.Context, token, sessionID string, fix tracker.Fix) (tracker.Progress, error) {
	var out struct {
		Progress tracker.Progress `json:"progress"`
	}
	if err := c.do(ctx, http.MethodPost, "/tracking/sessions/"+sessionID+"/points", token, fix, &out); err != nil {
		return tracker.Progress{}, err
	}
	return out.Progress, nil
}

type RemoteSummary struct {
	SessionID       string  `json:"session_id"`
	Activity        string  `json:"activity"`
	Status          string  `json:"status"`
	PointCount      int     `json:"point_count"`
	DistanceKm      float64 `json:"distance_km"`
	CaloriesKcal    float64 `json:"calories_kcal"`
	DurationSec     int64   `json:"duration_sec"`
	AverageSpeedMps float64 `json:"average_speed_mps"`
}

func (c *Client) StopTracking(ctx context.Context, token, sessionID string) (RemoteSummary, error) {
	var out RemoteSummary
	if err := c.do(ctx, http.MethodPost, "/tracking/sessions/"+sessionID+"/stop", token, nil, &out); err != nil {
		return RemoteSummary{}, err
	}
	return out, nil
}
