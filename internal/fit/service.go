// Package fit aggregates a user's recent Google Fit data into one record per day.
package fit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	fitness "google.golang.org/api/fitness/v1"
	"google.golang.org/api/option"
)

const (
	Window       = 10 * 24 * time.Hour
	BucketMillis = int64(86400000)
)

// DataTypes are requested in every aggregate call.
var DataTypes = []string{
	"com.google.step_count.delta",
	"com.google.blood_glucose",
	"com.google.blood_pressure",
	"com.google.heart_rate.bpm",
	"com.google.weight",
	"com.google.height",
	"com.google.sleep.segment",
	"com.google.body.fat.percentage",
	"com.google.menstruation",
}

var ErrUpstream = errors.New("error fetching Google Fit data")

type Day struct {
	Date              time.Time `json:"date"`
	StepCount         int64     `json:"step_count"`
	HeartRate         float64   `json:"heart_rate"`
	Weight            float64   `json:"weight"`
	Sleep             int64     `json:"sleep"`
	BloodGlucose      float64   `json:"blood_glucose"`
	BloodPressure     float64   `json:"blood_pressure"`
	BodyFatPercentage float64   `json:"body_fat_percentage"`
}

type Tokens interface {
	Load(ctx context.Context, userID string) (*oauth2.Token, error)
	Save(ctx context.Context, userID string, tok *oauth2.Token) error
}

// TokenSources refreshes stored tokens; *identity.Google implements it.
type TokenSources interface {
	TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource
}

// APIFactory builds a Fitness client authorized by ts.
type APIFactory func(ctx context.Context, ts oauth2.TokenSource) (*fitness.Service, error)

func defaultAPI(ctx context.Context, ts oauth2.TokenSource) (*fitness.Service, error) {
	return fitness.NewService(ctx, option.WithTokenSource(ts))
}

type Option func(*Service)

func WithAPIFactory(f APIFactory) Option {
	return func(s *Service) { s.newAPI = f }
}

func WithCache(c *Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	tokens  Tokens
	sources TokenSources
	cache   *Cache
	newAPI  APIFactory
	now     func() time.Time
}

func NewService(tokens Tokens, sources TokenSources, opts ...Option) *Service {
	s := &Service{
		tokens:  tokens,
		sources: sources,
		newAPI:  defaultAPI,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch returns one Day per 24h bucket of the trailing window.
func (s *Service) Fetch(ctx context.Context, userID string) ([]Day, error) {
	if days, ok := s.cache.Get(ctx, userID); ok {
		return days, nil
	}

	tok, err := s.tokens.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	ts := oauth2.ReuseTokenSource(tok, oauth2.StaticTokenSource(tok))
	if s.sources != nil {
		ts = oauth2.ReuseTokenSource(tok, s.sources.TokenSource(ctx, tok))
	}

	api, err := s.newAPI(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	end := s.now()
	req := &fitness.AggregateRequest{
		BucketByTime:    &fitness.BucketByTime{DurationMillis: BucketMillis},
		StartTimeMillis: end.Add(-Window).UnixMilli(),
		EndTimeMillis:   end.UnixMilli(),
	}
	for _, name := range DataTypes {
		req.AggregateBy = append(req.AggregateBy, &fitness.AggregateBy{DataTypeName: name})
	}

	resp, err := api.Users.Dataset.Aggregate("me", req).Context(ctx).Do()
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Error fetching Google Fit data")
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	s.keepRefreshed(ctx, userID, tok, ts)

	days := Days(resp.Bucket)
	s.cache.Set(ctx, userID, days)
	return days, nil
}

func (s *Service) keepRefreshed(ctx context.Context, userID string, old *oauth2.Token, ts oauth2.TokenSource) {
	current, err := ts.Token()
	if err != nil || current.AccessToken == old.AccessToken {
		return
	}
	if err := s.tokens.Save(ctx, userID, current); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("Failed to store refreshed Google token")
	}
}

// Days maps aggregate buckets to daily records. Within a bucket every point
// overwrites the previous value of the field its data source names.
func Days(buckets []*fitness.AggregateBucket) []Day {
	days := make([]Day, 0, len(buckets))
	for _, b := range buckets {
		day := Day{Date: time.UnixMilli(b.StartTimeMillis).UTC()}
		for _, ds := range b.Dataset {
			for _, p := range ds.Point {
				apply(&day, ds.DataSourceId, p)
			}
		}
		days = append(days, day)
	}
	return days
}

func apply(day *Day, source string, p *fitness.DataPoint) {
	var intVal int64
	var fpVal float64
	if len(p.Value) > 0 && p.Value[0] != nil {
		intVal, fpVal = p.Value[0].IntVal, p.Value[0].FpVal
	}
	if strings.Contains(source, "step_count") {
		day.StepCount = intVal
	}
	if strings.Contains(source, "heart_rate") {
		day.HeartRate = fpVal
	}
	if strings.Contains(source, "weight") {
		day.Weight = fpVal
	}
	if strings.Contains(source, "sleep") {
		day.Sleep = intVal
	}
	if strings.Contains(source, "blood_glucose") {
		day.BloodGlucose = fpVal
	}
	if strings.Contains(source, "blood_pressure") {
		day.BloodPressure = fpVal
	}
	if strings.Contains(source, "body_fat") {
		day.BodyFatPercentage = fpVal
	}
}
