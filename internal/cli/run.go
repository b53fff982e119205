package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"backend-fittrack/internal/apiclient"
	"backend-fittrack/internal/location"
	"backend-fittrack/internal/tracker"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	replay   string
	weightKg float64
	interval time.Duration
	speed    float64
	remote   bool
}

func (a *App) runCommand() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Track a run from a recorded list of location fixes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.replay == "" {
				return errors.New("--replay is required")
			}
			if !opts.remote {
				return a.track(cmd.Context(), opts, nil)
			}
			return a.authorized(cmd, func(token string) error {
				return a.track(cmd.Context(), opts, &remoteRun{client: a.client(), token: token})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.replay, "replay", "", "JSON-lines file of fixes, - for stdin")
	f.Float64Var(&opts.weightKg, "weight", tracker.DefaultBodyWeightKg, "body weight in kg")
	f.DurationVar(&opts.interval, "interval", 0, "fixed delay between fixes instead of their timestamps")
	f.Float64Var(&opts.speed, "speed", 1, "replay speed-up factor")
	f.BoolVar(&opts.remote, "remote", false, "also record the run on the server")
	return cmd
}

func (a *App) track(ctx context.Context, opts runOptions, remote *remoteRun) error {
	in := os.Stdin
	if opts.replay != "-" {
		f, err := os.Open(opts.replay)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var src tracker.Source = location.NewReplay(in, location.WithInterval(opts.interval), location.WithSpeed(opts.speed))
	if remote != nil {
		if err := remote.start(ctx, opts.weightKg); err != nil {
			return fmt.Errorf("start remote session: %w", err)
		}
		remote.inner = src
		remote.log = a.log.WithField("session_id", remote.sessionID)
		src = remote
	}

	rec := tracker.NewRecorder(
		tracker.WithSource(src),
		tracker.WithBodyWeight(opts.weightKg),
		tracker.WithLogger(a.log.WithField("component", "tracker")),
		tracker.WithErrorHandler(func(err error) {
			fmt.Fprintf(a.errOut, "location: %v\n", err)
		}),
	)
	if err := rec.Start(ctx); err != nil {
		return err
	}

	select {
	case <-rec.Finished():
	case <-ctx.Done():
	}
	snap, err := rec.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Points:   %d\n", len(snap.Path))
	fmt.Fprintf(a.out, "Distance: %.3f km\n", snap.TotalDistanceKm)
	fmt.Fprintf(a.out, "Calories: %.2f kcal\n", snap.CaloriesKcal)

	if remote == nil {
		return nil
	}
	// The run may have been interrupted; the server session still gets closed.
	summary, err := remote.client.StopTracking(context.WithoutCancel(ctx), remote.token, remote.sessionID)
	if err != nil {
		return fmt.Errorf("stop remote session: %w", err)
	}
	fmt.Fprintf(a.out, "Saved as session %s (%d points, %.3f km)\n", summary.SessionID, summary.PointCount, summary.DistanceKm)
	return nil
}

// remoteRun forwards every fix it passes on to the server-side session.
type remoteRun struct {
	client    *apiclient.Client
	token     string
	sessionID string
	inner     tracker.Source
	log       *logrus.Entry
}

func (r *remoteRun) start(ctx context.Context, weightKg float64) error {
	rs, err := r.client.StartTracking(ctx, r.token, "running", weightKg)
	if err != nil {
		return err
	}
	r.sessionID = rs.ID
	return nil
}

func (r *remoteRun) Watch(ctx context.Context, opts tracker.WatchOptions) (<-chan tracker.Fix, <-chan error, error) {
	fixes, errs, err := r.inner.Watch(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan tracker.Fix)
	go func() {
		defer close(out)
		for fix := range fixes {
			if _, err := r.client.PostFix(ctx, r.token, r.sessionID, fix); err != nil {
				r.log.WithError(err).Warn("upload fix")
			}
			select {
			case out <- fix:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errs, nil
}
