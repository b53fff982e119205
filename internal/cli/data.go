package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"backend-fittrack/internal/apiclient"
	"backend-fittrack/internal/session"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var errSignedOut = errors.New("not signed in, run fitctl login first")

// authorized runs fn with a valid bearer token from the restored session.
func (a *App) authorized(cmd *cobra.Command, fn func(token string) error) error {
	return a.withSession(cmd.Context(), true, func(mgr *session.Manager) error {
		token, err := mgr.BearerToken()
		if err != nil {
			return errSignedOut
		}
		return fn(token)
	})
}

func (a *App) dashboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the last ten days of Google Fit data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.authorized(cmd, func(token string) error {
				days, err := a.client().FitnessData(cmd.Context(), token)
				if err != nil {
					return err
				}
				if len(days) == 0 {
					fmt.Fprintln(a.out, "No fitness data")
					return nil
				}
				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tSTEPS\tHEART RATE\tWEIGHT\tSLEEP\tGLUCOSE\tPRESSURE\tBODY FAT")
				for _, d := range days {
					fmt.Fprintf(w, "%s\t%d\t%.1f\t%.1f\t%d\t%.1f\t%.1f\t%.1f\n",
						d.Date.Format("Mon Jan 02 2006"), d.StepCount, d.HeartRate, d.Weight,
						d.Sleep, d.BloodGlucose, d.BloodPressure, d.BodyFatPercentage)
				}
				return w.Flush()
			})
		},
	}
}

func (a *App) workoutsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "workouts",
		Short: "List the workouts that can be started",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			workouts, err := a.client().Workouts(cmd.Context())
			if err != nil {
				return err
			}
			for _, w := range workouts {
				fmt.Fprintf(a.out, "%-15s %s\n", w.Name, w.Slug)
			}
			return nil
		},
	}
}

func (a *App) profileCommand() *cobra.Command {
	var update apiclient.Profile
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the profile, or change it with flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.authorized(cmd, func(token string) error {
				var (
					p   apiclient.Profile
					err error
				)
				if anyChanged(cmd) {
					p, err = a.client().UpdateProfile(cmd.Context(), token, update)
				} else {
					p, err = a.client().Profile(cmd.Context(), token)
				}
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Name\t%s %s\n", p.FirstName, p.LastName)
				fmt.Fprintf(w, "Email\t%s\n", p.Email)
				fmt.Fprintf(w, "Age\t%s\n", p.Age)
				fmt.Fprintf(w, "Gender\t%s\n", p.Gender)
				fmt.Fprintf(w, "Weight\t%s\n", p.Weight)
				fmt.Fprintf(w, "Height\t%s\n", p.Height)
				fmt.Fprintf(w, "Fitness goal\t%s\n", p.FitnessGoal)
				return w.Flush()
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&update.FirstName, "first-name", "", "first name")
	f.StringVar(&update.LastName, "last-name", "", "last name")
	f.StringVar(&update.Age, "age", "", "age in years")
	f.StringVar(&update.Gender, "gender", "", "gender")
	f.StringVar(&update.Weight, "weight", "", "weight in kg")
	f.StringVar(&update.Height, "height", "", "height in cm")
	f.StringVar(&update.FitnessGoal, "goal", "", "fitness goal")
	return cmd
}

func anyChanged(cmd *cobra.Command) bool {
	changed := false
	cmd.LocalNonPersistentFlags().VisitAll(func(f *pflag.Flag) {
		changed = changed || f.Changed
	})
	return changed
}
