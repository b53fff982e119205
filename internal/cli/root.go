// Package cli implements fitctl, the terminal client: sign-in, dashboard and
// live run tracking.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"backend-fittrack/internal/apiclient"
	"backend-fittrack/internal/kv"
	"backend-fittrack/internal/session"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Config struct {
	Server  string
	Store   string
	Redis   string
	Timeout time.Duration
	Verbose bool
}

// StoreOpener returns the session store and a function releasing it.
type StoreOpener func(Config) (kv.Store, func() error, error)

type App struct {
	out    io.Writer
	errOut io.Writer
	cfg    Config
	v      *viper.Viper
	log    *logrus.Logger

	openStore StoreOpener
	now       func() time.Time
}

type AppOption func(*App)

func WithStore(open StoreOpener) AppOption {
	return func(a *App) { a.openStore = open }
}

func WithClock(now func() time.Time) AppOption {
	return func(a *App) { a.now = now }
}

func New(out, errOut io.Writer, opts ...AppOption) *App {
	a := &App{
		out:       out,
		errOut:    errOut,
		v:         viper.New(),
		openStore: openStore,
		now:       time.Now,
	}
	a.log = logrus.New()
	a.log.SetOutput(errOut)
	a.log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	a.log.SetLevel(logrus.WarnLevel)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run executes args and returns the process exit code.
func Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	if err := New(out, errOut).Execute(ctx, args); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return 1
	}
	return 0
}

func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	return root.ExecuteContext(ctx)
}

func (a *App) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fitctl",
		Short:         "Fitness tracker client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}

	flags := root.PersistentFlags()
	flags.String("server", "http://localhost:3000", "API base URL")
	flags.String("store", defaultStorePath(), "session database file")
	flags.String("redis", "", "share the session through this Redis address instead of the local file")
	flags.Duration("timeout", 10*time.Second, "HTTP request timeout")
	flags.BoolP("verbose", "v", false, "log debug output")
	_ = a.v.BindPFlags(flags)

	a.v.SetEnvPrefix("FITCTL")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.loginCommand(),
		a.registerCommand(),
		a.googleLoginCommand(),
		a.useTokenCommand(),
		a.whoamiCommand(),
		a.logoutCommand(),
		a.watchCommand(),
		a.dashboardCommand(),
		a.workoutsCommand(),
		a.profileCommand(),
		a.runCommand(),
	)
	return root
}

func (a *App) loadConfig() error {
	a.cfg = Config{
		Server:  strings.TrimRight(a.v.GetString("server"), "/"),
		Store:   a.v.GetString("store"),
		Redis:   a.v.GetString("redis"),
		Timeout: a.v.GetDuration("timeout"),
		Verbose: a.v.GetBool("verbose"),
	}
	if a.cfg.Server == "" {
		return errors.New("server URL is required")
	}
	if a.cfg.Verbose {
		a.log.SetLevel(logrus.DebugLevel)
	}
	return nil
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fitctl", "session.db")
	}
	return filepath.Join(home, ".fitctl", "session.db")
}

func openStore(cfg Config) (kv.Store, func() error, error) {
	if cfg.Redis != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis})
		return kv.NewRedis(client, "fitctl:"), client.Close, nil
	}
	store, err := kv.OpenSQLite(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func (a *App) client() *apiclient.Client {
	return apiclient.New(a.cfg.Server, a.cfg.Timeout)
}

// withSession opens the store and hands fn a session manager. With restore
// set the stored session is restored and followed until fn returns.
func (a *App) withSession(ctx context.Context, restore bool, fn func(*session.Manager) error, opts ...session.Option) error {
	store, release, err := a.openStore(a.cfg)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			a.log.WithError(err).Warn("close session store")
		}
	}()

	notifier := session.NewLogNotifier(a.notifyLogger())
	opts = append([]session.Option{
		session.WithClock(a.now),
		session.WithLogger(a.log.WithField("component", "session")),
	}, opts...)
	mgr := session.NewManager(store, a.client(), notifier, opts...)

	if restore {
		if err := mgr.Init(ctx); err != nil {
			return err
		}
		defer mgr.Close()
	}
	return fn(mgr)
}

// notifyLogger prints user-facing notices regardless of the verbosity.
func (a *App) notifyLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(a.errOut)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return logrus.NewEntry(l)
}
