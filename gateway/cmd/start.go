package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	statushttp "github.com/julienstroheker/HexRelay/gateway/http"
	"github.com/julienstroheker/HexRelay/internal/config"
	"github.com/julienstroheker/HexRelay/internal/events"
	"github.com/julienstroheker/HexRelay/internal/logging"
	"github.com/julienstroheker/HexRelay/internal/relay"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 30 * time.Second

// errNoListeners is returned when every listener failed to bind under the
// isolate policy
var errNoListeners = errors.New("no listener could be bound")

var (
	forwardFlags        []string
	statusAddrFlag      string
	shutdownGraceFlag   time.Duration
	shutdownTimeoutFlag time.Duration
	onBindFailureFlag   string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay listeners",
	Long: `Start every listener of the pool and relay connections until SIGINT or SIGTERM.

A second signal during shutdown exits immediately with status 2.`,
	Example: `  hexrelay start -f 80=10.1.0.20:8080 -f 8080
  hexrelay start -c /etc/hexrelay.yaml --status-addr 127.0.0.1:9090`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := applyStartFlags(cmd, cfg); err != nil {
			return exitWith(ExitFailure, err)
		}

		signals := make(chan os.Signal, 2)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)

		return runRelay(cmd.Context(), cfg, logger, signals)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().StringArrayVarP(&forwardFlags, "forward", "f", nil,
		"Listener as PORT (dynamic) or PORT=[HOST][:SERVICEPORT] (static), repeatable")
	startCmd.Flags().StringVar(&statusAddrFlag, "status-addr", "", "Status server address, e.g. 127.0.0.1:9090")
	startCmd.Flags().DurationVar(&shutdownGraceFlag, "shutdown-grace", config.DefaultShutdownGrace,
		"How long to wait for ended redirections at shutdown")
	startCmd.Flags().DurationVar(&shutdownTimeoutFlag, "shutdown-timeout", defaultShutdownTimeout,
		"Upper bound for the whole shutdown")
	startCmd.Flags().StringVar(&onBindFailureFlag, "on-bind-failure", string(config.BindFailureExit),
		"What a failed bind does: exit or isolate")
}

// applyStartFlags layers the command-line flags over the loaded config and
// validates the result
func applyStartFlags(cmd *cobra.Command, c *config.Config) error {
	for _, forward := range forwardFlags {
		if err := c.AddForward(forward); err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("status-addr") {
		c.StatusAddr = statusAddrFlag
	}
	if flags.Changed("shutdown-grace") {
		c.ShutdownGrace = shutdownGraceFlag
	}
	if flags.Changed("on-bind-failure") {
		c.OnBindFailure = config.BindFailurePolicy(onBindFailureFlag)
	}

	return c.Validate()
}

// runRelay starts every listener of c and blocks until a signal arrives on
// signals, then shuts the relay down
func runRelay(ctx context.Context, c *config.Config, logger *logging.Logger, signals <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := relay.NewTracker()
	bus := events.NewBus()
	defer bus.Close()
	engine := relay.NewEngine(&relay.EngineOptions{Tracker: tracker, Bus: bus, Logger: logger})

	specs := c.Specs()
	servers := make([]*relay.Server, 0, len(specs))
	for _, spec := range specs {
		server, err := relay.NewServer(spec, &relay.ServerOptions{
			Tracker: tracker,
			Engine:  engine,
			Bus:     bus,
			Logger:  logger,
		})
		if err != nil {
			return exitWith(ExitFailure, fmt.Errorf("port %d: %w", spec.LocalPort, err))
		}
		// Tracked before binding so shutdown also stops listeners still retrying
		tracker.TrackServer(server)
		servers = append(servers, server)
	}

	go reportStatus(bus.Subscribe(64,
		events.TopicListening,
		events.TopicClose,
		events.TopicServiceRedirection,
		events.TopicRedirectionFinished,
	), tracker, logger)

	var status *statushttp.Server
	if c.StatusAddr != "" {
		status = statushttp.NewServer(&statushttp.Options{Addr: c.StatusAddr, Tracker: tracker, Logger: logger})
		if err := status.Listen(); err != nil {
			return exitWith(ExitFailure, fmt.Errorf("status server: %w", err))
		}
		go func() {
			if err := status.Serve(); err != nil {
				logger.Error("Status server failed", logging.Error(err))
			}
		}()
	}

	coordinator := relay.NewCoordinator(&relay.CoordinatorOptions{
		Tracker: tracker,
		Grace:   c.ShutdownGrace,
		Logger:  logger,
	})
	stop := func() error {
		return stopRelay(coordinator, status, signals, logger)
	}

	started := make(chan error, 1)
	go func() {
		started <- startAll(ctx, servers, c.OnBindFailure, logger)
	}()

	select {
	case err := <-started:
		if err != nil {
			logger.Error("Relay failed to start", logging.Error(err))
			if serr := stop(); serr != nil {
				return exitWith(ExitShutdownFailure, errors.Join(err, serr))
			}
			return exitWith(ExitFailure, err)
		}
	case sig := <-signals:
		logger.Info("Received signal during startup", logging.String("signal", sig.String()))
		return stop()
	}

	notify(logger, daemon.SdNotifyReady)
	logger.Info("Relay ready", logging.Int("listeners", len(servers)))

	sig := <-signals
	logger.Info("Received signal, starting graceful shutdown", logging.String("signal", sig.String()))
	return stop()
}

// startAll binds every server concurrently. Under the exit policy the first
// bind failure is returned at once; under isolate failures are logged and
// only a relay with no listener at all fails.
func startAll(ctx context.Context, servers []*relay.Server, policy config.BindFailurePolicy, logger *logging.Logger) error {
	// The first fatal bind error cancels the sibling bind retries
	g, bindCtx := errgroup.WithContext(ctx)
	for _, server := range servers {
		server := server
		g.Go(func() error {
			err := server.Start(bindCtx)
			if err == nil || errors.Is(err, relay.ErrServerClosed) {
				return err
			}
			if policy == config.BindFailureIsolate {
				logger.Warn("Listener isolated after bind failure",
					logging.Int("local_port", server.Spec().LocalPort),
					logging.Error(err),
				)
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, server := range servers {
		if server.State() == relay.StateListening {
			return nil
		}
	}
	return errNoListeners
}

// shutdowner is what stopRelay needs from a relay.Coordinator
type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// stopRelay runs the shutdown sequence. A further signal while it runs
// abandons the shutdown.
func stopRelay(coordinator shutdowner, status *statushttp.Server, signals <-chan os.Signal, logger *logging.Logger) error {
	notify(logger, daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- coordinator.Shutdown(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case sig := <-signals:
		return exitWith(ExitShutdownFailure, fmt.Errorf("shutdown interrupted by %s", sig))
	}

	if status != nil {
		if serr := status.Shutdown(ctx); serr != nil {
			_ = status.Close()
			err = errors.Join(err, fmt.Errorf("status server: %w", serr))
		}
	}

	if err != nil {
		logger.Error("Shutdown failed", logging.Error(err))
		return exitWith(ExitShutdownFailure, err)
	}

	logger.Info("Relay stopped gracefully")
	return nil
}

func shutdownTimeout() time.Duration {
	if shutdownTimeoutFlag <= 0 {
		return defaultShutdownTimeout
	}
	return shutdownTimeoutFlag
}

// reportStatus keeps the systemd status line current until the bus closes
func reportStatus(updates <-chan events.Event, tracker *relay.Tracker, logger *logging.Logger) {
	for range updates {
		listening := 0
		for _, server := range tracker.Servers() {
			if server.State() == relay.StateListening {
				listening++
			}
		}
		notify(logger, fmt.Sprintf("STATUS=%d listening, %d redirections", listening, tracker.Len()))
	}
}

// notify sends state to systemd. Outside systemd it is a no-op.
func notify(logger *logging.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		logger.Debug("systemd notify failed", logging.String("state", state), logging.Error(err))
	}
}
