package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/telemos/internal/featureset"
	"github.com/turtacn/telemos/internal/monitor"
	"github.com/turtacn/telemos/internal/session"
	"github.com/turtacn/telemos/internal/status"
	"github.com/turtacn/telemos/internal/worker"
	"github.com/turtacn/telemos/pkg/errors"
	"github.com/turtacn/telemos/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

var (
	cfgFile     string
	logLevel    string
	contextFile string
	showSummary bool

	statusSocket  string
	statusStarted bool
	statusBacklog int
	statusEnded   bool
	statusIdle    int64
)

var rootCmd = &cobra.Command{
	Use:           "telemos",
	Short:         "Telemos: telemetry downlink session engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Run a downlink session until the input reaches end of data",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := boot()
		if err != nil {
			return err
		}
		defer rt.close()

		opts, err := rt.options(featureset.AppDownlink)
		if err != nil {
			return err
		}
		d, err := session.NewDownlink(opts)
		if err != nil {
			return err
		}
		defer d.StopHeartbeat()
		stopOnSignal(d.Stop)

		if err := d.StartSessionDatabase(); err != nil {
			return err
		}
		if err := d.StartSession(); err != nil {
			d.EndSession(false)
			return err
		}
		ok, err := d.ProcessInput()
		ended := d.EndSession(showSummary || rt.cfg.Session.ShowSummary)
		if err != nil {
			return err
		}
		if !ok || !ended {
			return errors.New(errors.ErrCodeShutdown, "down", "session did not complete cleanly", nil)
		}
		return nil
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run a process session fed by the message bus",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := boot()
		if err != nil {
			return err
		}
		defer rt.close()

		opts, err := rt.options(featureset.AppProcess)
		if err != nil {
			return err
		}
		p, err := session.NewProcess(opts)
		if err != nil {
			return err
		}
		defer p.StopHeartbeat()
		if err := p.StartSessionDatabase(); err != nil {
			return err
		}

		w := worker.New(p, rt.bus)
		w.ShowSummary = showSummary || rt.cfg.Session.ShowSummary
		if port := rt.cfg.Observability.MetricsPort; port != "" {
			monitor.InitMetrics(port, w.HealthHandler())
		}
		if path := rt.cfg.Observability.StatusSocket; path != "" {
			relay := status.NewRelay(path, w.Status)
			if err := relay.Start(); err != nil {
				return err
			}
			defer relay.Close()
		}

		stopOnSignal(w.Stop)
		if err := w.Start(context.Background()); err != nil {
			return err
		}
		return w.Wait()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a process worker status",
	Long: "Queries a running worker over --socket, or derives the stage from " +
		"the given inputs when no socket is named.",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st status.WorkerStatus
		if statusSocket != "" {
			var err error
			if st, err = status.Query(statusSocket, 2*time.Second); err != nil {
				return err
			}
		} else {
			st = status.New(statusStarted, statusBacklog, statusEnded, statusIdle)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the telemos version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "telemos", Version)
	},
}

// boot loads the files named on the command line and sets up logging.
func boot() (*runtime, error) {
	rt, err := loadRuntime(cfgFile, contextFile)
	if err != nil {
		return nil, err
	}
	level := logLevel
	if level == "" {
		level = rt.cfg.Observability.LogLevel
	}
	logger.InitLogger(level)
	logger.Log.Info("Booting telemos", "config", cfgFile, "session", rt.ctx.FullName(), "version", Version)
	return rt, nil
}

// stopOnSignal calls stop on the first SIGINT or SIGTERM.
func stopOnSignal(stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Log.Info("Signal: Stop received. Ending session.", "signal", sig.String())
		stop()
		signal.Stop(sigCh)
	}()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "telemos.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")

	for _, c := range []*cobra.Command{downCmd, processCmd} {
		c.Flags().StringVarP(&contextFile, "context", "x", "context.yaml", "session context file")
		c.Flags().BoolVar(&showSummary, "summary", false, "print the session summary at exit")
	}

	statusCmd.Flags().StringVar(&statusSocket, "socket", "", "status socket of a running worker")
	statusCmd.Flags().BoolVar(&statusStarted, "started", false, "worker has started")
	statusCmd.Flags().IntVar(&statusBacklog, "backlog", 0, "messages waiting to be processed")
	statusCmd.Flags().BoolVar(&statusEnded, "ended", false, "session has ended")
	statusCmd.Flags().Int64Var(&statusIdle, "idle", 0, "seconds since the last telemetry message")

	rootCmd.AddCommand(downCmd, processCmd, statusCmd, versionCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Personal.AI order the ending
