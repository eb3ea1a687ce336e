/*
main.go - Application entry point

PURPOSE:
  Starts the report engine: HTTP API, scheduled report runs and
  reconciliation. Handles configuration, dependency wiring, and graceful
  shutdown.

COMMANDS:
  serve     Run the HTTP API and the scheduler (default)
  tick      Run every due report once, print the summary, exit
  next-run  Print upcoming run instants for a schedule

CONFIGURATION:
  Environment variables (optionally from .env), see config/config.go.
  Flags override the environment where both exist:
    --port   HTTP server port
    --db     SQLite database path (":memory:" for in-memory)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (waits for the current pass)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database, Redis and GCS clients

EXAMPLES:
  ./report-engine serve --db=./data/reports.db
  ./report-engine tick
  ./report-engine next-run --frequency monthly --day-of-month 31 --count 4

SEE ALSO:
  - app.go: Dependency wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/report-engine/api"
	"github.com/warp/report-engine/config"
	"github.com/warp/report-engine/schedule"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "report-engine",
		Short:         "Scheduled property reports and monthly reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serve := newServeCmd()
	root.AddCommand(serve, newTickCmd(), newNextRunCmd())
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())
	return root
}

// loadConfig applies --port/--db over the environment.
func loadConfig(cmd *cobra.Command) config.Config {
	cfg := config.Load()
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetString("port")
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath, _ = cmd.Flags().GetString("db")
	}
	return cfg
}

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the report scheduler",
		RunE:  runServe,
	}
	cmd.Flags().String("port", "8080", "HTTP server port")
	cmd.Flags().String("db", "reports.db", "SQLite database path")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig(cmd)
	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := api.NewReportScheduler(a.pipeline, nil, log)
	scheduler.CheckInterval = cfg.SchedulerInterval
	scheduler.Enabled = cfg.SchedulerEnabled
	scheduler.Start()

	router := api.NewRouter(a.handler, api.RouterOptions{
		AllowedOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RenderTimeout + cfg.DispatchTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			scheduler.Stop()
			return fmt.Errorf("server failed: %w", err)
		}
	}

	log.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// =============================================================================
// TICK
// =============================================================================

func newTickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run every due scheduled report once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := loadConfig(cmd)
			log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := api.NewReportScheduler(a.pipeline, nil, log).RunNow(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(summary)
		},
	}
	cmd.Flags().String("db", "reports.db", "SQLite database path")
	return cmd
}

// =============================================================================
// NEXT RUN
// =============================================================================

func newNextRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next-run",
		Short: "Print upcoming run instants for a schedule",
		RunE:  runNextRun,
	}
	f := cmd.Flags()
	f.String("frequency", "monthly", "daily, weekly, monthly or quarterly")
	f.Int("day-of-week", -1, "0 (Sunday) to 6, weekly only")
	f.Int("day-of-month", 1, "1 to 31, monthly and quarterly only")
	f.String("time", "09:00", "time of day, HH:MM")
	f.String("timezone", "UTC", "IANA timezone")
	f.String("from", "", "RFC3339 start instant (default now)")
	f.Int("count", 5, "number of instants")
	return cmd
}

func runNextRun(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	freqFlag, _ := f.GetString("frequency")
	freq, err := schedule.ParseFrequency(freqFlag)
	if err != nil {
		return err
	}

	cfg := schedule.Config{Frequency: freq}
	cfg.Time, _ = f.GetString("time")
	cfg.Timezone, _ = f.GetString("timezone")
	switch freq {
	case schedule.Weekly:
		dow, _ := f.GetInt("day-of-week")
		cfg.DayOfWeek = schedule.Int(dow)
	case schedule.Monthly, schedule.Quarterly:
		dom, _ := f.GetInt("day-of-month")
		cfg.DayOfMonth = schedule.Int(dom)
	}

	from := time.Now().UTC()
	if v, _ := f.GetString("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	count, _ := f.GetInt("count")

	runs, err := schedule.Upcoming(cfg, from, count)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintln(cmd.OutOrStdout(), r.Format(time.RFC3339))
	}
	return nil
}
