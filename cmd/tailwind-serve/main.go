// Command tailwind-serve compiles a utility-first stylesheet just in time and
// serves it over HTTP, rebuilding on source changes during development.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Moshyfawn/tailwind-serve/api"
	"github.com/Moshyfawn/tailwind-serve/build"
	"github.com/Moshyfawn/tailwind-serve/config"
	"github.com/Moshyfawn/tailwind-serve/engine"
	"github.com/Moshyfawn/tailwind-serve/history"
	"github.com/Moshyfawn/tailwind-serve/jit"
	"github.com/Moshyfawn/tailwind-serve/livereload"
)

// historyRetention bounds how long build attempts are kept in a
// persistent history database.
const historyRetention = 30 * 24 * time.Hour

var rootCmd = &cobra.Command{
	Use:   "tailwind-serve",
	Short: "Just-in-time stylesheet build server",
	Long: `tailwind-serve compiles a utility-first stylesheet once at startup and
serves it over HTTP. In development it watches the sources the stylesheet
scans and rebuilds after edits; in production (TAILWIND_SERVE_ENV=production)
it serves the startup build with long-lived immutable caching.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Build the stylesheet and serve it over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compile the stylesheet once and write it out",
	Long: `Compile the stylesheet once and write the CSS to --out, or stdout when
--out is not set. A summary is printed to stderr.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tailwind-serve %s\n", config.FromEnv().Version)
	},
}

var (
	configPath    string
	listenFlag    string
	sourceFlag    string
	baseFlag      string
	routeFlag     string
	debounceFlag  time.Duration
	historyFlag   string
	buildOutFlag  string
	buildBaseFlag string
	buildSrcFlag  string
)

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	serveCmd.Flags().StringVar(&listenFlag, "listen", "", "Address to listen on (default: :7450)")
	serveCmd.Flags().StringVar(&sourceFlag, "source", "", "Stylesheet path relative to --base (default: src/styles.css)")
	serveCmd.Flags().StringVar(&baseFlag, "base", "", "Project root (default: working directory)")
	serveCmd.Flags().StringVar(&routeFlag, "route", "", "URL path to serve the stylesheet at (default: /styles.css)")
	serveCmd.Flags().DurationVar(&debounceFlag, "debounce", 0, "Quiet period before rebuilding after changes (default: 100ms)")
	serveCmd.Flags().StringVar(&historyFlag, "history", "", "Build history database (default: in memory)")

	buildCmd.Flags().StringVar(&buildSrcFlag, "source", "", "Stylesheet path relative to --base (default: src/styles.css)")
	buildCmd.Flags().StringVar(&buildBaseFlag, "base", "", "Project root (default: working directory)")
	buildCmd.Flags().StringVarP(&buildOutFlag, "out", "o", "", "Write CSS to this file instead of stdout")

	rootCmd.AddCommand(serveCmd, buildCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, the environment and explicitly set
// flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = listenFlag
	}
	if flags.Changed("source") {
		cfg.Source = sourceFlag
	}
	if flags.Changed("base") {
		cfg.Base = baseFlag
	}
	if flags.Changed("route") {
		cfg.Route = routeFlag
	}
	if flags.Changed("debounce") {
		cfg.Debounce = debounceFlag
	}
	if flags.Changed("history") {
		cfg.HistoryPath = historyFlag
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
	logger := log.Default()

	logger.Printf("tailwind-serve starting...")
	logger.Printf("  listen:       %s", cfg.Listen)
	logger.Printf("  mode:         %s", cfg.Mode)
	logger.Printf("  source:       %s", cfg.Source)
	logger.Printf("  route:        %s", api.Route(cfg.Route))
	logger.Printf("  debounce:     %s", cfg.Debounce)
	logger.Printf("  history:      %s", cfg.HistoryPath)
	logger.Printf("  version:      %s", cfg.Version)

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer hist.Close()
	if hist.Path() != history.MemoryPath {
		if n, err := hist.Prune(time.Now().Add(-historyRetention)); err != nil {
			logger.Printf("warning: pruning build history: %v", err)
		} else if n > 0 {
			logger.Printf("pruned %d old build records", n)
		}
	}

	var hub *livereload.Hub
	if cfg.Mode == config.Development && cfg.LiveReload {
		hub = livereload.NewHub(logger)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := jit.New(ctx, jit.Options{
		Source: cfg.Source,
		Base:   cfg.Base,
		Mode:   cfg.Mode,
		Quiet:  cfg.Debounce,
		Logger: logger,
		OnBuild: func(ev jit.Event) {
			if err := hist.Record(history.FromEvent(ev)); err != nil {
				logger.Printf("warning: recording build %s: %v", ev.ID, err)
			}
			if hub != nil {
				hub.Notify(ev)
			}
		},
	})
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.NewRouter(srv, cfg, hist, hub, logger),
		// No read/write timeouts: livereload connections are long-lived.
		// Other routes are bounded by the timeout middleware.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Printf("tailwind-serve listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		if hub != nil {
			hub.Close()
		}

		// Give connections 30s to finish
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("shutdown error: %v", err)
		}
		return srv.Shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Println("tailwind-serve stopped")
	return nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()
	opts := build.Options{Source: cfg.Source, Base: cfg.Base}
	if cmd.Flags().Changed("source") {
		opts.Source = buildSrcFlag
	}
	if cmd.Flags().Changed("base") {
		opts.Base = buildBaseFlag
	}

	a, err := engine.NewBuilder().Once(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if buildOutFlag == "" {
		if _, err := fmt.Fprint(cmd.OutOrStdout(), a.Content); err != nil {
			return err
		}
	} else if err := os.WriteFile(buildOutFlag, []byte(a.Content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", buildOutFlag, err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "built %d bytes: %d candidates from %d files in %v (digest %s)\n",
		len(a.Content), a.CandidateCount, a.FileCount, a.Duration.Round(time.Millisecond), a.Digest[:12])
	return nil
}
