// Command equityrun runs the equity breakout trading engine.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/equityrun/internal/alert"
	"github.com/sawpanic/equityrun/internal/breakout"
	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/config"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/data/stream"
	"github.com/sawpanic/equityrun/internal/engine"
	"github.com/sawpanic/equityrun/internal/gate"
	"github.com/sawpanic/equityrun/internal/httpapi"
	"github.com/sawpanic/equityrun/internal/market"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/news"
	"github.com/sawpanic/equityrun/internal/pattern"
	"github.com/sawpanic/equityrun/internal/persistence"
	"github.com/sawpanic/equityrun/internal/persistence/postgres"
	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/progress"
	"github.com/sawpanic/equityrun/internal/regime"
	"github.com/sawpanic/equityrun/internal/risk"
	"github.com/sawpanic/equityrun/internal/sector"
	"github.com/sawpanic/equityrun/internal/watchlist"
)

const (
	appName = "equityrun"
	version = "v1.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env file")
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Equity breakout scanner and paper trading engine",
		Version: version,
		Long: `equityrun scans an equity watchlist for volume-confirmed breakouts,
admits candidates through a fixed sequence of fail-closed gates, and
manages the resulting bracket positions on a paper broker under a risk
ledger. The serve command starts the full engine with its HTTP API;
scan evaluates the gates once and prints the verdicts.`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "Override configured log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Force JSON log output even on a terminal")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scan and monitor loops with the HTTP API",
		RunE:  runDaemon,
	}
	serveCmd.Flags().Int("interval", 0, "Override the scan interval in seconds")

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Evaluate the watchlist once and print each admission decision",
		RunE:  runScanOnce,
	}
	scanCmd.Flags().Bool("all", false, "Print every gate check, not just the first failure")
	scanCmd.Flags().Bool("execute", false, "Run one full cycle: authorize survivors and place paper brackets")
	scanCmd.Flags().StringSlice("universe", nil, "Scan these symbols instead of the configured core list")

	haltClearCmd := &cobra.Command{
		Use:   "halt-clear",
		Short: "Clear a risk halt on the running engine",
		RunE:  runHaltClear,
	}
	haltClearCmd.Flags().String("server", "", "Engine API base URL (default from config)")
	haltClearCmd.Flags().String("operator", "", "Operator name for the audit journal (default $USER)")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration as YAML",
		RunE:  showConfig,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(serveCmd, scanCmd, haltClearCmd, configCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig resolves the configuration file, applies flag overrides,
// and installs the logger. Any error here aborts the command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyLogFlags(cmd.Flags(), &cfg.Logging)
	if err := setupLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyLogFlags lets the command line override the file for the two
// settings an operator flips most often.
func applyLogFlags(fs *pflag.FlagSet, cfg *config.LoggingConfig) {
	if fs.Changed("log-level") {
		cfg.Level, _ = fs.GetString("log-level")
	}
	if fs.Changed("log-json") {
		cfg.JSON = true
	}
}

func setupLogging(cfg config.LoggingConfig) error {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if !cfg.JSON && term.IsTerminal(int(os.Stderr.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	if cfg.File != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// stack is the read side shared by the daemon and the one-shot scan:
// market data, news, evaluators, and the admission pipeline.
type stack struct {
	session  *market.Session
	universe *watchlist.Manager
	base     *data.HTTPProvider
	provider data.Provider
	rdb      *redis.Client
	warmer   *stream.Warmer
	news     *news.Monitor
	regimes  *regime.Evaluator
	sectors  *sector.Evaluator
	pipeline *gate.Pipeline
}

func buildStack(cfg *config.Config) (*stack, error) {
	session := cfg.Session
	if err := session.Init(); err != nil {
		return nil, err
	}
	universe := watchlist.NewManager(cfg.Watchlist)

	base, err := data.NewHTTPProvider(cfg.Data.HTTP)
	if err != nil {
		return nil, err
	}
	var provider data.Provider = base
	var rdb *redis.Client
	var warmer *stream.Warmer
	if cfg.Data.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Data.Redis.Addr,
			Password: cfg.Data.Redis.Password,
			DB:       cfg.Data.Redis.DB,
		})
		provider = data.NewCachedProvider(base, rdb, cfg.Data.Cache)
		if cfg.Data.Stream.Enabled {
			sc := cfg.Data.Stream
			if len(sc.Symbols) == 0 {
				sc.Symbols = universe.Universe()
			}
			warmer = stream.NewWarmer(sc, rdb)
		}
	}

	feed, err := news.NewHTTPSource(cfg.News)
	if err != nil {
		return nil, err
	}
	monitor := news.NewMonitor(feed, nil)

	st := &stack{
		session:  &session,
		universe: universe,
		base:     base,
		provider: provider,
		rdb:      rdb,
		warmer:   warmer,
		news:     monitor,
		regimes:  regime.NewEvaluator(provider, cfg.Regime),
		sectors:  sector.NewEvaluator(provider, cfg.Sector),
	}
	st.pipeline = gate.NewPipeline(cfg.Gates, gate.Deps{
		Watchlist:  universe,
		Session:    st.session,
		Provider:   provider,
		News:       monitor,
		Recognizer: pattern.NewRecognizer(cfg.Pattern),
		Detector:   breakout.NewDetector(cfg.Breakout),
		Sectors:    cfg.Membership,
	})
	return st, nil
}

func (s *stack) close() {
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if interval, _ := cmd.Flags().GetInt("interval"); interval > 0 {
		cfg.Engine.ScanIntervalSeconds = interval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	store := persistence.NewMemory()
	var db *sqlx.DB
	if cfg.Database.Enabled {
		db, err = postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		store = postgres.NewStore(db, time.Duration(cfg.Database.TimeoutSeconds)*time.Second)
		log.Info().Msg("Using PostgreSQL persistence")
	}

	sinks := []alert.Sink{alert.LogSink{}}
	if cfg.Alerts.Webhook.Enabled {
		sinks = append(sinks, alert.NewWebhookSink(cfg.Alerts.Webhook))
	}
	dispatcher := alert.NewDispatcher(cfg.Alerts.Dispatch, sinks...)

	registry := metrics.New(nil)
	governor := risk.NewGovernor(cfg.Risk, st.session)
	book := position.NewBook()

	eng := engine.New(cfg.Engine, engine.Deps{
		Universe:  st.universe,
		Session:   st.session,
		Provider:  st.provider,
		News:      st.news,
		Regime:    st.regimes,
		Sectors:   st.sectors,
		Pipeline:  st.pipeline,
		Governor:  governor,
		Book:      book,
		Broker:    broker.NewPaper(st.provider),
		Store:     store,
		Alerts:    dispatcher,
		Metrics:   registry,
		Transport: st.base,
	})

	checks := map[string]httpapi.HealthCheck{
		"data": func(context.Context) error {
			if s := st.base.BreakerStatus(); s.State == "open" {
				return fmt.Errorf("market data circuit open")
			}
			return nil
		},
	}
	if st.rdb != nil {
		rdb := st.rdb
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	if db != nil {
		checks["database"] = func(ctx context.Context) error { return db.PingContext(ctx) }
	}

	server, err := httpapi.NewServer(cfg.Server, httpapi.Deps{
		Controller: eng,
		Journal:    store.Journal,
		Trades:     store.Positions,
		Metrics:    registry,
		Checks:     checks,
	})
	if err != nil {
		return err
	}

	go dispatcher.Run(ctx)
	if st.warmer != nil {
		go st.warmer.Run(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Address()).Msg("HTTP API listening")
		serverErr <- server.Start()
	}()

	engineErr := make(chan error, 1)
	go func() { engineErr <- eng.Run(ctx) }()

	log.Info().
		Str("version", version).
		Int("universe", len(st.universe.Universe())).
		Msg("Engine started")

	var runErr error
	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
		stop()
		<-engineErr
	case err := <-engineErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown did not finish cleanly")
	}
	log.Info().Msg("Engine stopped")
	return runErr
}

func runScanOnce(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if symbols, _ := cmd.Flags().GetStringSlice("universe"); len(symbols) > 0 {
		cfg.Watchlist = watchlist.Config{Core: symbols}
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	verbose, _ := cmd.Flags().GetBool("all")

	st, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	if execute, _ := cmd.Flags().GetBool("execute"); execute {
		return executeScan(cmd, cfg, st)
	}

	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Engine.CycleTimeoutSeconds)*time.Second)
	defer cancel()

	var snaps gate.Snapshots
	if snaps.Regime, err = st.regimes.Evaluate(ctx); err != nil {
		log.Warn().Err(err).Msg("Regime evaluation failed, gates will fail closed")
	}
	if snaps.Sector, err = st.sectors.Evaluate(ctx); err != nil {
		log.Warn().Err(err).Msg("Sector evaluation failed, gates will fail closed")
	}

	symbols := st.universe.Universe()
	var prog *progress.Tracker
	if term.IsTerminal(int(os.Stderr.Fd())) {
		prog = progress.New(os.Stderr, "scan", len(symbols))
	}
	decisions := make([]gate.Decision, 0, len(symbols))
	for _, symbol := range symbols {
		prog.Step(symbol)
		decisions = append(decisions, st.pipeline.Evaluate(ctx, symbol, snaps))
	}
	prog.Done()

	out := cmd.OutOrStdout()
	admitted := 0
	for _, d := range decisions {
		if d.Admitted {
			admitted++
		}
		printDecision(out, d, verbose)
	}
	fmt.Fprintf(out, "\n%d of %d admitted\n", admitted, len(symbols))
	return nil
}

// executeScan runs one real cycle against the configured store: admit,
// authorize, and place paper brackets, exactly as one tick of the
// daemon would. With the database disabled the resulting state lives
// only for this process.
func executeScan(cmd *cobra.Command, cfg *config.Config, st *stack) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := persistence.NewMemory()
	if cfg.Database.Enabled {
		db, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()
		store = postgres.NewStore(db, time.Duration(cfg.Database.TimeoutSeconds)*time.Second)
	}

	eng := engine.New(cfg.Engine, engine.Deps{
		Universe: st.universe,
		Session:  st.session,
		Provider: st.provider,
		News:     st.news,
		Regime:   st.regimes,
		Sectors:  st.sectors,
		Pipeline: st.pipeline,
		Governor: risk.NewGovernor(cfg.Risk, st.session),
		Book:     position.NewBook(),
		Broker:   broker.NewPaper(st.provider),
		Store:    store,
	})

	summary, err := eng.RunOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if summary.Skipped != "" {
		fmt.Fprintf(out, "Scan skipped: %s\n", summary.Skipped)
		return nil
	}
	fmt.Fprintf(out, "Evaluated %d of %d in %dms: %d admitted, %d rejected (%d no data), %d authorized, %d denied\n",
		summary.Evaluated, summary.Universe, summary.DurationMs,
		summary.Admitted, summary.Rejected, summary.Unavailable,
		summary.Authorized, summary.Denied)
	for _, p := range eng.Positions() {
		fmt.Fprintf(out, "%-6s %s x%d entry=%.2f stop=%.2f target=%.2f\n",
			p.Symbol, p.State, p.Qty, p.Entry, p.Stop, p.Target)
	}
	return nil
}

func printDecision(w io.Writer, d gate.Decision, verbose bool) {
	if d.Admitted {
		fmt.Fprintf(w, "%-6s ADMIT   score=%-3d close=%.2f pattern=%s\n",
			d.Symbol, d.Signal.Score, d.Signal.Close, d.Signal.Pattern.Kind)
	} else {
		detail := ""
		if n := len(d.Checks); n > 0 {
			detail = d.Checks[n-1].Detail
		}
		fmt.Fprintf(w, "%-6s REJECT  gate=%s %s\n", d.Symbol, d.FirstFailed, detail)
	}
	if !verbose {
		return
	}
	for _, c := range d.Checks {
		mark := "pass"
		switch {
		case c.Unavailable:
			mark = "DATA"
		case !c.Passed:
			mark = "FAIL"
		}
		fmt.Fprintf(w, "        %-4s %-16s value=%s want=%s %s\n",
			mark, c.Gate, c.Value, c.Threshold, c.Detail)
	}
}

// runHaltClear asks the running daemon to resume trading. Clearing
// goes through the API rather than the database so the journal and the
// ledger stay consistent with what the engine holds in memory.
func runHaltClear(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	addr, _ := cmd.Flags().GetString("server")
	if addr == "" {
		addr = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	operator, _ := cmd.Flags().GetString("operator")
	if operator == "" {
		operator = os.Getenv("USER")
	}
	if operator == "" {
		return errors.New("halt-clear requires --operator for the audit journal")
	}

	body, err := json.Marshal(httpapi.ResumeRequest{Operator: operator})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, addr+"/resume", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("reach engine at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		fmt.Fprintf(cmd.OutOrStdout(), "Halt cleared by %s\n", operator)
		return nil
	case http.StatusConflict:
		return errors.New("no halt is raised")
	default:
		var apiErr httpapi.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("engine refused: %s", apiErr.Message)
		}
		return fmt.Errorf("engine returned %s", resp.Status)
	}
}

func showConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
