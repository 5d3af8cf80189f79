package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"meshmon/internal/alert"
	"meshmon/internal/config"
	"meshmon/internal/dashboard"
	"meshmon/internal/execx"
	"meshmon/internal/logging"
	"meshmon/internal/meshcli"
	"meshmon/internal/messages"
	"meshmon/internal/metrics"
	"meshmon/internal/model"
	"meshmon/internal/monitor"
	"meshmon/internal/sink"
	"meshmon/internal/store"
	"meshmon/internal/textlog"
)

const usage = `meshmon - Meshtastic mesh health monitor

Usage:
  meshmon nodes [--config <path>] [--port <dev>]
  meshmon dashboard [--config <path>] [--port <dev>] [--interval 30]
  meshmon alert --nodes '!id1,!id2' [--config <path>] [--port <dev>] [--interval 300]
                [--battery-threshold 20] [--signal-threshold -10] [--cooldown 3600]
                [--notify-recovery] [--log <file>]
  meshmon listen [--config <path>] [--port <dev>] [--log <file>]
  meshmon serve [--config <path>] [--addr :8080]
  meshmon history [--config <path>] [--db <file>] [--limit 50] [--since 24h]
  meshmon stats [--config <path>] [--path <csv>] [--window 24h]
  meshmon config init --config <path>

Environment variables prefixed MESHMON_ override the config file.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "nodes":
		handleNodes(os.Args[2:])
	case "dashboard":
		handleDashboard(os.Args[2:])
	case "alert":
		handleAlert(os.Args[2:])
	case "listen":
		handleListen(os.Args[2:])
	case "serve":
		handleServe(os.Args[2:])
	case "history":
		handleHistory(os.Args[2:])
	case "stats":
		handleStats(os.Args[2:])
	case "config":
		handleConfig(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleNodes(args []string) {
	fs := flag.NewFlagSet("nodes", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	port := fs.String("port", "", "serial device of the radio")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	overridePort(&cfg, *port)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	log := mustLogger(cfg)
	defer log.Sync()

	ctx, stop := signalContext()
	defer stop()

	term := sink.NewTerminal(os.Stdout, time.Now(), false)
	failed := false
	for _, mesh := range config.MeshesOrDefault(cfg) {
		m := newMonitor(cfg, mesh, log, nil, 0, false)
		cycle := m.RunOnce(ctx)
		if !cycle.OK() {
			failed = true
			log.Error("node fetch failed", zap.String("mesh", mesh.Name), zap.Error(cycle.Err))
		}
		if err := term.Publish(ctx, cycle); err != nil {
			fatal(err)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func handleDashboard(args []string) {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	port := fs.String("port", "", "serial device of the radio")
	interval := fs.Int("interval", 0, "refresh interval in seconds")
	metricsPath := fs.String("metrics-path", "", "append node snapshots to this CSV")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	overridePort(&cfg, *port)
	if visited(fs)["interval"] {
		cfg.Dashboard.IntervalSec = *interval
	}
	if *metricsPath != "" {
		cfg.Storage.MetricsPath = *metricsPath
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	log := mustLogger(cfg)
	defer log.Sync()

	ctx, stop := signalContext()
	defer stop()

	fan := sink.NewFanout(sink.NewTerminal(os.Stdout, time.Now(), true))
	if cfg.Storage.MetricsPath != "" {
		fan.Add(sink.NewCSV(cfg.Storage.MetricsPath))
	}

	fatal(runMeshes(ctx, cfg, log, fan, cfg.Dashboard.Interval(), false))
	fmt.Println("\nMonitoring stopped.")
}

func handleAlert(args []string) {
	fs := flag.NewFlagSet("alert", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	port := fs.String("port", "", "serial device of the radio")
	nodes := fs.String("nodes", "", "comma-separated node ids to monitor")
	interval := fs.Int("interval", 0, "check interval in seconds")
	battery := fs.Int("battery-threshold", 0, "battery percent at or below which to alert")
	signalDB := fs.Float64("signal-threshold", 0, "SNR in dB below which to alert")
	cooldown := fs.Int("cooldown", 0, "seconds before a repeated alert may fire again")
	recovery := fs.Bool("notify-recovery", false, "emit an info event when an offline node returns")
	logPath := fs.String("log", "", "append alerts to this file")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	overridePort(&cfg, *port)
	overrideNodes(&cfg, *nodes)
	overrideAlert(&cfg.Alert, visited(fs), *interval, *battery, *signalDB, *cooldown, *recovery, *logPath)
	if err := config.ValidateAlerting(cfg); err != nil {
		fatal(err)
	}
	log := mustLogger(cfg)
	defer log.Sync()

	ctx, stop := signalContext()
	defer stop()

	db, err := openHistory(cfg, log)
	if err != nil {
		fatal(err)
	}
	fan, closeSinks, err := alertSinks(ctx, cfg, log, db, sink.NewConsole(os.Stdout, true))
	if err != nil {
		fatal(err)
	}
	defer closeSinks()

	printAlertBanner(os.Stdout, cfg)
	fatal(runMeshes(ctx, cfg, log, fan, cfg.Alert.Interval(), true))
	fmt.Println("\n\nMonitoring stopped.")
}

func handleListen(args []string) {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	port := fs.String("port", "", "serial device of the radio")
	logPath := fs.String("log", "", "message log file (default mesh-messages-YYYYMMDD.log)")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	overridePort(&cfg, *port)
	if *logPath != "" {
		cfg.Listen.LogPath = *logPath
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	meshes := config.MeshesOrDefault(cfg)
	if len(meshes) != 1 {
		fatal(errors.New("listen supports a single mesh; pass --port or configure one mesh"))
	}
	log := mustLogger(cfg)
	defer log.Sync()

	now := time.Now()
	path := cfg.Listen.LogPath
	if path == "" {
		path = textlog.DailyName("mesh-messages", now)
	}
	w, err := textlog.Open(path, messages.Header(now)...)
	if err != nil {
		fatal(err)
	}
	defer w.Close()

	ctx, stop := signalContext()
	defer stop()

	client := meshcli.NewClient(execx.NewOSRunner(),
		meshcli.WithCommand(cfg.Command),
		meshcli.WithPort(meshes[0].Port),
	)
	logger := messages.NewLogger(w, os.Stdout, log)

	fmt.Printf("📝 Listening for messages... (logging to %s)\n", path)
	fmt.Print("Press Ctrl+C to stop\n\n")
	err = client.Listen(ctx, logger.Handle)
	if err != nil && !isCancel(err) {
		fatal(err)
	}
	log.Info("listen stopped", zap.Int("messages", logger.Messages), zap.Int("events", logger.Events))
	fmt.Println("\n\n📝 Logging stopped. Messages saved to:", path)
}

func handleServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	port := fs.String("port", "", "serial device of the radio")
	nodes := fs.String("nodes", "", "comma-separated node ids to monitor (default all)")
	addr := fs.String("addr", "", "HTTP listen address")
	interval := fs.Int("interval", 0, "check interval in seconds")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	overridePort(&cfg, *port)
	overrideNodes(&cfg, *nodes)
	if *addr != "" {
		cfg.Dashboard.Addr = *addr
	}
	if visited(fs)["interval"] {
		cfg.Alert.IntervalSec = *interval
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	log := mustLogger(cfg)
	defer log.Sync()

	ctx, stop := signalContext()
	defer stop()

	db, err := openHistory(cfg, log)
	if err != nil {
		fatal(err)
	}
	hub := dashboard.NewHub(log)
	fan, closeSinks, err := alertSinks(ctx, cfg, log, db, sink.NewConsole(os.Stdout, false), hub)
	if err != nil {
		fatal(err)
	}
	defer closeSinks()

	var srv *dashboard.Server
	if db != nil {
		srv = dashboard.NewServer(log, cfg.Dashboard.Addr, hub, db)
		srv.AddChecker(dashboard.NewPingChecker("history", db.Ping))
	} else {
		srv = dashboard.NewServer(log, cfg.Dashboard.Addr, hub, nil)
	}
	srv.AddChecker(dashboard.NewMeshChecker(hub, 3*cfg.Alert.Interval()))
	if err := srv.Start(); err != nil {
		fatal(err)
	}

	runErr := runMeshes(ctx, cfg, log, fan, cfg.Alert.Interval(), true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("dashboard shutdown failed", zap.Error(err))
	}
	fatal(runErr)
}

func handleHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	dbPath := fs.String("db", "", "alert history database")
	limit := fs.Int("limit", 50, "number of recent alerts to show")
	since := fs.Duration("since", 0, "show alerts fired within this window instead of the most recent")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if cfg.Storage.DBPath == "" {
		fatal(errors.New("history database path required (--db or storage.db_path)"))
	}

	db, err := store.OpenSQLite(nil, cfg.Storage.DBPath)
	if err != nil {
		fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	if *since > 0 {
		from := time.Now().Add(-*since)
		events, err := db.Since(ctx, from)
		if err != nil {
			fatal(err)
		}
		counts, err := db.CountByCategory(ctx, from)
		if err != nil {
			fatal(err)
		}
		for _, e := range events {
			fmt.Println(sink.AlertLine(e) + textlog.MetadataSuffix(map[string]string{"mesh": e.Mesh}))
		}
		fmt.Printf("\n%d alert(s) since %s: offline=%d low-battery=%d weak-signal=%d online=%d\n",
			len(events), textlog.Stamp(from),
			counts[model.CategoryOffline], counts[model.CategoryLowBattery],
			counts[model.CategoryWeakSignal], counts[model.CategoryOnline])
		return
	}

	events, err := db.Recent(ctx, *limit)
	if err != nil {
		fatal(err)
	}
	if len(events) == 0 {
		fmt.Println("no alerts recorded")
		return
	}
	for _, e := range events {
		fmt.Println(sink.AlertLine(e) + textlog.MetadataSuffix(map[string]string{"mesh": e.Mesh}))
	}
}

func handleStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	window := fs.Duration("window", 24*time.Hour, "time window")
	path := fs.String("path", "", "metrics CSV path override")
	_ = fs.Parse(args)

	cfg := mustLoad(*configPath)
	if *path != "" {
		cfg.Storage.MetricsPath = *path
	}
	if cfg.Storage.MetricsPath == "" {
		fatal(errors.New("metrics path required (--path or storage.metrics_path)"))
	}

	items, err := metrics.ReadCSV(cfg.Storage.MetricsPath)
	if err != nil {
		fatal(err)
	}

	summaries := metrics.Summarize(items, time.Now().UTC().Add(-*window))
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}
	writeStats(os.Stdout, summaries)
}

func writeStats(w io.Writer, summaries []metrics.Summary) {
	fmt.Fprintf(w, "%-10s %-12s %-20s %7s %8s %8s %7s %8s %8s %8s\n",
		"MESH", "NODE ID", "NAME", "SAMPLES", "PRESENT", "AVG BAT", "MIN BAT", "AVG SNR", "MIN SNR", "P95 SNR")
	for _, s := range summaries {
		fmt.Fprintf(w, "%-10s %-12s %-20s %7d %7.1f%% %8s %7s %8s %8s %8s\n",
			s.Mesh, s.NodeID, clip(s.Name, 20), s.Count, s.PresentPct,
			optFloat(s.AvgBattery), optInt(s.MinBattery),
			optFloat(s.AvgSNRDb), optFloat(s.MinSNRDb), optFloat(s.P95SNRDb))
	}
}

func handleConfig(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "config subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "init":
		configInit(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown config subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func configInit(args []string) {
	fs := flag.NewFlagSet("config init", flag.ExitOnError)
	configPath := fs.String("config", "", "path to write the YAML config")
	port := fs.String("port", "", "serial device of the radio")
	nodes := fs.String("nodes", "", "comma-separated node ids to monitor")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if *configPath == "" {
		fatal(errors.New("--config is required"))
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		fatal(fmt.Errorf("%s already exists (use --force to overwrite)", *configPath))
	}

	var cfg config.Config
	cfg.Port = *port
	cfg.Alert.Nodes = splitList(*nodes)
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	if err := config.Save(*configPath, cfg); err != nil {
		fatal(err)
	}
	fmt.Printf("wrote %s\n", *configPath)
}

// openHistory opens the alert database, or returns nil when none is configured.
func openHistory(cfg config.Config, log *zap.Logger) (*store.SQLite, error) {
	if cfg.Storage.DBPath == "" {
		return nil, nil
	}
	return store.OpenSQLite(log, cfg.Storage.DBPath)
}

// alertSinks assembles the fan-out shared by alert and serve. db may be nil.
// The returned func closes every file and database the fan-out writes to.
func alertSinks(ctx context.Context, cfg config.Config, log *zap.Logger, db *store.SQLite, extra ...monitor.Sink) (*sink.Fanout, func(), error) {
	fan := sink.NewFanout(extra...)
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if db != nil {
		closers = append(closers, db.Close)
		fan.Add(sink.NewHistory(db))
		if cfg.Storage.RetentionHours > 0 {
			go sweepHistory(ctx, db, log, time.Duration(cfg.Storage.RetentionHours)*time.Hour)
		}
	}
	if cfg.Alert.LogPath != "" {
		w, err := textlog.Open(cfg.Alert.LogPath, sink.AlertHeader(time.Now())...)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		closers = append(closers, w.Close)
		fan.Add(sink.NewAlertLog(w))
	}
	if cfg.Storage.MetricsPath != "" {
		fan.Add(sink.NewCSV(cfg.Storage.MetricsPath))
	}
	return fan, closeAll, nil
}

// sweepHistory deletes alerts older than maxAge now and then hourly.
func sweepHistory(ctx context.Context, db *store.SQLite, log *zap.Logger, maxAge time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		if _, err := db.Cleanup(ctx, maxAge); err != nil && !isCancel(err) {
			log.Warn("history cleanup failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runMeshes runs one monitor per mesh until ctx is cancelled. With targeted
// set, each mesh only evaluates its configured node ids.
func runMeshes(ctx context.Context, cfg config.Config, log *zap.Logger, s monitor.Sink, interval time.Duration, targeted bool) error {
	meshes := config.MeshesOrDefault(cfg)
	errs := make([]error, len(meshes))

	var wg sync.WaitGroup
	for i, mesh := range meshes {
		m := newMonitor(cfg, mesh, log, s, interval, targeted)
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if err := m.Run(ctx); err != nil && !isCancel(err) {
				errs[i] = fmt.Errorf("mesh %s: %w", name, err)
			}
		}(i, mesh.Name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func newMonitor(cfg config.Config, mesh config.MeshConfig, log *zap.Logger, s monitor.Sink, interval time.Duration, targeted bool) *monitor.Monitor {
	client := meshcli.NewClient(execx.NewOSRunner(),
		meshcli.WithCommand(cfg.Command),
		meshcli.WithPort(mesh.Port),
		meshcli.WithTimeout(cfg.FetchTimeout()),
	)
	machine := alert.NewMachine(alert.Options{
		Mesh:             mesh.Name,
		BatteryThreshold: cfg.Alert.BatteryThreshold,
		SignalThreshold:  cfg.Alert.SignalThreshold,
		Cooldown:         cfg.Alert.Cooldown(),
		NotifyRecovery:   cfg.Alert.NotifyRecovery,
	})
	opts := monitor.Options{
		Mesh:     mesh.Name,
		Fetcher:  client,
		Machine:  machine,
		Sink:     s,
		Logger:   log,
		Interval: interval,
	}
	if targeted {
		opts.Targets = mesh.Nodes
	}
	return monitor.New(opts)
}

func printAlertBanner(w io.Writer, cfg config.Config) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "NODE HEALTH MONITOR")
	fmt.Fprintln(w, rule)
	for _, mesh := range config.MeshesOrDefault(cfg) {
		fmt.Fprintf(w, "Mesh %s: monitoring %d critical node(s)\n", mesh.Name, len(mesh.Nodes))
	}
	fmt.Fprintf(w, "Check interval: %d seconds\n", cfg.Alert.IntervalSec)
	fmt.Fprintf(w, "Battery alert threshold: %d%%\n", cfg.Alert.BatteryThreshold)
	fmt.Fprintf(w, "Signal alert threshold: %gdB\n", cfg.Alert.SignalThreshold)
	fmt.Fprint(w, "Press Ctrl+C to stop\n\n")
}

func mustLoad(path string) config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	return cfg
}

func mustLogger(cfg config.Config) *zap.Logger {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fatal(err)
	}
	return log
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// overridePort applies --port to the single monitored mesh.
func overridePort(cfg *config.Config, port string) {
	if port == "" {
		return
	}
	switch len(cfg.Meshes) {
	case 0:
		cfg.Port = port
	case 1:
		cfg.Meshes[0].Port = port
	default:
		fatal(errors.New("--port cannot be used with more than one configured mesh"))
	}
}

// overrideNodes applies --nodes to the single monitored mesh.
func overrideNodes(cfg *config.Config, nodes string) {
	ids := splitList(nodes)
	if len(ids) == 0 {
		return
	}
	switch len(cfg.Meshes) {
	case 0:
		cfg.Alert.Nodes = ids
	case 1:
		cfg.Meshes[0].Nodes = ids
	default:
		fatal(errors.New("--nodes cannot be used with more than one configured mesh"))
	}
}

// overrideAlert copies every alert flag that was given on the command line.
// Values are not checked here; config.ValidateAlerting rejects bad ones.
func overrideAlert(cfg *config.AlertConfig, set map[string]bool, interval, battery int, signalDB float64, cooldown int, recovery bool, logPath string) {
	if set["interval"] {
		cfg.IntervalSec = interval
	}
	if set["battery-threshold"] {
		cfg.BatteryThreshold = battery
	}
	if set["signal-threshold"] {
		cfg.SignalThreshold = signalDB
	}
	if set["cooldown"] {
		cfg.CooldownSec = cooldown
	}
	if set["notify-recovery"] {
		cfg.NotifyRecovery = recovery
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
}

// visited returns the names of the flags set on the command line.
func visited(fs *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
