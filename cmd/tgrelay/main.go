package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lbj9527/tgrelay/internal/app/cli"
	"github.com/lbj9527/tgrelay/internal/app/config"
	"github.com/lbj9527/tgrelay/internal/app/schedule"
	"github.com/lbj9527/tgrelay/internal/download"
	"github.com/lbj9527/tgrelay/internal/driver"
	"github.com/lbj9527/tgrelay/internal/forward/stage3"
	"github.com/lbj9527/tgrelay/internal/model"
	"github.com/lbj9527/tgrelay/internal/obs/fsutil"
	"github.com/lbj9527/tgrelay/internal/obs/logger"
	"github.com/lbj9527/tgrelay/internal/obs/metrics"
	"github.com/lbj9527/tgrelay/internal/obs/timeutil"
	"github.com/lbj9527/tgrelay/internal/ratelimit"
	"github.com/lbj9527/tgrelay/internal/session"
	"github.com/lbj9527/tgrelay/internal/transport/gotdclient"
)

func main() {
	if err := cli.Init(); err != nil {
		logger.Fatal("failed to initialize cli", zap.Error(err))
	}

	envPath := flag.String("env", ".env", "path to .env file")
	source := flag.Int64("source", 0, "source channel id")
	startID := flag.Int("start", 0, "first message id to fetch (inclusive)")
	endID := flag.Int("end", 0, "last message id to fetch (inclusive)")
	targets := flag.String("targets", "", "comma-separated forward-mode destination channel ids")
	selfChat := flag.Int64("self-chat", 0, "forward-mode scratch chat id")
	destDir := flag.String("dest", "", "local-mode download destination directory")
	mode := flag.String("mode", "local", "run mode: local|forward")
	every := flag.String("every", "", "repeat the run on this interval (e.g. 1h30m) or a 5-field cron expression")
	interactive := flag.Bool("shell", false, "start the interactive operator shell instead of running once")
	template := flag.String("template", "", "forward-mode caption template, overrides the sessions config default")
	batchSize := flag.Int("batch-size", model.MaxGroupSize, "max messages per group/batch (1..10)")
	noCleanupSuccess := flag.Bool("no-cleanup-success", false, "forward mode: do not delete scratch messages after a fully successful send")
	cleanupFailure := flag.Bool("cleanup-failure", false, "forward mode: also delete scratch messages that failed to reach >=1 destination")
	preserveStructure := flag.Bool("preserve-structure", true, "forward mode: send singletons and groups as-is; disable to re-batch loose singletons up to --batch-size")
	groupTimeout := flag.Duration("group-timeout", 0, "grouper flush deadline; carried in the run request, but the batch fetch-and-group path does not use it")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := config.Env()

	loc, err := timeutil.ParseLocation(env.AppTimezone)
	if err != nil {
		logger.Fatal("failed to parse APP_TIMEZONE", zap.Error(err))
	}
	time.Local = loc //nolint:reassign // app runs pinned to its configured timezone

	logger.Init(env.LogLevel)
	logger.SetWriters(cli.Stdout(), cli.Stderr())
	logger.EnableFileOutput(env.LogFile, env.LogFileLevel, env.LogFileMaxSize, env.LogFileMaxBackups, env.LogFileMaxAge, env.LogFileCompress)
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sessionsCfg, err := config.LoadSessionsConfig(env.SessionsConfigFile)
	if err != nil {
		logger.Fatal("failed to load sessions config", zap.Error(err))
	}

	rlCfg := ratelimit.DefaultConfig()
	overrides := sessionsCfg.RateLimit
	if overrides.GlobalRPS > 0 {
		rlCfg.GlobalRPS = overrides.GlobalRPS
	}
	if overrides.SessionRPS > 0 {
		rlCfg.SessionRPS = overrides.SessionRPS
	}
	if overrides.AbsorbSeconds > 0 {
		rlCfg.AbsorbThreshold = time.Duration(overrides.AbsorbSeconds) * time.Second
	}
	limiter := ratelimit.New(rlCfg)
	pool := session.New(session.PoolConfig{RateLimit: limiter})
	if err := registerSessions(pool, env, sessionsCfg); err != nil {
		logger.Fatal("failed to register sessions", zap.Error(err))
	}

	logger.Info("logging in sessions...")
	if err := pool.StartEnabled(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("pool start reported an error", zap.Error(err))
	}
	if err := attachLedgers(pool); err != nil {
		logger.Fatal("failed to open session ledgers", zap.Error(err))
	}
	reportOrphanedHandles(pool)
	defer func() {
		if err := pool.StopAll(context.Background()); err != nil {
			logger.Warnf("error stopping sessions: %v", err)
		}
	}()

	if env.MetricsEnable {
		srv := metrics.NewServer(env.MetricsAddr)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	d := driver.New(pool, limiter)

	if *interactive {
		shell := cli.NewShell(pool)
		if err := shell.Run(ctx); err != nil {
			logger.Errorf("shell exited: %v", err)
		}
		return
	}

	tmpl := sessionsCfg.Template
	if *template != "" {
		tmpl = *template
	}

	req, err := buildRunRequest(runRequestArgs{
		mode:              *mode,
		source:            *source,
		startID:           *startID,
		endID:             *endID,
		targetsCSV:        *targets,
		selfChat:          *selfChat,
		destDir:           *destDir,
		template:          tmpl,
		namingPattern:     sessionsCfg.NamingPattern,
		filter:            buildFilter(sessionsCfg.Filters),
		batchSize:         *batchSize,
		cleanupOnSuccess:  !*noCleanupSuccess,
		cleanupOnFailure:  *cleanupFailure,
		preserveStructure: *preserveStructure,
		groupTimeout:      *groupTimeout,
	})
	if err != nil {
		logger.Fatal("invalid run request", zap.Error(err))
	}

	job := func(ctx context.Context) error {
		report, err := d.Run(ctx, req)
		if err != nil {
			return err
		}
		cli.PrintReport(report)
		return nil
	}

	if *every == "" {
		if err := job(ctx); err != nil {
			logger.Fatal("run failed", zap.Error(err))
		}
		return
	}

	sched, err := buildScheduler(job, *every, loc)
	if err != nil {
		logger.Fatal("invalid --every value", zap.Error(err))
	}
	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Errorf("scheduler stopped: %v", err)
	}
	logger.Info("graceful shutdown complete")
}

func registerSessions(pool *session.Pool, env config.EnvConfig, sessionsCfg *config.SessionsConfig) error {
	if len(sessionsCfg.Sessions) == 0 {
		return fmt.Errorf("no sessions configured in %s", env.SessionsConfigFile)
	}
	for _, entry := range sessionsCfg.Sessions {
		if err := fsutil.EnsureDir(entry.SessionFile); err != nil {
			return fmt.Errorf("session %s: ensure session dir: %w", entry.Name, err)
		}
		client := gotdclient.New(gotdclient.Config{
			APIID:       env.APIID,
			APIHash:     env.APIHash,
			SessionPath: entry.SessionFile,
			Phone:       entry.Phone,
			TestDC:      env.TestDC,
			DeviceModel: "tgrelay-engine",
			AppVersion:  "1.0",
			ThrottleRPS: entry.ThrottleRPS,
		})
		pool.Register(model.SessionName(entry.Name), client, entry.Enabled)
	}
	return nil
}

// attachLedgers opens a bbolt-backed scratch ledger for every registered
// session, whatever its login state, at state/<name>.scratch.db.
func attachLedgers(pool *session.Pool) error {
	for _, name := range pool.Names() {
		sess, ok := pool.Get(name)
		if !ok {
			continue
		}
		ledgerPath := filepath.Join("state", string(name)+".scratch.db")
		if err := fsutil.EnsureDir(ledgerPath); err != nil {
			return err
		}
		ledger, err := session.OpenLedger(ledgerPath)
		if err != nil {
			return fmt.Errorf("session %s: open ledger: %w", name, err)
		}
		sess.Scratch = ledger
	}
	return nil
}

// reportOrphanedHandles logs every ScratchHandle left over from a prior
// crashed run, per session (spec §5.7 "never lost"). It does not attempt
// to resume or clean them up automatically — that is left to the operator.
func reportOrphanedHandles(pool *session.Pool) {
	for _, name := range pool.Names() {
		sess, ok := pool.Get(name)
		if !ok {
			continue
		}
		orphaned, err := stage3.Orphaned(sess)
		if err != nil {
			logger.Warnf("session %s: failed to read scratch ledger: %v", name, err)
			continue
		}
		if len(orphaned) > 0 {
			logger.Warnf("session %s: %d orphaned scratch handle(s) from a prior run", name, len(orphaned))
		}
	}
}

// runRequestArgs collects buildRunRequest's inputs — one struct instead
// of a growing positional parameter list now that the CLI surface
// covers every flag in spec §6/§7.
type runRequestArgs struct {
	mode              string
	source            int64
	startID, endID    int
	targetsCSV        string
	selfChat          int64
	destDir           string
	template          string
	namingPattern     string
	filter            download.Filter
	batchSize         int
	cleanupOnSuccess  bool
	cleanupOnFailure  bool
	preserveStructure bool
	groupTimeout      time.Duration
}

func buildRunRequest(a runRequestArgs) (driver.RunRequest, error) {
	req := driver.RunRequest{
		Source:            model.ChannelID(a.source),
		StartID:           model.MessageID(a.startID),
		EndID:             model.MessageID(a.endID),
		SelfChat:          model.ChannelID(a.selfChat),
		DestDir:           a.destDir,
		NamingPattern:     a.namingPattern,
		Filter:            a.filter,
		Template:          a.template,
		BatchSize:         a.batchSize,
		CleanupOnSuccess:  a.cleanupOnSuccess,
		CleanupOnFailure:  a.cleanupOnFailure,
		PreserveStructure: a.preserveStructure,
		GroupTimeout:      a.groupTimeout,
	}

	switch a.mode {
	case "local":
		req.Mode = driver.ModeLocal
	case "forward":
		req.Mode = driver.ModeForward
		req.Targets = parseChannelIDs(a.targetsCSV)
	default:
		return driver.RunRequest{}, fmt.Errorf("unknown mode %q (want local|forward)", a.mode)
	}
	return req, nil
}

// buildFilter turns the config file's default filters into a
// download.Filter; a unit is excluded if any of its media matches an
// excluded kind or exceeds the configured size cap (spec §6 "default
// filters"). The download workflow leaves an excluded unit out of its
// results entirely; it is not reported as skipped.
func buildFilter(cfg config.FiltersConfig) download.Filter {
	if len(cfg.ExcludeKinds) == 0 && cfg.MaxFileSizeMB <= 0 {
		return nil
	}
	excluded := make(map[model.MediaKind]bool, len(cfg.ExcludeKinds))
	for _, name := range cfg.ExcludeKinds {
		if kind, ok := model.ParseMediaKind(name); ok {
			excluded[kind] = true
		}
	}
	maxBytes := cfg.MaxFileSizeMB * 1024 * 1024

	return func(unit model.AtomicUnit) bool {
		for _, msg := range unit.Messages() {
			if msg.Media == nil {
				continue
			}
			if excluded[msg.Media.Kind] {
				return false
			}
			if maxBytes > 0 && msg.Media.Size > maxBytes {
				return false
			}
		}
		return true
	}
}

func parseChannelIDs(csv string) []model.ChannelID {
	var out []model.ChannelID
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
			out = append(out, model.ChannelID(id))
		}
	}
	return out
}

func buildScheduler(job schedule.Job, spec string, loc *time.Location) (*schedule.Scheduler, error) {
	if d, err := time.ParseDuration(spec); err == nil {
		return schedule.NewInterval(job, d, loc)
	}
	return schedule.NewCron(job, spec, loc)
}
