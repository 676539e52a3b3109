// Command firm-audit scans the firm registry for records missing payout,
// drawdown or jurisdiction data and writes the offenders to a CSV file.
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
	"syscall"
	"time"

	"github.com/Sternrassler/firm-audit/pkg/audit"
	"github.com/Sternrassler/firm-audit/pkg/cache"
	"github.com/Sternrassler/firm-audit/pkg/client"
	"github.com/Sternrassler/firm-audit/pkg/config"
	"github.com/Sternrassler/firm-audit/pkg/logging"
	"github.com/Sternrassler/firm-audit/pkg/metrics"
	"github.com/Sternrassler/firm-audit/pkg/ratelimit"
	"github.com/Sternrassler/firm-audit/pkg/report"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitInterrupted = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one audit and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := loadConfig(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "[audit] %v\n", err)
		return exitUsage
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logging.Setup(logging.Config{Level: level, Pretty: cfg.LogPretty, Output: stderr})
	logger := logging.NewLogger("firm-audit")

	start := time.Now()
	outputPath := cfg.OutputPath(start)

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Start(cfg.MetricsAddr)
		if err != nil {
			fmt.Fprintf(stderr, "[audit] metrics server: %v\n", err)
			return exitUsage
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	clientCfg := client.DefaultConfig()
	clientCfg.Timeout = cfg.Timeout
	clientCfg.UserAgent = cfg.UserAgent
	clientCfg.Retry.MaxRetries = cfg.MaxRetries

	if cfg.RedisURL != "" {
		redisClient, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, running without cache")
		} else {
			defer redisClient.Close()
			clientCfg.Cache = cache.NewManager(redisClient, cfg.CacheTTL)
			clientCfg.RateLimiter = ratelimit.NewTracker(ratelimit.NewRedisStore(redisClient), logging.NewLogger("ratelimit"))
			logger.Info().Str("redis", cfg.RedisURL).Msg("Response cache enabled")
		}
	}

	c, err := client.New(clientCfg)
	if err != nil {
		fmt.Fprintf(stderr, "[audit] %v\n", err)
		return exitUsage
	}

	auditor := audit.NewAuditor(c, audit.Config{
		BaseURL:  cfg.BaseURL,
		Limit:    cfg.Limit,
		PageSize: cfg.PageSize,
		Workers:  cfg.Workers,
	})

	rep, runErr := auditor.Run(ctx)
	if rep == nil {
		fmt.Fprintf(stderr, "[audit] failed to fetch firms: %v\n", runErr)
		return exitFailure
	}

	if err := writeReports(cfg, outputPath, rep, logger); err != nil {
		fmt.Fprintf(stderr, "[audit] %v\n", err)
		return exitFailure
	}

	report.PrintSummary(stdout, rep, outputPath)

	if runErr != nil {
		fmt.Fprintf(stderr, "[audit] interrupted: partial report written (%v)\n", runErr)
		if audit.IsCancelled(runErr) {
			return exitInterrupted
		}
		return exitFailure
	}
	return exitOK
}

// loadConfig resolves configuration with precedence flags > env > file > defaults.
func loadConfig(args []string, stderr io.Writer) (config.Config, error) {
	defaults := config.Default()

	fs := flag.NewFlagSet("firm-audit", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "YAML config file")
	baseURL := fs.String("base-url", defaults.BaseURL, "Base URL for the registry API")
	limit := fs.Int("limit", 0, "Limit number of firms to audit (0 = all)")
	workers := fs.Int("workers", defaults.Workers, "Concurrent workers for detail requests")
	pageSize := fs.Int("page-size", defaults.PageSize, "Listing page size")
	timeout := fs.Duration("timeout", defaults.Timeout, "Per-request timeout")
	maxRetries := fs.Int("max-retries", defaults.MaxRetries, "Retries for transient failures")
	output := fs.String("output", "", "CSV output path (default: missing_fields_<unix>.csv in the temp dir)")
	errorsOutput := fs.String("errors-output", "", "Optional CSV path for firms that could not be audited")
	redisURL := fs.String("redis-url", "", "Redis address or URL for the response cache")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	logLevel := fs.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")
	pretty := fs.Bool("pretty", false, "Human-readable console logs")

	if err := fs.Parse(args); err != nil {
		return defaults, err
	}
	if fs.NArg() > 0 {
		return defaults, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}

	// Only flags given on the command line override file and environment
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = *baseURL
		case "limit":
			cfg.Limit = *limit
		case "workers":
			cfg.Workers = *workers
		case "page-size":
			cfg.PageSize = *pageSize
		case "timeout":
			cfg.Timeout = *timeout
		case "max-retries":
			cfg.MaxRetries = *maxRetries
		case "output":
			cfg.Output = *output
		case "errors-output":
			cfg.ErrorsOutput = *errorsOutput
		case "redis-url":
			cfg.RedisURL = *redisURL
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		case "pretty":
			cfg.LogPretty = *pretty
		}
	})

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// connectRedis accepts either a redis:// URL or a bare host:port.
func connectRedis(ctx context.Context, raw string) (*redis.Client, error) {
	opts := &redis.Options{Addr: raw}
	if strings.Contains(raw, "://") {
		parsed, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func writeReports(cfg config.Config, outputPath string, rep *audit.Report, logger zerolog.Logger) error {
	if err := report.WriteMissingFile(outputPath, rep.Missing, nil); err != nil {
		return fmt.Errorf("write %s: %w", outputPath, err)
	}
	logger.Info().Str("path", outputPath).Int("rows", len(rep.Missing)).Msg("Missing-fields report written")

	if cfg.ErrorsOutput != "" {
		if err := report.WriteErrorsFile(cfg.ErrorsOutput, rep.Errors); err != nil {
			return fmt.Errorf("write %s: %w", cfg.ErrorsOutput, err)
		}
		logger.Info().Str("path", cfg.ErrorsOutput).Int("rows", len(rep.Errors)).Msg("Error report written")
	}
	return nil
}
