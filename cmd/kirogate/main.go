// Command kirogate runs the Anthropic-compatible gateway in front of the
// Kiro assistant-response API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/openkiro/kirogate/pkg/config"
	"github.com/openkiro/kirogate/pkg/kiro"
	"github.com/openkiro/kirogate/pkg/pool"
	"github.com/openkiro/kirogate/pkg/server"
	"github.com/openkiro/kirogate/pkg/telemetry"
	"github.com/openkiro/kirogate/pkg/tokencount"
)

// version is stamped by the build.
var version = "0.3.1"

var (
	configPath      string
	credentialsPath string
)

var rootCmd = &cobra.Command{
	Use:     "kirogate",
	Short:   "Anthropic Messages-compatible gateway for the Kiro backend",
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&credentialsPath, "credentials", kiro.DefaultCredentialsPath, "credentials file path")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// A missing .env is fine; explicit env always wins.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	var limiter *rate.Limiter
	if cfg.UpstreamRPS > 0 {
		burst := int(cfg.UpstreamRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.UpstreamRPS), burst)
	}

	accountPool, err := buildPool(cfg, logger, limiter)
	if err != nil {
		return err
	}
	logger.Info("account pool ready", "accounts", accountPool.Size(), "strategy", cfg.Strategy)

	counter, err := tokencount.NewCounter(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.New(cfg, accountPool, counter, logger)
	return srv.ListenAndServe(ctx)
}

// buildPool assembles the account pool: every entry of the accounts file, or
// a single account from the credentials file / environment.
func buildPool(cfg *config.Config, logger *slog.Logger, limiter *rate.Limiter) (*pool.Pool, error) {
	var accounts []*pool.Account

	newAccount := func(id, name string, creds *kiro.Credentials) error {
		tm, err := kiro.NewTokenManager(cfg, creds, logger.With("account", name))
		if err != nil {
			return err
		}
		provider, err := kiro.NewProvider(cfg, tm, limiter)
		if err != nil {
			return err
		}
		accounts = append(accounts, pool.NewAccount(id, name, tm, provider))
		return nil
	}

	if cfg.AccountsFile != "" {
		configs, err := pool.LoadAccountsFile(cfg.AccountsFile)
		if err != nil {
			return nil, err
		}
		for i := range configs {
			name := configs[i].Name
			if name == "" {
				name = fmt.Sprintf("account-%d", i+1)
			}
			if err := newAccount(fmt.Sprintf("acct-%d", i+1), name, &configs[i].Credentials); err != nil {
				return nil, err
			}
		}
	} else {
		creds, err := kiro.LoadCredentialsWithEnvFallback(credentialsPath)
		if err != nil {
			return nil, err
		}
		if err := creds.Validate(); err != nil {
			return nil, err
		}
		if err := newAccount("acct-1", "default", creds); err != nil {
			return nil, err
		}
	}

	return pool.New(accounts, pool.Strategy(cfg.Strategy)), nil
}

// newLogger builds the process logger from config: text or JSON handler at
// the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
