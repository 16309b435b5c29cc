package main

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccsched/ccsched/internal/common/config"
	"github.com/ccsched/ccsched/internal/common/logger"
	"github.com/ccsched/ccsched/internal/db"
	"github.com/ccsched/ccsched/internal/orchestrator/scheduler"
	"github.com/ccsched/ccsched/internal/task/api"
	"github.com/ccsched/ccsched/internal/task/repository"
	"github.com/ccsched/ccsched/pkg/claudecode"
)

func newStartCmd() *cobra.Command {
	var (
		claudePath string
		dbPath     string
		envFile    string
	)

	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"s"},
		Short:   "Start the scheduler service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// CLI flags win over config file and environment.
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = flagHost
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = flagPort
			}
			if claudePath != "" {
				cfg.Agent.ClaudePath = claudePath
			}
			if dbPath != "" {
				cfg.Database.Path = dbPath
			}
			if err := mergeEnvFile(cfg, envFile); err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVarP(&claudePath, "claude-path", "c", "", "path to the Claude Code executable")
	cmd.Flags().StringVarP(&dbPath, "db", "d", "", "path to the task database")
	cmd.Flags().StringVarP(&envFile, "env", "e", ".env", "environment file passed to agent runs")
	return cmd
}

func runServer(cfg *config.Config) error {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return err
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	conn, err := db.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return err
	}
	store, err := repository.New(conn, log)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := claudecode.NewRunner(cfg.Agent.ClaudePath, cfg.Agent.ExtraEnv, log)
	sched := scheduler.New(store, runner, scheduler.Config{
		TickInterval:     cfg.Scheduler.TickIntervalDuration(),
		QueueSize:        cfg.Scheduler.QueueSize,
		RateLimitBuffer:  cfg.Scheduler.RateLimitBuffer,
		MaxVerifications: cfg.Scheduler.MaxVerifications,
	}, log)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(store, log),
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("ccsched starting",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("database", cfg.Database.Path),
		zap.String("claude_path", cfg.Agent.ClaudePath))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// mergeEnvFile loads KEY=VALUE pairs from an env file into the agent's extra
// environment. A missing file is only an error when a non-default path was
// given explicitly.
func mergeEnvFile(cfg *config.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && path == ".env" {
			return nil
		}
		return err
	}
	defer f.Close()

	if cfg.Agent.ExtraEnv == nil {
		cfg.Agent.ExtraEnv = make(map[string]string)
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		cfg.Agent.ExtraEnv[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return scanner.Err()
}
