// kaiwad is the AI interview backend daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kaiwa-ai/kaiwa/internal/api"
	"github.com/kaiwa-ai/kaiwa/internal/domain/interview"
	"github.com/kaiwa-ai/kaiwa/internal/infra/config"
	"github.com/kaiwa-ai/kaiwa/internal/infra/eventbus"
	"github.com/kaiwa-ai/kaiwa/internal/infra/llm"
	"github.com/kaiwa-ai/kaiwa/internal/infra/sqlite"
	"github.com/kaiwa-ai/kaiwa/internal/server"
	"github.com/kaiwa-ai/kaiwa/internal/session"
	"github.com/kaiwa-ai/kaiwa/internal/version"
	"github.com/kaiwa-ai/kaiwa/pkg/auth"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("kaiwad", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	showVersion := fs.Bool("version", false, "Show version information")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(out, "usage: kaiwad [--version]") //nolint:errcheck
		return 2
	}
	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	// .env is optional; real deployments set the environment directly.
	if err := godotenv.Load(); err == nil {
		log.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		return 1
	}

	if err := serve(cfg, log); err != nil {
		log.Error("kaiwad exited", "error", err)
		return 1
	}
	return 0
}

func serve(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.NewDB(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	if err := sqlite.MigrateUp(db); err != nil {
		return err
	}
	migrationVersion, err := sqlite.MigrationVersion(db)
	if err != nil {
		return err
	}
	log.Info("database ready", "path", cfg.DB.Path, "schema_version", migrationVersion)

	verifier, err := auth.NewVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		return err
	}

	// One probe construction up front so a bad provider config fails at
	// startup, not on the first connection.
	probe, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	probe.Close() //nolint:errcheck
	log.Info("llm provider configured", "provider", cfg.LLM.Provider, "model", probe.ModelInfo().ID)

	interviews := interview.NewInterviewService(db)
	tasks := interview.NewTaskService(db)
	templates := interview.NewTemplateService(db)
	users := interview.NewUserService(db)

	bus := eventbus.New()
	go tasks.RunRecomputeSubscriber(ctx, bus, log)

	sessions := session.NewHandler(
		session.NewRegistry(),
		interviews, tasks, templates, users,
		verifier,
		func() (llm.Provider, error) { return llm.New(cfg.LLM) },
		bus,
		log,
	)

	srv := server.New(api.NewRouter(sessions, log), server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
