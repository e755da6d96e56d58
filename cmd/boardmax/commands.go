package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/ingestion"
	"github.com/poiesic/boardmax/query"
	"github.com/poiesic/boardmax/reembed"
	"github.com/urfave/cli/v2"
)

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := app.NewServer()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen(cfg.Server.Addr())
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	fmt.Fprintln(c.App.ErrWriter, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Duration("shutdown-timeout"))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func ingestCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if c.IsSet("dir") {
		cfg.Ingestion.Dir = c.String("dir")
	}
	if c.IsSet("workers") {
		cfg.Ingestion.Workers = c.Int("workers")
	}
	if cfg.Ingestion.Dir == "" {
		return errors.New("a marking scheme directory is required (--dir)")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	opts := []ingestion.Option{ingestion.WithForce(c.Bool("force"))}
	if subject := c.String("subject"); subject != "" {
		opts = append(opts, ingestion.WithSubjectStrategy(ingestion.FixedSubject(subject)))
	}
	pipeline, err := app.NewIngestionPipeline(opts...)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	fmt.Fprintf(c.App.ErrWriter, "Index: %s (%s)\n", cfg.Index.Backend, cfg.Index.Path)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", cfg.AI.EmbeddingModel)
	fmt.Fprintf(c.App.ErrWriter, "Directory: %s\n\n", cfg.Ingestion.Dir)

	report, err := pipeline.IngestDir(ctx, cfg.Ingestion.Dir)
	if report != nil {
		if werr := report.WriteSummary(c.App.Writer); werr != nil {
			return werr
		}
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if report.HardFailed() {
		return errors.New("ingestion failed: see the summary above")
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}

	cfg := configFrom(c)
	app, err := open(c.Context, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	svc, err := app.NewQueryService()
	if err != nil {
		return err
	}

	answer, err := svc.Ask(c.Context, &query.Input{
		Question:      question,
		Subject:       c.String("subject"),
		Mode:          c.String("mode"),
		StudentAnswer: c.String("answer"),
	})
	if err != nil {
		var validationErr *query.ValidationError
		if errors.As(err, &validationErr) {
			return errors.New(validationErr.Message)
		}
		return err
	}

	fmt.Fprintln(c.App.Writer, answer.Answer)
	fmt.Fprintf(c.App.ErrWriter, "\n[%s, %s, %d sources]\n", answer.Subject, answer.Mode, answer.SourcesCount)
	return nil
}

func reembedCommand(c *cli.Context) error {
	cfg := configFrom(c)

	// Validate flags
	if c.Int("batch-size") <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if c.Int("max-retries") <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	retry := ai.DefaultRetryPolicy()
	retry.MaxAttempts = c.Int("max-retries")
	retry.BaseDelay = c.Duration("retry-delay")

	reembedder, err := app.NewReembedder(&reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		Subject:        c.String("subject"),
		Retry:          retry,
	}, c.App.ErrWriter)
	if err != nil {
		return fmt.Errorf("failed to create reembedder: %w", err)
	}

	fmt.Fprintf(c.App.ErrWriter, "Index: %s (%s)\n", cfg.Index.Backend, cfg.Index.Path)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n\n", cfg.AI.EmbeddingModel)

	if _, err := reembedder.Run(ctx); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}
