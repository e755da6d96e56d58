package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/poiesic/boardmax"
	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/ai/openai"
	"github.com/poiesic/boardmax/config"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
	"github.com/urfave/cli/v2"
)

// listModels is replaced in tests.
var listModels = openai.ListModels

const checkText = "BoardMax connectivity check"

// checker prints one line per check and remembers failures.
type checker struct {
	w      io.Writer
	failed []string
}

func (ck *checker) ok(name, format string, args ...any) {
	fmt.Fprintf(ck.w, "[ OK ] %-22s %s\n", name, fmt.Sprintf(format, args...))
}

func (ck *checker) warn(name, format string, args ...any) {
	fmt.Fprintf(ck.w, "[WARN] %-22s %s\n", name, fmt.Sprintf(format, args...))
}

func (ck *checker) fail(name string, err error) {
	fmt.Fprintf(ck.w, "[FAIL] %-22s %v\n", name, err)
	ck.failed = append(ck.failed, name)
}

func checkCommand(c *cli.Context) error {
	cfg := configFrom(c)
	ck := &checker{w: c.App.Writer}

	runChecks(c.Context, ck, cfg)

	if len(ck.failed) > 0 {
		return fmt.Errorf("%d checks failed: %s", len(ck.failed), strings.Join(ck.failed, ", "))
	}
	fmt.Fprintln(c.App.Writer, "All checks passed.")
	return nil
}

func runChecks(ctx context.Context, ck *checker, cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		ck.fail("configuration", err)
		return
	}
	ck.ok("configuration", "index=%s ai=%s subjects=%s",
		cfg.Index.Backend, cfg.AI.Backend, strings.Join(cfg.Subjects, ","))

	// Presence only, never values
	secrets := cfg.Secrets()
	names := make([]string, 0, len(secrets))
	for name := range secrets {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if secrets[name] {
			ck.ok("secret "+name, "set")
		} else {
			ck.warn("secret "+name, "not set")
		}
	}

	app, err := openApp(ctx, cfg)
	if err != nil {
		ck.fail("open", err)
		return
	}
	defer app.Close()

	checkIndex(ctx, ck, app)
	if cfg.AI.Backend == ai.BackendOpenAI {
		checkModels(ctx, ck, cfg)
	}
	checkEmbedding(ctx, ck, app)
}

func checkIndex(ctx context.Context, ck *checker, app *boardmax.App) {
	scanner, ok := app.Index().(storage.EntryScanner)
	if !ok {
		ck.warn("index", "%s index cannot report entry counts", app.Config().Index.Backend)
		return
	}

	total, err := scanner.Count(ctx, "")
	if err != nil {
		ck.fail("index", err)
		return
	}
	if total == 0 {
		ck.warn("index", "empty; run `boardmax ingest` first")
		return
	}
	ck.ok("index", "%d entries", total)

	present, err := scanner.Subjects(ctx)
	if err != nil {
		ck.fail("index subjects", err)
		return
	}
	for _, subject := range app.Config().Subjects {
		subject = core.CanonicalSubject(subject)
		if !slices.Contains(present, subject) {
			ck.warn("subject "+subject, "no entries; answers will have no marking-scheme context")
			continue
		}
		n, err := scanner.Count(ctx, subject)
		if err != nil {
			ck.fail("subject "+subject, err)
			continue
		}
		ck.ok("subject "+subject, "%d entries", n)
	}
}

func checkModels(ctx context.Context, ck *checker, cfg *config.Config) {
	aiCfg := cfg.AIConfig()
	aiCfg.Normalize()

	targets := []struct {
		name, host, token, model string
	}{
		{"generation model", aiCfg.GenerationHost, aiCfg.GenerationToken(), aiCfg.GenerationModel},
		{"embedding model", aiCfg.EmbeddingHost, aiCfg.EmbeddingToken(), aiCfg.EmbeddingModel},
	}
	for _, target := range targets {
		ids, err := listModels(ctx, target.host, target.token, aiCfg.RequestTimeout)
		if err != nil {
			ck.fail(target.name, err)
			continue
		}
		if !openai.HasModel(ids, target.model) {
			ck.fail(target.name, fmt.Errorf("%s is not served by %s", target.model, target.host))
			continue
		}
		ck.ok(target.name, "%s available at %s", target.model, target.host)
	}
}

func checkEmbedding(ctx context.Context, ck *checker, app *boardmax.App) {
	vector, err := app.Provider().Embedder().EmbedText(ctx, checkText)
	if err != nil {
		ck.fail("embedding", err)
		return
	}
	if len(vector) == 0 {
		ck.fail("embedding", errors.New("empty vector"))
		return
	}
	ck.ok("embedding", "dimension %d", len(vector))
}
