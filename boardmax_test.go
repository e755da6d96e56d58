package boardmax

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poiesic/boardmax/ai/mock"
	"github.com/poiesic/boardmax/config"
	"github.com/poiesic/boardmax/query"
	"github.com/poiesic/boardmax/storage"
	"github.com/poiesic/boardmax/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Index.Path = filepath.Join(t.TempDir(), "index")
	return cfg
}

func TestOpen(t *testing.T) {
	t.Run("opens the badger index", func(t *testing.T) {
		app, err := Open(context.Background(), testConfig(t), WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		defer app.Close()

		assert.NotNil(t, app.Index())
		assert.NotNil(t, app.Provider())
		_, ok := app.Index().(storage.EntryScanner)
		assert.True(t, ok)
	})

	t.Run("error with invalid path", func(t *testing.T) {
		cfg := testConfig(t)
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0o644))
		cfg.Index.Path = tmpFile

		app, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, app)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Index.Backend = "sqlite"
		_, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, storage.ErrUnknownBackend)
	})

	t.Run("in-memory chromem", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Index.Backend = config.IndexChromem
		cfg.Index.Path = ""
		app, err := Open(context.Background(), cfg, WithProvider(mock.NewMockProvider()))
		require.NoError(t, err)
		assert.NoError(t, app.Close())
	})
}

func TestNewProvider(t *testing.T) {
	cfg := config.Default()
	provider, err := NewProvider(cfg)
	require.NoError(t, err)
	require.NoError(t, provider.Close())

	cfg.AI.Backend = "bedrock"
	_, err = NewProvider(cfg)
	assert.Error(t, err)
}

// TestApp_EndToEnd ingests a scheme and answers over HTTP with mock AI services.
func TestApp_EndToEnd(t *testing.T) {
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)

	generator := mock.NewMockGenerator()
	generator.DefaultAnswer = "- **Refraction** is the **bending of light**."
	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), generator)

	app, err := Open(context.Background(), config.Default(), WithIndex(index), WithProvider(provider))
	require.NoError(t, err)
	defer app.Close()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "physics"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "physics", "light.txt"),
		[]byte("Refraction is the bending of light when it passes from one medium to another."), 0o644))

	pipeline, err := app.NewIngestionPipeline()
	require.NoError(t, err)
	report, err := pipeline.IngestDir(context.Background(), dir)
	pipeline.Release()
	require.NoError(t, err)
	require.False(t, report.HardFailed())

	var summary bytes.Buffer
	require.NoError(t, report.WriteSummary(&summary))
	assert.Contains(t, summary.String(), "physics/light.txt")

	srv, err := app.NewServer()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(
		`{"question":"Define refraction of light.","subject":"Physics","mode":"answer"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	svc, err := app.NewQueryService()
	require.NoError(t, err)
	answer, err := svc.Ask(context.Background(), &query.Input{
		Question: "Define refraction of light.",
		Subject:  "physics",
		Mode:     "optimizer",
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, answer.SourcesCount, 1)
	assert.Contains(t, answer.Answer, "**Refraction**")
}

func TestApp_Reembedder(t *testing.T) {
	app, err := Open(context.Background(), testConfig(t), WithProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	defer app.Close()

	reembedder, err := app.NewReembedder(nil, nil)
	require.NoError(t, err)
	result, err := reembedder.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
}
