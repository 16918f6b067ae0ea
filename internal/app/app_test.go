package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/app"
	"github.com/JakeFAU/webcam-harvester/internal/config"
	"github.com/JakeFAU/webcam-harvester/internal/scraper"
)

// newOpentopiaServer serves a live page for even identifiers and a
// trouble page for odd ones. Images are served under /images/.
func newOpentopiaServer(t *testing.T, pageHits *atomic.Int32) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/webcam/"):
			pageHits.Add(1)
			id := strings.TrimPrefix(r.URL.Path, "/webcam/")
			var n int
			_, _ = fmt.Sscanf(id, "%d", &n)
			w.Header().Set("Content-Type", "text/html")
			if n%2 == 1 {
				_, _ = fmt.Fprintf(w, `<img id="stillimage" src="/images/%s.jpg"><p>trouble contacting</p>`, id)
				return
			}
			_, _ = fmt.Fprintf(w, `<img id="stillimage" src="%s/images/%s.jpg">`, server.URL, id)
		case strings.HasPrefix(r.URL.Path, "/images/"):
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xD9})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Metadata: config.MetadataConfig{
			Backend: config.BackendFile,
			Path:    filepath.Join(dir, "metadata.msgpack"),
		},
		Scrape: config.ScrapeConfig{
			Source:       "opentopia",
			BaseURL:      baseURL,
			Identifiers:  "0:4",
			Period:       time.Second,
			Duration:     1500 * time.Millisecond,
			Workers:      2,
			FetchTimeout: 2 * time.Second,
		},
		Frames: config.FramesConfig{Dir: filepath.Join(dir, "frames")},
	}
}

func TestAppResolveScrapesOnceAndPersists(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := newOpentopiaServer(t, &hits)
	cfg := testConfig(t, server.URL)
	ctx := context.Background()

	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.InstallScraper("opentopia"))

	records, err := a.Resolve(ctx, "opentopia", []string{"0", "1", "2", "3"})
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Len(t, a.Store().Live(), 2)

	_, err = a.Resolve(ctx, "opentopia", []string{"0", "1"})
	require.NoError(t, err)
	assert.EqualValues(t, 4, hits.Load(), "cached identifiers must not be scraped again")
	require.NoError(t, a.Close(ctx))

	reopened, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close(ctx) })
	assert.Equal(t, 4, reopened.Store().Len())
}

func TestAppUnknownSource(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://unused.example.test")
	ctx := context.Background()
	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	assert.ErrorIs(t, a.InstallScraper("nowhere"), scraper.ErrUnknownSource)
	assert.Equal(t, []string{"opentopia"}, a.Sources())
	assert.Nil(t, a.Sessions())
}

func TestAppSecondInstanceIsLockedOut(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://unused.example.test")
	ctx := context.Background()
	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })

	_, err = app.New(ctx, cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestAppRunSessionStoresFrames(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := newOpentopiaServer(t, &hits)
	cfg := testConfig(t, server.URL)
	ctx := context.Background()

	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	require.NoError(t, a.InstallScraper("opentopia"))

	records, err := a.Resolve(ctx, "opentopia", []string{"0", "1", "2"})
	require.NoError(t, err)
	cams := a.Webcams(records)
	require.Len(t, cams, 3)

	result, err := a.RunSession(ctx, "opentopia", cams)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Cycles)
	assert.Equal(t, 4, result.Enqueued, "only the two live webcams are scheduled")
	assert.GreaterOrEqual(t, result.Succeeded, 2)

	frames, err := cams[0].Frames()
	require.NoError(t, err)
	assert.NotEmpty(t, frames)
	down, err := cams[1].Frames()
	require.NoError(t, err)
	assert.Empty(t, down)
}

func TestAppStatusServerServesStore(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	server := newOpentopiaServer(t, &hits)
	cfg := testConfig(t, server.URL)
	ctx := context.Background()

	a, err := app.New(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	require.NoError(t, a.InstallScraper("opentopia"))
	_, err = a.Resolve(ctx, "opentopia", []string{"2"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.StatusServer().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/webcams/opentopia/2", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_live":true`)
}
