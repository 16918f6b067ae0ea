package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestMirror(t *testing.T, cfg Config, handler http.Handler) *Mirror {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication())
	require.NoError(t, err)

	m, err := New(client, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestPutObjectUploadsUnderPrefix(t *testing.T) {
	t.Parallel()

	var gotName string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/frames-bucket/o")
		gotName = r.URL.Query().Get("name")
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "jpeg-data")
		fmt.Fprintf(w, `{"name": %q, "bucket": "frames-bucket"}`, gotName)
	})

	m := newTestMirror(t, Config{Bucket: "frames-bucket", Prefix: "/harvest/"}, handler)
	uri, err := m.PutObject(context.Background(), "opentopia_00000001/2024_01_01_00_00_00.jpg",
		"image/jpeg", strings.NewReader("jpeg-data"))
	require.NoError(t, err)

	assert.Equal(t, "harvest/opentopia_00000001/2024_01_01_00_00_00.jpg", gotName)
	assert.Equal(t, "gs://frames-bucket/harvest/opentopia_00000001/2024_01_01_00_00_00.jpg", uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	m := newTestMirror(t, Config{Bucket: "frames-bucket"}, handler)

	_, err := m.PutObject(context.Background(), "a.jpg", "image/jpeg", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestPutObjectRequiresKey(t *testing.T) {
	t.Parallel()

	m := newTestMirror(t, Config{Bucket: "b"}, http.NotFoundHandler())
	_, err := m.PutObject(context.Background(), "  ", "", strings.NewReader("x"))
	assert.Error(t, err)
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = New(client, Config{})
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a/b.jpg", (&Mirror{}).ObjectName("a/b.jpg"))
	assert.Equal(t, "p/a/b.jpg", (&Mirror{prefix: "p"}).ObjectName("a/b.jpg"))
}
