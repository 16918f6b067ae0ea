// Package webcam binds a metadata snapshot to frame fetching and frame
// listing against the webcam's own frame directory.
package webcam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webcam-harvester/internal/clock/system"
	"github.com/JakeFAU/webcam-harvester/internal/fetcher"
	"github.com/JakeFAU/webcam-harvester/internal/metadata"
	"github.com/JakeFAU/webcam-harvester/internal/metrics"
)

const (
	// FrameExt is the extension of every stored frame.
	FrameExt = ".jpg"
	// FrameLayout names frames by their capture time at second resolution.
	FrameLayout = "2006_01_02_15_04_05"

	frameContentType = "image/jpeg"
)

// Clock supplies the capture time used to name frames.
type Clock interface {
	Now() time.Time
}

// Mirror receives a copy of each stored frame.
type Mirror interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Options carries the collaborators shared by every Webcam of a session.
type Options struct {
	// Root is the parent of all frame directories.
	Root    string
	Fetcher fetcher.Fetcher
	Clock   Clock
	// Mirror is optional.
	Mirror Mirror
	Logger *zap.Logger
}

// Webcam wraps one metadata snapshot.
type Webcam struct {
	meta    metadata.Metadata
	dir     string
	fetcher fetcher.Fetcher
	clock   Clock
	mirror  Mirror
	logger  *zap.Logger
}

// New constructs a Webcam. The frame directory is created lazily on the
// first successful fetch.
func New(meta metadata.Metadata, opts Options) *Webcam {
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Webcam{
		meta:    meta.Clone(),
		dir:     Dir(opts.Root, meta.Source, meta.Identifier),
		fetcher: opts.Fetcher,
		clock:   clock,
		mirror:  opts.Mirror,
		logger: logger.With(
			zap.String("source", meta.Source),
			zap.String("identifier", meta.Identifier),
		),
	}
}

// Dir returns the frame directory of a webcam under root.
func Dir(root, source, identifier string) string {
	return filepath.Join(root, DirName(source, identifier))
}

// DirName returns the directory name of a webcam, e.g. "opentopia_00001234".
func DirName(source, identifier string) string {
	return source + "_" + metadata.PaddedIdentifier(identifier)
}

// Source returns the metadata source.
func (w *Webcam) Source() string { return w.meta.Source }

// Identifier returns the metadata identifier.
func (w *Webcam) Identifier() string { return w.meta.Identifier }

// IsLive reports the bound metadata's liveness. Callers decide whether to
// schedule a webcam that is not live.
func (w *Webcam) IsLive() bool { return w.meta.IsLive }

// Dir returns the webcam's frame directory.
func (w *Webcam) Dir() string { return w.dir }

// Metadata returns a copy of the bound metadata.
func (w *Webcam) Metadata() metadata.Metadata { return w.meta.Clone() }

func (w *Webcam) String() string { return w.meta.Key().String() }

// FetchCurrentFrame downloads the live still image once and stores it as a
// timestamped frame. It reports whether a frame was written. Failures are
// logged, never retried here.
func (w *Webcam) FetchCurrentFrame(ctx context.Context, timeout time.Duration) bool {
	if w.meta.LivestillURL == "" {
		w.logger.Error("no livestill url, cannot fetch frame")
		metrics.ObserveFrame(w.meta.Source, metrics.FrameNoURL, 0, 0)
		return false
	}
	if w.fetcher == nil {
		w.logger.Error("no fetcher configured, cannot fetch frame")
		metrics.ObserveFrame(w.meta.Source, metrics.FrameFetchError, 0, 0)
		return false
	}

	start := time.Now()
	resp, err := w.fetcher.Fetch(ctx, fetcher.Request{URL: w.meta.LivestillURL, Timeout: timeout})
	if err != nil {
		w.logger.Warn("frame fetch failed",
			zap.String("url", w.meta.LivestillURL),
			zap.Error(err))
		metrics.ObserveFrame(w.meta.Source, metrics.FrameFetchError, 0, time.Since(start))
		return false
	}

	name := w.clock.Now().Format(FrameLayout) + FrameExt
	framePath, err := w.writeFrame(name, resp.Body)
	if err != nil {
		w.logger.Error("frame write failed", zap.String("path", framePath), zap.Error(err))
		metrics.ObserveFrame(w.meta.Source, metrics.FrameWriteError, 0, time.Since(start))
		return false
	}
	metrics.ObserveFrame(w.meta.Source, metrics.FrameSuccess, len(resp.Body), time.Since(start))
	w.logger.Debug("frame stored", zap.String("path", framePath), zap.Int("bytes", len(resp.Body)))

	w.mirrorFrame(ctx, name, resp.Body)
	return true
}

func (w *Webcam) writeFrame(name string, body []byte) (string, error) {
	framePath := filepath.Join(w.dir, name)
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return framePath, fmt.Errorf("create frame dir: %w", err)
	}
	if err := os.WriteFile(framePath, body, 0o644); err != nil {
		return framePath, fmt.Errorf("write frame: %w", err)
	}
	return framePath, nil
}

// mirrorFrame copies a stored frame to the mirror. The local frame is the
// record of truth, so mirror failures only log.
func (w *Webcam) mirrorFrame(ctx context.Context, name string, body []byte) {
	if w.mirror == nil {
		return
	}
	key := path.Join(DirName(w.meta.Source, w.meta.Identifier), name)
	uri, err := w.mirror.PutObject(ctx, key, frameContentType, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("frame mirror failed", zap.String("key", key), zap.Error(err))
		return
	}
	w.logger.Debug("frame mirrored", zap.String("uri", uri))
}

// Frames lists the stored frame paths in no particular order. Each call
// re-reads the directory; a missing directory yields no frames.
func (w *Webcam) Frames() ([]string, error) {
	return ListFrames(w.dir)
}

// SortedFrames lists the stored frame paths in chronological order.
func (w *Webcam) SortedFrames() ([]string, error) {
	frames, err := w.Frames()
	if err != nil {
		return nil, err
	}
	sort.Strings(frames)
	return frames, nil
}

// ListFrames returns the frame files found in dir.
func ListFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	frames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), FrameExt) {
			continue
		}
		frames = append(frames, filepath.Join(dir, entry.Name()))
	}
	return frames, nil
}

// FrameTime parses the capture time encoded in a frame's file name.
func FrameTime(framePath string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(framePath), FrameExt)
	t, err := time.Parse(FrameLayout, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse frame time %q: %w", framePath, err)
	}
	return t, nil
}
