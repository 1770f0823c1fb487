// Package transfer downloads model files over HTTP.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"whisper-desk/internal/domain"
	"whisper-desk/internal/models"
)

const (
	defaultTimeout = 60 * time.Second
	chunkSize      = 64 * 1024

	reportInterval = 500 * time.Millisecond
	reportStep     = 0.01
)

// ErrChecksumMismatch is returned when the downloaded bytes do not match the
// descriptor's SHA-256.
var ErrChecksumMismatch = errors.New("sha256 mismatch")

// Destinations resolves where a model file should be written.
type Destinations interface {
	Path(model domain.ModelDescriptor) string
}

// HTTP streams model files into place through a temporary .part file.
type HTTP struct {
	client    *http.Client
	dest      Destinations
	userAgent string
	log       logrus.FieldLogger
	now       func() time.Time
}

// New builds an HTTP transfer. The network timeout bounds connecting and
// waiting for response headers, not the whole body.
func New(dest Destinations, network domain.NetworkSettings, log logrus.FieldLogger) *HTTP {
	if log == nil {
		log = logrus.StandardLogger()
	}
	timeout := time.Duration(network.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
	return &HTTP{
		client:    &http.Client{Transport: tr},
		dest:      dest,
		userAgent: network.UserAgent,
		log:       log,
		now:       time.Now,
	}
}

// Transfer downloads model to its destination and returns the final size.
// Cancelling ctx stops the copy at the next chunk and returns ctx.Err().
func (h *HTTP) Transfer(ctx context.Context, model domain.ModelDescriptor, report func(models.Progress)) (int64, error) {
	if strings.TrimSpace(model.URL) == "" {
		return 0, fmt.Errorf("model %s has no download url", model.ID)
	}
	destPath := h.dest.Path(model)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, fmt.Errorf("prepare destination directory: %w", err)
	}

	partPath := destPath + ".part"
	if err := os.Remove(partPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove stale temp file: %w", err)
	}

	log := h.log.WithField("model", model.ID)
	total := h.head(ctx, model.URL)
	log.WithField("size", total).Debug("download size probed")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, model.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	h.setHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return 0, h.abort(ctx, fmt.Errorf("request download: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}
	if total <= 0 && resp.ContentLength > 0 {
		total = resp.ContentLength
	}

	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create temporary file: %w", err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.Remove(partPath)
		}
	}()

	var hasher hash.Hash
	var out io.Writer = file
	if model.SHA256 != "" {
		hasher = sha256.New()
		out = io.MultiWriter(file, hasher)
	}

	p := &progressReporter{report: report, total: total, estimate: model.SizeEstimateBytes, now: h.now}
	written, copyErr := copyChunks(ctx, out, resp.Body, p)
	closeErr := file.Close()
	if copyErr != nil {
		return written, h.abort(ctx, fmt.Errorf("write destination file: %w", copyErr))
	}
	if closeErr != nil {
		return written, fmt.Errorf("close destination file: %w", closeErr)
	}
	if total > 0 && written != total {
		return written, fmt.Errorf("short download: got %d of %d bytes", written, total)
	}

	if hasher != nil {
		actual := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(strings.TrimSpace(model.SHA256), actual) {
			return written, fmt.Errorf("%w: expected=%s actual=%s", ErrChecksumMismatch, model.SHA256, actual)
		}
	}

	if err := os.Remove(destPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return written, fmt.Errorf("remove old destination file: %w", err)
	}
	if err := os.Rename(partPath, destPath); err != nil {
		return written, fmt.Errorf("move downloaded file into place: %w", err)
	}
	keep = true

	p.finish(written)
	log.WithField("path", destPath).Debug("model file written")
	return written, nil
}

// head probes Content-Length. Zero means unknown.
func (h *HTTP) head(ctx context.Context, url string) int64 {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0
	}
	h.setHeaders(req)
	resp, err := h.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}
	n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *HTTP) setHeaders(req *http.Request) {
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
}

// abort prefers the context error so callers can tell cancellation apart
// from network failures.
func (h *HTTP) abort(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, p *progressReporter) (int64, error) {
	buf := make([]byte, chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			p.observe(written)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// progressReporter throttles reports to one per interval or per percent.
type progressReporter struct {
	report   func(models.Progress)
	total    int64
	estimate int64
	now      func() time.Time

	lastAt       time.Time
	lastFraction float64
	started      bool
}

func (p *progressReporter) observe(received int64) {
	if p.report == nil {
		return
	}
	fraction := p.fraction(received)
	now := p.now()
	if p.started && now.Sub(p.lastAt) < reportInterval && fraction-p.lastFraction < reportStep {
		return
	}
	p.started = true
	p.lastAt = now
	p.lastFraction = fraction
	p.report(models.Progress{BytesReceived: received, BytesTotal: p.total})
}

// finish reports parity once the file is in place.
func (p *progressReporter) finish(received int64) {
	if p.report == nil {
		return
	}
	p.report(models.Progress{Fraction: 1, BytesReceived: received, BytesTotal: received})
}

func (p *progressReporter) fraction(received int64) float64 {
	total := p.total
	if total <= 0 {
		total = p.estimate
	}
	if total <= 0 {
		return 0
	}
	return float64(received) / float64(total)
}
