// Package fetch downloads run inputs over HTTP.
//
// Two entry points with deliberately different contracts: EnsureFile
// skips the network entirely when the destination already exists, while
// Download always fetches and replaces. Strain frames use the former,
// the run configuration the latter.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"

	"gwpipe/internal/logging"
)

// transferBar mirrors wget-style byte counters. No percentage bar: the
// total is unknown until the response headers arrive, and often not even
// then.
const transferBar pb.ProgressBarTemplate = `{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{speed . }}`

// Client downloads files. The zero value works with default HTTP
// settings and no progress output.
type Client struct {
	// HTTPClient may be nil to use http.DefaultClient.
	HTTPClient *http.Client
	// UserAgent is sent with every request when non-empty.
	UserAgent string
	// Progress enables a byte-counter bar written to this writer.
	// Nil keeps downloads silent.
	Progress io.Writer

	log *slog.Logger
}

// NewClient returns a Client with the given user agent and silent
// downloads.
func NewClient(userAgent string) *Client {
	return &Client{UserAgent: userAgent}
}

// Result describes one fetch outcome.
type Result struct {
	Path string
	// Downloaded is false when EnsureFile found the file already present.
	Downloaded bool
	// Bytes is the size of the file on disk.
	Bytes int64
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.log == nil {
		c.log = logging.New("fetch")
	}
	return c.log
}

// EnsureFile makes sure path exists, downloading from url only when it
// is missing. A present file is never re-fetched, re-verified, or
// touched in any way.
func (c *Client) EnsureFile(ctx context.Context, url, path, sum string) (Result, error) {
	fi, err := os.Stat(path)
	if err == nil {
		if fi.IsDir() {
			return Result{}, fmt.Errorf("destination %s is a directory", path)
		}
		c.logger().Debug("already present, skipping download", "path", path, "bytes", fi.Size())
		return Result{Path: path, Downloaded: false, Bytes: fi.Size()}, nil
	}
	if !os.IsNotExist(err) {
		return Result{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return c.Download(ctx, url, path, sum)
}

// Download fetches url and replaces path unconditionally. The body is
// written to a temp file in the destination directory and renamed into
// place, so a failed transfer never leaves a partial file under the
// final name.
//
// When sum is a non-empty hex SHA-256 and the downloaded bytes do not
// match, the file is kept and a warning is logged. Checksums are
// advisory here, never fatal.
func (c *Client) Download(ctx context.Context, url, path, sum string) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("new request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("get %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".part-*")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	// After a successful rename the temp name is gone and both calls are
	// harmless no-ops.
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	var w io.Writer = io.MultiWriter(tmp, hasher)

	if c.Progress != nil {
		bar := transferBar.New(0)
		if resp.ContentLength > 0 {
			bar.SetTotal(resp.ContentLength)
		}
		bar.SetWriter(c.Progress)
		bar.Set("prefix", filepath.Base(path)+":")
		bar.Start()
		defer bar.Finish()
		w = bar.NewProxyWriter(w)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("download %s: %w", url, err)
	}
	if sum != "" {
		got := hex.EncodeToString(hasher.Sum(nil))
		if !strings.EqualFold(got, sum) {
			c.logger().Warn("checksum mismatch, keeping file",
				"path", path, "want", strings.ToLower(sum), "got", got)
		}
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Result{}, fmt.Errorf("rename into place: %w", err)
	}
	c.logger().Debug("downloaded", "url", url, "path", path, "bytes", n)
	return Result{Path: path, Downloaded: true, Bytes: n}, nil
}

// FileSHA256 hashes a file on disk, returning the hex digest and size.
func FileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
