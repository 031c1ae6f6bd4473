// Package fetch downloads upstream source archives and unpacks them, or checks
// out dated snapshots of upstream Git repositories.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/im3e/forge/internal/ctxlog"
	"github.com/im3e/forge/internal/vcs"
	"github.com/im3e/forge/recipe"
)

const (
	DefaultTimeout = 10 * time.Minute
	DefaultRetries = 3
)

// ErrChecksum is returned when a downloaded archive does not match the
// sha256 its recipe declares.
var ErrChecksum = errors.New("checksum mismatch")

// Fetcher downloads archives into Dir, reusing earlier downloads. Git
// sources are checked out with VCS.
type Fetcher struct {
	Client *retryablehttp.Client
	Dir    string
	VCS    vcs.VCS
}

// New returns a Fetcher downloading into dir. Retries are logged to logger,
// which may be nil.
func New(dir string, logger *slog.Logger) *Fetcher {
	c := retryablehttp.NewClient()
	c.HTTPClient = cleanhttp.DefaultPooledClient()
	c.HTTPClient.Timeout = DefaultTimeout
	c.RetryMax = DefaultRetries
	c.Logger = nil
	if logger != nil {
		c.Logger = logger
	}
	return &Fetcher{Client: c, Dir: dir, VCS: vcs.NewGitVCS()}
}

// Get downloads src and extracts it into dest.
func (f *Fetcher) Get(ctx context.Context, src recipe.Source, dest string) error {
	if src.Git != "" {
		return f.checkout(ctx, src, dest)
	}
	archive, err := f.Download(ctx, src.URL, src.SHA256)
	if err != nil {
		return err
	}
	return Extract(ctx, archive, dest, src.StripRoot)
}

// checkout places the snapshot of src in dest without its Git metadata.
func (f *Fetcher) checkout(ctx context.Context, src recipe.Source, dest string) error {
	v := f.VCS
	if v == nil {
		v = vcs.NewGitVCS()
	}
	hash, err := v.Snapshot(ctx, src.Git, src.Snapshot, dest)
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Checked out source snapshot.", "remote", src.Git, "snapshot", src.Snapshot, "commit", hash)
	return os.RemoveAll(filepath.Join(dest, ".git"))
}

// Download fetches rawURL unless a download of it is already present and
// matches sum, and returns the local path. An empty sum skips verification.
func (f *Fetcher) Download(ctx context.Context, rawURL, sum string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid source url %q: %w", rawURL, err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		base = "source"
	}
	dst := filepath.Join(f.Dir, fmt.Sprintf("%016x-%s", xxhash.Sum64String(rawURL), base))

	if _, err := os.Stat(dst); err == nil {
		if err := verify(dst, sum); err == nil {
			logger.Debug("Reusing download.", "url", rawURL, "path", dst)
			return dst, nil
		}
		logger.Warn("Discarding download with bad checksum.", "path", dst)
		if err := os.Remove(dst); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return "", err
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	logger.Info("Downloading source.", "url", rawURL)
	resp, err := f.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download %s: %s", rawURL, resp.Status)
	}

	tmp, err := os.CreateTemp(f.Dir, ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	h := sha256.New()
	_, err = io.Copy(io.MultiWriter(tmp, h), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); sum != "" && !strings.EqualFold(got, sum) {
		return "", fmt.Errorf("%s: %w: got %s, want %s", rawURL, ErrChecksum, got, sum)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return dst, nil
}

func verify(file, sum string) error {
	if sum == "" {
		return nil
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, sum) {
		return fmt.Errorf("%s: %w: got %s, want %s", file, ErrChecksum, got, sum)
	}
	return nil
}
