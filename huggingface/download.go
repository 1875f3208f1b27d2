// download.go - Snapshot-Download eines Repositories in den Cache
// Dateien werden gefiltert, parallel geladen und bei Abbruch fortgesetzt.
package huggingface

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/ortdiffusion/envconfig"
)

const (
	MaxDownloadRetries = 3
	DefaultChunkSize   = 1024 * 1024

	incompleteSuffix = ".incomplete"
)

// DownloadRetryDelay is the pause before a failed file download is resumed.
var DownloadRetryDelay = 2 * time.Second

// ProgressCallback receives the bytes completed and the total of a
// snapshot.
type ProgressCallback func(completed, total int64)

// SnapshotOptions controls Snapshot.
type SnapshotOptions struct {
	// Revision is a branch, tag or commit, main when empty
	Revision string

	AllowPatterns  []string
	IgnorePatterns []string

	// Parallel is the number of concurrent downloads, ORTDIFF_DOWNLOAD_PARALLEL when 0
	Parallel int

	// LocalFilesOnly never contacts the hub. HF_HUB_OFFLINE implies it.
	LocalFilesOnly bool
	// ForceDownload ignores files already in the cache
	ForceDownload bool

	Progress ProgressCallback
}

// Snapshot downloads the matching files of a repository revision into the
// cache and returns the snapshot directory.
func (c *Client) Snapshot(ctx context.Context, modelID string, opts SnapshotOptions) (string, error) {
	revision := opts.Revision
	if revision == "" {
		revision = DefaultRevision
	}

	if opts.LocalFilesOnly || envconfig.Offline() {
		if dir, ok := GetCachedSnapshot(modelID, revision); ok {
			return dir, nil
		}
		return "", &HuggingFaceError{Op: "snapshot", ModelID: modelID, Err: ErrOffline}
	}

	filter, err := NewFilter(opts.AllowPatterns, opts.IgnorePatterns)
	if err != nil {
		return "", err
	}

	info, err := c.ModelInfo(ctx, modelID, revision)
	if err != nil {
		return "", err
	}

	commit := revision
	if info.SHA != "" {
		commit = info.SHA
	}
	dir := filepath.Join(modelCacheDir(modelID), CacheSnapshotDir, commit)

	var files []APISibling
	var total int64
	for _, s := range info.Siblings {
		if filter.Match(s.Filename) {
			files = append(files, s)
			total += s.FileSize()
		}
	}
	slog.Debug("snapshot", "model", modelID, "revision", revision, "commit", commit, "files", len(files), "bytes", total)

	var completed atomic.Int64
	progress := func(n int64) {
		v := completed.Add(n)
		if opts.Progress != nil {
			opts.Progress(v, total)
		}
	}

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = max(int(envconfig.DownloadParallel()), 1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for _, f := range files {
		g.Go(func() error {
			target := filepath.Join(dir, filepath.FromSlash(f.Filename))
			if !opts.ForceDownload {
				if fi, err := os.Stat(target); err == nil && fi.Size() == f.FileSize() {
					progress(fi.Size())
					return nil
				}
			}

			if err := c.downloadFile(ctx, c.resolveURL(modelID, commit, f.Filename), target, progress); err != nil {
				return &HuggingFaceError{Op: "download", ModelID: modelID, Err: fmt.Errorf("%s: %w", f.Filename, err)}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	if commit != revision {
		if err := writeRef(modelID, revision, commit); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func (c *Client) downloadFile(ctx context.Context, url, target string, progress func(int64)) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	// reported is the high-water mark of bytes of this file already passed
	// to progress; a resumed or restarted attempt only adds what lies beyond.
	var reported int64
	report := func(pos int64) {
		if pos > reported {
			progress(pos - reported)
			reported = pos
		}
	}

	var lastErr error
	for attempt := range MaxDownloadRetries {
		if attempt > 0 {
			slog.Info("retrying download", "url", url, "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(DownloadRetryDelay):
			}
		}

		lastErr = c.doDownload(ctx, url, target, report)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrModelNotFound) || errors.Is(lastErr, ErrUnauthorized) || ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("%w nach %d versuchen: %w", ErrDownloadFailed, MaxDownloadRetries, lastErr)
}

// doDownload writes into target.incomplete, resuming a previous attempt
// with a range request, and renames it once complete. report receives the
// number of bytes of the file present on disk after each write.
func (c *Client) doDownload(ctx context.Context, url, target string, report func(pos int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	tmp := target + incompleteSuffix
	var offset int64
	if fi, err := os.Stat(tmp); err == nil {
		offset = fi.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := c.handleResponseError(resp); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	var pos int64
	if resp.StatusCode == http.StatusPartialContent && offset > 0 {
		flags = os.O_WRONLY | os.O_APPEND
		pos = offset
		report(pos)
	}

	f, err := os.OpenFile(tmp, flags, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, DefaultChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return err
			}
			pos += int64(n)
			report(pos)
		}
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, target)
}
