package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/birkenfeld/arexibo/internal/metrics"
	"github.com/birkenfeld/arexibo/internal/model"
)

// ChunkSize is the maximum size of one XMDS GetFile request.
const ChunkSize = 1 << 20

const tempPattern = ".download-*"

var (
	durationHint = regexp.MustCompile(`<!--\s*DURATION=(\d+)\s*-->`)
	numItemsHint = regexp.MustCompile(`<!--\s*NUMITEMS=(\d+)\s*-->`)
)

// Fetcher is the subset of the protocol client used to download content.
type Fetcher interface {
	GetFile(ctx context.Context, id int64, fileType model.FileType, offset, size int64) ([]byte, error)
	GetResource(ctx context.Context, layoutID, regionID, mediaID int64) (string, error)
}

// IntegrityError means downloaded content did not match the demanded hash.
type IntegrityError struct {
	Name string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	if e == nil {
		return "md5 mismatch"
	}
	return fmt.Sprintf("md5 mismatch for %s: want %s, got %s", e.Name, e.Want, e.Got)
}

// Download fetches f, verifies it and records it in the index. On any error
// the index and the previously cached file are left untouched.
func (c *Cache) Download(ctx context.Context, fetcher Fetcher, f model.ReqFile) error {
	if f.IsResource() {
		return c.downloadResource(ctx, fetcher, f)
	}
	if !validName(f.Name) {
		return fmt.Errorf("invalid file name %q", f.Name)
	}

	tmp, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	via, err := c.fetchInto(ctx, fetcher, f, tmp)
	if err != nil {
		metrics.Downloads.WithLabelValues(string(f.Type), via, "error").Inc()
		return fmt.Errorf("download %s: %w", f.Description(), err)
	}

	sum, size, err := hashFile(tmp)
	if err != nil {
		return err
	}
	if sum != f.MD5 {
		metrics.Downloads.WithLabelValues(string(f.Type), via, "mismatch").Inc()
		return &IntegrityError{Name: f.Name, Want: f.MD5, Got: sum}
	}

	entry := model.CacheEntry{Kind: f.Type, ID: f.ID, MD5: f.MD5, Size: size}
	if f.Type == model.FileLayout {
		xlf, err := os.ReadFile(tmpName)
		if err != nil {
			return err
		}
		geometry, err := c.translator.Translate(f.ID, xlf, c.LookupCode)
		if err != nil {
			metrics.Downloads.WithLabelValues(string(f.Type), via, "error").Inc()
			return fmt.Errorf("translate layout %d: %w", f.ID, err)
		}
		entry.Width, entry.Height = geometry.Width, geometry.Height
		entry.Version = c.translator.Version()
		entry.Code = f.Code
	}

	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, c.path(f.Name)); err != nil {
		return fmt.Errorf("store %s: %w", f.Name, err)
	}
	if err := c.record(ctx, f.Name, entry); err != nil {
		return err
	}
	metrics.Downloads.WithLabelValues(string(f.Type), via, "ok").Inc()
	metrics.DownloadedBytes.Add(float64(size))
	return nil
}

func (c *Cache) record(ctx context.Context, name string, entry model.CacheEntry) error {
	if err := c.index.UpsertEntry(ctx, name, entry); err != nil {
		return fmt.Errorf("index %s: %w", name, err)
	}
	c.entries[name] = entry
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return nil
}

// fetchInto writes the content of f to dst, trying the direct HTTP path
// first when offered and falling back to chunked XMDS transfer.
func (c *Cache) fetchInto(ctx context.Context, fetcher Fetcher, f model.ReqFile, dst *os.File) (string, error) {
	if f.HTTP && f.Path != "" {
		_, err := c.breaker.Execute(func() (int64, error) {
			return c.fetchHTTP(ctx, f.Path, dst)
		})
		if err == nil {
			return "http", nil
		}
		c.logger.Warn("http download failed, retrying over xmds", "file", f.Name, "err", err)
		if err := resetFile(dst); err != nil {
			return "http", err
		}
	}
	return "xmds", fetchChunks(ctx, fetcher, f, dst, c.logger)
}

func (c *Cache) fetchHTTP(ctx context.Context, url string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("http status %d", resp.StatusCode)
	}
	return io.Copy(dst, resp.Body)
}

// fetchChunks keeps requesting until size bytes arrived. A short chunk just
// moves the offset; an empty one aborts since it would never finish.
func fetchChunks(ctx context.Context, fetcher Fetcher, f model.ReqFile, dst io.Writer, logger *slog.Logger) error {
	var got int64
	for got < f.Size {
		if err := ctx.Err(); err != nil {
			return err
		}
		next := min(f.Size-got, ChunkSize)
		chunk, err := fetcher.GetFile(ctx, f.ID, f.Type, got, next)
		if err != nil {
			return err
		}
		if len(chunk) == 0 {
			// The CMS would be asked for the same chunk forever; give up
			// and let the next cycle retry the whole file.
			logger.Warn("CMS returned an empty chunk, aborting download instead of retrying",
				"file", f.Description(), "offset", got, "size", f.Size)
			return fmt.Errorf("empty chunk at offset %d", got)
		}
		if _, err := dst.Write(chunk); err != nil {
			return err
		}
		got += int64(len(chunk))
	}
	return nil
}

func (c *Cache) downloadResource(ctx context.Context, fetcher Fetcher, f model.ReqFile) error {
	content, err := fetcher.GetResource(ctx, f.LayoutID, f.RegionID, f.MediaID)
	if err != nil {
		metrics.Downloads.WithLabelValues(string(f.Type), "xmds", "error").Inc()
		return fmt.Errorf("download %s: %w", f.Description(), err)
	}
	name := model.ResourceName(f.MediaID)
	if err := c.writeAtomic(name, []byte(content)); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	entry := model.CacheEntry{
		Kind:     model.FileResource,
		ID:       f.MediaID,
		LayoutID: f.LayoutID,
		RegionID: f.RegionID,
		Updated:  f.Updated,
		Duration: hint(durationHint, content),
		NumItems: hint(numItemsHint, content),
	}
	if err := c.record(ctx, name, entry); err != nil {
		return err
	}
	metrics.Downloads.WithLabelValues(string(f.Type), "xmds", "ok").Inc()
	metrics.DownloadedBytes.Add(float64(len(content)))
	return nil
}

func hint(re *regexp.Regexp, content string) int {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return 0
	}
	v, _ := strconv.Atoi(m[1])
	return v
}

func hashFile(f *os.File) (string, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}
	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("hash download: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func resetFile(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

// writeAtomic stores data under name via a temp file that Open cleans up
// if the process dies before the rename.
func (c *Cache) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, c.path(name))
}

func validName(name string) bool {
	return name != "" &&
		name == filepath.Base(name) &&
		!strings.HasPrefix(name, ".") &&
		!strings.Contains(name, `\`)
}
