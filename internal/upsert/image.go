package upsert

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/fclairamb/yachtsync/internal/apperrors"
	"github.com/fclairamb/yachtsync/internal/store"
	"github.com/fclairamb/yachtsync/internal/version"
)

// DefaultMaxImageSize caps primary image downloads.
const DefaultMaxImageSize = 5 * 1024 * 1024

const imagesDir = "images"

// ImageFetcher downloads the primary image of a record and returns the path
// it was stored at.
type ImageFetcher interface {
	FetchPrimary(ctx context.Context, storedID, imageURL string) (string, error)
}

// StoreImageFetcher streams images into a store.
type StoreImageFetcher struct {
	st      store.Store
	client  *http.Client
	maxSize int64
	logger  *slog.Logger
}

// ImageOption configures a StoreImageFetcher.
type ImageOption func(*StoreImageFetcher)

// WithMaxImageSize sets the download cap in bytes.
func WithMaxImageSize(n int64) ImageOption {
	return func(f *StoreImageFetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithImageHTTPClient sets the HTTP client used for downloads.
func WithImageHTTPClient(c *http.Client) ImageOption {
	return func(f *StoreImageFetcher) {
		f.client = c
	}
}

// WithImageLogger sets a custom logger.
func WithImageLogger(l *slog.Logger) ImageOption {
	return func(f *StoreImageFetcher) {
		f.logger = l
	}
}

// NewStoreImageFetcher creates a fetcher writing under images/<stored id>/.
func NewStoreImageFetcher(st store.Store, opts ...ImageOption) *StoreImageFetcher {
	f := &StoreImageFetcher{
		st:      st,
		client:  http.DefaultClient,
		maxSize: DefaultMaxImageSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchPrimary downloads imageURL. A HEAD request rejects oversized images
// before the download, and the body is capped in case the server lied.
func (f *StoreImageFetcher) FetchPrimary(ctx context.Context, storedID, imageURL string) (string, error) {
	if f.tooLarge(ctx, imageURL) {
		return "", apperrors.ErrFileTooLarge
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download image: %w", apperrors.ErrTransport, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", apperrors.NewHTTPError(resp.StatusCode, "image download failed")
	}
	if resp.ContentLength > f.maxSize {
		return "", apperrors.ErrFileTooLarge
	}

	target := path.Join(imagesDir, storedID, "primary"+imageExt(imageURL, resp.Header.Get("Content-Type")))

	written, err := f.st.WriteStream(ctx, target, io.LimitReader(resp.Body, f.maxSize+1))
	if err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	if written > f.maxSize {
		if delErr := f.st.Delete(ctx, target); delErr != nil {
			f.logger.WarnContext(ctx, "failed to delete oversized image", "path", target, "error", delErr)
		}
		return "", apperrors.ErrFileTooLarge
	}

	f.logger.DebugContext(ctx, "downloaded primary image", "stored_id", storedID, "path", target, "size", formatBytes(written))
	return target, nil
}

// tooLarge reports whether a HEAD request announces a size above the cap.
// HEAD failures are ignored and the GET decides.
func (f *StoreImageFetcher) tooLarge(ctx context.Context, imageURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, imageURL, nil)
	if err != nil {
		return false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()

	if resp.ContentLength > f.maxSize {
		f.logger.WarnContext(ctx, "image exceeds size limit, skipping",
			"url", imageURL,
			"size", formatBytes(resp.ContentLength),
			"limit", formatBytes(f.maxSize))
		return true
	}
	return false
}

// imageExt picks the file extension from the URL path, then the content type.
func imageExt(imageURL, contentType string) string {
	if u, err := url.Parse(imageURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".jpg", ".jpeg", ".png", ".gif", ".webp":
			return ext
		}
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
			return exts[0]
		}
	}
	return ".jpg"
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
