package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"closetstudio.app/virtual-closet/internal/store"
	"closetstudio.app/virtual-closet/internal/utils"
)

// Uploader stores image bytes and returns a public URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ProxyUploader PUTs images to an upload worker that fronts object storage.
type ProxyUploader struct {
	client    *resty.Client
	publicURL string
}

func NewProxyUploader(workerURL, publicURL string) *ProxyUploader {
	c := resty.New().
		SetBaseURL(strings.TrimRight(workerURL, "/")).
		SetTimeout(30 * time.Second)
	return &ProxyUploader{client: c, publicURL: strings.TrimRight(publicURL, "/")}
}

type proxyUploadResponse struct {
	URL string `json:"url"`
}

func (u *ProxyUploader) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	var out proxyUploadResponse
	resp, err := u.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		SetResult(&out).
		Put("/" + key)
	if err != nil {
		return "", fmt.Errorf("%w: upload worker request: %v", ErrUploadFailed, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return "", fmt.Errorf("%w: upload worker status %d", ErrUploadFailed, resp.StatusCode())
	}
	if out.URL != "" {
		return out.URL, nil
	}
	if u.publicURL == "" {
		return "", fmt.Errorf("%w: upload worker returned no url", ErrUploadFailed)
	}
	return u.publicURL + "/" + key, nil
}

// GCSUploader writes images straight to a Cloud Storage bucket.
type GCSUploader struct {
	client    *storage.Client
	bucket    string
	publicURL string
}

func NewGCSUploader(ctx context.Context, bucket, publicURL string, opts ...option.ClientOption) (*GCSUploader, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	if publicURL == "" {
		publicURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCSUploader{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%w: write to GCS: %v", ErrUploadFailed, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: close GCS writer: %v", ErrUploadFailed, err)
	}
	return u.publicURL + "/" + key, nil
}

func (u *GCSUploader) Close() error {
	return u.client.Close()
}

// StoredImage is where an item photo ended up. Inline images live in the
// item record itself as a data URL.
type StoredImage struct {
	URL    string `json:"url"`
	Inline bool   `json:"inline"`
}

// ImageService downsizes item photos and uploads them, falling back to an
// inline data URL when no uploader is configured or the upload fails.
type ImageService struct {
	mu       sync.RWMutex
	uploader Uploader
	log      zerolog.Logger
}

func NewImageService(settings store.Settings, log zerolog.Logger) *ImageService {
	s := &ImageService{log: log.With().Str("component", "images").Logger()}
	s.UpdateSettings(settings)
	return s
}

// NewImageServiceWithUploader uses a fixed uploader; nil means inline only.
func NewImageServiceWithUploader(uploader Uploader, log zerolog.Logger) *ImageService {
	return &ImageService{uploader: uploader, log: log.With().Str("component", "images").Logger()}
}

// UpdateSettings picks the upload backend: the worker URL wins over a bucket.
func (s *ImageService) UpdateSettings(settings store.Settings) {
	var next Uploader
	up := settings.Upload
	switch {
	case up.WorkerURL != "":
		next = NewProxyUploader(up.WorkerURL, up.PublicURL)
	case up.Bucket != "":
		gcs, err := NewGCSUploader(context.Background(), up.Bucket, up.PublicURL)
		if err != nil {
			s.log.Error().Err(err).Str("bucket", up.Bucket).Msg("GCS uploader unavailable, images will be stored inline")
		} else {
			next = gcs
		}
	}

	if err := s.swap(next); err != nil {
		s.log.Warn().Err(err).Msg("Error closing previous uploader")
	}
}

// Close releases the uploader's client. Later images are stored inline.
func (s *ImageService) Close() error {
	return s.swap(nil)
}

func (s *ImageService) swap(next Uploader) error {
	s.mu.Lock()
	prev := s.uploader
	s.uploader = next
	s.mu.Unlock()

	if c, ok := prev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Store optimizes the photo and returns its URL. Only an undecodable image is
// an error; upload problems degrade to an inline image.
func (s *ImageService) Store(ctx context.Context, data []byte) (*StoredImage, error) {
	optimized, err := utils.OptimizeImage(data, utils.MaxImageDimension, utils.ImageQuality)
	if err != nil {
		return nil, invalidInput("unsupported image: %v", err)
	}
	const contentType = "image/jpeg"

	s.mu.RLock()
	uploader := s.uploader
	s.mu.RUnlock()

	if uploader != nil {
		key := fmt.Sprintf("items/%s.jpg", uuid.NewString())
		url, err := uploader.Upload(ctx, key, contentType, optimized)
		if err == nil {
			return &StoredImage{URL: url}, nil
		}
		s.log.Warn().Err(err).Str("key", key).Msg("image upload failed, storing inline")
	}
	return &StoredImage{URL: utils.DataURL(contentType, optimized), Inline: true}, nil
}
