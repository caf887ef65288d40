// Package media handles image payloads on the send path: decoding the
// data-URL form submitted by clients and uploading the raw bytes to the
// external object-storage service, which returns a durable public URL.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNotDataURL is returned when an image payload is not a base64 data URL.
var ErrNotDataURL = errors.New("media: payload is not a base64 data URL")

// MaxImageBytes caps decoded image payloads.
const MaxImageBytes = 8 << 20 // 8 MiB

// Uploader stores an image and returns a durable reference URL. Uploads
// either fully succeed or fail; there are no partial uploads.
type Uploader interface {
	Upload(ctx context.Context, contentType string, data []byte) (string, error)
}

// ParseDataURL decodes a "data:<mediatype>;base64,<payload>" string into its
// content type and raw bytes.
func ParseDataURL(s string) (string, []byte, error) {
	if !strings.HasPrefix(s, "data:") {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, ErrNotDataURL
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("media: decode base64 payload: %w", err)
	}
	if len(data) > MaxImageBytes {
		return "", nil, fmt.Errorf("media: image exceeds %d byte limit", MaxImageBytes)
	}
	return contentType, data, nil
}

// HTTPUploaderConfig holds settings for the object-storage HTTP client.
type HTTPUploaderConfig struct {
	BaseURL string        // object storage endpoint, e.g. https://cdn.internal
	Token   string        // bearer token for the upload endpoint
	Timeout time.Duration // per-upload deadline
}

// DefaultHTTPUploaderConfig returns sensible defaults.
func DefaultHTTPUploaderConfig() HTTPUploaderConfig {
	return HTTPUploaderConfig{
		BaseURL: "http://localhost:9000",
		Timeout: 15 * time.Second,
	}
}

// HTTPUploader uploads images to the object-storage service over HTTP.
type HTTPUploader struct {
	config HTTPUploaderConfig
	client *http.Client
}

// NewHTTPUploader creates an HTTPUploader with the given config.
func NewHTTPUploader(config HTTPUploaderConfig) *HTTPUploader {
	return &HTTPUploader{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Upload POSTs the image bytes to the storage service and returns the durable
// URL from its response.
func (u *HTTPUploader) Upload(ctx context.Context, contentType string, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(u.config.BaseURL, "/")+"/upload", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("media: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if u.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+u.config.Token)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("media: upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("media: upload failed with status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("media: decode upload response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("media: upload response missing url")
	}
	return result.URL, nil
}
