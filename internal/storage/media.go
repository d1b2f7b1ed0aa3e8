package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"net/http"
	"net/url"
	"path"
	"strings"

	// Register decoders for image.Decode.
	_ "image/gif"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/quill-blog/apiserver/config"
)

const (
	defaultImageQuality = 70
	// maxImagePixels bounds what prepare will decode. Larger images are
	// stored as uploaded.
	maxImagePixels = 40_000_000
)

var rawExtensions = map[string]string{
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/jpeg":    ".jpg",
	"image/webp":    ".webp",
	"image/bmp":     ".bmp",
	"image/x-icon":  ".ico",
	"image/svg+xml": ".svg",
}

// MediaHost uploads user images under a single folder and hands back the
// public URL. Decodable images are re-encoded as JPEG before upload.
type MediaHost struct {
	store     ObjectStorage
	folder    string
	publicURL string
	quality   int
}

func NewMediaHost(store ObjectStorage, cfg config.MediaConfig) *MediaHost {
	quality := cfg.ImageQuality
	if quality < 1 || quality > 100 {
		quality = defaultImageQuality
	}
	return &MediaHost{
		store:     store,
		folder:    strings.Trim(cfg.Folder, "/"),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		quality:   quality,
	}
}

// Upload stores data under a fresh key and returns its URL.
func (h *MediaHost) Upload(ctx context.Context, data []byte) (string, error) {
	body, contentType, ext := h.prepare(data)
	key := h.key(uuid.NewString() + ext)

	if err := h.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return h.url(key), nil
}

// Delete removes the object a previous Upload returned rawURL for. An empty
// URL is a no-op.
func (h *MediaHost) Delete(ctx context.Context, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return nil
	}
	key, ok := h.KeyFromURL(rawURL)
	if !ok {
		return fmt.Errorf("no object key in %q", rawURL)
	}
	return h.store.Delete(ctx, key)
}

// KeyFromURL derives the storage key from the final path segment of rawURL.
func (h *MediaHost) KeyFromURL(rawURL string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "", false
	}
	return h.key(name), true
}

func (h *MediaHost) key(name string) string {
	if h.folder == "" {
		return name
	}
	return h.folder + "/" + name
}

func (h *MediaHost) url(key string) string {
	if h.publicURL != "" {
		return joinURL(h.publicURL, key)
	}
	return h.store.URL(key)
}

// prepare returns the bytes to upload with their content type and key
// extension. Undecodable or oversized input is passed through untouched.
func (h *MediaHost) prepare(data []byte) ([]byte, string, string) {
	if !decodable(data) {
		return passthrough(data)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return passthrough(data)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: h.quality}); err != nil {
		return passthrough(data)
	}
	return buf.Bytes(), "image/jpeg", ".jpg"
}

// decodable reads only the image header and reports whether the declared
// dimensions are within maxImagePixels.
func decodable(data []byte) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return false
	}
	return int64(cfg.Width)*int64(cfg.Height) <= maxImagePixels
}

func passthrough(data []byte) ([]byte, string, string) {
	contentType := http.DetectContentType(data)
	ext, ok := rawExtensions[contentType]
	if !ok {
		ext = ".bin"
	}
	return data, contentType, ext
}

// flatten composites img over white so transparent regions do not turn black
// in the JPEG output.
func flatten(img image.Image) image.Image {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(out, bounds, img, bounds.Min, draw.Over)
	return out
}

func joinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, part := range parts {
		out += "/" + strings.Trim(part, "/")
	}
	return out
}
