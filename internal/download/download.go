// Package download retrieves file-link candidates discovered by the parser,
// with size and count guards. Routing follows the same proxy rules as page
// fetches.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/onionwatch/onionwatch/internal/models"
)

// ClientProvider selects the HTTP client for a target URL.
type ClientProvider interface {
	Client(target string) *http.Client
}

// Config holds download limits.
type Config struct {
	Timeout    time.Duration
	MaxBytes   int64
	MaxPerScan int
}

// File is one successfully retrieved blob.
type File struct {
	URL         string
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Downloader retrieves file candidates within configured bounds.
type Downloader struct {
	clients ClientProvider
	cfg     Config
}

// New creates a Downloader.
func New(clients ClientProvider, cfg Config) *Downloader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 50 * 1024 * 1024
	}
	if cfg.MaxPerScan <= 0 {
		cfg.MaxPerScan = 10
	}
	return &Downloader{clients: clients, cfg: cfg}
}

// FetchFiles downloads up to MaxPerScan of the given candidates, resolving
// relative URLs against baseURL. Failures are logged and skipped; the scan
// continues with whatever was retrieved.
func (d *Downloader) FetchFiles(ctx context.Context, baseURL string, links []models.FileLink) []File {
	if len(links) > d.cfg.MaxPerScan {
		log.Debug().
			Int("candidates", len(links)).
			Int("cap", d.cfg.MaxPerScan).
			Msg("Capping file downloads for scan")
		links = links[:d.cfg.MaxPerScan]
	}

	var files []File
	for _, link := range links {
		target := resolveAgainst(baseURL, link.URL)
		file, err := d.download(ctx, target)
		if err != nil {
			log.Warn().Str("url", target).Err(err).Msg("File download skipped")
			continue
		}
		files = append(files, file)
	}
	return files
}

func (d *Downloader) download(ctx context.Context, target string) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return File{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := d.clients.Client(target).Do(req)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return File{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return File{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > d.cfg.MaxBytes {
		return File{}, fmt.Errorf("file exceeds %d byte cap", d.cfg.MaxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return File{
		URL:         target,
		Name:        SafeFileName(target),
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

func resolveAgainst(baseURL, href string) string {
	if baseURL == "" {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// SafeFileName derives a filesystem-safe name from the URL path, falling
// back to a hash of the URL when the path carries none.
func SafeFileName(target string) string {
	name := ""
	if u, err := url.Parse(target); err == nil {
		segments := strings.Split(u.Path, "/")
		name = segments[len(segments)-1]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()

	if cleaned == "" || cleaned == "." {
		sum := sha256.Sum256([]byte(target))
		cleaned = hex.EncodeToString(sum[:])[:12]
	}
	if len(cleaned) > 100 {
		cleaned = cleaned[:100]
	}
	return cleaned
}
