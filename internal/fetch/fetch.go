// Package fetch issues HTTP requests against clearnet and hidden-service
// targets and classifies the outcome. Hidden services are reached through
// the configured SOCKS5 anonymising proxy; clearnet requests go out over a
// direct transport with a caching DNS resolver.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/proxy"

	"github.com/onionwatch/onionwatch/internal/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; rv:109.0) Gecko/20100101 Firefox/115.0"

// Result is the classified outcome of one fetch attempt. A Result is always
// produced; transport failures map to a status rather than an error.
type Result struct {
	Status       models.URLStatus
	StatusCode   *int
	ResponseTime float64 // seconds
	Body         []byte
	Text         string // decoded body when the content type gate passes
	HasText      bool
	ContentType  string
	Headers      http.Header
}

// Config holds fetcher settings.
type Config struct {
	ProxyAddr string // SOCKS5 endpoint for .onion routing
	Timeout   time.Duration
	MaxBytes  int64
}

// Fetcher issues single-attempt HTTP GETs. Retries are a scheduler concern.
type Fetcher struct {
	onionClient  *http.Client
	directClient *http.Client
	timeout      time.Duration
	maxBytes     int64
}

// New builds a Fetcher. The SOCKS5 dialer is constructed eagerly so a
// malformed proxy address fails at startup rather than on first scan.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 * 1024 * 1024
	}

	socksDialer, err := proxy.SOCKS5("tcp", cfg.ProxyAddr, nil, &net.Dialer{Timeout: cfg.Timeout})
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer for %s: %w", cfg.ProxyAddr, err)
	}
	contextDialer, ok := socksDialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", cfg.ProxyAddr)
	}

	onionTransport := &http.Transport{
		DialContext:           contextDialer.DialContext,
		// Self-signed certificates are routine on hidden services.
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		ResponseHeaderTimeout: cfg.Timeout,
		DisableKeepAlives:     true,
	}

	directTransport := &http.Transport{
		DialContext:           cachedDialContext(&net.Dialer{Timeout: cfg.Timeout}),
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		ResponseHeaderTimeout: cfg.Timeout,
		MaxIdleConnsPerHost:   4,
	}

	return &Fetcher{
		onionClient:  &http.Client{Transport: onionTransport, Timeout: cfg.Timeout},
		directClient: &http.Client{Transport: directTransport, Timeout: cfg.Timeout},
		timeout:      cfg.Timeout,
		maxBytes:     cfg.MaxBytes,
	}, nil
}

// cachedDialContext wraps a dialer with a caching DNS resolver so repeated
// clearnet scans of the same hosts skip redundant lookups.
func cachedDialContext(dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		ips, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		for _, ip := range ips {
			conn, dialErr := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
			if dialErr == nil {
				return conn, nil
			}
			err = dialErr
		}
		return nil, err
	}
}

// Client returns the HTTP client that routes correctly for the target,
// so downloads follow the same proxy rules as page fetches.
func (f *Fetcher) Client(target string) *http.Client {
	if models.IsOnion(target) {
		return f.onionClient
	}
	return f.directClient
}

// Fetch performs one GET against the target and classifies the outcome.
// It never fails outward.
func (f *Fetcher) Fetch(ctx context.Context, target string) Result {
	start := time.Now()
	elapsed := func() float64 { return time.Since(start).Seconds() }

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Result{Status: models.StatusError, ResponseTime: elapsed()}
	}
	req.Header.Set("User-Agent", userAgent)

	client := f.directClient
	if models.IsOnion(target) {
		client = f.onionClient
		log.Debug().Str("url", target).Msg("Routing request through anonymising proxy")
	}

	resp, err := client.Do(req)
	if err != nil {
		status := classifyTransportError(err)
		log.Warn().Str("url", target).Str("status", string(status)).Err(err).Msg("Fetch failed")
		return Result{Status: status, ResponseTime: elapsed()}
	}
	defer resp.Body.Close()

	body, err := readBounded(resp.Body, f.maxBytes)
	if err != nil {
		if isTimeout(err) {
			return Result{Status: models.StatusTimeout, ResponseTime: elapsed()}
		}
		log.Warn().Str("url", target).Err(err).Msg("Response body rejected")
		code := resp.StatusCode
		return Result{Status: models.StatusError, StatusCode: &code, ResponseTime: elapsed()}
	}

	code := resp.StatusCode
	result := Result{
		StatusCode:   &code,
		ResponseTime: elapsed(),
		Body:         body,
		ContentType:  resp.Header.Get("Content-Type"),
		Headers:      resp.Header,
	}

	if code < 200 || code >= 400 {
		result.Status = models.StatusError
		log.Warn().Str("url", target).Int("statusCode", code).Msg("Fetch returned error status")
		return result
	}

	result.Status = models.StatusOnline
	if isTextContentType(result.ContentType) {
		result.Text = string(body)
		result.HasText = true
	}

	log.Info().
		Str("url", target).
		Int("statusCode", code).
		Float64("responseTime", result.ResponseTime).
		Bool("text", result.HasText).
		Msg("Fetch completed")
	return result
}

// readBounded reads at most max bytes and rejects larger bodies.
func readBounded(r io.Reader, max int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > max {
		return nil, fmt.Errorf("response exceeds %d byte cap", max)
	}
	return body, nil
}

// isTextContentType reports whether a body should be decoded for parsing.
// An absent content type is given the benefit of the doubt.
func isTextContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if ct == "" {
		return true
	}
	return strings.HasPrefix(ct, "text/") ||
		strings.HasPrefix(ct, "application/json") ||
		strings.HasPrefix(ct, "application/xml")
}

// classifyTransportError maps a transport failure to a URL status.
// Timeouts are TIMEOUT, refused or unreachable hosts are OFFLINE, and
// anything else on the wire is ERROR.
func classifyTransportError(err error) models.URLStatus {
	if isTimeout(err) {
		return models.StatusTimeout
	}
	if isUnreachable(err) {
		return models.StatusOffline
	}
	return models.StatusError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "Client.Timeout")
}

func isUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	// The SOCKS5 proxy reports remote dial failures as plain errors.
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "host unreachable")
}
