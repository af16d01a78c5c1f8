package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"curio/internal/services"
)

// HTTPChannel fetches files over plain HTTP(S). SourceRefs are base URLs and
// resume relies on Range requests.
type HTTPChannel struct {
	name   string
	client *http.Client
}

// NewHTTPChannel returns an HTTP-backed channel. A nil client uses a default
// with a generous timeout suited to large archives.
func NewHTTPChannel(name string, client *http.Client) *HTTPChannel {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Minute}
	}
	return &HTTPChannel{name: name, client: client}
}

func (c *HTTPChannel) Name() string { return c.name }

// Open issues a HEAD request to learn the file size, then returns a handle
// whose ReadRange performs offset GETs.
func (c *HTTPChannel) Open(ctx context.Context, sourceRef, fileName string) (FetchHandle, error) {
	fileURL, err := joinURL(sourceRef, fileName)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "source", "open", "invalid source URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build HEAD request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "source", "open", "probe remote file", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	return &httpHandle{
		channel: c,
		url:     fileURL,
		name:    fileName,
		size:    resp.ContentLength,
		sha256:  strings.Trim(resp.Header.Get("X-Content-Sha256"), `"`),
	}, nil
}

type httpHandle struct {
	channel *HTTPChannel
	url     string
	name    string
	size    int64
	sha256  string
}

func (h *httpHandle) Name() string   { return h.name }
func (h *httpHandle) Size() int64    { return h.size }
func (h *httpHandle) SHA256() string { return h.sha256 }

func (h *httpHandle) ReadRange(ctx context.Context, offset int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build GET request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := h.channel.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "source", "read", "fetch remote file", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	if offset > 0 && resp.StatusCode != http.StatusPartialContent {
		// Server ignored the Range header.
		resp.Body.Close()
		return nil, services.Wrap(services.ErrTransient, "source", "read",
			"server does not support range requests", ErrResumeNotSupported)
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
		err := services.Wrap(services.ErrTransient, "source", "fetch",
			fmt.Sprintf("remote returned %s", resp.Status), nil)
		if delay := parseRetryAfter(resp.Header.Get("Retry-After")); delay > 0 {
			return &services.RetryAfterError{Delay: delay, Err: err}
		}
		return err
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return services.Wrap(services.ErrFatal, "source", "fetch",
			fmt.Sprintf("remote returned %s", resp.Status), nil)
	case resp.StatusCode >= 400:
		return services.Wrap(services.ErrTransient, "source", "fetch",
			fmt.Sprintf("remote returned %s", resp.Status), nil)
	default:
		return nil
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if delay := time.Until(at); delay > 0 {
			return delay
		}
	}
	return 0
}

func joinURL(base, file string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if file != "" {
		return parsed.JoinPath(file).String(), nil
	}
	return parsed.String(), nil
}
