// Package remote downloads images hosted outside our storage.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"afterwon/internal/media/sniffer"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 25 << 20
	userAgent       = "afterwon-fetcher/1.0"
	maxRedirects    = 5
)

var (
	ErrInvalidURL = errors.New("invalid image url")
	ErrUnsafeURL  = errors.New("image url targets a restricted network")
	ErrTimeout    = errors.New("image fetch timed out")
	ErrTooLarge   = errors.New("image exceeds size limit")
)

// StatusError reports a non-2xx answer from the remote host.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("failed to fetch image: %s", e.Status)
}

type Image struct {
	Data        []byte
	ContentType string
}

// Info is what a HEAD request tells us about a remote image.
type Info struct {
	ContentType   string `json:"contentType"`
	ContentLength string `json:"contentLength"`
	LastModified  string `json:"lastModified"`
	ETag          string `json:"etag"`
}

type Options struct {
	Timeout  time.Duration
	MaxBytes int64
	// AllowPrivate disables the private-network check. Tests and local
	// development setups need it.
	AllowPrivate bool
}

type Fetcher struct {
	client *http.Client
	opts   Options
	lookup func(host string) ([]net.IP, error)
}

// NewFetcher wraps httpClient. Unless opts.AllowPrivate is set, every
// redirect hop is checked against the private-network rules, and when the
// client has no transport of its own the dialer also refuses restricted
// addresses, so a hostname that re-resolves between check and connect is
// still blocked.
func NewFetcher(httpClient *http.Client, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}

	client := &http.Client{}
	if httpClient != nil {
		c := *httpClient
		client = &c
	}
	f := &Fetcher{client: client, opts: opts, lookup: net.LookupIP}
	if !opts.AllowPrivate {
		client.CheckRedirect = f.checkRedirect
		if client.Transport == nil {
			client.Transport = guardedTransport()
		}
	}
	return f
}

func guardedTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	// A proxy would make the dialer see the proxy address, not the target.
	t.Proxy = nil
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   refuseRestricted,
	}
	t.DialContext = dialer.DialContext
	return t
}

func refuseRestricted(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return ErrUnsafeURL
	}
	ip := net.ParseIP(host)
	if ip == nil || restricted(ip) {
		return ErrUnsafeURL
	}
	return nil
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	_, err := f.validate(req.URL.String())
	return err
}

// Fetch downloads the image at rawURL. The content type falls back to the
// sniffed format when the remote host does not send one.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Image, error) {
	resp, cancel, err := f.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return Image{}, err
	}
	defer cancel()
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return Image{}, classify(err)
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return Image{}, ErrTooLarge
	}

	contentType := sniffer.MimeTypeFromHTTP(resp.Header)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = sniffer.DetectOr(data, sniffer.JPEG).MIME
	}
	return Image{Data: data, ContentType: contentType}, nil
}

// Check issues a HEAD request and reports the image headers.
func (f *Fetcher) Check(ctx context.Context, rawURL string) (Info, error) {
	resp, cancel, err := f.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return Info{}, err
	}
	defer cancel()
	defer resp.Body.Close()

	return Info{
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.Header.Get("Content-Length"),
		LastModified:  resp.Header.Get("Last-Modified"),
		ETag:          resp.Header.Get("ETag"),
	}, nil
}

func (f *Fetcher) do(ctx context.Context, method, rawURL string) (*http.Response, context.CancelFunc, error) {
	target, err := f.validate(rawURL)
	if err != nil {
		return nil, nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		if errors.Is(err, ErrUnsafeURL) {
			return nil, nil, ErrUnsafeURL
		}
		if errors.Is(err, ErrInvalidURL) {
			return nil, nil, ErrInvalidURL
		}
		return nil, nil, classify(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}
	return resp, cancel, nil
}

func (f *Fetcher) validate(rawURL string) (*url.URL, error) {
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || u.Host == "" {
		return nil, ErrInvalidURL
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, ErrInvalidURL
	}
	if f.opts.AllowPrivate {
		return u, nil
	}

	ips, err := f.lookup(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", u.Hostname(), err)
	}
	for _, ip := range ips {
		if restricted(ip) {
			return nil, ErrUnsafeURL
		}
	}
	return u, nil
}

func restricted(ip net.IP) bool {
	return ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast()
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return err
}
