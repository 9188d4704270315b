package streaming

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
)

// Transport opens a push connection that delivers tick payloads for one
// channel.
type Transport interface {
	Connect(ctx context.Context, channel string) (Stream, error)
}

// Stream yields one raw JSON tick per Recv. Close must be safe to call more
// than once and must unblock a pending Recv.
type Stream interface {
	Recv() ([]byte, error)
	Close() error
}

// HTTPTransport reads newline-delimited JSON from a long-lived response body.
type HTTPTransport struct {
	URL    string
	Client *http.Client
}

// NewHTTPTransport creates an NDJSON transport with optional proxy support.
// The client has no timeout; the connection is expected to stay open.
func NewHTTPTransport(streamURL, proxyURL string) *HTTPTransport {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &HTTPTransport{
		URL:    streamURL,
		Client: &http.Client{Transport: transport},
	}
}

func (t *HTTPTransport) Connect(ctx context.Context, channel string) (Stream, error) {
	endpoint, err := withChannel(t.URL, channel)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/x-ndjson")
	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("connect stream: status %d", resp.StatusCode)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &lineStream{body: resp.Body, scanner: sc}, nil
}

type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
}

func (s *lineStream) Recv() ([]byte, error) {
	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *lineStream) Close() error {
	var err error
	s.once.Do(func() { err = s.body.Close() })
	return err
}

func withChannel(raw, channel string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if channel != "" {
		q := u.Query()
		q.Set("channel", channel)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
