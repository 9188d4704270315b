package streaming

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport receives one JSON tick per WebSocket text frame.
type WSTransport struct {
	URL    string
	Dialer *websocket.Dialer
}

// NewWSTransport creates a WebSocket transport with optional proxy support.
func NewWSTransport(streamURL, proxyURL string) *WSTransport {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			dialer.Proxy = http.ProxyURL(u)
		}
	}
	return &WSTransport{URL: streamURL, Dialer: dialer}
}

func (t *WSTransport) Connect(ctx context.Context, channel string) (Stream, error) {
	endpoint, err := withChannel(t.URL, channel)
	if err != nil {
		return nil, err
	}
	conn, _, err := t.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

type wsStream struct {
	conn *websocket.Conn
	once sync.Once
}

func (s *wsStream) Recv() ([]byte, error) {
	for {
		kind, msg, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage || kind == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() { err = s.conn.Close() })
	return err
}
