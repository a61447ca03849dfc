// Package transport owns a single persistent connection to the chat server and
// dispatches the events that arrive on it.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

type Settings struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

func DefaultSettings() *Settings {
	return &Settings{
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     25 * time.Second,
	}
}

// Conn is the subset of a websocket connection the transport needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Dialer establishes an authenticated connection.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// WebsocketDialer dials URL and presents token as a bearer credential in the
// handshake.
type WebsocketDialer struct {
	URL      string
	Settings *Settings
}

func NewWebsocketDialer(url string) *WebsocketDialer {
	return &WebsocketDialer{
		URL:      url,
		Settings: DefaultSettings(),
	}
}

func (d *WebsocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.Settings.HandshakeTimeout,
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return ws, nil
}
