package stream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/factline/cli/pkg/api"
	"github.com/gorilla/websocket"
)

// WebSocketTransport reads the status stream as websocket text frames.
type WebSocketTransport struct {
	service *api.Service
	dialer  *websocket.Dialer
	header  http.Header
}

// NewWebSocketTransport dials endpoints derived from service.
func NewWebSocketTransport(service *api.Service) *WebSocketTransport {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	header := http.Header{}
	if token := service.Client().Token; token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return &WebSocketTransport{service: service, dialer: &dialer, header: header}
}

func (t *WebSocketTransport) Open(ctx context.Context, target Target) (FrameReader, error) {
	u := t.service.WebSocketURL(target.Kind, target.ContentID, target.Token)

	conn, resp, err := t.dialer.DialContext(ctx, u, t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("stream: websocket handshake failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return &wsReader{conn: conn}, nil
}

type wsReader struct {
	conn *websocket.Conn
}

func (r *wsReader) Next() ([]byte, error) {
	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, ErrClosed
			}
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (r *wsReader) Close() error {
	return r.conn.Close()
}
