package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	apperrors "github.com/GriffinCanCode/posecoach/platform/internal/errors"
)

// WSDialer dials the coaching backend with coder/websocket.
type WSDialer struct {
	ReadLimit int64 // max inbound message size; <= 0 uses DefaultReadLimit
}

// Dial opens a websocket to url, forwarding header on the handshake.
func (d WSDialer) Dial(ctx context.Context, url string, header http.Header) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.TransportFailed, "dial coaching backend").
			WithMetadata("url", url)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		var ce websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: int(ce.Code), Reason: ce.Reason}
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}
