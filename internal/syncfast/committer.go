package syncfast

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Committer delivers one durable write to the sync backend. It satisfies the
// queue's committer interface without importing it.
type Committer interface {
	Commit(ctx context.Context, kind string, payload []byte) error
}

// NewCommitter picks the commit transport like NewEgress does for replies.
// The drain path needs a confirmed status per write, so queue draining should
// use the http mode; auto serves the direct autosave path, where a WS
// failure just reroutes the payload through the queue.
func NewCommitter(mode string, c *Client, ws *WebSocket, logger *zap.Logger) Committer {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch transportMode(mode) {
	case transportWS:
		return &wsCommitter{ws: ws, logger: logger}
	case transportAuto:
		return &autoCommitter{
			ws:     &wsCommitter{ws: ws, logger: logger},
			http:   &httpCommitter{c: c},
			logger: logger,
		}
	default:
		return &httpCommitter{c: c}
	}
}

// httpCommitter delegates to Client and inherits its status classification.
type httpCommitter struct{ c *Client }

func (h *httpCommitter) Commit(ctx context.Context, kind string, payload []byte) error {
	if h == nil || h.c == nil {
		return errors.New("http committer not available")
	}
	return h.c.Commit(ctx, kind, payload)
}

// wsCommitter pushes commit frames over the WebSocket.
type wsCommitter struct {
	ws     *WebSocket
	logger *zap.Logger
}

func (w *wsCommitter) Commit(ctx context.Context, kind string, payload []byte) error {
	if w == nil || w.ws == nil {
		return errors.New("ws committer not available")
	}
	req := CommitRequest{Type: "commit", Kind: kind, Payload: payload, SentAt: time.Now().UTC()}
	return writeFrame(ctx, w.ws, &req)
}

// autoCommitter prefers WS if available, with single fallback to HTTP.
type autoCommitter struct {
	ws     *wsCommitter
	http   *httpCommitter
	logger *zap.Logger
}

func (a *autoCommitter) Commit(ctx context.Context, kind string, payload []byte) error {
	if a.ws != nil && a.ws.ws != nil && a.ws.ws.conn != nil && a.ws.ws.State() == WSStateConnected {
		if err := a.ws.Commit(ctx, kind, payload); err == nil {
			return nil
		}
		a.logger.Warn("commit_fallback", zap.String("kind", kind))
	}
	return a.http.Commit(ctx, kind, payload)
}
