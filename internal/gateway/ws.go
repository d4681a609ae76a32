// ABOUTME: WebSocket endpoint that attaches a client connection to a thread session
// ABOUTME: Adapts coder/websocket connections to the session.Conn transport boundary

package gateway

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/2389/tandem/internal/auth"
	"github.com/2389/tandem/internal/session"
)

// wsConn adapts a websocket.Conn to session.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close(code session.CloseCode, reason string) error {
	return c.conn.Close(websocket.StatusCode(code), reason)
}

// handleWebSocket upgrades GET /ws/threads/{id}. Authentication failures
// still upgrade so the client receives a close status it can act on; the
// session rejects them before touching the thread.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	actor, err := auth.Authenticate(r, g.verifier)
	if err != nil {
		g.logger.Debug("websocket unauthenticated", "thread_id", threadID, "error", err)
		actor = nil
	}

	g.liveSessions.Add(1)
	defer g.liveSessions.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.config.Server.AllowedOrigins,
	})
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(g.config.Sessions.MaxMessageBytes)

	if err := g.sessions.Serve(g.sessionCtx, &wsConn{conn: conn}, actor, threadID); err != nil {
		g.logger.Debug("session ended with error", "thread_id", threadID, "error", err)
	}
}
