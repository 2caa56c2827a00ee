package jupyter

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// Channel is one websocket connection to a kernel's multiplexed message
// channel. One channel serves one session; a kernel switch opens a new one.
type Channel struct {
	conn      *websocket.Conn
	sessionID string
}

// ConnectKernel opens the execution channel for the session's kernel.
func (c *Client) ConnectKernel(ctx context.Context, handle types.SessionHandle) (*Channel, error) {
	wsBase := strings.Replace(c.baseURL, "http", "ws", 1)
	wsURL := fmt.Sprintf("%s/api/kernels/%s/channels?session_id=%s", wsBase, handle.KernelID, handle.ID)

	header := http.Header{}
	header.Set("Authorization", "token "+c.token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("opening kernel channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("opening kernel channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	logging.ProtocolDebug("kernel channel open for session %s", handle.ID)
	return &Channel{conn: conn, sessionID: handle.ID}, nil
}

// Close sends a close frame and tears the connection down. Safe on a nil
// channel so dispose paths need no guard.
func (ch *Channel) Close() error {
	if ch == nil || ch.conn == nil {
		return nil
	}
	_ = ch.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
	)
	return ch.conn.Close()
}
