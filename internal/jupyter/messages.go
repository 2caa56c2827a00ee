package jupyter

import (
	"time"

	"github.com/google/uuid"

	"nbdeck/internal/types"
)

// The subset of the Jupyter messaging protocol nbdeck speaks: execute
// requests out, stream/result/display/error messages and the execute reply
// back. Everything else on the wire is ignored.

const protocolVersion = "5.3"

// Message kinds dispatched by the multiplexer.
const (
	msgExecuteRequest = "execute_request"
	msgExecuteReply   = "execute_reply"
	msgStream         = "stream"
	msgExecuteResult  = "execute_result"
	msgDisplayData    = "display_data"
	msgError          = "error"
)

type messageHeader struct {
	MsgID    string `json:"msg_id"`
	Username string `json:"username"`
	Session  string `json:"session"`
	MsgType  string `json:"msg_type"`
	Version  string `json:"version"`
	Date     string `json:"date"`
}

// wireMessage is one frame on the kernel websocket channel.
type wireMessage struct {
	Header       messageHeader          `json:"header"`
	ParentHeader messageHeader          `json:"parent_header"`
	Metadata     map[string]interface{} `json:"metadata"`
	Content      map[string]interface{} `json:"content"`
	Channel      string                 `json:"channel"`
	Buffers      []interface{}          `json:"buffers"`
}

// newExecuteRequest builds an execute_request frame for the shell channel.
func newExecuteRequest(sessionID, code string, storeHistory bool) wireMessage {
	return wireMessage{
		Header: messageHeader{
			MsgID:    uuid.NewString(),
			Username: "nbdeck",
			Session:  sessionID,
			MsgType:  msgExecuteRequest,
			Version:  protocolVersion,
			Date:     time.Now().UTC().Format(time.RFC3339),
		},
		Metadata: map[string]interface{}{},
		Content: map[string]interface{}{
			"code":             code,
			"silent":           false,
			"store_history":    storeHistory,
			"user_expressions": map[string]interface{}{},
			"allow_stdin":      false,
			"stop_on_error":    true,
		},
		Channel: "shell",
		Buffers: []interface{}{},
	}
}

// isChildOf reports whether the message was produced for the request with
// the given msg_id.
func (m *wireMessage) isChildOf(msgID string) bool {
	return m.ParentHeader.MsgID == msgID
}

// toOutput converts a content message into a NotebookOutput, with ok=false
// for kinds outside the handled subset.
func (m *wireMessage) toOutput() (types.NotebookOutput, bool) {
	switch m.Header.MsgType {
	case msgStream:
		return types.NotebookOutput{
			Type:       types.OutputStream,
			StreamName: contentString(m.Content, "name"),
			Text:       contentString(m.Content, "text"),
		}, true
	case msgExecuteResult:
		return types.NotebookOutput{
			Type:           types.OutputExecuteResult,
			Data:           contentBundle(m.Content, "data"),
			ExecutionCount: contentInt(m.Content, "execution_count"),
		}, true
	case msgDisplayData:
		return types.NotebookOutput{
			Type: types.OutputDisplayData,
			Data: contentBundle(m.Content, "data"),
		}, true
	case msgError:
		return types.NotebookOutput{
			Type:       types.OutputError,
			ErrorName:  contentString(m.Content, "ename"),
			ErrorValue: contentString(m.Content, "evalue"),
			Traceback:  contentStrings(m.Content, "traceback"),
		}, true
	}
	return types.NotebookOutput{}, false
}

func contentString(c map[string]interface{}, key string) string {
	if s, ok := c[key].(string); ok {
		return s
	}
	return ""
}

func contentInt(c map[string]interface{}, key string) int {
	// JSON numbers decode as float64.
	if f, ok := c[key].(float64); ok {
		return int(f)
	}
	return 0
}

func contentBundle(c map[string]interface{}, key string) types.MIMEBundle {
	if m, ok := c[key].(map[string]interface{}); ok {
		return types.MIMEBundle(m)
	}
	return types.MIMEBundle{}
}

func contentStrings(c map[string]interface{}, key string) []string {
	raw, ok := c[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
