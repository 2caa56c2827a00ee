package jupyter

import (
	"context"
	"fmt"
	"strings"

	"nbdeck/internal/logging"
	"nbdeck/internal/types"
)

// Execute submits code on the channel and folds the kernel's message stream
// into an ordered output list. It resolves only when the execute reply for
// this submission arrives; the reply may race or lag the last content
// message, so counting outputs is never enough.
//
// Empty or whitespace-only code short-circuits to an empty list without
// touching the kernel.
func (ch *Channel) Execute(ctx context.Context, code string, storeHistory bool) ([]types.NotebookOutput, error) {
	if strings.TrimSpace(code) == "" {
		return []types.NotebookOutput{}, nil
	}

	timer := logging.StartTimer(logging.CategoryExecute, "Execute")
	defer timer.Stop()

	req := newExecuteRequest(ch.sessionID, code, storeHistory)
	if err := ch.conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("sending execute request: %w", err)
	}
	logging.ExecuteDebug("execute request %s sent (%d bytes of code)", req.Header.MsgID, len(code))

	// A zero deadline clears whatever a prior deadlined call left behind.
	deadline, _ := ctx.Deadline()
	if err := ch.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting read deadline: %w", err)
	}

	outputs := []types.NotebookOutput{}
	for {
		var msg wireMessage
		if err := ch.conn.ReadJSON(&msg); err != nil {
			// A failed read leaves the websocket unusable; close it so the
			// next send fails loudly instead of hanging on a dead stream.
			ch.conn.Close()
			return nil, fmt.Errorf("reading kernel message: %w", err)
		}

		// The channel multiplexes every session on the kernel; only fold
		// messages produced for this submission.
		if !msg.isChildOf(req.Header.MsgID) {
			continue
		}

		// The control-plane completion signal, distinct from outputs.
		if msg.Header.MsgType == msgExecuteReply {
			logging.ExecuteDebug("execute request %s complete: %d outputs", req.Header.MsgID, len(outputs))
			return outputs, nil
		}

		if out, ok := msg.toOutput(); ok {
			outputs = append(outputs, out)
		}
		// Unrecognized kinds (status, execute_input, ...) are ignored.
	}
}
