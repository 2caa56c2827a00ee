package jupyter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nbdeck/internal/types"
)

// kernelScript drives the stub kernel's side of the channel after it has
// received the execute request.
type kernelScript func(conn *websocket.Conn, req wireMessage)

// newStubKernel runs a websocket endpoint that acts like a kernel channel:
// it upgrades, reads one execute request, and hands control to the script.
func newStubKernel(t *testing.T, script kernelScript) *Channel {
	t.Helper()
	upgrader := websocket.Upgrader{}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token tok", r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req wireMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		require.Equal(t, msgExecuteRequest, req.Header.MsgType)
		script(conn, req)
	}))
	t.Cleanup(ts.Close)

	client := NewClient(types.ConnectionInfo{BaseURL: ts.URL, Token: "tok"}, ts.Client())
	ch, err := client.ConnectKernel(context.Background(),
		types.SessionHandle{ID: "sess-1", KernelID: "kern-1"})
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })
	return ch
}

// child builds a message parented to the given request.
func child(req wireMessage, msgType string, content map[string]interface{}) wireMessage {
	return wireMessage{
		Header:       messageHeader{MsgID: "m-" + msgType, MsgType: msgType, Session: req.Header.Session},
		ParentHeader: req.Header,
		Content:      content,
		Channel:      "iopub",
	}
}

func reply(req wireMessage) wireMessage {
	m := child(req, msgExecuteReply, map[string]interface{}{"status": "ok"})
	m.Channel = "shell"
	return m
}

func TestExecute_SingleStreamOutput(t *testing.T) {
	ch := newStubKernel(t, func(conn *websocket.Conn, req wireMessage) {
		// Control-plane chatter that must be ignored.
		_ = conn.WriteJSON(child(req, "status", map[string]interface{}{"execution_state": "busy"}))
		_ = conn.WriteJSON(child(req, "execute_input", map[string]interface{}{"code": "print(1)"}))
		_ = conn.WriteJSON(child(req, msgStream, map[string]interface{}{"name": "stdout", "text": "1\n"}))
		_ = conn.WriteJSON(reply(req))
	})

	outputs, err := ch.Execute(context.Background(), "print(1)", true)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, types.OutputStream, outputs[0].Type)
	assert.Equal(t, "stdout", outputs[0].StreamName)
	assert.Equal(t, "1\n", outputs[0].Text)
}

func TestExecute_ResolvesOnReplyNotLastOutput(t *testing.T) {
	const lag = 150 * time.Millisecond
	ch := newStubKernel(t, func(conn *websocket.Conn, req wireMessage) {
		_ = conn.WriteJSON(child(req, msgStream, map[string]interface{}{"name": "stdout", "text": "done\n"}))
		// The done signal lags the last content message.
		time.Sleep(lag)
		_ = conn.WriteJSON(reply(req))
	})

	start := time.Now()
	outputs, err := ch.Execute(context.Background(), "slow()", true)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.GreaterOrEqual(t, elapsed, lag, "must wait for the completion signal, not the last output")
}

func TestExecute_ErrorOutput(t *testing.T) {
	ch := newStubKernel(t, func(conn *websocket.Conn, req wireMessage) {
		_ = conn.WriteJSON(child(req, msgError, map[string]interface{}{
			"ename":     "ZeroDivisionError",
			"evalue":    "division by zero",
			"traceback": []interface{}{"Traceback (most recent call last):", "ZeroDivisionError: division by zero"},
		}))
		_ = conn.WriteJSON(reply(req))
	})

	outputs, err := ch.Execute(context.Background(), "1/0", true)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].IsError())
	assert.Equal(t, "ZeroDivisionError", outputs[0].ErrorName)
	assert.Equal(t, "division by zero", outputs[0].ErrorValue)
	assert.Len(t, outputs[0].Traceback, 2)
	assert.True(t, types.HasErrorOutput(outputs))
}

func TestExecute_RichOutputsInOrder(t *testing.T) {
	ch := newStubKernel(t, func(conn *websocket.Conn, req wireMessage) {
		_ = conn.WriteJSON(child(req, msgDisplayData, map[string]interface{}{
			"data": map[string]interface{}{"image/png": "iVBORw0=", "text/plain": "<Figure>"},
		}))
		_ = conn.WriteJSON(child(req, msgExecuteResult, map[string]interface{}{
			"data":            map[string]interface{}{"text/plain": "2"},
			"execution_count": 7,
		}))
		_ = conn.WriteJSON(reply(req))
	})

	outputs, err := ch.Execute(context.Background(), "1+1", true)
	require.NoError(t, err)
	require.Len(t, outputs, 2)

	assert.Equal(t, types.OutputDisplayData, outputs[0].Type)
	assert.Equal(t, "<Figure>", outputs[0].PlainText())

	assert.Equal(t, types.OutputExecuteResult, outputs[1].Type)
	assert.Equal(t, "2", outputs[1].PlainText())
	assert.Equal(t, 7, outputs[1].ExecutionCount)
}

func TestExecute_ForeignParentIgnored(t *testing.T) {
	ch := newStubKernel(t, func(conn *websocket.Conn, req wireMessage) {
		foreign := child(req, msgStream, map[string]interface{}{"name": "stdout", "text": "other session\n"})
		foreign.ParentHeader = messageHeader{MsgID: "someone-else"}
		_ = conn.WriteJSON(foreign)
		_ = conn.WriteJSON(child(req, msgStream, map[string]interface{}{"name": "stdout", "text": "mine\n"}))
		_ = conn.WriteJSON(reply(req))
	})

	outputs, err := ch.Execute(context.Background(), "print('mine')", true)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, "mine\n", outputs[0].Text)
}

func TestExecute_UnknownKindsIgnored(t *testing.T) {
	ch := newStubKernel(t, func(conn *websocket.Conn, req wireMessage) {
		_ = conn.WriteJSON(child(req, "comm_open", map[string]interface{}{"comm_id": "c1"}))
		_ = conn.WriteJSON(child(req, "clear_output", map[string]interface{}{"wait": false}))
		_ = conn.WriteJSON(reply(req))
	})

	outputs, err := ch.Execute(context.Background(), "pass", true)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestExecute_EmptyCodeShortCircuits(t *testing.T) {
	// No connection at all: whitespace code must not touch the kernel.
	ch := &Channel{}

	for _, code := range []string{"", "   ", "\n\t  \n"} {
		outputs, err := ch.Execute(context.Background(), code, true)
		require.NoError(t, err)
		assert.NotNil(t, outputs)
		assert.Empty(t, outputs)
	}
}

func TestExecute_DeadlineSurfacesError(t *testing.T) {
	ch := newStubKernel(t, func(conn *websocket.Conn, req wireMessage) {
		// Never reply; the caller's deadline has to end the wait.
		time.Sleep(2 * time.Second)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := ch.Execute(ctx, "while True: pass", true)
	assert.Error(t, err)

	// The failed read also tears the connection down; a retry on the same
	// channel must fail fast instead of hanging on a dead stream.
	_, err = ch.Execute(context.Background(), "print(1)", true)
	assert.Error(t, err)
}

func TestExecute_DeadlineClearedBetweenCalls(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var calls int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			var req wireMessage
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			// The second reply lands well after the first call's deadline
			// has passed.
			if atomic.AddInt32(&calls, 1) > 1 {
				time.Sleep(300 * time.Millisecond)
			}
			_ = conn.WriteJSON(reply(req))
		}
	}))
	t.Cleanup(ts.Close)

	client := NewClient(types.ConnectionInfo{BaseURL: ts.URL, Token: "tok"}, ts.Client())
	ch, err := client.ConnectKernel(context.Background(),
		types.SessionHandle{ID: "sess-1", KernelID: "kern-1"})
	require.NoError(t, err)
	t.Cleanup(func() { ch.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	_, err = ch.Execute(ctx, "fast()", true)
	cancel()
	require.NoError(t, err)

	// A context without a deadline must not inherit the expired one.
	_, err = ch.Execute(context.Background(), "slow()", true)
	require.NoError(t, err)
}
