package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClient_UnregisterAfterHubShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, newFakeRealtime())
	hub.Shutdown()

	c := &Client{hub: hub}

	done := make(chan struct{})
	go func() {
		c.unregisterFromHub()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unregister must not block once the hub has shut down")
	}
}

func TestClient_UnregisterReachesRunningHub(t *testing.T) {
	hub := NewHub(nil, newFakeRealtime())
	c := &Client{hub: hub}

	go c.unregisterFromHub()

	select {
	case got := <-hub.unregister:
		require.Same(t, c, got)
	case <-time.After(time.Second):
		t.Fatal("expected the client on the unregister channel")
	}
	hub.Shutdown()
}

func TestFrameForAction(t *testing.T) {
	msg := makeMessages("conv-1", 1)[0]

	frame := frameForAction(AddMessage{Message: msg})
	require.NotNil(t, frame)
	require.Equal(t, "message", frame.Type)

	frame = frameForAction(DeleteMessage{ConversationID: "conv-1", MessageID: "msg-0"})
	require.Equal(t, "message_deleted", frame.Type)

	// Loading toggles and cleared errors are internal only.
	require.Nil(t, frameForAction(SetLoading{Loading: true}))
	require.Nil(t, frameForAction(SetError{}))
}
