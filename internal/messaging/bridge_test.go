package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// actionRecorder collects dispatched actions for assertion.
type actionRecorder struct {
	mu      sync.Mutex
	actions []Action
}

func (r *actionRecorder) dispatch(a Action) {
	r.mu.Lock()
	r.actions = append(r.actions, a)
	r.mu.Unlock()
}

func (r *actionRecorder) all() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Action(nil), r.actions...)
}

func noTemp(string) (string, bool) { return "", false }

func newTestBridge(rt Realtime, rec *actionRecorder, refetch func(string), tempFor func(string) (string, bool)) *Bridge {
	if tempFor == nil {
		tempFor = noTemp
	}
	return NewBridge(rt, "user-1", "conv-1", rec.dispatch, refetch, tempFor)
}

func TestBridge_SubscribeTransitions(t *testing.T) {
	rt := newFakeRealtime()
	rec := new(actionRecorder)
	bridge := newTestBridge(rt, rec, nil, nil)

	require.Equal(t, BridgeUnsubscribed, bridge.State())

	err := bridge.Subscribe(context.Background())

	require.NoError(t, err)
	require.Equal(t, BridgeSubscribed, bridge.State())
	require.True(t, rt.subscribed(ConversationScope("conv-1")))
	require.True(t, rt.subscribed(UserScope("user-1")))

	// A second subscribe is a no-op, not a second pair of streams.
	require.NoError(t, bridge.Subscribe(context.Background()))
}

func TestBridge_SubscribeConversationFailure(t *testing.T) {
	rt := newFakeRealtime()
	rt.subscribeErr[ConversationScope("conv-1").channel()] = errors.New("refused")
	bridge := newTestBridge(rt, new(actionRecorder), nil, nil)

	err := bridge.Subscribe(context.Background())

	require.Error(t, err)
	require.Equal(t, BridgeError, bridge.State())
	require.False(t, rt.subscribed(UserScope("user-1")))
}

func TestBridge_SubscribeUserFailureReleasesConversationStream(t *testing.T) {
	rt := newFakeRealtime()
	rt.subscribeErr[UserScope("user-1").channel()] = errors.New("refused")
	bridge := newTestBridge(rt, new(actionRecorder), nil, nil)

	err := bridge.Subscribe(context.Background())

	require.Error(t, err)
	require.Equal(t, BridgeError, bridge.State())
	// The conversation stream acquired first must not leak.
	require.False(t, rt.subscribed(ConversationScope("conv-1")))
}

func TestBridge_UnsubscribeReleasesEverything(t *testing.T) {
	rt := newFakeRealtime()
	bridge := newTestBridge(rt, new(actionRecorder), nil, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	bridge.Unsubscribe()

	require.Equal(t, BridgeUnsubscribed, bridge.State())
	require.False(t, rt.subscribed(ConversationScope("conv-1")))
	require.False(t, rt.subscribed(UserScope("user-1")))

	// Idempotent from any state.
	bridge.Unsubscribe()
	require.Equal(t, BridgeUnsubscribed, bridge.State())
}

func TestBridge_MessageInsertedDispatchesAdd(t *testing.T) {
	rt := newFakeRealtime()
	rec := new(actionRecorder)
	bridge := newTestBridge(rt, rec, nil, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	msg := makeMessages("conv-1", 1)[0]
	rt.Emit(ConversationScope("conv-1"), Event{
		Type:           EventMessageInserted,
		ConversationID: "conv-1",
		MessageID:      msg.ID,
		Message:        &msg,
	})

	actions := rec.all()
	require.Len(t, actions, 1)
	add, ok := actions[0].(AddMessage)
	require.True(t, ok)
	require.Equal(t, msg.ID, add.Message.ID)
}

func TestBridge_MessageInsertedSwapsOptimisticPlaceholder(t *testing.T) {
	rt := newFakeRealtime()
	rec := new(actionRecorder)
	tempFor := func(canonicalID string) (string, bool) {
		if canonicalID == "msg-0" {
			return "temp-111-1", true
		}
		return "", false
	}
	bridge := newTestBridge(rt, rec, nil, tempFor)
	require.NoError(t, bridge.Subscribe(context.Background()))

	msg := makeMessages("conv-1", 1)[0]
	rt.Emit(ConversationScope("conv-1"), Event{
		Type:    EventMessageInserted,
		Message: &msg,
	})

	actions := rec.all()
	require.Len(t, actions, 2)

	del, ok := actions[0].(DeleteMessage)
	require.True(t, ok)
	require.Equal(t, "temp-111-1", del.MessageID)

	add, ok := actions[1].(AddMessage)
	require.True(t, ok)
	require.Equal(t, "msg-0", add.Message.ID)
}

func TestBridge_StatusAndDeleteEvents(t *testing.T) {
	rt := newFakeRealtime()
	rec := new(actionRecorder)
	bridge := newTestBridge(rt, rec, nil, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	rt.Emit(ConversationScope("conv-1"), Event{
		Type:           EventMessageStatus,
		ConversationID: "conv-1",
		MessageID:      "msg-3",
		Status:         StatusRead,
	})
	rt.Emit(ConversationScope("conv-1"), Event{
		Type:           EventMessageDeleted,
		ConversationID: "conv-1",
		MessageID:      "msg-4",
	})

	actions := rec.all()
	require.Len(t, actions, 2)
	require.Equal(t, UpdateMessageStatus{ConversationID: "conv-1", MessageID: "msg-3", Status: StatusRead}, actions[0])
	require.Equal(t, DeleteMessage{ConversationID: "conv-1", MessageID: "msg-4"}, actions[1])
}

func TestBridge_UserScopeCarriesConversationUpdates(t *testing.T) {
	rt := newFakeRealtime()
	rec := new(actionRecorder)
	bridge := newTestBridge(rt, rec, nil, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	conv := Conversation{ID: "conv-2", Title: "Другой", UnreadCount: 3}
	rt.Emit(UserScope("user-1"), Event{
		Type:           EventConversationUpdate,
		ConversationID: "conv-2",
		Conversation:   &conv,
	})

	actions := rec.all()
	require.Len(t, actions, 1)
	up, ok := actions[0].(UpsertConversation)
	require.True(t, ok)
	require.Equal(t, 3, up.Conversation.UnreadCount)
}

func TestBridge_MalformedEventsAreIgnored(t *testing.T) {
	rt := newFakeRealtime()
	rec := new(actionRecorder)
	bridge := newTestBridge(rt, rec, nil, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	// Insert without a payload, update without a conversation, and an
	// unknown type must all be dropped without dispatching.
	rt.Emit(ConversationScope("conv-1"), Event{Type: EventMessageInserted})
	rt.Emit(UserScope("user-1"), Event{Type: EventConversationUpdate})
	rt.Emit(ConversationScope("conv-1"), Event{Type: EventType("solar-flare")})

	require.Empty(t, rec.all())
}

func TestBridge_TransportDownMarksError(t *testing.T) {
	rt := newFakeRealtime()
	bridge := newTestBridge(rt, new(actionRecorder), nil, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	rt.SetTransport(TransportDown)

	require.Equal(t, BridgeError, bridge.State())
}

func TestBridge_TransportRecoveryRefetchesInsteadOfReplaying(t *testing.T) {
	rt := newFakeRealtime()
	refetched := make(chan string, 1)
	bridge := newTestBridge(rt, new(actionRecorder), func(conversationID string) {
		refetched <- conversationID
	}, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	rt.SetTransport(TransportDown)
	require.Equal(t, BridgeError, bridge.State())

	rt.SetTransport(TransportUp)
	require.Equal(t, BridgeSubscribed, bridge.State())

	select {
	case id := <-refetched:
		require.Equal(t, "conv-1", id)
	case <-time.After(time.Second):
		t.Fatal("expected a gap-fill refetch after transport recovery")
	}
}

func TestBridge_TransportUpWithoutGapDoesNotRefetch(t *testing.T) {
	rt := newFakeRealtime()
	refetched := make(chan string, 1)
	bridge := newTestBridge(rt, new(actionRecorder), func(conversationID string) {
		refetched <- conversationID
	}, nil)
	require.NoError(t, bridge.Subscribe(context.Background()))

	rt.SetTransport(TransportUp)

	select {
	case <-refetched:
		t.Fatal("healthy transport must not trigger a refetch")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, BridgeSubscribed, bridge.State())
}

func TestBridgeState_String(t *testing.T) {
	require.Equal(t, "unsubscribed", BridgeUnsubscribed.String())
	require.Equal(t, "subscribing", BridgeSubscribing.String())
	require.Equal(t, "subscribed", BridgeSubscribed.String())
	require.Equal(t, "error", BridgeError.String())
}
