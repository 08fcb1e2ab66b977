package messaging

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeConversations(n int) []Conversation {
	out := make([]Conversation, n)
	for i := range out {
		out[i] = Conversation{
			ID:        fmt.Sprintf("conv-%d", i),
			Title:     fmt.Sprintf("Conversation %d", i),
			CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

func makeMessages(conversationID string, n int) []Message {
	out := make([]Message, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = Message{
			ID:             fmt.Sprintf("msg-%d", i),
			ConversationID: conversationID,
			SenderID:       "user-1",
			Content:        fmt.Sprintf("message %d", i),
			MessageType:    TypeText,
			Status:         StatusSent,
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestReduce_UnknownActionIsIdentity(t *testing.T) {
	state := NewState()
	state = Reduce(state, SetConversations{Conversations: makeConversations(3)})
	state = Reduce(state, SetMessages{ConversationID: "conv-0", Messages: makeMessages("conv-0", 5)})

	type bogus struct{ X int }
	next := Reduce(state, bogus{X: 42})

	require.Equal(t, state, next)
}

func TestReduce_SetConversationsReplacesWholesale(t *testing.T) {
	for _, n := range []int{0, 1, 50, 1000, 1200} {
		state := Reduce(NewState(), SetConversations{Conversations: makeConversations(n)})
		require.Len(t, state.Conversations, n)
		if n > 500 {
			require.Equal(t, "Conversation 500", state.Conversations[500].Title)
		}
	}

	// A second set drops everything from the first.
	state := Reduce(NewState(), SetConversations{Conversations: makeConversations(1000)})
	state = Reduce(state, SetConversations{Conversations: makeConversations(2)})
	require.Len(t, state.Conversations, 2)
}

func TestReduce_SetMessagesOverwritesNeverMerges(t *testing.T) {
	state := Reduce(NewState(), SetMessages{ConversationID: "conv-1", Messages: makeMessages("conv-1", 10)})
	require.Len(t, state.Messages["conv-1"], 10)

	replacement := makeMessages("conv-1", 3)
	state = Reduce(state, SetMessages{ConversationID: "conv-1", Messages: replacement})
	require.Len(t, state.Messages["conv-1"], 3)

	// Other conversations are untouched.
	state = Reduce(state, SetMessages{ConversationID: "conv-2", Messages: makeMessages("conv-2", 4)})
	require.Len(t, state.Messages["conv-1"], 3)
	require.Len(t, state.Messages["conv-2"], 4)
}

func TestReduce_AddMessageAppendsInOrder(t *testing.T) {
	state := NewState()
	for _, m := range makeMessages("conv-1", 5) {
		state = Reduce(state, AddMessage{Message: m})
	}

	msgs := state.Messages["conv-1"]
	require.Len(t, msgs, 5)
	require.Equal(t, "msg-0", msgs[0].ID)
	require.Equal(t, "msg-4", msgs[4].ID)
}

func TestReduce_AddMessageIsIdempotentByID(t *testing.T) {
	m := makeMessages("conv-1", 1)[0]
	state := Reduce(NewState(), AddMessage{Message: m})

	// Same id, different content: still dropped.
	dup := m
	dup.Content = "changed"
	next := Reduce(state, AddMessage{Message: dup})

	require.Len(t, next.Messages["conv-1"], 1)
	require.Equal(t, m.Content, next.Messages["conv-1"][0].Content)
}

func TestReduce_DeleteMessageRemovesExactlyOne(t *testing.T) {
	state := Reduce(NewState(), SetMessages{ConversationID: "conv-1", Messages: makeMessages("conv-1", 200)})
	state = Reduce(state, SetMessages{ConversationID: "conv-2", Messages: makeMessages("conv-2", 10)})

	next := Reduce(state, DeleteMessage{ConversationID: "conv-1", MessageID: "msg-73"})
	require.Len(t, next.Messages["conv-1"], 199)
	require.Equal(t, -1, indexOfMessage(next.Messages["conv-1"], "msg-73"))

	// Other conversations are untouched, including their shared id space.
	require.Len(t, next.Messages["conv-2"], 10)
	require.NotEqual(t, -1, indexOfMessage(next.Messages["conv-2"], "msg-5"))

	// Order of the survivors is preserved.
	require.Equal(t, "msg-72", next.Messages["conv-1"][72].ID)
	require.Equal(t, "msg-74", next.Messages["conv-1"][73].ID)

	// Unknown id and unknown conversation are both no-ops.
	require.Equal(t, next, Reduce(next, DeleteMessage{ConversationID: "conv-1", MessageID: "nope"}))
	require.Equal(t, next, Reduce(next, DeleteMessage{ConversationID: "conv-9", MessageID: "msg-1"}))
}

func TestReduce_UpdateMessageStatusAdvances(t *testing.T) {
	state := Reduce(NewState(), SetMessages{ConversationID: "conv-1", Messages: makeMessages("conv-1", 3)})

	state = Reduce(state, UpdateMessageStatus{ConversationID: "conv-1", MessageID: "msg-1", Status: StatusDelivered})
	require.Equal(t, StatusDelivered, state.Messages["conv-1"][1].Status)

	state = Reduce(state, UpdateMessageStatus{ConversationID: "conv-1", MessageID: "msg-1", Status: StatusRead})
	require.Equal(t, StatusRead, state.Messages["conv-1"][1].Status)

	// Others untouched.
	require.Equal(t, StatusSent, state.Messages["conv-1"][0].Status)
}

func TestReduce_UpdateMessageStatusNeverRegresses(t *testing.T) {
	state := Reduce(NewState(), SetMessages{ConversationID: "conv-1", Messages: makeMessages("conv-1", 1)})
	state = Reduce(state, UpdateMessageStatus{ConversationID: "conv-1", MessageID: "msg-0", Status: StatusRead})

	for _, regress := range []MessageStatus{StatusDelivered, StatusSent, StatusRead} {
		next := Reduce(state, UpdateMessageStatus{ConversationID: "conv-1", MessageID: "msg-0", Status: regress})
		require.Equal(t, StatusRead, next.Messages["conv-1"][0].Status)
	}
}

func TestReduce_MarkConversationRead(t *testing.T) {
	for _, unread := range []int{0, 5, 9999} {
		convs := makeConversations(3)
		convs[1].UnreadCount = unread
		state := Reduce(NewState(), SetConversations{Conversations: convs})

		next := Reduce(state, MarkConversationRead{ConversationID: "conv-1"})
		require.Equal(t, 0, next.Conversations[1].UnreadCount)

		// The input state keeps its count: transitions are copy-on-write.
		require.Equal(t, unread, state.Conversations[1].UnreadCount)
	}

	// Unknown conversation is a no-op.
	state := Reduce(NewState(), SetConversations{Conversations: makeConversations(2)})
	require.Equal(t, state, Reduce(state, MarkConversationRead{ConversationID: "conv-9"}))
}

func TestReduce_UpsertConversation(t *testing.T) {
	state := Reduce(NewState(), SetConversations{Conversations: makeConversations(3)})

	updated := state.Conversations[1]
	updated.UnreadCount = 4
	next := Reduce(state, UpsertConversation{Conversation: updated})
	require.Len(t, next.Conversations, 3)
	require.Equal(t, 4, next.Conversations[1].UnreadCount)

	fresh := Conversation{ID: "conv-new", Title: "New"}
	next = Reduce(next, UpsertConversation{Conversation: fresh})
	require.Len(t, next.Conversations, 4)
	require.Equal(t, "conv-new", next.Conversations[3].ID)
}

func TestReduce_LoadingAndErrorFlags(t *testing.T) {
	state := Reduce(NewState(), SetLoading{Loading: true})
	require.True(t, state.Loading)

	state = Reduce(state, SetError{Err: "boom"})
	require.Equal(t, "boom", state.Err)

	state = Reduce(state, SetError{})
	require.Empty(t, state.Err)

	state = Reduce(state, SetLoading{Loading: false})
	require.False(t, state.Loading)
}

func TestReduce_InputStateIsNeverMutated(t *testing.T) {
	state := Reduce(NewState(), SetMessages{ConversationID: "conv-1", Messages: makeMessages("conv-1", 10)})
	before := append([]Message(nil), state.Messages["conv-1"]...)

	_ = Reduce(state, AddMessage{Message: makeMessages("conv-1", 11)[10]})
	_ = Reduce(state, DeleteMessage{ConversationID: "conv-1", MessageID: "msg-5"})
	_ = Reduce(state, UpdateMessageStatus{ConversationID: "conv-1", MessageID: "msg-5", Status: StatusRead})

	require.Equal(t, before, state.Messages["conv-1"])
}

func BenchmarkReduce_AddMessage(b *testing.B) {
	state := Reduce(NewState(), SetMessages{ConversationID: "conv-1", Messages: makeMessages("conv-1", 500)})
	extra := makeMessages("conv-1", 501)[500]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Reduce(state, AddMessage{Message: extra})
	}
}
