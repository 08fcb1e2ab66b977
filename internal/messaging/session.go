// internal/messaging/session.go

package messaging

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Session owns one user's message cache and its realtime wiring. All
// mutation funnels through Dispatch, which applies the reducer atomically
// and notifies the change listener with the action and the new snapshot.
type Session struct {
	userID  string
	service Service
	rt      Realtime

	mu     sync.Mutex
	state  State
	bridge *Bridge
	closed bool

	onChange func(Action, State)
}

func NewSession(userID string, service Service, rt Realtime) *Session {
	activeSessions.Inc()
	return &Session{
		userID:  userID,
		service: service,
		rt:      rt,
		state:   NewState(),
	}
}

func (s *Session) UserID() string {
	return s.userID
}

// OnChange registers the single change listener (the websocket client).
// Must be set before the session starts dispatching.
func (s *Session) OnChange(fn func(Action, State)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Dispatch applies one action. The reducer runs under the session lock,
// so every transition is atomic with respect to readers of Snapshot.
func (s *Session) Dispatch(action Action) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = Reduce(s.state, action)
	snapshot := s.state
	fn := s.onChange
	s.mu.Unlock()

	recordAction(action)
	if fn != nil {
		fn(action, snapshot)
	}
}

// Snapshot returns the current state value. Safe to hold: transitions
// never mutate a previously returned value.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start loads the conversation list into the store.
func (s *Session) Start(ctx context.Context) {
	s.Dispatch(SetLoading{Loading: true})

	conversations, err := s.service.FetchConversations(ctx, s.userID)
	if err != nil {
		s.Dispatch(SetError{Err: err.Error()})
		s.Dispatch(SetLoading{Loading: false})
		return
	}

	s.Dispatch(SetConversations{Conversations: conversations})
	s.Dispatch(SetError{})
	s.Dispatch(SetLoading{Loading: false})
}

// OpenConversation loads the first page and subscribes the bridge. Opening
// a different conversation tears the previous bridge down first, so
// listeners never accumulate across switches.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	prev := s.bridge
	s.bridge = nil
	s.mu.Unlock()
	if prev != nil {
		prev.Unsubscribe()
	}

	if err := s.loadPage(ctx, conversationID, 0); err != nil {
		return err
	}

	bridge := NewBridge(s.rt, s.userID, conversationID, s.Dispatch, s.refetch, s.service.TempFor)
	if err := bridge.Subscribe(ctx); err != nil {
		bridge.Unsubscribe()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		bridge.Unsubscribe()
		return nil
	}
	s.bridge = bridge
	s.mu.Unlock()

	return nil
}

// LoadMoreMessages fetches a further history page; with ascending
// pagination, higher pages hold newer messages. The caller merges it;
// page 0 replacement happens only through OpenConversation or refetch.
func (s *Session) LoadMoreMessages(ctx context.Context, conversationID string, page int) ([]Message, error) {
	messages, err := s.service.FetchConversationMessages(ctx, s.userID, conversationID, page)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		s.Dispatch(AddMessage{Message: m})
	}
	return messages, nil
}

// CloseConversation tears down the bridge for the given conversation.
func (s *Session) CloseConversation(conversationID string) {
	s.mu.Lock()
	bridge := s.bridge
	if bridge == nil || bridge.ConversationID() != conversationID {
		s.mu.Unlock()
		return
	}
	s.bridge = nil
	s.mu.Unlock()

	bridge.Unsubscribe()
}

// Send performs the optimistic send: the temp message is visible
// immediately, then swapped for the canonical row on ack. On failure the
// placeholder is removed and the error flag raised.
func (s *Session) Send(ctx context.Context, conversationID, content string, msgType MessageType, attachmentURL string) (*Message, error) {
	temp := s.service.NewTempMessage(conversationID, s.userID, content, msgType, attachmentURL)
	s.Dispatch(AddMessage{Message: temp})

	req := &SendMessageRequest{
		ConversationID: conversationID,
		SenderID:       s.userID,
		Content:        content,
		MessageType:    string(msgType),
		AttachmentURL:  attachmentURL,
		TempID:         temp.ID,
	}

	message, err := s.service.SendMessage(ctx, req)
	if err != nil {
		s.Dispatch(DeleteMessage{ConversationID: conversationID, MessageID: temp.ID})
		s.Dispatch(SetError{Err: err.Error()})
		return nil, err
	}

	// The bridge may have already swapped the placeholder via the realtime
	// event; both deletes and the duplicate add are no-ops in that case.
	s.Dispatch(DeleteMessage{ConversationID: conversationID, MessageID: temp.ID})
	s.Dispatch(AddMessage{Message: *message})

	return message, nil
}

// MarkRead resets the unread count remotely and locally.
func (s *Session) MarkRead(ctx context.Context, conversationID string) error {
	if err := s.service.MarkConversationRead(ctx, conversationID, s.userID); err != nil {
		return err
	}
	s.Dispatch(MarkConversationRead{ConversationID: conversationID})
	return nil
}

// Close tears down the bridge and drops all further dispatches, so
// in-flight fetches resolving after teardown cannot touch state.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	bridge := s.bridge
	s.bridge = nil
	s.mu.Unlock()

	if bridge != nil {
		bridge.Unsubscribe()
	}
	activeSessions.Dec()
}

func (s *Session) loadPage(ctx context.Context, conversationID string, page int) error {
	messages, err := s.service.FetchConversationMessages(ctx, s.userID, conversationID, page)
	if err != nil {
		if errors.Is(err, ErrStaleFetch) {
			// A newer fetch owns this conversation; drop silently.
			return nil
		}
		s.Dispatch(SetError{Err: err.Error()})
		return err
	}

	s.Dispatch(SetMessages{ConversationID: conversationID, Messages: messages})
	return nil
}

// refetch is the bridge's gap-fill hook after transport recovery.
func (s *Session) refetch(conversationID string) {
	if err := s.loadPage(context.Background(), conversationID, 0); err != nil {
		log.Printf("messaging: gap-fill refetch for %s failed: %v", conversationID, err)
	}
}
