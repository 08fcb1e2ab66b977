// internal/messaging/bridge.go
//
// Bridges server-pushed change events into store actions for one open
// conversation. Lifecycle: unsubscribed -> subscribing -> subscribed ->
// (error | unsubscribed). A conversation-scoped stream carries message
// events; a user-scoped stream carries conversation metadata updates.

package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
)

type BridgeState int32

const (
	BridgeUnsubscribed BridgeState = iota
	BridgeSubscribing
	BridgeSubscribed
	BridgeError
)

func (s BridgeState) String() string {
	switch s {
	case BridgeUnsubscribed:
		return "unsubscribed"
	case BridgeSubscribing:
		return "subscribing"
	case BridgeSubscribed:
		return "subscribed"
	case BridgeError:
		return "error"
	default:
		return "unknown"
	}
}

// Bridge feeds realtime events for one conversation into a dispatch
// function. It does not replay missed events: after a transport gap it
// resubscribes and asks the session to refetch the page instead.
type Bridge struct {
	rt             Realtime
	userID         string
	conversationID string

	dispatch func(Action)
	// refetch reloads the active conversation after a reconnect gap.
	refetch func(conversationID string)
	// tempFor resolves an outstanding optimistic id for a canonical id.
	tempFor func(canonicalID string) (string, bool)

	mu      sync.Mutex
	state   BridgeState
	convSub *Subscription
	userSub *Subscription
	unwatch func()
}

func NewBridge(rt Realtime, userID, conversationID string, dispatch func(Action), refetch func(string), tempFor func(string) (string, bool)) *Bridge {
	return &Bridge{
		rt:             rt,
		userID:         userID,
		conversationID: conversationID,
		dispatch:       dispatch,
		refetch:        refetch,
		tempFor:        tempFor,
		state:          BridgeUnsubscribed,
	}
}

// Subscribe acquires both streams. Any failure releases whatever was
// acquired and leaves the bridge in the error state.
func (b *Bridge) Subscribe(ctx context.Context) error {
	b.mu.Lock()
	if b.state == BridgeSubscribed || b.state == BridgeSubscribing {
		b.mu.Unlock()
		return nil
	}
	b.state = BridgeSubscribing
	b.mu.Unlock()

	convSub, err := b.rt.Subscribe(ctx, ConversationScope(b.conversationID), b.handleConversationEvent)
	if err != nil {
		b.fail()
		return fmt.Errorf("subscribe conversation %s: %w", b.conversationID, err)
	}

	userSub, err := b.rt.Subscribe(ctx, UserScope(b.userID), b.handleUserEvent)
	if err != nil {
		convSub.Close()
		b.fail()
		return fmt.Errorf("subscribe user %s: %w", b.userID, err)
	}

	unwatch := b.rt.Watch(b.handleTransport)

	b.mu.Lock()
	if b.state != BridgeSubscribing {
		// Unsubscribed while the round-trips were in flight; release
		// everything we just acquired.
		b.mu.Unlock()
		convSub.Close()
		userSub.Close()
		unwatch()
		return nil
	}
	b.convSub = convSub
	b.userSub = userSub
	b.unwatch = unwatch
	b.state = BridgeSubscribed
	b.mu.Unlock()

	return nil
}

// Unsubscribe releases both streams. Safe to call from any state and on
// every exit path, including after errors.
func (b *Bridge) Unsubscribe() {
	b.mu.Lock()
	convSub, userSub, unwatch := b.convSub, b.userSub, b.unwatch
	b.convSub, b.userSub, b.unwatch = nil, nil, nil
	b.state = BridgeUnsubscribed
	b.mu.Unlock()

	if convSub != nil {
		convSub.Close()
	}
	if userSub != nil {
		userSub.Close()
	}
	if unwatch != nil {
		unwatch()
	}
}

func (b *Bridge) State() BridgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) ConversationID() string {
	return b.conversationID
}

func (b *Bridge) fail() {
	b.mu.Lock()
	b.state = BridgeError
	b.mu.Unlock()
}

func (b *Bridge) handleConversationEvent(ev Event) {
	switch ev.Type {
	case EventMessageInserted:
		if ev.Message == nil {
			return
		}
		// Own sends arrive here too: the canonical row replaces the
		// optimistic placeholder before it is appended.
		if tempID, ok := b.tempFor(ev.Message.ID); ok {
			b.dispatch(DeleteMessage{ConversationID: ev.Message.ConversationID, MessageID: tempID})
		}
		b.dispatch(AddMessage{Message: *ev.Message})

	case EventMessageStatus:
		b.dispatch(UpdateMessageStatus{
			ConversationID: ev.ConversationID,
			MessageID:      ev.MessageID,
			Status:         ev.Status,
		})

	case EventMessageDeleted:
		b.dispatch(DeleteMessage{ConversationID: ev.ConversationID, MessageID: ev.MessageID})

	default:
		// Malformed or future event from a buggy producer; never throw.
	}
}

func (b *Bridge) handleUserEvent(ev Event) {
	if ev.Type != EventConversationUpdate || ev.Conversation == nil {
		return
	}
	b.dispatch(UpsertConversation{Conversation: *ev.Conversation})
}

// handleTransport reacts to connection health edges. Events missed during
// a gap are not replayed; the active page is refetched instead.
func (b *Bridge) handleTransport(state TransportState) {
	switch state {
	case TransportDown:
		b.mu.Lock()
		if b.state == BridgeSubscribed {
			b.state = BridgeError
		}
		b.mu.Unlock()

	case TransportUp:
		b.mu.Lock()
		recovering := b.state == BridgeError
		if recovering {
			b.state = BridgeSubscribed
		}
		b.mu.Unlock()

		if recovering {
			bridgeResubscribesTotal.Inc()
			log.Printf("messaging: bridge for conversation %s recovered, refetching", b.conversationID)
			if b.refetch != nil {
				go b.refetch(b.conversationID)
			}
		}
	}
}
