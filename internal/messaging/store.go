// internal/messaging/store.go
//
// Pure state transitions over the in-memory conversation/message cache.
// Reduce never does I/O and never panics; everything that talks to the
// network funnels its results through here as actions.

package messaging

// State is the aggregate cache held per session. Transitions are
// copy-on-write: Reduce returns a new value and leaves its input intact,
// so a previous snapshot stays valid for change detection.
type State struct {
	Conversations []Conversation
	// Messages maps conversation id to its chronological message sequence,
	// unique by message id within a conversation.
	Messages map[string][]Message
	Loading  bool
	Err      string
}

// NewState returns an empty cache.
func NewState() State {
	return State{Messages: make(map[string][]Message)}
}

// Action is a state transition request. Reduce switches on the concrete
// type; anything it does not recognize leaves the state unchanged.
type Action interface{}

// SetConversations replaces the conversation collection wholesale.
type SetConversations struct {
	Conversations []Conversation
}

// SetMessages replaces the full message sequence for one conversation,
// used after a fresh page load. It overwrites, never merges.
type SetMessages struct {
	ConversationID string
	Messages       []Message
}

// AddMessage appends a message to its conversation's sequence. Duplicate
// ids are dropped; de-duplication is strictly by id, never by content.
type AddMessage struct {
	Message Message
}

// DeleteMessage removes one message from one conversation's sequence.
// Other conversations are never scanned.
type DeleteMessage struct {
	ConversationID string
	MessageID      string
}

// UpdateMessageStatus advances a message's delivery status. Regressions
// (read -> sent) are silently ignored.
type UpdateMessageStatus struct {
	ConversationID string
	MessageID      string
	Status         MessageStatus
}

// MarkConversationRead zeroes a conversation's unread count. Individual
// message statuses are untouched.
type MarkConversationRead struct {
	ConversationID string
}

// UpsertConversation replaces a conversation by id, or appends it when
// unknown. Carries last-activity and unread bumps from the realtime feed.
type UpsertConversation struct {
	Conversation Conversation
}

// SetLoading toggles the coarse request-lifecycle flag.
type SetLoading struct {
	Loading bool
}

// SetError sets the coarse error banner text; empty clears it.
type SetError struct {
	Err string
}

// Reduce applies one action and returns the resulting state. It is total:
// unknown actions return the input unchanged.
func Reduce(s State, action Action) State {
	switch a := action.(type) {
	case SetConversations:
		s.Conversations = a.Conversations
		return s

	case SetMessages:
		s.Messages = cloneMessageMap(s.Messages)
		s.Messages[a.ConversationID] = a.Messages
		return s

	case AddMessage:
		msgs := s.Messages[a.Message.ConversationID]
		// Newest messages live at the tail, so a duplicate delivered twice
		// in quick succession is found almost immediately.
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].ID == a.Message.ID {
				return s
			}
		}
		s.Messages = cloneMessageMap(s.Messages)
		s.Messages[a.Message.ConversationID] = append(msgs[:len(msgs):len(msgs)], a.Message)
		return s

	case DeleteMessage:
		msgs, ok := s.Messages[a.ConversationID]
		if !ok {
			return s
		}
		idx := indexOfMessage(msgs, a.MessageID)
		if idx < 0 {
			return s
		}
		out := make([]Message, 0, len(msgs)-1)
		out = append(out, msgs[:idx]...)
		out = append(out, msgs[idx+1:]...)
		s.Messages = cloneMessageMap(s.Messages)
		s.Messages[a.ConversationID] = out
		return s

	case UpdateMessageStatus:
		msgs, ok := s.Messages[a.ConversationID]
		if !ok {
			return s
		}
		idx := indexOfMessage(msgs, a.MessageID)
		if idx < 0 {
			return s
		}
		if statusRank[a.Status] <= statusRank[msgs[idx].Status] {
			return s
		}
		out := append([]Message(nil), msgs...)
		out[idx].Status = a.Status
		s.Messages = cloneMessageMap(s.Messages)
		s.Messages[a.ConversationID] = out
		return s

	case MarkConversationRead:
		idx := indexOfConversation(s.Conversations, a.ConversationID)
		if idx < 0 {
			return s
		}
		out := append([]Conversation(nil), s.Conversations...)
		out[idx].UnreadCount = 0
		s.Conversations = out
		return s

	case UpsertConversation:
		idx := indexOfConversation(s.Conversations, a.Conversation.ID)
		if idx < 0 {
			s.Conversations = append(s.Conversations[:len(s.Conversations):len(s.Conversations)], a.Conversation)
			return s
		}
		out := append([]Conversation(nil), s.Conversations...)
		out[idx] = a.Conversation
		s.Conversations = out
		return s

	case SetLoading:
		s.Loading = a.Loading
		return s

	case SetError:
		s.Err = a.Err
		return s

	default:
		return s
	}
}

func cloneMessageMap(in map[string][]Message) map[string][]Message {
	out := make(map[string][]Message, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func indexOfMessage(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOfConversation(convs []Conversation, id string) int {
	for i := range convs {
		if convs[i].ID == id {
			return i
		}
	}
	return -1
}
