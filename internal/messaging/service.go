// internal/messaging/service.go

package messaging

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/Mawa444/conso-gab-sub006/internal/common/utils"
)

// PageSize is the fixed message page length for conversation history.
const PageSize = 50

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrNotMember            = errors.New("not a member of this conversation")
	ErrInvalidMessage       = errors.New("invalid message payload")

	// ErrStaleFetch marks a page response that lost the race against a
	// newer fetch for the same conversation. Callers must discard it.
	ErrStaleFetch = errors.New("stale fetch response")
)

// Presence reports whether a user currently has a live session. Used to
// decide between realtime delivery and offline notification.
type Presence interface {
	IsUserOnline(userID string) bool
}

type Service interface {
	// Conversations
	CreateConversation(ctx context.Context, creatorID string, req *CreateConversationRequest) (*Conversation, error)
	FetchConversations(ctx context.Context, userID string) ([]Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID, userID string) error

	// Messages
	FetchConversationMessages(ctx context.Context, userID, conversationID string, page int) ([]Message, error)
	SendMessage(ctx context.Context, req *SendMessageRequest) (*Message, error)
	DeleteMessage(ctx context.Context, conversationID, messageID, userID string) error
	AdvanceMessageStatus(ctx context.Context, conversationID, messageID string, status MessageStatus) error

	// Optimistic sends
	NewTempMessage(conversationID, senderID, content string, msgType MessageType, attachmentURL string) Message
	TempFor(canonicalID string) (string, bool)

	// Presence is wired after construction to avoid a cycle with the hub.
	SetPresence(p Presence)
}

// MessageService orchestrates the repository, the realtime publisher and
// the profile directory. It never touches session state directly; results
// flow back to the store as dispatched actions.
type MessageService struct {
	repo     Repository
	profiles ProfileDirectory
	realtime Realtime
	notifier Notifier
	presence Presence

	temps   tempTracker
	fetches fetchGuard

	tempSeq atomic.Int64
}

func NewService(repo Repository, profiles ProfileDirectory, realtime Realtime, notifier Notifier) *MessageService {
	return &MessageService{
		repo:     repo,
		profiles: profiles,
		realtime: realtime,
		notifier: notifier,
		temps:    tempTracker{byCanonical: make(map[string]string), byTemp: make(map[string]string)},
		fetches:  fetchGuard{seq: make(map[fetchKey]uint64)},
	}
}

func (s *MessageService) SetPresence(p Presence) {
	s.presence = p
}

func (s *MessageService) CreateConversation(ctx context.Context, creatorID string, req *CreateConversationRequest) (*Conversation, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	conv := &Conversation{
		Title:     req.Title,
		CreatedAt: time.Now().UTC(),
	}
	if req.BusinessID != "" {
		conv.BusinessID = &req.BusinessID
	}

	members := append([]string{creatorID}, req.MemberIDs...)
	if err := s.repo.CreateConversation(ctx, conv, members); err != nil {
		return nil, err
	}

	for _, userID := range members {
		s.publish(ctx, UserScope(userID), Event{
			Type:           EventConversationUpdate,
			ConversationID: conv.ID,
			Conversation:   conv,
		})
	}

	return conv, nil
}

func (s *MessageService) FetchConversations(ctx context.Context, userID string) ([]Conversation, error) {
	return s.repo.ListUserConversations(ctx, userID)
}

func (s *MessageService) MarkConversationRead(ctx context.Context, conversationID, userID string) error {
	if err := s.repo.ResetUnread(ctx, conversationID, userID); err != nil {
		return err
	}

	conv, err := s.repo.GetConversationForUser(ctx, conversationID, userID)
	if err == nil {
		s.publish(ctx, UserScope(userID), Event{
			Type:           EventConversationUpdate,
			ConversationID: conversationID,
			Conversation:   conv,
		})
	}
	return nil
}

// FetchConversationMessages loads one page in chronological ascending
// order and enriches senders from a single batched profile lookup. A page
// that was overtaken by a newer fetch from the same viewer for the same
// conversation comes back as ErrStaleFetch so it can never overwrite
// fresher state. Other viewers' fetches never interfere.
func (s *MessageService) FetchConversationMessages(ctx context.Context, userID, conversationID string, page int) ([]Message, error) {
	if page < 0 {
		page = 0
	}
	token := s.fetches.begin(userID, conversationID)

	timer := time.Now()
	messages, err := s.repo.ListConversationMessages(ctx, conversationID, PageSize, page*PageSize)
	if err != nil {
		return nil, err
	}
	observeFetchDuration(time.Since(timer))

	senderIDs := make([]string, 0, len(messages))
	for i := range messages {
		senderIDs = append(senderIDs, messages[i].SenderID)
	}
	profiles, err := s.profiles.GetProfiles(ctx, senderIDs)
	if err != nil {
		// Degrade to unresolved senders rather than failing the page.
		log.Printf("messaging: profile enrichment failed for conversation %s: %v", conversationID, err)
		profiles = map[string]SenderProfile{}
	}
	for i := range messages {
		if p, ok := profiles[messages[i].SenderID]; ok {
			sender := p
			messages[i].Sender = &sender
		}
	}

	if !s.fetches.current(userID, conversationID, token) {
		staleFetchesTotal.Inc()
		return nil, ErrStaleFetch
	}
	return messages, nil
}

// SendMessage validates, persists and fans out one message. The canonical
// id is minted before the insert so the temp-id mapping exists by the time
// the realtime event can possibly arrive.
func (s *MessageService) SendMessage(ctx context.Context, req *SendMessageRequest) (*Message, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	isMember, err := s.repo.IsMember(ctx, req.ConversationID, req.SenderID)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, ErrNotMember
	}

	message := &Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		MessageType:    ParseMessageType(req.MessageType),
		ReplyToID:      req.ReplyToID,
		Status:         StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	if req.AttachmentURL != "" {
		message.AttachmentURL = &req.AttachmentURL
	}

	if req.TempID != "" {
		s.temps.bind(req.TempID, message.ID)
	}

	if err := s.repo.InsertMessage(ctx, message); err != nil {
		if req.TempID != "" {
			s.temps.release(req.TempID)
		}
		return nil, err
	}

	preview := previewFor(message)
	if err := s.repo.TouchConversation(ctx, message.ConversationID, preview, message.CreatedAt); err != nil {
		log.Printf("messaging: failed to touch conversation %s: %v", message.ConversationID, err)
	}
	if err := s.repo.IncrementUnread(ctx, message.ConversationID, message.SenderID); err != nil {
		log.Printf("messaging: failed to bump unread counts for %s: %v", message.ConversationID, err)
	}

	s.publish(ctx, ConversationScope(message.ConversationID), Event{
		Type:           EventMessageInserted,
		ConversationID: message.ConversationID,
		MessageID:      message.ID,
		Message:        message,
	})
	s.fanOutConversationUpdate(ctx, message)

	messagesSentTotal.WithLabelValues(string(message.MessageType)).Inc()
	return message, nil
}

// fanOutConversationUpdate pushes per-member conversation metadata (new
// unread count, last-activity bump) on each member's user scope, and hands
// offline members to the notifier.
func (s *MessageService) fanOutConversationUpdate(ctx context.Context, message *Message) {
	members, err := s.repo.ListMemberIDs(ctx, message.ConversationID)
	if err != nil {
		log.Printf("messaging: failed to list members of %s: %v", message.ConversationID, err)
		return
	}

	var offline []string
	for _, userID := range members {
		if userID == message.SenderID {
			continue
		}

		conv, err := s.repo.GetConversationForUser(ctx, message.ConversationID, userID)
		if err != nil {
			continue
		}
		s.publish(ctx, UserScope(userID), Event{
			Type:           EventConversationUpdate,
			ConversationID: message.ConversationID,
			Conversation:   conv,
		})

		if s.presence == nil || !s.presence.IsUserOnline(userID) {
			offline = append(offline, userID)
		}
	}

	if s.notifier != nil && len(offline) > 0 {
		go s.notifier.NotifyOffline(context.Background(), message, offline)
	}
}

func (s *MessageService) DeleteMessage(ctx context.Context, conversationID, messageID, userID string) error {
	isMember, err := s.repo.IsMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !isMember {
		return ErrNotMember
	}

	if err := s.repo.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return err
	}

	s.publish(ctx, ConversationScope(conversationID), Event{
		Type:           EventMessageDeleted,
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	return nil
}

// AdvanceMessageStatus applies a monotonic status transition. A rejected
// regression is a no-op, not an error; the reducer mirrors the same rule.
func (s *MessageService) AdvanceMessageStatus(ctx context.Context, conversationID, messageID string, status MessageStatus) error {
	if _, ok := statusRank[status]; !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidMessage, status)
	}

	applied, err := s.repo.UpdateMessageStatus(ctx, conversationID, messageID, status)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.publish(ctx, ConversationScope(conversationID), Event{
		Type:           EventMessageStatus,
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         status,
	})
	return nil
}

// NewTempMessage builds the optimistic placeholder shown in the UI before
// the network round-trip completes. Ids are temp-<monotonic ns>; the
// atomic counter keeps them strictly increasing even within one tick.
func (s *MessageService) NewTempMessage(conversationID, senderID, content string, msgType MessageType, attachmentURL string) Message {
	now := time.Now()
	seq := s.tempSeq.Add(1)

	m := Message{
		ID:             fmt.Sprintf("%s%d-%d", tempIDPrefix, now.UnixNano(), seq),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    msgType,
		Status:         StatusSent,
		CreatedAt:      now.UTC(),
	}
	if attachmentURL != "" {
		m.AttachmentURL = &attachmentURL
	}
	return m
}

// TempFor returns the outstanding temp id for a canonical id, consuming
// the mapping. The bridge uses it to swap the placeholder exactly once.
func (s *MessageService) TempFor(canonicalID string) (string, bool) {
	return s.temps.take(canonicalID)
}

func (s *MessageService) publish(ctx context.Context, scope Scope, ev Event) {
	if s.realtime == nil {
		return
	}
	if err := s.realtime.Publish(ctx, scope, ev); err != nil {
		log.Printf("messaging: publish %s failed: %v", ev.Type, err)
	}
}

const previewMaxBytes = 120

func previewFor(m *Message) string {
	switch m.MessageType {
	case TypeText, TypeQuote, TypeSystem, TypeAction:
		return truncatePreview(m.Content)
	case TypeImage:
		return "Sent an image"
	case TypeVideo:
		return "Sent a video"
	case TypeAudio:
		return "Sent an audio message"
	case TypeDocument, TypeFile:
		return "Sent a file"
	case TypeLocation:
		return "Shared a location"
	case TypeOrder:
		return "Sent an order"
	case TypeReservation:
		return "Sent a reservation"
	default:
		return "Sent a message"
	}
}

// truncatePreview cuts on a rune boundary so a multi-byte character is
// never split into invalid UTF-8.
func truncatePreview(content string) string {
	if len(content) <= previewMaxBytes {
		return content
	}
	cut := previewMaxBytes
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut]
}

// tempTracker holds the temp-id <-> canonical-id mapping recorded at send
// time. Reconciliation is a deterministic swap, never content matching.
type tempTracker struct {
	mu          sync.Mutex
	byCanonical map[string]string
	byTemp      map[string]string
}

func (t *tempTracker) bind(tempID, canonicalID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byCanonical[canonicalID] = tempID
	t.byTemp[tempID] = canonicalID
}

func (t *tempTracker) release(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if canonical, ok := t.byTemp[tempID]; ok {
		delete(t.byCanonical, canonical)
		delete(t.byTemp, tempID)
	}
}

func (t *tempTracker) take(canonicalID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tempID, ok := t.byCanonical[canonicalID]
	if ok {
		delete(t.byCanonical, canonicalID)
		delete(t.byTemp, tempID)
	}
	return tempID, ok
}

// fetchGuard hands out sequence tokens per viewer and conversation so
// that only that viewer's most recently started fetch may apply its
// response. Scoping by conversation alone would let independent viewers
// of the same conversation cancel each other's pages.
type fetchGuard struct {
	mu  sync.Mutex
	seq map[fetchKey]uint64
}

type fetchKey struct {
	userID         string
	conversationID string
}

func (g *fetchGuard) begin(userID, conversationID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := fetchKey{userID: userID, conversationID: conversationID}
	g.seq[key]++
	return g.seq[key]
}

func (g *fetchGuard) current(userID, conversationID string, token uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq[fetchKey{userID: userID, conversationID: conversationID}] == token
}
