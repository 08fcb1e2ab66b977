// internal/messaging/client.go

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024
)

// ClientFrame is one inbound websocket command from the UI.
type ClientFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
	MessageType    string `json:"message_type,omitempty"`
	AttachmentURL  string `json:"attachment_url,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Status         string `json:"status,omitempty"`
	Page           int    `json:"page,omitempty"`
}

// ServerFrame is one outbound state change pushed to the UI.
type ServerFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client pumps one websocket connection and relays frames to its session.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	session *Session

	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, session *Session) *Client {
	c := &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		session: session,
	}
	session.OnChange(c.pushChange)
	return c
}

func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.session.Close()
		c.conn.Close()
	})
}

// unregisterFromHub hands the client back to the hub loop. A hub that has
// already shut down no longer drains the channel, so never block on it.
func (c *Client) unregisterFromHub() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.ctx.Done():
	}
}

func (c *Client) readPump() {
	defer c.unregisterFromHub()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("messaging: websocket error for %s: %v", c.session.UserID(), err)
			}
			break
		}

		c.processFrame(data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) processFrame(data []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("messaging: dropping malformed frame from %s: %v", c.session.UserID(), err)
		return
	}

	ctx, cancel := context.WithTimeout(c.hub.ctx, 30*time.Second)
	defer cancel()

	switch frame.Type {
	case "open_conversation":
		if err := c.session.OpenConversation(ctx, frame.ConversationID); err != nil {
			log.Printf("messaging: open conversation failed for %s: %v", c.session.UserID(), err)
		}

	case "close_conversation":
		c.session.CloseConversation(frame.ConversationID)

	case "send_message":
		msgType := ParseMessageType(frame.MessageType)
		if _, err := c.session.Send(ctx, frame.ConversationID, frame.Content, msgType, frame.AttachmentURL); err != nil {
			log.Printf("messaging: send failed for %s: %v", c.session.UserID(), err)
		}

	case "mark_read":
		if err := c.session.MarkRead(ctx, frame.ConversationID); err != nil {
			log.Printf("messaging: mark read failed for %s: %v", c.session.UserID(), err)
		}

	case "load_more":
		if _, err := c.session.LoadMoreMessages(ctx, frame.ConversationID, frame.Page); err != nil && !errors.Is(err, ErrStaleFetch) {
			log.Printf("messaging: load more failed for %s: %v", c.session.UserID(), err)
		}

	case "message_status":
		if err := c.hub.service.AdvanceMessageStatus(ctx, frame.ConversationID, frame.MessageID, ParseMessageStatus(frame.Status)); err != nil {
			log.Printf("messaging: status update failed for %s: %v", c.session.UserID(), err)
		}

	default:
		log.Printf("messaging: unknown frame type %q from %s", frame.Type, c.session.UserID())
	}
}

// pushChange relays every applied store action to the UI as a typed frame.
func (c *Client) pushChange(action Action, state State) {
	frame := frameForAction(action)
	if frame == nil {
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("messaging: failed to marshal frame: %v", err)
		return
	}

	select {
	case c.send <- data:
	default:
		// Slow consumer; drop the connection rather than block the hub.
		go c.unregisterFromHub()
	}
}

func frameForAction(action Action) *ServerFrame {
	now := time.Now()

	switch a := action.(type) {
	case SetConversations:
		return &ServerFrame{Type: "conversations", Data: mustMarshal(a.Conversations), Timestamp: now}
	case SetMessages:
		return &ServerFrame{Type: "messages", Data: mustMarshal(map[string]interface{}{
			"conversation_id": a.ConversationID,
			"messages":        a.Messages,
		}), Timestamp: now}
	case AddMessage:
		return &ServerFrame{Type: "message", Data: mustMarshal(a.Message), Timestamp: now}
	case DeleteMessage:
		return &ServerFrame{Type: "message_deleted", Data: mustMarshal(map[string]string{
			"conversation_id": a.ConversationID,
			"message_id":      a.MessageID,
		}), Timestamp: now}
	case UpdateMessageStatus:
		return &ServerFrame{Type: "message_status", Data: mustMarshal(map[string]string{
			"conversation_id": a.ConversationID,
			"message_id":      a.MessageID,
			"status":          string(a.Status),
		}), Timestamp: now}
	case MarkConversationRead:
		return &ServerFrame{Type: "conversation_read", Data: mustMarshal(map[string]string{
			"conversation_id": a.ConversationID,
		}), Timestamp: now}
	case UpsertConversation:
		return &ServerFrame{Type: "conversation", Data: mustMarshal(a.Conversation), Timestamp: now}
	case SetError:
		if a.Err == "" {
			return nil
		}
		return &ServerFrame{Type: "error", Data: mustMarshal(map[string]string{"message": a.Err}), Timestamp: now}
	default:
		// Loading toggles and unknown actions are not pushed.
		return nil
	}
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("messaging: marshal error: %v", err)
		return json.RawMessage(`{}`)
	}
	return data
}
