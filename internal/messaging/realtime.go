// internal/messaging/realtime.go
//
// Server-pushed change events. Scopes are either a conversation id (message
// inserts and status updates) or a user id (conversation metadata updates).
// The production implementation rides Redis pub/sub; tests substitute an
// in-process fake.

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type EventType string

const (
	EventMessageInserted    EventType = "message_inserted"
	EventMessageStatus      EventType = "message_status"
	EventMessageDeleted     EventType = "message_deleted"
	EventConversationUpdate EventType = "conversation_update"
)

// Event is one server-pushed change.
type Event struct {
	Type           EventType     `json:"type"`
	ConversationID string        `json:"conversation_id,omitempty"`
	MessageID      string        `json:"message_id,omitempty"`
	Status         MessageStatus `json:"status,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	Conversation   *Conversation `json:"conversation,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Scope addresses a stream: exactly one of the two fields is set.
type Scope struct {
	ConversationID string
	UserID         string
}

func ConversationScope(id string) Scope { return Scope{ConversationID: id} }

func UserScope(id string) Scope { return Scope{UserID: id} }

func (s Scope) channel() string {
	if s.ConversationID != "" {
		return fmt.Sprintf("messaging:conversation:%s", s.ConversationID)
	}
	return fmt.Sprintf("messaging:user:%s", s.UserID)
}

// TransportState reports the health of the underlying connection.
type TransportState int

const (
	TransportUp TransportState = iota
	TransportDown
)

// Subscription is the handle returned by Subscribe. Close is idempotent
// and releases the underlying stream.
type Subscription struct {
	ID string

	closeOnce sync.Once
	closeFn   func()
}

func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(s.closeFn)
}

// Realtime is the event collaborator consumed by the bridge and fed by the
// service after each successful write.
type Realtime interface {
	Subscribe(ctx context.Context, scope Scope, handler func(Event)) (*Subscription, error)
	Publish(ctx context.Context, scope Scope, event Event) error
	// Watch registers a transport health observer; the returned func
	// removes it.
	Watch(fn func(TransportState)) func()
}

// RedisRealtime implements Realtime over Redis pub/sub. A single monitor
// goroutine pings the connection and fans transport state out to watchers.
type RedisRealtime struct {
	client *redis.Client

	mu       sync.Mutex
	watchers map[string]func(TransportState)
	down     bool

	stop chan struct{}
	wg   sync.WaitGroup
}

const transportPingInterval = 5 * time.Second

func NewRedisRealtime(client *redis.Client) *RedisRealtime {
	rt := &RedisRealtime{
		client:   client,
		watchers: make(map[string]func(TransportState)),
		stop:     make(chan struct{}),
	}
	rt.wg.Add(1)
	go rt.monitor()
	return rt
}

func (rt *RedisRealtime) Subscribe(ctx context.Context, scope Scope, handler func(Event)) (*Subscription, error) {
	pubsub := rt.client.Subscribe(ctx, scope.channel())

	// Force the SUBSCRIBE round-trip so a dead transport fails here, not
	// on first delivery.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", scope.channel(), err)
	}

	done := make(chan struct{})
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Printf("realtime: dropping malformed event on %s: %v", scope.channel(), err)
					continue
				}
				handler(ev)
			case <-done:
				return
			}
		}
	}()

	return &Subscription{
		ID: uuid.NewString(),
		closeFn: func() {
			close(done)
			pubsub.Close()
		},
	}, nil
}

func (rt *RedisRealtime) Publish(ctx context.Context, scope Scope, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return rt.client.Publish(ctx, scope.channel(), data).Err()
}

func (rt *RedisRealtime) Watch(fn func(TransportState)) func() {
	id := uuid.NewString()
	rt.mu.Lock()
	rt.watchers[id] = fn
	rt.mu.Unlock()

	return func() {
		rt.mu.Lock()
		delete(rt.watchers, id)
		rt.mu.Unlock()
	}
}

func (rt *RedisRealtime) monitor() {
	defer rt.wg.Done()

	ticker := time.NewTicker(transportPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), transportPingInterval)
			err := rt.client.Ping(ctx).Err()
			cancel()
			rt.report(err != nil)
		case <-rt.stop:
			return
		}
	}
}

// report notifies watchers only on edges, not on every ping.
func (rt *RedisRealtime) report(down bool) {
	rt.mu.Lock()
	if rt.down == down {
		rt.mu.Unlock()
		return
	}
	rt.down = down
	fns := make([]func(TransportState), 0, len(rt.watchers))
	for _, fn := range rt.watchers {
		fns = append(fns, fn)
	}
	rt.mu.Unlock()

	state := TransportUp
	if down {
		state = TransportDown
	}
	for _, fn := range fns {
		fn(state)
	}
}

func (rt *RedisRealtime) Close() {
	close(rt.stop)
	rt.wg.Wait()
}
