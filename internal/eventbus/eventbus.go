package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrClosed возвращается при публикации в закрытую шину.
var ErrClosed = errors.New("eventbus: closed")

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	ID            string            `json:"id"`                       // UUID события.
	Timestamp     time.Time         `json:"timestamp"`                // Время создания события (UTC).
	Source        string            `json:"source"`                   // Имя сервиса-источника.
	EventType     string            `json:"event_type"`               // HeightmapGenerated, HeightmapDeleted…
	Version       int               `json:"version"`                  // Схема полезной нагрузки.
	CorrelationID string            `json:"correlation_id,omitempty"` // Для связывания цепочек.
	Priority      int               `json:"priority"`                 // 0=Low … 9=Critical (для backpressure).
	Payload       []byte            `json:"payload"`                  // JSON полезной нагрузки.
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope создаёт событие с новым UUID и JSON полезной нагрузкой.
func NewEnvelope(source, eventType string, priority int, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  priority,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку в v.
func (ev *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(ev.Payload, v)
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Пусто: все типы.
	Sources []string // Пусто: все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
// Реализации: in-memory и NATS JetStream.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
	stats       Stats
	buffer      chan *Envelope
	capacity    int
	statsMu     sync.Mutex
	closeMu     sync.RWMutex
	closed      bool
	handlers    sync.WaitGroup
	done        chan struct{}
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory Bus с указанным буфером.
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		capacity:    capacity,
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	// RLock удерживается до отправки, чтобы Close не закрыл buffer под нами
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.buffer <- ev:
		mb.count(&mb.stats.Published)
		return nil
	default:
		// Буфер заполнен, дропаём низкий приоритет (<5)
		if ev.Priority < 5 {
			mb.count(&mb.stats.Dropped)
			return nil
		}
		// Для High-priority блокируем до освобождения места или отмены контекста
		select {
		case mb.buffer <- ev:
			mb.count(&mb.stats.Published)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) count(c *uint64) {
	mb.statsMu.Lock()
	*c++
	mb.statsMu.Unlock()
}

func (mb *memoryBus) Metrics() Stats {
	mb.statsMu.Lock()
	defer mb.statsMu.Unlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

// Close прекращает приём событий, доставляет накопленные и ждёт обработчиков.
func (mb *memoryBus) Close() error {
	mb.closeMu.Lock()
	if mb.closed {
		mb.closeMu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.buffer)
	mb.closeMu.Unlock()

	<-mb.done
	mb.handlers.Wait()

	mb.mu.Lock()
	for id, sub := range mb.subscribers {
		sub.cancel()
		delete(mb.subscribers, id)
	}
	mb.mu.Unlock()
	return nil
}

// dispatchLoop рассылает события подписчикам.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)
	for ev := range mb.buffer {
		ev := ev
		mb.mu.RLock()
		subs := make([]subscriber, 0, len(mb.subscribers))
		for _, sub := range mb.subscribers {
			subs = append(subs, sub)
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			if !matchFilter(ev, sub.filter) {
				continue
			}
			mb.handlers.Add(1)
			go func(s subscriber) {
				defer mb.handlers.Done()
				select {
				case <-s.ctx.Done():
					return
				default:
					s.handler(s.ctx, ev)
					mb.count(&mb.stats.Consumed)
				}
			}(sub)
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
