package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"attendtrack/internal/clock"
)

// Kind is the severity of a toast.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// maxActive bounds the queue; the oldest toast is evicted first.
const maxActive = 50

// Toast is a transient message shown to dashboard users.
type Toast struct {
	ID        string        `json:"id"`
	Kind      Kind          `json:"type"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Notifier is the publishing side of the bus, accepted by the containers
// that emit toasts.
type Notifier interface {
	Publish(kind Kind, title, message string) Toast
}

// Bus is an in-memory queue of toasts with auto-expiry.
type Bus struct {
	mu     sync.Mutex
	clock  clock.Clock
	ttl    time.Duration
	toasts []Toast
	timers map[string]clock.Timer
	subs   map[int]chan Toast
	nextID int
	log    *logrus.Entry
}

// NewBus creates a bus whose toasts expire after ttl.
func NewBus(clk clock.Clock, ttl time.Duration, log *logrus.Entry) *Bus {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Bus{
		clock:  clk,
		ttl:    ttl,
		timers: make(map[string]clock.Timer),
		subs:   make(map[int]chan Toast),
		log:    log,
	}
}

// Publish enqueues a toast, schedules its expiry and fans it out to
// subscribers.
func (b *Bus) Publish(kind Kind, title, message string) Toast {
	toast := Toast{
		ID:        uuid.NewString(),
		Kind:      kind,
		Title:     title,
		Message:   message,
		Duration:  b.ttl,
		CreatedAt: b.clock.Now(),
	}

	b.mu.Lock()
	if len(b.toasts) >= maxActive {
		evicted := b.toasts[0]
		b.toasts = b.toasts[1:]
		if t, ok := b.timers[evicted.ID]; ok {
			t.Stop()
			delete(b.timers, evicted.ID)
		}
	}
	b.toasts = append(b.toasts, toast)
	id := toast.ID
	b.timers[id] = b.clock.AfterFunc(b.ttl, func() { b.expire(id) })
	for _, ch := range b.subs {
		select {
		case ch <- toast:
		default:
		}
	}
	b.mu.Unlock()

	if b.log != nil {
		b.log.WithFields(logrus.Fields{"type": kind, "title": title}).Debug(message)
	}
	return toast
}

func (b *Bus) Success(title, message string) Toast { return b.Publish(KindSuccess, title, message) }
func (b *Bus) Error(title, message string) Toast   { return b.Publish(KindError, title, message) }
func (b *Bus) Warning(title, message string) Toast { return b.Publish(KindWarning, title, message) }
func (b *Bus) Info(title, message string) Toast    { return b.Publish(KindInfo, title, message) }

// Active returns the unexpired toasts, oldest first.
func (b *Bus) Active() []Toast {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Toast, len(b.toasts))
	copy(out, b.toasts)
	return out
}

// Dismiss removes a toast before it expires.
func (b *Bus) Dismiss(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.timers[id]; ok {
		t.Stop()
		delete(b.timers, id)
	}
	return b.removeLocked(id)
}

// Subscribe returns a channel receiving every toast published after the
// call. Slow subscribers miss toasts rather than block publishers.
func (b *Bus) Subscribe(buffer int) (<-chan Toast, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Toast, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Close stops pending expiry timers.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
}

func (b *Bus) expire(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.timers, id)
	b.removeLocked(id)
}

func (b *Bus) removeLocked(id string) bool {
	for i, t := range b.toasts {
		if t.ID == id {
			b.toasts = append(b.toasts[:i], b.toasts[i+1:]...)
			return true
		}
	}
	return false
}
