package wizard

import "sync"

type EventKind string

const (
	EventChanged   EventKind = "changed"
	EventTasks     EventKind = "tasks"
	EventFailed    EventKind = "failed"
	EventCompleted EventKind = "completed"
	EventReset     EventKind = "reset"
)

// Event is published once per wizard mutation and carries the resulting view.
type Event struct {
	Kind EventKind `json:"kind"`
	View View      `json:"view"`
}

type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (b *broadcaster) subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = map[int]chan Event{}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish never blocks. A full subscriber loses its oldest event, so the
// newest view is always delivered.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}
