// Package eventbus implements the Task Event Bus (C4): an ordered,
// replayable, heartbeat-augmented publish-subscribe stream of
// models.TaskEvent values scoped to a single task's lifetime.
package eventbus

import (
	"sync"
	"time"

	"github.com/CoreSpeed-io/zypher-agent/pkg/models"
)

// DefaultHeartbeatInterval is the quiet-period threshold after which a
// synthetic heartbeat event is injected.
const DefaultHeartbeatInterval = 30 * time.Second

// Bus delivers live ordered events to current subscribers, retains every
// event for late or reconnecting subscribers for the task's lifetime, and
// injects heartbeats during quiet periods. All emitted events are stamped
// with a strictly increasing models.TaskEventID via its own generator, since
// generation is process-local and caller-agnostic (§4.4).
type Bus struct {
	mu sync.Mutex

	gen      *models.TaskEventIDGenerator
	buffer   []models.TaskEvent
	latest   models.TaskEventID
	hasEvent bool

	subs      map[int]chan models.TaskEvent
	nextSubID int
	done      bool

	interval time.Duration
	resetCh  chan struct{}
	stopCh   chan struct{}

	failErr error
}

// New constructs a Bus with the given heartbeat interval (DefaultHeartbeatInterval if <= 0).
func New(heartbeatInterval time.Duration) *Bus {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	b := &Bus{
		gen:      models.NewTaskEventIDGenerator(),
		subs:     make(map[int]chan models.TaskEvent),
		interval: heartbeatInterval,
		resetCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
	go b.heartbeatLoop()
	return b
}

// Emit stamps ev with the next event ID, retains it in the replay buffer,
// broadcasts it to every live subscriber, and resets the heartbeat timer.
// It is a no-op returning the zero event after Complete.
func (b *Bus) Emit(ev models.TaskEvent) models.TaskEvent {
	stamped, ok := b.record(ev)
	if !ok {
		return models.TaskEvent{}
	}
	b.signalReset()
	return stamped
}

// record stamps and stores ev under the bus lock, reporting false if the bus
// has already completed.
func (b *Bus) record(ev models.TaskEvent) (models.TaskEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return models.TaskEvent{}, false
	}
	ev.ID = b.gen.Next()
	b.buffer = append(b.buffer, ev)
	b.latest = ev.ID
	b.hasEvent = true
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
	return ev, true
}

func (b *Bus) signalReset() {
	select {
	case b.resetCh <- struct{}{}:
	default:
	}
}

// Subscribe registers a channel that first receives every event retained so
// far, in order, then every subsequent live event. The returned function
// unsubscribes. buf sizes the live portion of the channel beyond the replay
// backlog.
func (b *Bus) Subscribe(buf int) (<-chan models.TaskEvent, func()) {
	b.mu.Lock()
	ch := make(chan models.TaskEvent, len(b.buffer)+buf)
	for _, ev := range b.buffer {
		ch <- ev
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() { b.unsubscribe(id) }
}

// Resume subscribes with the resume filter applied to the replay backlog
// (§4.4): events not strictly after clientLastEventID are dropped, and any
// tool_use_pending_approval strictly before the bus's latest event ID at
// subscribe time is dropped. Either pointer may be nil.
func (b *Bus) Resume(clientLastEventID *models.TaskEventID, buf int) (<-chan models.TaskEvent, func()) {
	b.mu.Lock()
	var serverLatest *models.TaskEventID
	if b.hasEvent {
		latest := b.latest
		serverLatest = &latest
	}
	filtered := FilterForResume(b.buffer, clientLastEventID, serverLatest)
	ch := make(chan models.TaskEvent, len(filtered)+buf)
	for _, ev := range filtered {
		ch <- ev
	}
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int) {
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Complete stops the heartbeat timer and closes every subscriber channel.
// Any Emit after Complete is a no-op, matching §4.4's "upstream completion
// cancels the timer and propagates."
func (b *Bus) Complete() {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.done = true
	subs := b.subs
	b.subs = make(map[int]chan models.TaskEvent)
	b.mu.Unlock()

	close(b.stopCh)
	for _, ch := range subs {
		close(ch)
	}
}

// Fail records err and completes the bus, per §7: an unexpected exception
// propagates through the bus's error channel rather than as an event. A
// subscriber observes this as its channel closing; Err then reports why.
func (b *Bus) Fail(err error) {
	b.mu.Lock()
	if b.done {
		b.mu.Unlock()
		return
	}
	b.failErr = err
	b.mu.Unlock()
	b.Complete()
}

// Err returns the error passed to Fail, or nil if the bus completed normally
// (or hasn't completed yet).
func (b *Bus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failErr
}

// heartbeatLoop emits a synthetic heartbeat event after interval of quiet,
// rescheduling on every real Emit and on its own firing, until Complete.
func (b *Bus) heartbeatLoop() {
	timer := time.NewTimer(b.interval)
	defer timer.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-b.resetCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(b.interval)
		case <-timer.C:
			b.record(models.TaskEvent{Type: models.TaskEventHeartbeat, HeartbeatAt: time.Now().UnixMilli()})
			timer.Reset(b.interval)
		}
	}
}
