package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Counter receives per-category event counts. telemetry.Counters satisfies
// it, which puts the counts on /diagnostics.
type Counter interface {
	Add(key string, delta uint64)
}

// CategoryOther collects events whose category has no lane of its own.
const CategoryOther = "other"

// Categories lists the lanes a Router keeps, in reporting order.
var Categories = []string{CategorySimulation, CategoryRelay, CategoryLifecycle, CategoryOther}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithCounter mirrors lane counts into c as logging.<category>.<outcome>.
func WithCounter(c Counter) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.counter = c
		}
	}
}

// CategoryStats counts what happened to one category's events.
type CategoryStats struct {
	Published uint64 `json:"published"`
	Filtered  uint64 `json:"filtered"`
	Dropped   uint64 `json:"dropped"`
}

type RouterStats struct {
	EventsTotal  uint64                   `json:"eventsTotal"`
	DroppedTotal uint64                   `json:"droppedTotal"`
	Categories   map[string]CategoryStats `json:"categories"`
}

// Router sends events through one lane per category, so a burst of per-tick
// simulation events cannot crowd relay or lifecycle events out of the
// buffer. Each lane has its own minimum severity. Publish never blocks.
type Router struct {
	clock    Clock
	fields   map[string]any
	fallback *log.Logger
	counter  Counter
	warnGap  time.Duration

	lanes   map[string]*lane
	outlets []*outlet

	mu      sync.RWMutex
	closed  bool
	lanesWG sync.WaitGroup
	sinksWG sync.WaitGroup
}

type lane struct {
	category string
	minimum  Severity
	queue    chan Event

	published atomic.Uint64
	filtered  atomic.Uint64
	dropped   atomic.Uint64
	quietTill atomic.Int64
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink, opts ...RouterOption) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 512
	}
	warnGap := cfg.DropWarnInterval
	if warnGap <= 0 {
		warnGap = 5 * time.Second
	}
	r := &Router{
		clock:    clock,
		fields:   cfg.CloneFields(),
		fallback: log.New(os.Stderr, "[logging] ", log.LstdFlags),
		warnGap:  warnGap,
		lanes:    make(map[string]*lane, len(Categories)),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, category := range Categories {
		r.lanes[category] = &lane{
			category: category,
			minimum:  cfg.SeverityFor(category),
			queue:    make(chan Event, bufferSize),
		}
	}

	outletBuffer := min(max(bufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink != nil {
			r.outlets = append(r.outlets, newOutlet(named.Name, named.Sink, outletBuffer, r.fallback))
		}
	}

	for _, o := range r.outlets {
		r.sinksWG.Add(1)
		go func(o *outlet) {
			defer r.sinksWG.Done()
			o.run()
		}(o)
	}
	for _, l := range r.lanes {
		r.lanesWG.Add(1)
		go func(l *lane) {
			defer r.lanesWG.Done()
			r.pump(l)
		}(l)
	}
	return r
}

func (r *Router) laneFor(category string) *lane {
	if l, ok := r.lanes[category]; ok {
		return l
	}
	return r.lanes[CategoryOther]
}

// Publish queues event on its category's lane. Events below the lane's
// minimum severity are counted as filtered; events that find the lane full
// are counted as dropped.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	l := r.laneFor(event.Category)
	if event.Severity < l.minimum {
		l.filtered.Add(1)
		r.count(l, "filtered")
		return
	}
	select {
	case l.queue <- event:
	default:
		l.dropped.Add(1)
		r.count(l, "dropped")
		r.warnDrop(l, event)
	}
}

// pump stamps and decorates a lane's events and hands them to every sink
// until the lane is closed and empty.
func (r *Router) pump(l *lane) {
	for event := range l.queue {
		if event.Time.IsZero() {
			event.Time = r.clock.Now()
		}
		if len(r.fields) > 0 {
			event = mergeFields(event, r.fields)
		}
		l.published.Add(1)
		r.count(l, "published")
		for _, o := range r.outlets {
			o.offer(event)
		}
	}
}

func (r *Router) count(l *lane, outcome string) {
	if r.counter != nil {
		r.counter.Add("logging."+l.category+"."+outcome, 1)
	}
}

func (r *Router) warnDrop(l *lane, event Event) {
	now := time.Now().UnixNano()
	quiet := l.quietTill.Load()
	if now < quiet || !l.quietTill.CompareAndSwap(quiet, now+r.warnGap.Nanoseconds()) {
		return
	}
	r.fallback.Printf("%s lane full, dropping event type=%s tick=%d", l.category, event.Type, event.Tick)
}

// Close stops accepting events, flushes every lane into the sinks and
// closes them. Calling Close twice is a no-op.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for _, l := range r.lanes {
		close(l.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.lanesWG.Wait()
		for _, o := range r.outlets {
			close(o.inbox)
		}
		r.sinksWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, o := range r.outlets {
		if err := o.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) Stats() RouterStats {
	stats := RouterStats{Categories: make(map[string]CategoryStats, len(r.lanes))}
	for category, l := range r.lanes {
		cs := CategoryStats{
			Published: l.published.Load(),
			Filtered:  l.filtered.Load(),
			Dropped:   l.dropped.Load(),
		}
		stats.Categories[category] = cs
		stats.EventsTotal += cs.Published
		stats.DroppedTotal += cs.Dropped
	}
	return stats
}

func (r *Router) Sink(name string) Sink {
	for _, o := range r.outlets {
		if o.name == name {
			return o.sink
		}
	}
	return nil
}

// outlet owns one sink. A failing sink is rested with exponential backoff;
// events arriving while it rests are discarded rather than queued.
type outlet struct {
	name      string
	sink      Sink
	inbox     chan Event
	fallback  *log.Logger
	failures  int
	restUntil time.Time
	skipped   int
}

func newOutlet(name string, sink Sink, buffer int, fallback *log.Logger) *outlet {
	return &outlet{name: name, sink: sink, inbox: make(chan Event, buffer), fallback: fallback}
}

// offer blocks while the sink is behind. The backlog then builds up in the
// lanes, so drops are charged to the categories that caused them.
func (o *outlet) offer(event Event) {
	o.inbox <- cloneEvent(event)
}

func (o *outlet) run() {
	for event := range o.inbox {
		if o.failures > 0 && time.Now().Before(o.restUntil) {
			o.skipped++
			continue
		}
		if err := o.sink.Write(event); err != nil {
			o.failures++
			rest := time.Duration(1<<min(o.failures, 5)) * time.Second
			o.restUntil = time.Now().Add(rest)
			o.fallback.Printf("sink %s failed: %v (resting %s)", o.name, err, rest)
			continue
		}
		if o.skipped > 0 {
			o.fallback.Printf("sink %s recovered after skipping %d events", o.name, o.skipped)
		}
		o.failures = 0
		o.skipped = 0
	}
}
