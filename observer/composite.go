package observer

import (
	"log"
	"sync"
)

// Composite fans out every event to an ordered list of observers. Unlike
// the Evaluator's own error handling, a panic from one observer is
// recovered and logged rather than propagated: a broken dashboard must
// never take down the run (spec.md §4.5).
//
// Add may be called concurrently with event delivery; delivery
// always uses the snapshot of observers registered at call time.
type Composite struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewComposite constructs a Composite seeded with the given observers. Nil
// entries are skipped.
func NewComposite(observers ...Observer) *Composite {
	c := &Composite{}
	for _, o := range observers {
		c.Add(o)
	}
	return c
}

// Add registers an additional observer. A nil observer is ignored.
func (c *Composite) Add(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Composite) snapshot() []Observer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Observer, len(c.observers))
	copy(out, c.observers)
	return out
}

func (c *Composite) dispatch(name string, fn func(Observer)) {
	for _, o := range c.snapshot() {
		safeCall(name, o, fn)
	}
}

func safeCall(event string, o Observer, fn func(Observer)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("observer: %T panicked handling %s: %v", o, event, r)
		}
	}()
	fn(o)
}

func (c *Composite) OnRunStart(runID string, info RunInfo, totalItems int, metrics []string) {
	c.dispatch("OnRunStart", func(o Observer) { o.OnRunStart(runID, info, totalItems, metrics) })
}

func (c *Composite) OnItemStart(runID string, itemIndex int, payload map[string]any) {
	c.dispatch("OnItemStart", func(o Observer) { o.OnItemStart(runID, itemIndex, payload) })
}

func (c *Composite) OnMetricResult(runID string, itemIndex int, result MetricResult) {
	c.dispatch("OnMetricResult", func(o Observer) { o.OnMetricResult(runID, itemIndex, result) })
}

func (c *Composite) OnItemComplete(runID string, itemIndex int, payload ItemPayload) {
	c.dispatch("OnItemComplete", func(o Observer) { o.OnItemComplete(runID, itemIndex, payload) })
}

func (c *Composite) OnItemError(runID string, itemIndex int, errMsg string) {
	c.dispatch("OnItemError", func(o Observer) { o.OnItemError(runID, itemIndex, errMsg) })
}

func (c *Composite) OnWarning(runID string, message string) {
	c.dispatch("OnWarning", func(o Observer) { o.OnWarning(runID, message) })
}

func (c *Composite) OnRunComplete(runID string, summary ResultSummary) {
	c.dispatch("OnRunComplete", func(o Observer) { o.OnRunComplete(runID, summary) })
}

var _ Observer = (*Composite)(nil)
