package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	NoOp
	runStarts int
	lastItem  string
}

func (r *recordingObserver) OnRunStart(runID string, info RunInfo, totalItems int, metrics []string) {
	r.runStarts++
}

func (r *recordingObserver) OnItemComplete(runID string, itemIndex int, payload ItemPayload) {
	r.lastItem = payload.ItemID
}

type panickingObserver struct{ NoOp }

func (panickingObserver) OnItemComplete(string, int, ItemPayload) { panic("boom") }

func TestCompositeFansOutToEveryObserver(t *testing.T) {
	t.Parallel()
	a := &recordingObserver{}
	b := &recordingObserver{}
	c := NewComposite(a, b)

	c.OnRunStart("run-1", RunInfo{DatasetName: "d"}, 10, []string{"m"})

	assert.Equal(t, 1, a.runStarts)
	assert.Equal(t, 1, b.runStarts)
}

func TestCompositeSwallowsPanicsFromOneObserver(t *testing.T) {
	t.Parallel()
	ok := &recordingObserver{}
	c := NewComposite(panickingObserver{}, ok)

	require.NotPanics(t, func() {
		c.OnItemComplete("run-1", 0, ItemPayload{ItemID: "item_0"})
	})
	assert.Equal(t, "item_0", ok.lastItem)
}

func TestCompositeAddIgnoresNil(t *testing.T) {
	t.Parallel()
	c := NewComposite()
	c.Add(nil)
	require.NotPanics(t, func() {
		c.OnWarning("run-1", "hello")
	})
}
