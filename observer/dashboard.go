package observer

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Dashboard is a terminal progress renderer: a live-updating item counter
// plus a per-metric summary table drawn by RenderSummaryTable. It is the Go-idiom
// counterpart of the original's rich.Live table dashboard, built from
// go-pretty (table rendering) and fatih/color (status coloring) instead of
// a TUI framework, since re-rendering a fixed-position live table from a
// concurrent worker pool is simpler done one line at a time.
type Dashboard struct {
	NoOp

	out io.Writer

	mu        sync.Mutex
	total     int
	completed int
	errored   int
	started   time.Time
}

// NewDashboard constructs a Dashboard writing to os.Stdout.
func NewDashboard() *Dashboard {
	return &Dashboard{out: os.Stdout}
}

// NewDashboardTo constructs a Dashboard writing to an arbitrary writer,
// primarily for tests.
func NewDashboardTo(w io.Writer) *Dashboard {
	return &Dashboard{out: w}
}

func (d *Dashboard) OnRunStart(runID string, info RunInfo, totalItems int, metrics []string) {
	d.mu.Lock()
	d.total = totalItems
	d.started = time.Now()
	d.mu.Unlock()

	bold := color.New(color.Bold)
	bold.Fprintf(d.out, "Run %s: %s — %s items, metrics %v\n", runID, info.DatasetName, humanize.Comma(int64(totalItems)), metrics)
}

func (d *Dashboard) OnItemComplete(runID string, itemIndex int, payload ItemPayload) {
	d.mu.Lock()
	d.completed++
	completed, total := d.completed, d.total
	d.mu.Unlock()

	green := color.New(color.FgGreen)
	green.Fprintf(d.out, "[%d/%d] %s ok (%s)\n", completed, total, payload.ItemID, humanize.Time(time.Now().Add(-time.Duration(payload.LatencyMs)*time.Millisecond)))
}

func (d *Dashboard) OnItemError(runID string, itemIndex int, errMsg string) {
	d.mu.Lock()
	d.errored++
	completed, total := d.errored+d.completed, d.total
	d.mu.Unlock()

	red := color.New(color.FgRed)
	red.Fprintf(d.out, "[%d/%d] item %d FAILED: %s\n", completed, total, itemIndex, errMsg)
}

func (d *Dashboard) OnWarning(runID string, message string) {
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(d.out, "warning: %s\n", message)
}

// MetricSummary is one row of the completion table.
type MetricSummary struct {
	Name        string
	Mean        float64
	Std         float64
	Min         float64
	Max         float64
	SuccessRate float64
}

// RenderSummaryTable writes the final per-metric statistics table from the
// rows it is given. OnRunComplete does not draw it, since ResultSummary
// alone does not carry per-metric breakdowns, and the Evaluator does not
// call it.
func (d *Dashboard) RenderSummaryTable(rows []MetricSummary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(d.out)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"metric", "mean", "std", "min", "max", "success rate"})
	for _, r := range rows {
		tw.AppendRow(table.Row{
			r.Name,
			fmt.Sprintf("%.3f", r.Mean),
			fmt.Sprintf("%.3f", r.Std),
			fmt.Sprintf("%.3f", r.Min),
			fmt.Sprintf("%.3f", r.Max),
			fmt.Sprintf("%.1f%%", r.SuccessRate*100),
		})
	}
	tw.Render()
}

func (d *Dashboard) OnRunComplete(runID string, summary ResultSummary) {
	bold := color.New(color.Bold)
	bold.Fprintf(d.out, "Run %s complete: %d/%d succeeded in %s\n",
		runID, summary.SuccessCount, summary.TotalItems, humanize.FormatFloat("#,###.##", summary.DurationS)+"s")
	if summary.PlatformURL != "" {
		fmt.Fprintf(d.out, "  %s\n", summary.PlatformURL)
	}
}

var _ Observer = (*Dashboard)(nil)
