// Package progress renders a single rewritten status line for
// long-running terminal operations.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const barWidth = 20

// Tracker writes one carriage-return-rewritten line per update. A nil
// Tracker is a no-op, so callers attached to a pipe can skip it without
// guarding every call site.
type Tracker struct {
	w       io.Writer
	name    string
	total   int
	done    int
	started time.Time
}

// New starts a tracker named name over total items, writing to w.
func New(w io.Writer, name string, total int) *Tracker {
	return &Tracker{w: w, name: name, total: total, started: time.Now()}
}

// Step advances the tracker by one item and shows the item label.
func (t *Tracker) Step(item string) {
	if t == nil {
		return
	}
	t.done++
	t.render(item)
}

// Done clears the status line and reports the elapsed time.
func (t *Tracker) Done() {
	if t == nil {
		return
	}
	fmt.Fprintf(t.w, "\r\033[K%s: %d items in %v\n",
		t.name, t.done, time.Since(t.started).Round(time.Millisecond))
}

func (t *Tracker) render(item string) {
	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(t.name)
	if t.total > 0 {
		filled := barWidth * t.done / t.total
		if filled > barWidth {
			filled = barWidth
		}
		b.WriteString(" [")
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", barWidth-filled))
		fmt.Fprintf(&b, "] %d/%d", t.done, t.total)
	}
	if item != "" {
		b.WriteString(" ")
		b.WriteString(item)
	}
	fmt.Fprint(t.w, b.String())
}
