package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// consoleDisplay handles terminal output. Active tasks are kept as status
// lines at the bottom of the output and redrawn in place.
type consoleDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	verbose bool
	tasks   []*consoleTask
}

type consoleTask struct {
	d       *consoleDisplay
	name    string
	stage   string
	target  string
	percent int
	message string
}

// NewConsole creates a Display that writes to standard error.
func NewConsole() Display {
	return &consoleDisplay{
		out: os.Stderr,
	}
}

// NewWriterDisplay creates a Display that writes to the provided io.Writer.
func NewWriterDisplay(w io.Writer) Display {
	return &consoleDisplay{
		out: w,
	}
}

func (d *consoleDisplay) StartTask(name string) Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &consoleTask{d: d, name: name}
	d.tasks = append(d.tasks, t)
	fmt.Fprintln(d.out, t.line())
	return t
}

func (d *consoleDisplay) Log(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.verbose {
		return
	}
	d.writeAboveLocked(msg)
}

// Print writes a message directly to the output writer.
func (d *consoleDisplay) Print(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tasks) == 0 {
		fmt.Fprint(d.out, msg)
		return
	}
	d.writeAboveLocked(strings.TrimSuffix(msg, "\n"))
}

func (d *consoleDisplay) SetVerbose(v bool) {
	d.mu.Lock()
	d.verbose = v
	d.mu.Unlock()
}

func (d *consoleDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = nil
}

// RenderTable prints rows aligned under header.
func RenderTable(d Display, header []string, rows [][]string) {
	if len(header) == 0 {
		return
	}
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			if i < len(widths) {
				fmt.Fprintf(&sb, "%-*s  ", widths[i], cell)
			}
		}
		sb.WriteString("\n")
	}
	writeRow(header)
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	sb.WriteString(strings.Repeat("-", total) + "\n")
	for _, row := range rows {
		writeRow(row)
	}
	d.Print(sb.String())
}

// clearTasksLocked moves the cursor up over every task line and erases it.
func (d *consoleDisplay) clearTasksLocked() {
	for range d.tasks {
		fmt.Fprint(d.out, "\x1b[1A\x1b[2K")
	}
}

func (d *consoleDisplay) redrawTasksLocked() {
	for _, t := range d.tasks {
		fmt.Fprintln(d.out, t.line())
	}
}

func (d *consoleDisplay) writeAboveLocked(msg string) {
	d.clearTasksLocked()
	fmt.Fprintln(d.out, msg)
	d.redrawTasksLocked()
}

func (t *consoleTask) line() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", t.name)
	if t.stage != "" {
		fmt.Fprintf(&sb, " %s", t.stage)
		if t.target != "" {
			fmt.Fprintf(&sb, " %s", t.target)
		}
	}
	if t.percent > 0 {
		fmt.Fprintf(&sb, " %d%%", t.percent)
	}
	if t.message != "" {
		fmt.Fprintf(&sb, " %s", t.message)
	}
	return sb.String()
}

func (t *consoleTask) Log(msg string) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeAboveLocked(fmt.Sprintf("[%s] %s", t.name, msg))
}

func (t *consoleTask) SetStage(name string, target string) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	t.stage = name
	t.target = target
	t.percent = 0
	t.message = ""
	d.clearTasksLocked()
	d.redrawTasksLocked()
}

func (t *consoleTask) Progress(percent int, message string) {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	t.percent = percent
	t.message = message
	d.clearTasksLocked()
	d.redrawTasksLocked()
}

func (t *consoleTask) Done() {
	d := t.d
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clearTasksLocked()
	for i, other := range d.tasks {
		if other == t {
			d.tasks = append(d.tasks[:i], d.tasks[i+1:]...)
			break
		}
	}
	fmt.Fprintf(d.out, "[%s] Done\n", t.name)
	d.redrawTasksLocked()
}
