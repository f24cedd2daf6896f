package observability

import (
	"fmt"
	"io"
	"os"
	"sync"

	"charm.land/lipgloss/v2"
)

// Console prints the short colored status lines a sweep emits while it
// loads or writes cached matrices. A nil *Console prints nothing.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	load lipgloss.Style
	dump lipgloss.Style
	mode lipgloss.Style
	note lipgloss.Style
}

// NewConsole writes to w, or stdout when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{
		out:  w,
		load: lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		dump: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		mode: lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		note: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	}
}

// Load reports a cache hit.
func (c *Console) Load(path string) { c.line(loadLine, "Load: "+path) }

// Dump reports a freshly written matrix.
func (c *Console) Dump(path string) { c.line(dumpLine, "Dump: "+path) }

// Mode brackets a named experiment mode.
func (c *Console) Mode(name string) { c.line(modeLine, "MODE: "+name) }

// EndMode closes a bracket opened by Mode.
func (c *Console) EndMode(name string) { c.line(modeLine, "END MODE: "+name) }

// Notef prints a highlighted free-form line.
func (c *Console) Notef(format string, args ...any) {
	c.line(noteLine, fmt.Sprintf(format, args...))
}

type lineKind int

const (
	loadLine lineKind = iota
	dumpLine
	modeLine
	noteLine
)

func (c *Console) style(kind lineKind) lipgloss.Style {
	switch kind {
	case loadLine:
		return c.load
	case dumpLine:
		return c.dump
	case modeLine:
		return c.mode
	default:
		return c.note
	}
}

func (c *Console) line(kind lineKind, text string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, c.style(kind).Render(text))
}
