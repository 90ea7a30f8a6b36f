package report

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	// DefaultWidth is used when the terminal width is unknown.
	DefaultWidth = 120

	// DefaultTruncate caps plugin names in the columns.
	DefaultTruncate = 25

	columnWidth = 40
	visibleRows = 20
	turboBanner = "Turbo Batch Mode: Active"
	clearScreen = "\x1b[H\x1b[2J"
	stampLayout = "2006-01-02 15:04:05"
)

// DisplayOptions configures a Display.
type DisplayOptions struct {
	// Truncate caps plugin names. Zero means DefaultTruncate.
	Truncate int

	// Width is the terminal width. Zero means DefaultWidth.
	Width int

	// Clear redraws in place instead of appending frames.
	Clear bool
}

// Display renders progress frames. It is safe for concurrent use.
type Display struct {
	out    io.Writer
	styles Styles
	opts   DisplayOptions

	mu      sync.Mutex
	total   int
	turbo   bool
	testing []string
	passed  []string
	failed  []string
}

// NewDisplay creates a display writing to out.
func NewDisplay(out io.Writer, opts DisplayOptions) *Display {
	if opts.Truncate <= 0 {
		opts.Truncate = DefaultTruncate
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	return &Display{
		out:    out,
		styles: NewStyles(out),
		opts:   opts,
	}
}

// SetTotal sets the number of candidates under test.
func (d *Display) SetTotal(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total = n
}

// SetTurbo toggles the turbo banner.
func (d *Display) SetTurbo(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.turbo = on
}

// Testing records the batch under test and redraws.
func (d *Display) Testing(batch []string) {
	d.mu.Lock()
	d.testing = append(d.testing[:0], batch...)
	frame := d.render()
	d.mu.Unlock()

	d.write(frame)
}

// Passed records plugins that passed.
func (d *Display) Passed(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.passed = append(d.passed, names...)
}

// Failed records plugins that crashed alone.
func (d *Display) Failed(names ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failed = append(d.failed, names...)
}

// Reverified moves a plugin from the failed column to the passed column.
func (d *Display) Reverified(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, f := range d.failed {
		if f == name {
			d.failed = append(d.failed[:i], d.failed[i+1:]...)
			break
		}
	}
	d.passed = append(d.passed, name)
}

// Frame returns the current frame without writing it.
func (d *Display) Frame() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.render()
}

func (d *Display) write(frame string) {
	if d.opts.Clear {
		frame = clearScreen + frame
	}
	_, _ = io.WriteString(d.out, frame)
}

func (d *Display) render() string {
	s := d.styles
	width := d.opts.Width

	var b strings.Builder
	if d.turbo {
		b.WriteString(lipgloss.PlaceHorizontal(width-2, lipgloss.Right, s.Banner.Render(turboBanner)))
		b.WriteString("\n")
	}

	tested := len(d.passed) + len(d.failed)
	remaining := max(0, d.total-tested)

	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center,
		s.Title.Render(fmt.Sprintf("Total plugins to Test: %d", d.total))))
	b.WriteString("\n")

	status := strings.Join([]string{
		s.Tested.Render(fmt.Sprintf("Tested: %d", tested)),
		s.Passed.Render(fmt.Sprintf("Passed: %d", len(d.passed))),
		s.Failed.Render(fmt.Sprintf("Failed: %d", len(d.failed))),
		s.Remaining.Render(fmt.Sprintf("Remaining: %d", remaining)),
	}, "  ")
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, status))
	b.WriteString("\n\n")

	b.WriteString(s.Muted.Render(fmt.Sprintf("Currently Testing Batch Size: %d", len(d.testing))))
	b.WriteString("\n\n")

	header := s.Header.Width(columnWidth)
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		header.Render("Testing"),
		header.Render("Recently Passed"),
		header.Render("Failed"),
	))
	b.WriteString("\n")

	cols := [3][]string{tail(d.testing), tail(d.passed), tail(d.failed)}
	styles := [3]lipgloss.Style{s.Testing, s.Passed, s.Failed}
	rows := max(len(cols[0]), len(cols[1]), len(cols[2]))
	for i := 0; i < rows; i++ {
		cells := make([]string, 3)
		for c := range cols {
			var name string
			if i < len(cols[c]) {
				name = Truncate(Sanitize(cols[c][i]), d.opts.Truncate)
			}
			cells[c] = styles[c].Width(columnWidth).Render(name)
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	return b.String()
}

// Summary renders the final passed and crashed lists.
func (d *Display) Summary(safe, failed []string, at time.Time) string {
	s := d.styles
	stamp := s.Muted.Render("[" + at.Format(stampLayout) + "]")

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s, %s\n\n",
		s.Title.Render("Summary:"),
		s.Passed.Render(fmt.Sprintf("%d passed", len(safe))),
		s.Failed.Render(fmt.Sprintf("%d failed", len(failed))),
	)

	section := func(title string, style lipgloss.Style, names []string) {
		b.WriteString(style.Bold(true).Render("=== " + title + " ==="))
		b.WriteString("\n")
		b.WriteString(stamp)
		b.WriteString("\n")
		if len(names) == 0 {
			b.WriteString("None\n")
		}
		for _, n := range names {
			b.WriteString(style.Render(n))
			b.WriteString("\n")
		}
	}
	section("PASSED PLUGINS", s.Passed, safe)
	b.WriteString("\n")
	section("CRASHED PLUGINS", s.Failed, failed)
	b.WriteString("\n")

	return b.String()
}

// ShowSummary writes Summary to the display output.
func (d *Display) ShowSummary(safe, failed []string, at time.Time) {
	frame := d.Summary(safe, failed, at)
	d.write(frame)
}

// Sanitize replaces underscores and hyphens with spaces.
func Sanitize(name string) string {
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// Truncate shortens name to n runes, ending in "...".
func Truncate(name string, n int) string {
	r := []rune(name)
	if len(r) <= n {
		return name
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func tail(names []string) []string {
	if len(names) <= visibleRows {
		return names
	}
	return names[len(names)-visibleRows:]
}
