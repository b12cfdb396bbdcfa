package progress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Console prints user-facing notices, separate from the log stream.
// Colors are only emitted when the output is a terminal.
type Console struct {
	out     io.Writer
	warn    lipgloss.Style
	ok      lipgloss.Style
	label   lipgloss.Style
	subtle  lipgloss.Style
	heading lipgloss.Style
}

// NewConsole returns a Console writing to out.
func NewConsole(out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		out:     out,
		warn:    r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		label:   r.NewStyle().Bold(true),
		subtle:  r.NewStyle().Foreground(lipgloss.Color("8")),
		heading: r.NewStyle().Bold(true).Underline(true),
	}
}

// Failed announces that date could not be downloaded.
func (c *Console) Failed(date string, err error) {
	line := c.warn.Render("Failed to download: " + date)
	if err != nil {
		line += " " + c.subtle.Render("("+err.Error()+")")
	}
	fmt.Fprintln(c.out, line)
}

// SummaryView is the data shown by Console.Summary.
type SummaryView struct {
	Total     int
	Succeeded int
	Failed    []string
	Duration  time.Duration
	Location  string
}

// Summary prints the end-of-run report.
func (c *Console) Summary(s SummaryView) {
	fmt.Fprintln(c.out, c.heading.Render("Download summary"))
	fmt.Fprintf(c.out, "%s %d\n", c.label.Render("Dates:    "), s.Total)
	fmt.Fprintf(c.out, "%s %s\n", c.label.Render("Saved:    "), c.ok.Render(fmt.Sprint(s.Succeeded)))
	if len(s.Failed) > 0 {
		fmt.Fprintf(c.out, "%s %s\n", c.label.Render("Failed:   "), c.warn.Render(fmt.Sprint(len(s.Failed))))
		fmt.Fprintf(c.out, "%s %s\n", c.label.Render("Missing:  "), strings.Join(s.Failed, ", "))
	} else {
		fmt.Fprintf(c.out, "%s 0\n", c.label.Render("Failed:   "))
	}
	if s.Location != "" {
		fmt.Fprintf(c.out, "%s %s\n", c.label.Render("Output:   "), s.Location)
	}
	fmt.Fprintf(c.out, "%s %s\n", c.label.Render("Time:     "), formatDuration(s.Duration))
}
