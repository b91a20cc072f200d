package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/factline/cli/pkg/logger"
	"github.com/factline/cli/pkg/notify"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// Presenter renders notifications to a terminal. In live mode the progress
// notices share one status line that is redrawn in place; otherwise each
// change is printed on its own line.
type Presenter struct {
	w      io.Writer
	live   bool
	format OutputFormat

	mu         sync.Mutex
	statusLine bool
	last       map[string]string
}

var _ notify.Presenter = (*Presenter)(nil)

// NewPresenter writes to w.
func NewPresenter(w io.Writer, live bool, format OutputFormat) *Presenter {
	return &Presenter{
		w:      w,
		live:   live && format != FormatJSON,
		format: format,
		last:   make(map[string]string),
	}
}

// NewTerminalPresenter picks live mode when stdout is a terminal.
func NewTerminalPresenter() *Presenter {
	live := term.IsTerminal(int(os.Stdout.Fd()))
	return NewPresenter(Writer, live, GetOutputFormat())
}

type presenterEvent struct {
	Event    string `json:"event"`
	ID       string `json:"id,omitempty"`
	Severity string `json:"severity,omitempty"`
	Message  string `json:"message,omitempty"`
	Target   string `json:"target,omitempty"`
	Progress *int   `json:"progress,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (p *Presenter) ShowSnackbar(s notify.Snackbar) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == FormatJSON {
		p.emit(presenterEvent{Event: "snackbar", ID: s.ID, Severity: string(s.Severity), Message: s.Message, Target: s.Target})
		return
	}

	p.clearStatusLocked()
	line := severityColor(s.Severity).Sprintf("%s %s", severityIcon(s.Severity), s.Message)
	if s.Clickable && s.Target != "" {
		line += color.New(color.Faint).Sprintf("  → %s", s.Target)
	}
	fmt.Fprintln(p.w, line)
}

func (p *Presenter) HideSnackbar(id string, reason notify.DismissReason) {
	logger.Debug("Snackbar hidden", "id", id, "reason", reason)
}

func (p *Presenter) RenderNotices(notices []notify.ProgressNotice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(notices))
	var parts []string
	for _, n := range notices {
		seen[n.ID] = true
		text := noticeText(n)
		changed := p.last[n.ID] != text
		p.last[n.ID] = text

		switch {
		case p.live:
			parts = append(parts, text)
		case !changed:
		case p.format == FormatJSON:
			progress := n.Progress
			p.emit(presenterEvent{Event: "progress", ID: n.ID, Kind: string(n.Kind), Message: n.Message, Progress: &progress})
		default:
			fmt.Fprintln(p.w, color.New(color.FgCyan).Sprint(text))
		}
	}

	for id := range p.last {
		if !seen[id] {
			delete(p.last, id)
			if p.format == FormatJSON {
				p.emit(presenterEvent{Event: "progress_removed", ID: id})
			}
		}
	}

	if p.live {
		p.clearStatusLocked()
		if len(parts) > 0 {
			fmt.Fprint(p.w, color.New(color.FgCyan).Sprint(strings.Join(parts, "  |  ")))
			p.statusLine = true
		}
	}
}

// Flush ends a pending status line.
func (p *Presenter) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.statusLine {
		fmt.Fprintln(p.w)
		p.statusLine = false
	}
}

func (p *Presenter) clearStatusLocked() {
	if p.statusLine {
		fmt.Fprint(p.w, "\r\033[K")
		p.statusLine = false
	}
}

func (p *Presenter) emit(ev presenterEvent) {
	line, err := FormatAsJSON(ev)
	if err != nil {
		logger.Warn("Failed to encode presenter event", "error", err)
		return
	}
	fmt.Fprintln(p.w, line)
}

func noticeText(n notify.ProgressNotice) string {
	label := n.Title
	if label == "" {
		label = n.ID
	}
	text := fmt.Sprintf("⏳ %s %s %3d%%", label, progressBar(n.Progress, 10), n.Progress)
	if n.Message != "" {
		text += " " + n.Message
	}
	return text
}

func progressBar(progress, width int) string {
	filled := progress * width / 100
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", width-filled) + "]"
}

func severityColor(s notify.Severity) *color.Color {
	switch s {
	case notify.SeveritySuccess:
		return color.New(color.FgGreen)
	case notify.SeverityWarning:
		return color.New(color.FgYellow)
	case notify.SeverityError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgCyan)
	}
}

func severityIcon(s notify.Severity) string {
	switch s {
	case notify.SeveritySuccess:
		return "✓"
	case notify.SeverityWarning:
		return "!"
	case notify.SeverityError:
		return "✗"
	default:
		return "i"
	}
}
