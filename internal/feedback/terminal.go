package feedback

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"golang.org/x/time/rate"

	"github.com/memohai/negosync/internal/notification"
)

// TerminalConfig configures the terminal dispatcher.
type TerminalConfig struct {
	Sound         bool
	SoundInterval time.Duration
	Color         bool
}

// Terminal renders notification cards and rings the terminal bell.
type Terminal struct {
	mu      sync.Mutex
	out     io.Writer
	sound   bool
	limiter *rate.Limiter
	styles  CardStyles
}

// CardStyles are the lipgloss styles of a notification card.
type CardStyles struct {
	Card   lipgloss.Style
	Title  lipgloss.Style
	Body   lipgloss.Style
	Footer lipgloss.Style
}

// IsTerminal reports whether w is a character device.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewCardStyles builds card styles for out. Colors are used only when color is requested and
// out is a terminal.
func NewCardStyles(out io.Writer, color bool) CardStyles {
	r := lipgloss.NewRenderer(out)
	card := r.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		Padding(0, 1).
		MarginBottom(1)
	styles := CardStyles{
		Card:   card,
		Title:  r.NewStyle().Bold(true),
		Body:   r.NewStyle(),
		Footer: r.NewStyle().Faint(true),
	}
	if color && IsTerminal(out) {
		styles.Card = styles.Card.BorderForeground(lipgloss.Color("#01cdfe"))
		styles.Title = styles.Title.Foreground(lipgloss.Color("#ff71ce"))
		styles.Footer = styles.Footer.Foreground(lipgloss.Color("#9ca3d8"))
	}
	return styles
}

// NewTerminal creates a terminal dispatcher writing to out.
func NewTerminal(out io.Writer, cfg TerminalConfig) *Terminal {
	if out == nil {
		out = os.Stdout
	}
	interval := cfg.SoundInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Terminal{
		out:     out,
		sound:   cfg.Sound,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		styles:  NewCardStyles(out, cfg.Color),
	}
}

// Dispatch writes the card for n, followed by a bell unless one rang within SoundInterval.
func (t *Terminal) Dispatch(_ context.Context, n notification.Notification) error {
	card := RenderCard(t.styles, NoticeFor(n), n.CreatedAt)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := fmt.Fprintln(t.out, card); err != nil {
		return fmt.Errorf("write card: %w", err)
	}
	if t.sound && t.limiter.Allow() {
		if _, err := io.WriteString(t.out, "\a"); err != nil {
			return fmt.Errorf("ring bell: %w", err)
		}
	}
	return nil
}

// RenderCard renders notice as a bordered card.
func RenderCard(styles CardStyles, notice PlatformNotice, at time.Time) string {
	footer := notice.Tag
	if !at.IsZero() {
		footer = at.Local().Format("15:04:05") + "  " + footer
	}
	return styles.Card.Render(lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render(notice.Title),
		styles.Body.Render(notice.Body),
		styles.Footer.Render(footer),
	))
}
