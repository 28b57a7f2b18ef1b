package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

// Dashboard is the --tui terminal view: row counts, recent memories,
// upcoming deadlines, and pending predictions, refreshed on demand.
type Dashboard struct {
	store storage.Store

	stats       map[string]int
	recent      []*types.Memory
	deadlines   []*types.Memory
	predictions []*types.Prediction
	err         error
	width       int
	lastRefresh time.Time
}

// NewDashboard constructs the model; RunDashboard drives it.
func NewDashboard(store storage.Store) *Dashboard {
	return &Dashboard{store: store}
}

// RunDashboard starts the Bubble Tea program and blocks until quit.
func RunDashboard(store storage.Store) error {
	_, err := tea.NewProgram(NewDashboard(store), tea.WithAltScreen()).Run()
	return err
}

type refreshedMsg struct {
	stats       map[string]int
	recent      []*types.Memory
	deadlines   []*types.Memory
	predictions []*types.Prediction
	err         error
}

func (d *Dashboard) refresh() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := refreshedMsg{}
	msg.stats, msg.err = d.store.Stats(ctx)
	if msg.err != nil {
		return msg
	}
	msg.recent, _ = d.store.RecentMemories(ctx, time.Unix(0, 0), 8)
	msg.deadlines, _ = d.store.UpcomingDeadlines(ctx, 14)
	msg.predictions, _ = d.store.PendingPredictions(ctx, 5)
	return msg
}

func (d *Dashboard) Init() tea.Cmd { return d.refresh }

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
	case refreshedMsg:
		d.stats = msg.stats
		d.recent = msg.recent
		d.deadlines = msg.deadlines
		d.predictions = msg.predictions
		d.err = msg.err
		d.lastRefresh = time.Now()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return d, tea.Quit
		case "r":
			return d, d.refresh
		}
	}
	return d, nil
}

func (d *Dashboard) View() string {
	if d.err != nil {
		return WarnStyle.Render(fmt.Sprintf("error: %v", d.err)) + "\n\npress q to quit"
	}
	if d.stats == nil {
		return MutedStyle.Render("loading…")
	}

	width := d.width
	if width <= 0 {
		width = 80
	}

	var md strings.Builder
	md.WriteString("# Claudia\n\n")
	md.WriteString(fmt.Sprintf("**%d** memories · **%d** entities · **%d** relationships · **%d** patterns\n\n",
		d.stats["memories"], d.stats["entities"], d.stats["relationships"], d.stats["patterns"]))

	if len(d.deadlines) > 0 {
		md.WriteString("## Upcoming deadlines\n\n")
		for _, m := range d.deadlines {
			if m.DeadlineAt != nil {
				md.WriteString(fmt.Sprintf("- %s — %s\n", m.DeadlineAt.Format("Jan 2"), m.Content))
			}
		}
		md.WriteString("\n")
	}

	if len(d.predictions) > 0 {
		md.WriteString("## Suggestions\n\n")
		for _, p := range d.predictions {
			md.WriteString(fmt.Sprintf("- %s\n", p.Content))
		}
		md.WriteString("\n")
	}

	if len(d.recent) > 0 {
		md.WriteString("## Recent memories\n\n")
		for _, m := range d.recent {
			md.WriteString(fmt.Sprintf("- %s *(%s)*\n", m.Content, m.Type))
		}
	}

	rendered, err := glamour.Render(md.String(), "auto")
	if err != nil {
		rendered = md.String()
	}

	footer := MutedStyle.Render(fmt.Sprintf("r refresh · q quit · updated %s", d.lastRefresh.Format("15:04:05")))
	return lipgloss.JoinVertical(lipgloss.Left, rendered, footer)
}
