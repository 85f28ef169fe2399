package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/justiceops/recordsync/internal/client"
	"github.com/justiceops/recordsync/internal/history"
)

const pollInterval = time.Second

var watchCmd = &cobra.Command{
	Use:   "watch <migration-id>",
	Short: "Follow a migration run with a live progress display",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchRun(cmd.Context(), args[0])
	},
}

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// tickMsg triggers polling the run status.
type tickMsg time.Time

// runUpdateMsg carries the freshly-polled run.
type runUpdateMsg struct {
	run history.Run
	err error
}

// eventMsg carries one telemetry event from the run's stream.
type eventMsg client.Event

// watchModel is the bubbletea model for run progress.
type watchModel struct {
	client      *client.Client
	migrationID string
	run         history.Run
	haveRun     bool
	migrated    int64 // counted live from the event stream
	failed      int64
	events      <-chan client.Event
	progress    progress.Model
	theme       Theme
	done        bool
	quitting    bool
	err         error
}

func newWatchModel(c *client.Client, migrationID string, events <-chan client.Event) watchModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)
	return watchModel{
		client:      c,
		migrationID: migrationID,
		events:      events,
		progress:    prog,
		theme:       defaultTheme,
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		m.waitForEvent(),
		m.progress.Init(),
	)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchRun()

	case runUpdateMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("fetch run status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}
		m.run = msg.run
		m.haveRun = true
		if m.run.Status.Terminal() {
			m.migrated = m.run.RecordsMigrated
			m.failed = m.run.RecordsFailed
			m.done = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case eventMsg:
		switch msg.Name {
		case "migration-entity-migrated", "migration-mapping-retried":
			m.migrated++
		case "migration-entity-source-missing":
			m.failed++
		}
		return m, m.waitForEvent()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m watchModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m watchModel) renderContent() string {
	if m.done {
		return m.finalView()
	}
	if !m.haveRun {
		return "Loading run status...\n"
	}

	var pct float64
	if m.run.EstimatedCount > 0 {
		pct = float64(m.migrated) / float64(m.run.EstimatedCount)
		if pct > 1 {
			pct = 1
		}
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.run.Status))
	bar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d records", m.migrated, m.run.EstimatedCount)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, bar, counts, hint)
}

func (m watchModel) finalView() string {
	if m.quitting {
		msg := fmt.Sprintf("\nRun %s continues in background.\nUse 'recordsync status %s' to check on it.\n",
			m.migrationID, m.migrationID)
		return m.theme.hintStyle().Render(msg)
	}
	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ %s\n", m.err))
	}

	var output string
	if m.run.Status == history.StatusCancelled {
		output = m.theme.errorStyle().Render("✗ Cancelled") + "\n\n"
	} else {
		output = m.theme.completedStyle().Render("✓ Completed") + "\n\n"
	}
	output += fmt.Sprintf("  Records migrated: %d\n", m.run.RecordsMigrated)
	if m.run.RecordsFailed > 0 {
		output += m.theme.errorStyle().Render(
			fmt.Sprintf("  Records failed:   %d\n", m.run.RecordsFailed))
	} else {
		output += fmt.Sprintf("  Records failed:   %d\n", m.run.RecordsFailed)
	}
	if m.run.WhenEnded != nil {
		output += fmt.Sprintf("  Duration:         %s\n",
			m.run.WhenEnded.Sub(m.run.WhenStarted).Round(time.Second))
	}
	return output
}

// fetchRun polls the run from the operator API without blocking Update.
func (m watchModel) fetchRun() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		run, err := m.client.Migration(ctx, m.migrationID)
		return runUpdateMsg{run: run, err: err}
	}
}

// waitForEvent delivers the next telemetry event from the stream.
func (m watchModel) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			// Stream closed; polling alone carries the display from here.
			return nil
		}
		return eventMsg(ev)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// watchRun runs the interactive progress UI for one migration run.
func watchRun(ctx context.Context, migrationID string) error {
	c := api()

	// The event stream is best-effort; without it the display still polls.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := c.StreamEvents(streamCtx, migrationID)
	if err != nil {
		events = make(chan client.Event)
	}

	model := newWatchModel(c, migrationID, events)
	p := tea.NewProgram(model, tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress display: %w", err)
	}
	if m, ok := final.(watchModel); ok && m.err != nil && !m.quitting {
		return m.err
	}
	return nil
}
