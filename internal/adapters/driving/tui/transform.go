package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/custodia-labs/inboxd/internal/adapters/driving/tui/keymap"
	"github.com/custodia-labs/inboxd/internal/adapters/driving/tui/messages"
	"github.com/custodia-labs/inboxd/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

const maxBarWidth = 60

// TransformModel shows the live state of a transform run.
type TransformModel struct {
	styles  *styles.Styles
	keys    *keymap.KeyMap
	bar     progress.Model
	spinner spinner.Model
	cancel  context.CancelFunc

	scope    string
	state    domain.TransformProgress
	report   *domain.TransformReport
	err      error
	stopping bool
	done     bool
}

// Ensure TransformModel implements tea.Model.
var _ tea.Model = (*TransformModel)(nil)

// NewTransformModel creates the view for a run over scope. cancel stops
// the run when the user quits.
func NewTransformModel(scope string, cancel context.CancelFunc) *TransformModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &TransformModel{
		styles:  styles.DefaultStyles(),
		keys:    keymap.DefaultKeyMap(),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(maxBarWidth)),
		spinner: sp,
		cancel:  cancel,
		scope:   scope,
	}
}

// Init implements tea.Model.
func (m *TransformModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m *TransformModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-4))
		return m, nil

	case tea.KeyMsg:
		switch {
		case keymap.Matches(msg.String(), m.keys.Quit):
			if !m.stopping && m.cancel != nil {
				m.cancel()
			}
			m.stopping = true
			return m, nil
		case keymap.Matches(msg.String(), m.keys.Detach):
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case messages.ProgressUpdated:
		m.state = msg.Progress
		return m, nil

	case messages.RunFinished:
		m.done = true
		m.report = msg.Report
		m.err = msg.Err
		if msg.Report != nil {
			m.state = msg.Report.TransformProgress
		}
		return m, tea.Quit
	}

	return m, nil
}

// Fraction is the share of the selection handled so far.
func (m *TransformModel) Fraction() float64 {
	if m.state.Total == 0 {
		if m.done {
			return 1
		}
		return 0
	}
	return float64(m.state.Processed+m.state.Failed) / float64(m.state.Total)
}

// View implements tea.Model.
func (m *TransformModel) View() string {
	var b strings.Builder

	header := m.spinner.View() + " "
	if m.done {
		header = ""
	}
	b.WriteString(header + m.styles.Title.Render("Transforming "+m.scope) + "\n\n")
	b.WriteString(m.bar.ViewAs(m.Fraction()) + "\n\n")

	fmt.Fprintf(&b, "%s %d/%d  %s %d  %s %d\n",
		m.styles.Normal.Render("processed"), m.state.Processed, m.state.Total,
		m.styles.Error.Render("failed"), m.state.Failed,
		m.styles.Muted.Render("contended"), m.state.Contended)
	if m.state.Batches > 0 {
		fmt.Fprintf(&b, "%s %d/%d\n", m.styles.Muted.Render("batch"), m.state.Batch, m.state.Batches)
	}

	tiers := make([]string, 0, len(domain.AllTiers))
	for _, t := range domain.AllTiers {
		tiers = append(tiers, fmt.Sprintf("%s %d", m.styles.Tier(t).Render(t.String()), m.state.ByTier[t]))
	}
	b.WriteString(strings.Join(tiers, "  ") + "\n")
	fmt.Fprintf(&b, "%s %d  %s %d\n",
		m.styles.Muted.Render("bodies full"), m.state.BodyFull,
		m.styles.Muted.Render("chunked"), m.state.BodyChunked)

	switch {
	case m.done && m.err != nil:
		b.WriteString("\n" + m.styles.Error.Render("Stopped: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString("\n" + m.styles.Success.Render("Done") + "\n")
	case m.stopping:
		b.WriteString("\n" + m.styles.Warning.Render("Stopping after the current batch...") + "\n")
	default:
		help := make([]string, 0, 2)
		for _, k := range m.keys.ShortHelp() {
			help = append(help, k.Help().Key+" "+k.Help().Desc)
		}
		b.WriteString("\n" + m.styles.Help.Render(strings.Join(help, " • ")) + "\n")
	}

	return b.String()
}

// RunTransform runs a transform behind the progress view and returns
// once the run has finished. Detaching closes the view but still waits
// for the run.
func RunTransform(
	ctx context.Context,
	orchestrator driving.TransformOrchestrator,
	opts domain.TransformOptions,
	scope string,
	programOpts ...tea.ProgramOption,
) (*domain.TransformReport, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewTransformModel(scope, cancel), programOpts...)

	onProgress := opts.OnProgress
	opts.OnProgress = func(pr domain.TransformProgress) {
		if onProgress != nil {
			onProgress(pr)
		}
		p.Send(messages.ProgressUpdated{Progress: pr})
	}

	var (
		report *domain.TransformReport
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, runErr = orchestrator.Run(ctx, opts)
		p.Send(messages.RunFinished{Report: report, Err: runErr})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return report, fmt.Errorf("progress view: %w", err)
	}
	<-done
	return report, runErr
}
