package main

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/reels/internal/feed"
	"github.com/olivier-w/reels/internal/ui"
)

type startupPhase uint8

const (
	phaseBrowse startupPhase = iota
	phaseOpening
	phaseEmpty
)

type startupResolvedMsg struct {
	model ui.Model
	err   error
}

type startupModel struct {
	app       *app
	browser   ui.BrowserModel
	canBrowse bool
	refs      []string
	phase     startupPhase
	errMsg    string
	width     int
	height    int
	spinner   spinner.Model
}

// newStartupModel opens refs right away, or shows the feed browser over
// browseDir when browseDir is set.
func newStartupModel(a *app, refs []string, browseDir string) startupModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	m := startupModel{
		app:     a,
		refs:    refs,
		phase:   phaseOpening,
		spinner: s,
	}
	if browseDir != "" {
		m.browser = ui.NewBrowser(browseDir)
		m.canBrowse = true
		m.phase = phaseBrowse
	}
	return m
}

func (m startupModel) Init() tea.Cmd {
	if m.phase == phaseBrowse {
		return tea.Batch(m.browser.Init(), m.spinner.Tick)
	}
	return tea.Batch(m.spinner.Tick, openFeedCmd(m.app, m.refs))
}

func (m startupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.phase == phaseBrowse {
			return m.updateBrowser(msg)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.phase == phaseOpening {
			return m, cmd
		}
		return m, nil

	case ui.BrowserCancelledMsg:
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)

	case ui.BrowserSelectedMsg:
		m.phase = phaseOpening
		m.errMsg = ""
		m.refs = msg.Refs
		return m, tea.Batch(m.spinner.Tick, openFeedCmd(m.app, msg.Refs))

	case startupResolvedMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
			if errors.Is(msg.err, feed.ErrNoContent) {
				m.errMsg = "No playable reels in this feed."
			}
			m.phase = phaseEmpty
			if m.canBrowse {
				m.phase = phaseBrowse
			}
			return m, nil
		}

		cmds := []tea.Cmd{msg.model.Init()}
		if m.width > 0 || m.height > 0 {
			w, h := m.width, m.height
			cmds = append(cmds, func() tea.Msg {
				return tea.WindowSizeMsg{Width: w, Height: h}
			})
		}
		return msg.model, tea.Batch(cmds...)

	case tea.KeyMsg:
		if m.phase != phaseBrowse && startupIsQuit(msg) {
			return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
		}
	}

	if m.phase == phaseBrowse {
		return m.updateBrowser(msg)
	}
	return m, nil
}

func (m startupModel) updateBrowser(msg tea.Msg) (tea.Model, tea.Cmd) {
	model, cmd := m.browser.Update(msg)
	if browser, ok := model.(ui.BrowserModel); ok {
		m.browser = browser
	}
	return m, cmd
}

func openFeedCmd(a *app, refs []string) tea.Cmd {
	return func() tea.Msg {
		model, err := a.open(refs)
		return startupResolvedMsg{model: model, err: err}
	}
}

func (m startupModel) View() string {
	switch m.phase {
	case phaseBrowse:
		if m.browser.HasError() {
			return "\n  reels\n\n  " + m.browser.Error().Error() + "\n"
		}
		if m.errMsg == "" {
			return m.browser.View()
		}
		return "\n  reels\n\n  " + startupErrorStyle.Render(m.errMsg) + "\n\n" + indentBlock(m.browser.View(), "  ")
	case phaseEmpty:
		return m.renderEmptyView()
	default:
		return m.renderOpeningView()
	}
}

func (m startupModel) renderOpeningView() string {
	var b strings.Builder
	b.WriteString("\n  ")
	b.WriteString(startupHeaderStyle.Render("reels"))
	b.WriteString("\n\n  ")
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(startupStatusStyle.Render("Loading feed..."))
	b.WriteString("\n\n  ")
	b.WriteString(startupHelpStyle.Render("q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m startupModel) renderEmptyView() string {
	var b strings.Builder
	b.WriteString("\n  ")
	b.WriteString(startupHeaderStyle.Render("reels"))
	b.WriteString("\n\n  ")
	b.WriteString(startupErrorStyle.Render(m.errMsg))
	b.WriteString("\n\n  ")
	b.WriteString(startupHelpStyle.Render("q quit"))
	b.WriteString("\n")
	return b.String()
}

func indentBlock(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		if lines[i] != "" {
			lines[i] = prefix + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

func startupIsQuit(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		return true
	}
	return false
}

var (
	startupHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"})
	startupStatusStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#BBBBBB"})
	startupHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"})
	startupErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.AdaptiveColor{Light: "#A00000", Dark: "#FF8080"})
)
