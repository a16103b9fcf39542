package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/reels/internal/feed"
)

// BrowserSelectedMsg carries the references picked in the browser. Source is
// the feed file path, or "links" for pasted references.
type BrowserSelectedMsg struct {
	Source string
	Refs   []string
}

// BrowserCancelledMsg is sent when the user leaves the browser.
type BrowserCancelledMsg struct{}

type feedItem struct {
	name string
	ext  string
}

func (i feedItem) Title() string       { return i.name }
func (i feedItem) Description() string { return i.ext }
func (i feedItem) FilterValue() string { return i.name }

type linksItem struct{}

func (i linksItem) Title() string       { return "Paste links..." }
func (i linksItem) Description() string { return "comma separated video links or ids" }
func (i linksItem) FilterValue() string { return "links" }

// BrowserModel lists the feed files of a directory.
type BrowserModel struct {
	dir       string
	list      list.Model
	input     textinput.Model
	linksMode bool
	errMsg    string
	err       error
}

// NewBrowser creates a browser over the feed files in dir.
func NewBrowser(dir string) BrowserModel {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return BrowserModel{dir: dir, err: fmt.Errorf("cannot read directory: %w", err)}
	}

	items := []list.Item{linksItem{}}
	for _, e := range entries {
		if e.IsDir() || !feed.IsListFile(e.Name()) {
			continue
		}
		ext := filepath.Ext(e.Name())
		items = append(items, feedItem{name: strings.TrimSuffix(e.Name(), ext), ext: ext})
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.AdaptiveColor{Light: "#333333", Dark: "#FFFFFF"}).
		BorderLeftForeground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#888888"}).
		BorderLeftForeground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	l := list.New(items, delegate, 80, 20)
	l.Title = "reels"
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = headerStyle

	ti := textinput.New()
	ti.Placeholder = "https://youtu.be/..., ..."
	ti.CharLimit = 8192
	ti.Width = 60

	return BrowserModel{dir: dir, list: l, input: ti}
}

// HasError returns true if the browser could not be initialized.
func (m BrowserModel) HasError() bool {
	return m.err != nil
}

// Error returns the initialization error, if any.
func (m BrowserModel) Error() error {
	return m.err
}

func (m BrowserModel) Init() tea.Cmd {
	return tea.SetWindowTitle("reels")
}

func (m BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.linksMode {
		return m.updateLinksInput(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}

		switch msg.String() {
		case "enter":
			switch item := m.list.SelectedItem().(type) {
			case linksItem:
				m.linksMode = true
				m.errMsg = ""
				m.input.Focus()
				return m, tea.Batch(textinput.Blink, tea.SetWindowTitle("reels - paste links"))
			case feedItem:
				path := filepath.Join(m.dir, item.name+item.ext)
				refs, err := feed.ReadFile(path)
				if err != nil {
					m.errMsg = err.Error()
					return m, nil
				}
				return m, selected(path, refs)
			}
		case "q", "esc", "ctrl+c":
			return m, cancelled
		}

	case tea.WindowSizeMsg:
		m.list.SetWidth(msg.Width)
		m.list.SetHeight(msg.Height)
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m BrowserModel) updateLinksInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			if refs := feed.SplitParam(m.input.Value()); len(refs) > 0 {
				return m, selected("links", refs)
			}
			return m, nil
		case "esc":
			m.linksMode = false
			m.input.Reset()
			m.input.Blur()
			return m, tea.SetWindowTitle("reels")
		case "ctrl+c":
			return m, cancelled
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func selected(source string, refs []string) tea.Cmd {
	return func() tea.Msg {
		return BrowserSelectedMsg{Source: source, Refs: refs}
	}
}

func cancelled() tea.Msg {
	return BrowserCancelledMsg{}
}

func (m BrowserModel) View() string {
	if m.linksMode {
		s := "\n"
		s += "  " + headerStyle.Render("reels") + "\n"
		s += "\n"
		s += "  " + statusStyle.Render("Paste links:") + "\n"
		s += "  " + m.input.View() + "\n"
		s += "\n"
		s += "  " + helpStyle.Render("enter confirm  esc back  ctrl+c quit") + "\n"
		return s
	}
	if m.errMsg != "" {
		return "\n  " + errorStyle.Render(m.errMsg) + "\n\n" + m.list.View()
	}
	return m.list.View()
}
