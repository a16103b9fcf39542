package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/olivier-w/reels/internal/carousel"
	"github.com/olivier-w/reels/internal/gesture"
	"github.com/olivier-w/reels/internal/lifecycle"
	"github.com/olivier-w/reels/internal/mediaid"
	"github.com/olivier-w/reels/internal/util"
)

const (
	// RowPoints is the track size of one terminal row.
	RowPoints = 16.0

	hoverHold   = 2 * time.Second
	chromeRows  = 9
	minCardRows = 6
	maxCardW    = 72
)

// Titles looks up display titles. An empty title falls back to the id.
type Titles interface {
	Title(id mediaid.ID) string
}

// Model is the Bubbletea model hosting one carousel.
type Model struct {
	carousel *carousel.Controller
	titles   Titles
	keys     keyMap
	help     help.Model
	spinner  spinner.Model

	width    int
	height   int
	cardRows int
	quitting bool

	dragging  bool
	dragY     int
	lastIndex int
}

// New creates a Model for c. titles may be nil.
func New(c *carousel.Controller, titles Titles) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#AAAAAA"})

	return Model{
		carousel: c,
		titles:   titles,
		keys:     newKeyMap(),
		help:     help.New(),
		spinner:  s,
		cardRows: minCardRows,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.carousel.Init(), m.spinner.Tick, tea.SetWindowTitle(m.windowTitle()))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m.handleMsg(msg)
}

func (m Model) handleMsg(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.cardRows = max(msg.Height-chromeRows, minCardRows)
		return m, m.carousel.Update(carousel.ResizeMsg{Height: float64(m.cardRows) * RowPoints})

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m.after(m.carousel.Update(msg))
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	c := m.carousel
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		c.Unmount()
		return m, tea.Sequence(tea.SetWindowTitle(""), tea.Quit)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Next):
		return m.after(c.Update(carousel.StepMsg{Delta: 1}))
	case key.Matches(msg, m.keys.Prev):
		return m.after(c.Update(carousel.StepMsg{Delta: -1}))
	case key.Matches(msg, m.keys.Mute):
		return m.after(c.Update(carousel.ToggleMuteMsg{}))
	case key.Matches(msg, m.keys.Activate):
		return m.after(c.Update(carousel.InteractMsg{Index: c.Current()}))
	case key.Matches(msg, m.keys.Jump):
		idx, _ := jumpIndex(msg)
		return m.after(c.Update(carousel.RequestIndexMsg{Index: idx}))
	}
	return m, nil
}

// handleMouse turns left-button drags into track drags. Rows map to
// RowPoints each; moving up pulls the next item in.
func (m Model) handleMouse(msg tea.MouseMsg) (Model, tea.Cmd) {
	c := m.carousel
	cmds := []tea.Cmd{c.Update(carousel.HoverMsg{Duration: hoverHold})}

	switch {
	case msg.Button == tea.MouseButtonWheelUp:
		cmds = append(cmds, c.Update(carousel.StepMsg{Delta: -1}))
	case msg.Button == tea.MouseButtonWheelDown:
		cmds = append(cmds, c.Update(carousel.StepMsg{Delta: 1}))
	case msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft:
		m.dragging = true
		m.dragY = msg.Y
		cmds = append(cmds, c.Update(carousel.DragStartMsg{}))
	case msg.Action == tea.MouseActionMotion && m.dragging:
		offset := float64(msg.Y-m.dragY) * RowPoints
		cmds = append(cmds, c.Update(carousel.DragMoveMsg{Offset: offset}))
	case msg.Action == tea.MouseActionRelease && m.dragging:
		m.dragging = false
		cmds = append(cmds, c.Update(carousel.DragEndMsg{}))
	}
	return m.after(tea.Batch(cmds...))
}

// after retitles the window when the committed index changed.
func (m Model) after(cmd tea.Cmd) (Model, tea.Cmd) {
	if cur := m.carousel.Current(); cur != m.lastIndex {
		m.lastIndex = cur
		return m, tea.Batch(cmd, tea.SetWindowTitle(m.windowTitle()))
	}
	return m, cmd
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	c := m.carousel
	header := headerStyle.Render("reels")
	if c.Empty() {
		return "\n  " + header + "\n\n  " + statusStyle.Render("No reels to show.") + "\n"
	}

	w := m.width
	if w < 30 {
		w = 60
	}
	cardW := min(w-4, maxCardW)
	cur := c.Current()

	indicator := renderIndicator(cur, c.Len())
	gap := max(cardW-lipgloss.Width(header)-lipgloss.Width(indicator), 2)

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + header + strings.Repeat(" ", gap) + indicator + "\n")
	b.WriteString("\n")
	b.WriteString("  " + m.renderNeighbor(-1, cardW) + "\n")
	b.WriteString(indent(m.renderTrack(cardW), "  ") + "\n")
	b.WriteString("  " + m.renderNeighbor(1, cardW) + "\n")
	b.WriteString("\n")
	b.WriteString("  " + statusStyle.Render(m.statusLine()) + "\n")
	b.WriteString("\n")
	b.WriteString("  " + helpStyle.Render(m.help.View(m.keys)) + "\n")
	return b.String()
}

// renderTrack draws the current card moved by the live track offset, with
// the card it is moving towards sliding into the freed rows.
func (m Model) renderTrack(width int) string {
	c := m.carousel
	st := c.State()
	cur := st.CurrentIndex
	prev, next := m.neighbor(-1), m.neighbor(1)
	if settling, target := c.Settling(); settling && target != cur {
		if st.TrackOffset < 0 {
			next = target
		} else {
			prev = target
		}
	}

	rows := m.cardRows
	shift := int(math.Round(st.TrackOffset / RowPoints))
	return slideStrip(
		m.renderCard(prev, width, rows),
		m.renderCard(cur, width, rows),
		m.renderCard(next, width, rows),
		shift, rows)
}

// neighbor returns the index dir positions away, or -1 at a feed edge.
func (m Model) neighbor(dir int) int {
	c := m.carousel
	cur := c.Current()
	idx := gesture.Advance(cur, dir, c.Len(), c.Wrap())
	if idx == cur {
		return -1
	}
	return idx
}

func (m Model) renderCard(index, width, height int) string {
	if index < 0 {
		return ""
	}
	item := m.carousel.Items()[index]
	inner := width - 6
	lines := []string{
		titleStyle.Render(truncate(m.title(item.ID), inner)),
		idStyle.Render(truncate(item.SourceURL, inner)),
		"",
		m.cardState(index, inner),
	}
	return cardStyle.Width(width - 2).Height(height - 2).MaxHeight(height).Render(strings.Join(lines, "\n"))
}

func (m Model) cardState(index, width int) string {
	rec, ok := m.carousel.Record(index)
	if !ok {
		return neighborStyle.Render("▢ not loaded")
	}
	switch rec.Status() {
	case lifecycle.Activating:
		return m.spinner.View() + " loading"
	case lifecycle.Ready:
		if rec.Playing() {
			return "▶ playing"
		}
		return "❚❚ paused"
	case lifecycle.Error:
		reason := "unavailable"
		if err := rec.Err(); err != nil {
			reason += ": " + err.Error()
		}
		return errorStyle.Render(truncate("✖ "+reason, width))
	default:
		return neighborStyle.Render("▢ press enter to play")
	}
}

func (m Model) renderNeighbor(dir, width int) string {
	idx := m.neighbor(dir)
	if idx < 0 {
		return ""
	}
	rec, mounted := m.carousel.Record(idx)
	arrow := "↑"
	if dir > 0 {
		arrow = "↓"
	}
	glyph := statusGlyph(rec, mounted, m.spinner.View())
	title := truncate(m.title(m.carousel.Items()[idx].ID), width-6)
	return neighborStyle.Render(arrow+" ") + glyph + neighborStyle.Render(" "+title)
}

func (m Model) statusLine() string {
	c := m.carousel
	parts := make([]string, 0, 3)
	if c.State().MutedDefault {
		parts = append(parts, "muted")
	} else {
		parts = append(parts, "sound on")
	}
	if d := c.Autoplay(); d > 0 {
		s := "autoplay " + util.FormatDuration(d)
		if c.AutoplayPaused() {
			s += " (held)"
		}
		parts = append(parts, s)
	}
	pre := c.Window().Preload
	warm := 0
	for _, idx := range pre.Indices() {
		if c.IsWarm(idx) {
			warm++
		}
	}
	parts = append(parts, fmt.Sprintf("warm %d/%d", warm, pre.Len()))
	return strings.Join(parts, "  ·  ")
}

func (m Model) title(id mediaid.ID) string {
	if m.titles != nil {
		if t := m.titles.Title(id); t != "" {
			return t
		}
	}
	return string(id)
}

func (m Model) windowTitle() string {
	c := m.carousel
	if c.Empty() {
		return "reels"
	}
	return "▶ " + m.title(c.Items()[c.Current()].ID) + " - reels"
}
