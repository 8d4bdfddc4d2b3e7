// Package statsui provides the Bubble Tea stats interface.
package statsui

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/drillog/internal/model"
	"github.com/verte-zerg/drillog/internal/stats"
)

const (
	tabOverview = iota
	tabWords
	tabActivity
)

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	cardStyle   = lipgloss.NewStyle().
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#4A4A4A"))
	cardTitleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	cardValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// Model implements the Bubble Tea stats UI.
type Model struct {
	source       stats.Source
	datasetID    string
	practiceType model.PracticeType

	report stats.Report
	errMsg string

	tabs      []string
	activeTab int
	viewports []viewport.Model
	wordTable table.Model

	width  int
	height int

	filterMode  bool
	filterInput textinput.Model
	groupFilter string
}

// NewModel constructs a stats UI model.
func NewModel(src stats.Source, datasetID string, practiceType model.PracticeType) *Model {
	m := &Model{
		source:       src,
		datasetID:    datasetID,
		practiceType: practiceType,
		tabs:         []string{"Overview", "Words", "Activity"},
	}
	m.filterInput = textinput.New()
	m.filterInput.Prompt = "Group: "
	m.filterInput.Cursor.SetMode(cursor.CursorBlink)
	m.wordTable = buildWordTable(nil, 0, 1)
	m.viewports = make([]viewport.Model, len(m.tabs))
	for i := range m.viewports {
		m.viewports[i] = viewport.New(0, 0)
	}
	m.refreshReport()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.renderTabContents()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q", "esc":
			return m, tea.Quit
		case "left", "h":
			m.moveTab(-1)
			return m, tea.ClearScreen
		case "right", "l":
			m.moveTab(1)
			return m, tea.ClearScreen
		case "t":
			if m.practiceType == model.PracticeStroke {
				m.practiceType = model.PracticePinyin
			} else {
				m.practiceType = model.PracticeStroke
			}
			m.refreshReport()
			m.updateLayout()
			return m, nil
		case "r":
			m.refreshReport()
			m.updateLayout()
			return m, nil
		case "/":
			m.filterMode = true
			m.filterInput.SetValue(m.groupFilter)
			return m, m.filterInput.Focus()
		default:
			if m.activeTab == tabWords {
				var cmd tea.Cmd
				m.wordTable, cmd = m.wordTable.Update(msg)
				return m, cmd
			}
			vp := m.viewports[m.activeTab]
			var cmd tea.Cmd
			vp, cmd = vp.Update(msg)
			m.viewports[m.activeTab] = vp
			return m, cmd
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterInput.Blur()
		return m, nil
	case tea.KeyEnter:
		m.filterMode = false
		m.filterInput.Blur()
		m.groupFilter = strings.TrimSpace(m.filterInput.Value())
		m.applyWordTable()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	return m, cmd
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := lipgloss.Height(activeNavStyle.Render("X"))
	if tabsHeight < 1 {
		tabsHeight = 1
	}
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = m.height - headerHeight - footerHeight
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	for i := range m.viewports {
		m.viewports[i].Width = m.width
		m.viewports[i].Height = bodyHeight
	}
	m.wordTable.SetWidth(m.width)
	m.wordTable.SetHeight(maxInt(1, bodyHeight-1))
	m.filterInput.Width = maxInt(10, m.width-lipgloss.Width(m.filterInput.Prompt)-2)
}

func (m *Model) moveTab(delta int) {
	count := len(m.tabs)
	next := m.activeTab + delta
	if next < 0 {
		next = count - 1
	}
	if next >= count {
		next = 0
	}
	m.activeTab = next
	if m.activeTab == tabWords {
		m.wordTable.Focus()
	} else {
		m.wordTable.Blur()
	}
}

func (m *Model) renderTabs() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) renderHeader() string {
	group := m.groupFilter
	if group == "" {
		group = "all"
	}
	summary := fmt.Sprintf("Dataset: %s  practice=%s  group=%s", m.datasetID, m.practiceType.Name(), group)
	return padLines(m.renderTabs(), m.width) + "\n" + headerStyle.Render(truncateLine(summary, m.width))
}

func (m *Model) renderFooter() string {
	help := headerStyle.Render("Nav: left/right  Type: t  Group: /  Reload: r  Quit: q")
	if m.filterMode {
		help = m.filterInput.View()
	}
	if m.errMsg != "" {
		return help + "\n" + errorStyle.Render(m.errMsg)
	}
	return help
}

func (m *Model) renderBody() string {
	if m.activeTab == tabWords {
		if len(m.report.Words) == 0 {
			return "No word stats found."
		}
		return tableMutedStyle.Render(m.wordTable.View())
	}
	return m.viewports[m.activeTab].View()
}

func (m *Model) refreshReport() {
	report, err := stats.BuildReport(context.Background(), m.source, m.datasetID, m.practiceType)
	if err != nil {
		m.errMsg = err.Error()
		m.report = stats.Report{}
	} else {
		m.errMsg = ""
		m.report = report
	}
	m.applyWordTable()
	m.renderTabContents()
}

func (m *Model) applyWordTable() {
	cols, rows := buildWordTableData(m.filteredWords())
	m.wordTable.SetRows(nil)
	m.wordTable.SetColumns(cols)
	m.wordTable.SetRows(rows)
	m.wordTable.GotoTop()
}

func (m *Model) filteredWords() []model.WordStat {
	if m.groupFilter == "" {
		return m.report.Words
	}
	out := make([]model.WordStat, 0, len(m.report.Words))
	for _, w := range m.report.Words {
		if w.GroupID == m.groupFilter {
			out = append(out, w)
		}
	}
	return out
}

func (m *Model) renderTabContents() {
	if m.errMsg != "" {
		for i := range m.viewports {
			m.viewports[i].SetContent("Failed to load stats.")
		}
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	m.viewports[tabOverview].SetContent(renderOverview(m.report, width))
	m.viewports[tabActivity].SetContent(renderActivity(m.report.Activity, width))
}

func renderOverview(report stats.Report, width int) string {
	var practiced, clean, failed int
	for _, w := range report.Words {
		practiced++
		clean += w.SuccessCount
		failed += w.ErrorCount
	}
	var sessions, full int
	for _, g := range report.Groups {
		sessions += g.Total
		full += g.Full
	}
	cards := []string{
		metricCard("Sessions", fmt.Sprintf("%d", sessions)),
		metricCard("Full", fmt.Sprintf("%d", full)),
		metricCard("Words", fmt.Sprintf("%d", practiced)),
		metricCard("Clean", fmt.Sprintf("%d", clean)),
		metricCard("Errors", fmt.Sprintf("%d", failed)),
		metricCard("Pending", fmt.Sprintf("%d", report.Pending.Total())),
	}
	var summary string
	if width < 80 {
		summary = strings.Join(cards, "\n")
	} else {
		row1 := lipgloss.JoinHorizontal(lipgloss.Top, cards[0], cards[1], cards[2])
		row2 := lipgloss.JoinHorizontal(lipgloss.Top, cards[3], cards[4], cards[5])
		summary = lipgloss.JoinVertical(lipgloss.Left, row1, row2)
	}
	var buf bytes.Buffer
	if err := stats.RenderGroupSummaries(&buf, report.Groups); err != nil {
		return fmt.Sprintf("Failed to render groups: %v", err)
	}
	return strings.TrimRight(summary+"\n\n"+buf.String(), "\n")
}

func renderActivity(days []model.DailyActivity, width int) string {
	var buf bytes.Buffer
	if err := stats.RenderActivity(&buf, days, width-24, 0); err != nil {
		return fmt.Sprintf("Failed to render activity: %v", err)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func metricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s", cardTitleStyle.Render(label), cardValueStyle.Render(value))
	return cardStyle.Render(content)
}

func buildWordTable(words []model.WordStat, width, height int) table.Model {
	cols, rows := buildWordTableData(words)
	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithHeight(maxInt(1, height-1)),
	)
	t.SetWidth(width)
	t.SetStyles(wordTableStyles())
	return t
}

func buildWordTableData(words []model.WordStat) ([]table.Column, []table.Row) {
	widths := []int{8, 12, 6, 7, 9, 17}
	columns := make([]table.Column, len(stats.WordHeaders))
	for i, title := range stats.WordHeaders {
		columns[i] = table.Column{Title: title, Width: widths[i]}
	}
	src := stats.WordRows(words)
	rows := make([]table.Row, 0, len(src))
	for _, r := range src {
		rows = append(rows, table.Row(r))
	}
	return columns, rows
}

func wordTableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func padLines(s string, width int) string {
	if width <= 0 || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	return strings.Join(lines, "\n")
}

func padLine(line string, width int) string {
	lineWidth := lipgloss.Width(line)
	if lineWidth < width {
		return line + strings.Repeat(" ", width-lineWidth)
	}
	return line
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = padLine(line, width)
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}

func truncateLine(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && lipgloss.Width(string(runes))+3 > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
