// Package tui provides the Bubble Tea drill interface.
package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/drillog/internal/dataset"
	"github.com/verte-zerg/drillog/internal/model"
)

// Recorder persists the drill as it happens.
type Recorder interface {
	StartSession(ctx context.Context, datasetID string, practiceType model.PracticeType, groupID string) (model.Session, error)
	RecordAttempt(ctx context.Context, sessionID int64, wordID string, startedAt, doneAt time.Time, chars []model.CharInput) (model.WordAttempt, error)
	EndSession(ctx context.Context, id int64) (model.Session, error)
	LeaveSession(id int64)
}

// Result describes how the drill ended.
type Result struct {
	Session   model.Session
	Completed bool
	Words     int
	Clean     int
	Err       error
}

type sessionStartedMsg struct {
	session model.Session
	err     error
}

type attemptSavedMsg struct {
	err error
}

type sessionEndedMsg struct {
	session model.Session
	err     error
}

var (
	correctStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	incorrectStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	pendingStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	currentWordStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A"))
	cursorStyle      = currentWordStyle.Copy().Underline(true)
	footerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	hintStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("#B0B0B0"))
)

// Model implements the Bubble Tea drill UI.
type Model struct {
	recorder     Recorder
	logger       *slog.Logger
	datasetID    string
	practiceType model.PracticeType
	groupID      string
	words        []dataset.Word
	now          func() time.Time

	width  int
	height int

	session model.Session
	started bool

	wordIndex   int
	units       []dataset.Unit
	unitIndex   int
	typed       []rune
	wordStarted time.Time
	unitStarted time.Time
	charInputs  []model.CharInput
	failed      map[int]bool

	result Result
}

// NewModel constructs a drill model over words, which are practised in the given order.
func NewModel(rec Recorder, datasetID string, practiceType model.PracticeType, groupID string, words []dataset.Word, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Model{
		recorder:     rec,
		logger:       logger,
		datasetID:    datasetID,
		practiceType: practiceType,
		groupID:      groupID,
		words:        words,
		now:          time.Now,
		failed:       map[int]bool{},
	}
	m.loadWord()
	return m
}

// Result returns the outcome once the program has exited.
func (m *Model) Result() Result {
	return m.result
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	rec, datasetID, pt, group := m.recorder, m.datasetID, m.practiceType, m.groupID
	return func() tea.Msg {
		session, err := rec.StartSession(context.Background(), datasetID, pt, group)
		return sessionStartedMsg{session: session, err: err}
	}
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case sessionStartedMsg:
		if msg.err != nil {
			m.result.Err = fmt.Errorf("start session: %w", msg.err)
			return m, tea.Quit
		}
		m.session = msg.session
		m.result.Session = msg.session
		m.started = true
		if len(m.words) == 0 {
			return m, m.endSession()
		}
		return m, nil
	case attemptSavedMsg:
		if msg.err != nil {
			m.logger.Error("failed to save attempt", "session", m.session.ID, "error", msg.err)
		}
		return m, nil
	case sessionEndedMsg:
		if msg.err != nil {
			m.result.Err = fmt.Errorf("end session: %w", msg.err)
		} else {
			m.result.Session = msg.session
			m.result.Completed = true
		}
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, m.leave()
		}
		if !m.started || m.wordIndex >= len(m.words) {
			return m, nil
		}
		switch msg.Type {
		case tea.KeyBackspace, tea.KeyDelete:
			if len(m.typed) > 0 {
				m.typed = m.typed[:len(m.typed)-1]
			}
			return m, nil
		case tea.KeyRunes:
			return m, m.handleRunes(msg.Runes)
		}
	}
	return m, nil
}

func (m *Model) leave() tea.Cmd {
	if m.started {
		m.recorder.LeaveSession(m.session.ID)
	}
	return tea.Quit
}

func (m *Model) loadWord() {
	m.units = nil
	m.unitIndex = 0
	m.typed = nil
	m.charInputs = nil
	m.wordStarted = time.Time{}
	if m.wordIndex >= len(m.words) {
		return
	}
	m.units = m.words[m.wordIndex].Units(m.practiceType)
	m.charInputs = make([]model.CharInput, len(m.units))
}

func (m *Model) handleRunes(runes []rune) tea.Cmd {
	var cmds []tea.Cmd
	for _, r := range runes {
		if m.wordIndex >= len(m.words) {
			break
		}
		now := m.now()
		if m.wordStarted.IsZero() {
			m.wordStarted = now
			m.unitStarted = now
		}
		m.skipSelfCompleting(now)
		if m.unitIndex >= len(m.units) {
			cmds = append(cmds, m.finishWord(now))
			continue
		}
		target := []rune(m.units[m.unitIndex].Target)
		if len(m.typed) >= len(target) || target[len(m.typed)] != r {
			m.charInputs[m.unitIndex].ErrorCount++
			continue
		}
		m.typed = append(m.typed, r)
		if len(m.typed) < len(target) {
			continue
		}
		m.completeUnit(now)
		m.skipSelfCompleting(now)
		if m.unitIndex >= len(m.units) {
			cmds = append(cmds, m.finishWord(now))
		}
	}
	return tea.Batch(cmds...)
}

// skipSelfCompleting completes units that take no input, like a trailing erhua.
func (m *Model) skipSelfCompleting(now time.Time) {
	for m.unitIndex < len(m.units) && m.units[m.unitIndex].Target == "" {
		m.completeUnit(now)
	}
}

func (m *Model) completeUnit(now time.Time) {
	m.charInputs[m.unitIndex].StartedAt = m.unitStarted
	m.charInputs[m.unitIndex].DoneAt = now
	m.unitIndex++
	m.unitStarted = now
	m.typed = nil
}

func (m *Model) finishWord(now time.Time) tea.Cmd {
	word := m.words[m.wordIndex]
	chars := m.charInputs
	clean := true
	for _, c := range chars {
		if c.ErrorCount > 0 {
			clean = false
		}
	}
	if !clean {
		m.failed[m.wordIndex] = true
	} else {
		m.result.Clean++
	}
	m.result.Words++
	rec, logger, sessionID, started := m.recorder, m.logger, m.session.ID, m.wordStarted
	m.wordIndex++
	m.loadWord()
	last := m.wordIndex >= len(m.words)
	// The final attempt must be stored before the session is ended.
	return func() tea.Msg {
		_, err := rec.RecordAttempt(context.Background(), sessionID, word.ID(), started, now, chars)
		if !last {
			return attemptSavedMsg{err: err}
		}
		if err != nil {
			logger.Error("failed to save attempt", "session", sessionID, "error", err)
		}
		session, err := rec.EndSession(context.Background(), sessionID)
		return sessionEndedMsg{session: session, err: err}
	}
}

func (m *Model) endSession() tea.Cmd {
	rec, id := m.recorder, m.session.ID
	return func() tea.Msg {
		session, err := rec.EndSession(context.Background(), id)
		return sessionEndedMsg{session: session, err: err}
	}
}

// View implements tea.Model.
func (m *Model) View() string {
	if !m.started {
		return footerStyle.Render("Starting session...")
	}
	if m.wordIndex >= len(m.words) {
		return footerStyle.Render("Saving...")
	}
	contentWidth := int(float64(m.width) * 0.70)
	if contentWidth < 1 {
		contentWidth = 60
	}
	word := m.words[m.wordIndex]
	chars := make([]rune, len(m.units))
	errs := make([]int, len(m.units))
	for i, u := range m.units {
		chars[i] = u.Char
		errs[i] = m.charInputs[i].ErrorCount
	}
	lines := []string{
		renderStyledRunes(buildUnitRunes(chars, m.unitIndex, errs)),
	}
	if m.practiceType == model.PracticePinyin {
		lines = append(lines, hintStyle.Render("> "+string(m.typed)))
	} else if word.Pinyin != "" {
		lines = append(lines, hintStyle.Render(word.Pinyin))
	}
	queue := make([]string, len(m.words))
	for i, w := range m.words {
		queue[i] = w.Text
	}
	lines = append(lines, "", wrapStyledRunes(buildQueueRunes(queue, m.wordIndex, m.failed), contentWidth))
	content := lipgloss.NewStyle().Width(contentWidth).Render(strings.Join(lines, "\n"))
	footer := m.renderFooter()
	if m.width == 0 || m.height < 3 {
		return content + "\n" + footer
	}
	body := lipgloss.Place(m.width, m.height-1, lipgloss.Center, lipgloss.Center, content)
	footerLine := lipgloss.Place(m.width, 1, lipgloss.Center, lipgloss.Center, footer)
	return body + "\n" + footerLine
}

func (m *Model) renderFooter() string {
	if len(m.words) == 0 {
		return ""
	}
	progress := int(float64(m.wordIndex) / float64(len(m.words)) * 100)
	segments := []string{
		fmt.Sprintf("Group %s", m.groupID),
		m.practiceType.Name(),
		fmt.Sprintf("Progress %d%%", progress),
		fmt.Sprintf("Clean %d/%d", m.result.Clean, m.result.Words),
	}
	if m.session.Tentative() {
		segments = append(segments, "offline")
	}
	return footerStyle.Render(strings.Join(segments, "  "))
}
