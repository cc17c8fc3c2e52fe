package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"voxd/app"
)

// TUI message types
type StateMsg struct{ State app.State }
type LevelMsg struct{ RMS, Peak float32 }
type PartialMsg struct{ Text string }
type CommittedMsg struct {
	Text       string
	Confidence float64
}
type SilenceWarningMsg struct{}
type ErrorMsg struct {
	Text        string
	Recoverable bool
}
type tickMsg time.Time

var (
	tuiProgram   *tea.Program
	tuiMu        sync.Mutex
	tuiReady     = make(chan struct{})
	tuiReadyOnce sync.Once
)

func tuiSend(msg tea.Msg) {
	tuiMu.Lock()
	p := tuiProgram
	tuiMu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

const transcriptKeep = 8

var (
	styleTitle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Bold(true)
	styleIdle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	styleActive    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleBusy      = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleMeterOn   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleMeterPeak = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleMeterOff  = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	stylePartial   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	styleText      = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleWarn      = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleHelp      = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	styleHelpBold  = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
)

type tuiModel struct {
	chord         string
	state         app.State
	level         float64
	peak          float64
	partial       string
	transcript    []string
	lastConf      float64
	errText       string
	silenceWarn   bool
	width, height int
}

func NewTUIProgram(chord string) *tea.Program {
	return tea.NewProgram(tuiModel{chord: chord}, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	tuiReadyOnce.Do(func() { close(tuiReady) })
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

	case tickMsg:
		// Let the meter fall back between readings.
		m.level *= 0.8
		if m.level < 0.001 {
			m.level = 0
		}
		return m, tuiTick()

	case StateMsg:
		m.state = msg.State
		switch msg.State {
		case app.Idle:
			m.level = 0
			m.peak = 0
			m.partial = ""
			m.silenceWarn = false
		case app.Listening:
			m.errText = ""
		}

	case LevelMsg:
		m.level = m.level*0.4 + float64(msg.RMS)*0.6
		if p := float64(msg.Peak); p > m.peak {
			m.peak = p
		}
		m.silenceWarn = false

	case PartialMsg:
		m.partial = msg.Text

	case CommittedMsg:
		m.partial = ""
		m.lastConf = msg.Confidence
		m.transcript = append(m.transcript, msg.Text)
		if len(m.transcript) > transcriptKeep {
			m.transcript = m.transcript[len(m.transcript)-transcriptKeep:]
		}

	case SilenceWarningMsg:
		m.silenceWarn = true

	case ErrorMsg:
		m.errText = msg.Text
	}
	return m, nil
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(styleTitle.Render("voxd "+version) + "\n\n")

	b.WriteString(m.statusLine() + "\n")
	b.WriteString(renderMeter(m.level, m.peak, 32) + "\n\n")

	if m.silenceWarn {
		b.WriteString(styleWarn.Render("⚠ no voice detected — is the right mic selected?") + "\n\n")
	}
	if m.errText != "" {
		prefix := "✗ "
		if m.state != app.Error {
			prefix = "⚠ "
		}
		b.WriteString(styleError.Render(prefix+m.errText) + "\n\n")
	}

	wrapWidth := m.width - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	if m.partial != "" {
		for _, line := range wrapText(m.partial, wrapWidth) {
			b.WriteString(stylePartial.Render(line) + "\n")
		}
		b.WriteString("\n")
	}

	if len(m.transcript) > 0 {
		b.WriteString(styleIdle.Render("Transcript") + "\n")
		for _, seg := range m.transcript {
			for _, line := range wrapText(seg, wrapWidth) {
				b.WriteString(styleText.Render(line) + "\n")
			}
		}
		if m.lastConf > 0 {
			b.WriteString(styleIdle.Render(fmt.Sprintf("confidence %.2f", m.lastConf)) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(styleHelpBold.Render("hold "+m.chord) + styleHelp.Render(" to dictate · ") +
		styleHelpBold.Render("q") + styleHelp.Render(" to quit"))
	return b.String()
}

func (m tuiModel) statusLine() string {
	switch m.state {
	case app.Idle:
		return styleIdle.Render("○ STANDBY")
	case app.Connecting:
		return styleBusy.Render("◌ CONNECTING")
	case app.Listening:
		return styleActive.Render("● LISTENING")
	case app.Transcribing:
		return styleActive.Render("● TRANSCRIBING")
	case app.Injecting:
		return styleBusy.Render("● INJECTING")
	case app.Reconnecting:
		return styleBusy.Render("◌ RECONNECTING")
	case app.Error:
		return styleError.Render("✗ ERROR")
	}
	return styleIdle.Render(m.state.String())
}

// renderMeter draws a fixed-width level bar with a peak marker.
func renderMeter(level, peak float64, width int) string {
	lit := int(level * float64(width) * 3) // speech RMS rarely exceeds ~0.3
	if lit > width {
		lit = width
	}
	peakPos := int(peak * float64(width) * 3)
	if peakPos >= width {
		peakPos = width - 1
	}

	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i == peakPos && peak > 0:
			b.WriteString(styleMeterPeak.Render("▌"))
		case i < lit:
			b.WriteString(styleMeterOn.Render("▌"))
		default:
			b.WriteString(styleMeterOff.Render("▁"))
		}
	}
	return b.String()
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		// Find last space within width
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
