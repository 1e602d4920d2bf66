package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kalambet/docbot/internal/session"
)

const chatRequestTimeout = 2 * time.Minute

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat with the docbot server",
	Long: `Interactive chat with the docbot server.

Type a question and press Enter. "/clear" forgets the session history,
Esc or Ctrl+C quits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		followups, _ := cmd.Flags().GetBool("followups")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		m := newChatModel(client, sessionID, followups)
		if turns, err := client.history(cmd.Context(), sessionID); err == nil {
			for _, t := range turns {
				m.add(t.Type == session.TypeBot, t.Content)
			}
		}
		_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
		return err
	},
}

func init() {
	chatCmd.Flags().String("session", defaultSession, "chat session id")
	chatCmd.Flags().Bool("followups", true, "show follow-up suggestions")
}

var (
	chatTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chatUserStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	chatBotStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	chatHintStyle  = lipgloss.NewStyle().Faint(true)
	chatErrStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

type chatLine struct {
	bot  bool
	err  bool
	text string
}

type replyMsg struct {
	reply queryReply
}

type clearedMsg struct{}

type chatErrMsg struct {
	err error
}

type chatModel struct {
	client    *apiClient
	sessionID string
	followups bool

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model
	lines    []chatLine
	waiting  bool
	width    int
}

func newChatModel(client *apiClient, sessionID string, followups bool) *chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask about policies, manuals, procedures..."
	ti.Prompt = "› "
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &chatModel{
		client:    client,
		sessionID: sessionID,
		followups: followups,
		input:     ti,
		spinner:   sp,
		viewport:  viewport.New(80, 20),
		width:     80,
	}
}

func (m *chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *chatModel) add(bot bool, text string) {
	m.lines = append(m.lines, chatLine{bot: bot, text: text})
	m.refresh()
}

func (m *chatModel) addError(err error) {
	m.lines = append(m.lines, chatLine{err: true, text: err.Error()})
	m.refresh()
}

func (m *chatModel) refresh() {
	wrap := lipgloss.NewStyle().Width(max(m.width-2, 20))
	var b strings.Builder
	for _, l := range m.lines {
		switch {
		case l.err:
			b.WriteString(chatErrStyle.Render("error: "+l.text) + "\n\n")
		case l.bot:
			b.WriteString(chatBotStyle.Render("docbot") + "\n" + wrap.Render(l.text) + "\n\n")
		default:
			b.WriteString(chatUserStyle.Render("you") + "\n" + wrap.Render(l.text) + "\n\n")
		}
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *chatModel) ask(input string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), chatRequestTimeout)
		defer cancel()
		reply, err := m.client.ask(ctx, m.sessionID, input, m.followups)
		if err != nil {
			return chatErrMsg{err}
		}
		return replyMsg{reply}
	}
}

func (m *chatModel) clear() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), chatRequestTimeout)
		defer cancel()
		if err := m.client.clearHistory(ctx, m.sessionID); err != nil {
			return chatErrMsg{err}
		}
		return clearedMsg{}
	}
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 3)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.waiting {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.waiting = true
			if text == "/clear" {
				return m, tea.Batch(m.clear(), m.spinner.Tick)
			}
			m.add(false, text)
			return m, tea.Batch(m.ask(text), m.spinner.Tick)
		}

	case replyMsg:
		m.waiting = false
		text := msg.reply.Answer
		if len(msg.reply.Features.FollowUps) > 0 {
			text += "\n\nYou might also ask:\n  • " + strings.Join(msg.reply.Features.FollowUps, "\n  • ")
		}
		m.add(true, text)
		return m, nil

	case clearedMsg:
		m.waiting = false
		m.lines = nil
		m.refresh()
		return m, nil

	case chatErrMsg:
		m.waiting = false
		m.addError(msg.err)
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var inputCmd, vpCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(inputCmd, vpCmd)
}

func (m *chatModel) View() string {
	header := chatTitleStyle.Render("docbot") + chatHintStyle.Render(fmt.Sprintf("  session %s  ·  /clear  ·  esc to quit", m.sessionID))
	status := ""
	if m.waiting {
		status = m.spinner.View() + " thinking..."
	}
	return header + "\n" + m.viewport.View() + "\n" + status + "\n" + m.input.View()
}
