package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/folio-site/folio/pkg/chat"
	"github.com/folio-site/folio/pkg/models"
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFDF5"))
	labelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle     = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF5F87")).
			Padding(0, 1)
)

// termView draws the chat in a terminal.
type termView struct {
	out          io.Writer
	showControls bool
}

var _ chat.View = (*termView)(nil)

func (v *termView) RenderUserTurn(text string) {
	fmt.Fprintf(v.out, "%s %s\n", labelStyle.Render("you:"), userStyle.Render(text))
}

func (v *termView) RenderAssistantTurn(text string) {
	fmt.Fprintf(v.out, "%s %s\n", labelStyle.Render("assistant:"), assistantStyle.Render(text))
}

func (v *termView) RenderTranscript(turns []models.Turn) {
	for _, t := range turns {
		if t.Role == models.RoleUser {
			v.RenderUserTurn(t.Content)
		} else {
			v.RenderAssistantTurn(t.Content)
		}
	}
}

func (v *termView) ShowTyping() { fmt.Fprint(v.out, dimStyle.Render("assistant is typing...")) }

// HideTyping erases the typing line.
func (v *termView) HideTyping() { fmt.Fprint(v.out, "\r\033[K") }

func (v *termView) RemoveLastUserRender() {
	fmt.Fprintln(v.out, dimStyle.Render("(last message was not sent)"))
}

func (v *termView) ShowError(text string) { fmt.Fprintln(v.out, errorStyle.Render(text)) }

func (v *termView) RevealHistoryControls() {
	if !v.showControls {
		v.showControls = true
		fmt.Fprintln(v.out, dimStyle.Render("type /clear to clear the conversation"))
	}
}

func (v *termView) HideHistoryControls() { v.showControls = false }

func (v *termView) ClearTranscript() { fmt.Fprint(v.out, "\033[H\033[2J") }

func (v *termView) ReseedWelcome(text string) { v.RenderAssistantTurn(text) }

func (v *termView) DisableInput() {}

func (v *termView) EnableInput() { fmt.Fprint(v.out, labelStyle.Render("> ")) }

func newChatCmd() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the portfolio assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if endpoint != "" {
				cfg.Chat.Endpoint = endpoint
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			client := chat.NewClient(cfg.Chat.Endpoint,
				chat.WithRetryDelay(cfg.Chat.RetryDelay),
				chat.WithTimeout(cfg.Chat.Timeout),
			)
			view := &termView{out: cmd.OutOrStdout()}
			session := chat.NewSession(client, store, view,
				chat.WithContextWindow(cfg.Chat.ContextWindow),
				chat.WithMaxTurns(cfg.History.MaxTurns),
				chat.WithWelcome(cfg.Chat.Welcome),
			)
			if err := session.Attach(ctx); err != nil {
				return err
			}
			defer session.Detach()
			log.Debug().Str("session_id", session.ID()).Str("endpoint", cfg.Chat.Endpoint).Msg("chat session attached")

			return runREPL(ctx, cmd.InOrStdin(), view, session)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "completion endpoint (overrides chat.endpoint)")
	return cmd
}

// runREPL reads one message per line until EOF, /quit or ctx is done.
func runREPL(ctx context.Context, in io.Reader, view *termView, session *chat.Session) error {
	lines := scanLines(ctx, in)

	view.EnableInput()
	for {
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(view.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(view.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch line {
		case "/quit", "/exit":
			return nil
		case "/clear":
			fmt.Fprint(view.out, "Clear chat history? [y/N] ")
			var answer string
			var ok bool
			select {
			case <-ctx.Done():
				fmt.Fprintln(view.out)
				return nil
			case answer, ok = <-lines:
			}
			if ok && isYes(answer) {
				if err := session.Clear(ctx); err != nil {
					return err
				}
			}
			view.EnableInput()
		case "":
			view.EnableInput()
		default:
			// Failures are already shown by the view.
			_ = session.Send(ctx, line)
		}
	}
}

// scanLines delivers lines from in until EOF or ctx is done. The channel is
// closed when the reader goroutine exits.
func scanLines(ctx context.Context, in io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func isYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	}
	return false
}
