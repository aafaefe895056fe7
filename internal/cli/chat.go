package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/soyeahso/xiaoji/internal/apiclient"
	"github.com/soyeahso/xiaoji/internal/widget"
	"github.com/spf13/cobra"
)

func newChatCmd() *cobra.Command {
	var (
		server  string
		message string
		audio   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the parking assistant from the terminal",
		Long: `Chat with a running xiaoji server.

Lines are sent as messages. /clear starts a new conversation, /history
shows the recorded turns, /export FILE saves them as an HTML transcript
and /quit exits. With --audio the file is transcribed first and the text
is sent when you press enter.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadedConfig()
			if server == "" {
				server = cfg.ServerURL()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			api := apiclient.New(server, 0, log)
			orch := widget.New(api, widget.NewTerminalRenderer(out), log, widget.WithConfig(cfg.Widget))
			if err := orch.Start(ctx); err != nil {
				return err
			}

			if message != "" {
				return orch.Ask(ctx, message)
			}

			if audio != "" {
				voice := widget.NewVoiceCapture(orch, widget.FileRecorder{Path: audio}, nil, api, log)
				if err := voice.Press(ctx); err == nil {
					if text, err := voice.Release(ctx); err == nil {
						fmt.Fprintf(out, "识别结果: %s (回车发送)\n", text)
					}
				}
			}

			return chatLoop(ctx, cmd.InOrStdin(), out, orch, api)
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "server base URL (default from config)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	cmd.Flags().StringVar(&audio, "audio", "", "audio file to transcribe into the input")

	return cmd
}

// chatLoop reads lines from in until EOF, /quit, or ctx is cancelled.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, orch *widget.Orchestrator, api *apiclient.Client) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if path, ok := strings.CutPrefix(line, "/export "); ok {
			if err := exportHistory(ctx, strings.TrimSpace(path), orch, api); err != nil {
				fmt.Fprintf(out, "export failed: %v\n", err)
			} else {
				fmt.Fprintf(out, "transcript saved to %s\n", strings.TrimSpace(path))
			}
			continue
		}
		switch line {
		case "/quit", "/exit":
			return nil
		case "/clear":
			orch.Clear(ctx)
			continue
		case "/history":
			printHistory(ctx, out, orch, api)
			continue
		case "":
			// enter on an empty line sends a pending transcript
			line = orch.Input()
		}

		orch.SetInput(line)
		orch.Submit(ctx, line)
	}
}

func printHistory(ctx context.Context, out io.Writer, orch *widget.Orchestrator, api *apiclient.Client) {
	conv, err := api.History(ctx, orch.ConversationID())
	if err != nil {
		fmt.Fprintf(out, "history unavailable: %v\n", err)
		return
	}
	fmt.Fprintf(out, "conversation %s, %d messages since %s\n",
		conv.ID, len(conv.Messages), conv.CreatedAt.Local().Format("2006-01-02 15:04"))
	for _, m := range conv.Messages {
		fmt.Fprintf(out, "  [%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.Role, m.Content)
	}
}

// exportHistory writes the conversation's recorded turns to path as widget
// message markup.
func exportHistory(ctx context.Context, path string, orch *widget.Orchestrator, api *apiclient.Client) error {
	conv, err := api.History(ctx, orch.ConversationID())
	if err != nil {
		return err
	}
	page := widget.NewHTMLRenderer(nil)
	for _, m := range conv.Messages {
		page.AddMessage(m)
	}
	return errors.Wrap(os.WriteFile(path, []byte(page.HTML()), 0o644), "write transcript")
}
