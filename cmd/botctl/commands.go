package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kentyler/cogito-sub006/external/httpapi"
	"github.com/spf13/cobra"
)

type adminAPI interface {
	CreateBot(ctx context.Context, req httpapi.CreateBotRequest) (*httpapi.BotView, error)
	GetBot(ctx context.Context, id string) (*httpapi.BotView, error)
	ListStuck(ctx context.Context, threshold time.Duration) ([]httpapi.BotView, error)
	ListTurns(ctx context.Context, id string) ([]httpapi.TurnView, error)
	Leave(ctx context.Context, id string) (*httpapi.BotView, error)
	ForceComplete(ctx context.Context, id string) (*httpapi.BotView, error)
}

// Deps holds what the commands need from the outside world.
type Deps struct {
	NewClient func(server, token string) adminAPI
	Out       io.Writer
}

func DefaultDeps() *Deps {
	return &Deps{
		NewClient: func(server, token string) adminAPI { return httpapi.NewAdminClient(server, token) },
		Out:       os.Stdout,
	}
}

type globalFlags struct {
	server string
	token  string
	output string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewRootCommand builds botctl with all subcommands.
func NewRootCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "botctl",
		Short: "Operate meeting bots through the admin API",
		Long: `Operate meeting bots through the backend admin API.

Examples:
  # Send a bot to a meeting
  botctl create https://zoom.us/j/123 --name "Weekly sync"

  # Show bots that stopped making progress
  botctl stuck --threshold 15m

  # Finish a bot whose call already ended
  botctl force-complete 6f1c...`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&flags.server, "server", envOr("BOTCTL_SERVER", "http://localhost:8080"), "Backend base URL (env BOTCTL_SERVER)")
	cmd.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("ADMIN_TOKEN"), "Admin bearer token (env ADMIN_TOKEN)")
	cmd.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "Output format: text, json")

	client := func() adminAPI { return deps.NewClient(flags.server, flags.token) }

	cmd.AddCommand(newCreateCommand(deps, flags, client))
	cmd.AddCommand(newGetCommand(deps, flags, client))
	cmd.AddCommand(newStuckCommand(deps, flags, client))
	cmd.AddCommand(newTurnsCommand(deps, flags, client))
	cmd.AddCommand(newLeaveCommand(deps, flags, client))
	cmd.AddCommand(newForceCompleteCommand(deps, flags, client))
	return cmd
}

func newCreateCommand(deps *Deps, flags *globalFlags, client func() adminAPI) *cobra.Command {
	var name, clientID string
	cmd := &cobra.Command{
		Use:   "create <meeting-url>",
		Short: "Send a bot to a meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := client().CreateBot(cmd.Context(), httpapi.CreateBotRequest{
				MeetingURL:  args[0],
				MeetingName: name,
				ClientID:    clientID,
			})
			if err != nil {
				return fmt.Errorf("create bot: %w", err)
			}
			return printBots(deps.Out, flags.output, bot)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Meeting name shown in the transcript")
	cmd.Flags().StringVar(&clientID, "client", "", "Client id recorded on the bot")
	return cmd
}

func newGetCommand(deps *Deps, flags *globalFlags, client func() adminAPI) *cobra.Command {
	return &cobra.Command{
		Use:   "get <bot-id>",
		Short: "Show a bot and its turn count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := client().GetBot(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get bot: %w", err)
			}
			if flags.output == "json" {
				return writeJSON(deps.Out, bot)
			}
			if err := printBots(deps.Out, flags.output, bot); err != nil {
				return err
			}
			if bot.TurnCount != nil {
				fmt.Fprintf(deps.Out, "\nTurns: %d\n", *bot.TurnCount)
			}
			if bot.LastTurnAt != nil {
				fmt.Fprintf(deps.Out, "Last turn: %s\n", bot.LastTurnAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newStuckCommand(deps *Deps, flags *globalFlags, client func() adminAPI) *cobra.Command {
	var threshold time.Duration
	cmd := &cobra.Command{
		Use:   "stuck",
		Short: "List bots that made no progress within the threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bots, err := client().ListStuck(cmd.Context(), threshold)
			if err != nil {
				return fmt.Errorf("list stuck bots: %w", err)
			}
			if flags.output == "json" {
				return writeJSON(deps.Out, bots)
			}
			if len(bots) == 0 {
				fmt.Fprintln(deps.Out, "No stuck bots.")
				return nil
			}
			tw := tabwriter.NewWriter(deps.Out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tIDLE\tMEETING")
			for _, b := range bots {
				idle := "-"
				if b.IdleSeconds != nil {
					idle = (time.Duration(*b.IdleSeconds) * time.Second).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.State, idle, b.MeetingURL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 0, "Idle threshold (default: server setting)")
	return cmd
}

func newTurnsCommand(deps *Deps, flags *globalFlags, client func() adminAPI) *cobra.Command {
	return &cobra.Command{
		Use:   "turns <bot-id>",
		Short: "Print the turns recorded for a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			turns, err := client().ListTurns(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("list turns: %w", err)
			}
			if flags.output == "json" {
				return writeJSON(deps.Out, turns)
			}
			for _, t := range turns {
				speaker := t.SpeakerLabel
				if speaker == "" {
					speaker = "-"
				}
				fmt.Fprintf(deps.Out, "%4d  %s  [%s] %s: %s\n", t.Sequence, t.Timestamp.Format(time.TimeOnly), t.SourceType, speaker, t.Content)
			}
			return nil
		},
	}
}

func newLeaveCommand(deps *Deps, flags *globalFlags, client func() adminAPI) *cobra.Command {
	return &cobra.Command{
		Use:   "leave <bot-id>",
		Short: "Ask a bot to leave its call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := client().Leave(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("leave: %w", err)
			}
			return printBots(deps.Out, flags.output, bot)
		},
	}
}

func newForceCompleteCommand(deps *Deps, flags *globalFlags, client func() adminAPI) *cobra.Command {
	return &cobra.Command{
		Use:   "force-complete <bot-id>",
		Short: "Mark a bot inactive and send its transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bot, err := client().ForceComplete(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("force complete: %w", err)
			}
			return printBots(deps.Out, flags.output, bot)
		},
	}
}

func printBots(w io.Writer, format string, bots ...*httpapi.BotView) error {
	if format == "json" {
		if len(bots) == 1 {
			return writeJSON(w, bots[0])
		}
		return writeJSON(w, bots)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tPROVIDER ID\tMEETING")
	for _, b := range bots {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.State, b.ProviderBotID, b.MeetingURL)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
