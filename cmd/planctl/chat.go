package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mediaplan/backend/internal/analysis"
	"mediaplan/backend/internal/config"
	"mediaplan/backend/internal/controller"
	"mediaplan/backend/internal/logger"
	"mediaplan/backend/internal/plan"
	"mediaplan/backend/internal/policy"
	"mediaplan/backend/internal/threads"
)

const chatHelp = "Commands: /plan prints the current plan, /state shows the stage, /quit exits."

func newChatCmd(loadPolicy func() (policy.Policy, error)) *cobra.Command {
	var (
		provider string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Plan a campaign interactively on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.AnalysisProvider = strings.ToLower(provider)
			}
			p, err := loadPolicy()
			if err != nil {
				return err
			}
			logs, err := logger.Connect(logger.ConnectProps{Level: logLevel})
			if err != nil {
				return err
			}
			defer func() { _ = logs.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			gateway, err := analysis.NewFromConfig(ctx, cfg, &p, logs, nil)
			if err != nil {
				return err
			}
			conversations, err := controller.New(controller.Options{
				Store:    threads.NewMemoryStore(),
				Analyzer: gateway,
				Policy:   &p,
				Logger:   logs,
			})
			if err != nil {
				return err
			}
			return runChat(ctx, conversations, cmd.InOrStdin(), cmd.OutOrStdout(), cfg.TurnTimeout)
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "analysis provider: auto, openrouter, gemini or heuristic")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

// runChat reads one turn per line until EOF, /quit or cancellation.
func runChat(ctx context.Context, conversations *controller.Controller, in io.Reader, out io.Writer, turnTimeout time.Duration) error {
	started, err := conversations.StartThread(ctx, time.Now())
	if err != nil {
		return err
	}
	threadID := started.ThreadID
	fmt.Fprintf(out, "%s\n(%s)\n\n", started.Message, chatHelp)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return conversations.EndThread(ctx, threadID)
		case "/plan", "/state":
			state, err := conversations.Snapshot(ctx, threadID)
			if err != nil {
				return err
			}
			switch {
			case line == "/state":
				fmt.Fprintf(out, "stage: %s\n\n", state.Stage)
			case state.FinalPlan == nil:
				fmt.Fprintln(out, "No plan yet.")
				fmt.Fprintln(out)
			default:
				fmt.Fprintln(out, plan.RenderMarkdown(*state.FinalPlan))
			}
			continue
		}

		result, err := handleLine(ctx, conversations, threadID, line, turnTimeout)
		if errors.Is(err, controller.ErrTurnCancelled) && ctx.Err() == nil {
			fmt.Fprintln(out, "That took too long. Please send it again.")
			fmt.Fprintln(out)
			continue
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\n\n", result.Message)
	}
}

func handleLine(ctx context.Context, conversations *controller.Controller, threadID, line string, turnTimeout time.Duration) (controller.TurnResult, error) {
	if turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, turnTimeout)
		defer cancel()
	}
	return conversations.HandleTurn(ctx, controller.Turn{ThreadID: threadID, Text: line, Timestamp: time.Now()})
}
