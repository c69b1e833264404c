package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var askChatID string

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question from the terminal",
	Long: `Ask a question about indexed content from the terminal.

Without --chat a throwaway chat is created for the question. Pass --chat
with a chat ID to continue an existing conversation.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().StringVar(&askChatID, "chat", "", "existing chat ID to continue")
	rootCmd.AddCommand(askCmd)
}

func runAsk(ctx context.Context, question string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	var chatID uuid.UUID
	if askChatID != "" {
		chatID, err = uuid.Parse(askChatID)
		if err != nil {
			return fmt.Errorf("invalid chat ID %q: %w", askChatID, err)
		}
	} else {
		chat, err := a.convs.CreateChat(ctx, "")
		if err != nil {
			return fmt.Errorf("creating chat: %w", err)
		}
		chatID = chat.ID
	}

	answer, err := a.engine.Answer(ctx, chatID, question)
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, src := range answer.Sources {
			if src.Title != "" {
				fmt.Printf("  [%d] %s (%s)\n", i+1, src.Title, src.URL)
			} else {
				fmt.Printf("  [%d] %s\n", i+1, src.URL)
			}
		}
	}
	fmt.Printf("\nChat: %s\n", chatID)
	return nil
}
