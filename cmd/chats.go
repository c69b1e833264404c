package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage conversations",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all chats",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runChatsList(cmd.Context())
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChatsDelete(cmd.Context(), args[0])
	},
}

func init() {
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
	rootCmd.AddCommand(chatsCmd)
}

func runChatsList(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	chats, err := a.convs.ListChats(ctx)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		fmt.Println("No chats.")
		return nil
	}
	for _, c := range chats {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %-30s  %d turns  updated %s\n",
			c.ID, title, c.Turns, c.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runChatsDelete(ctx context.Context, rawID string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	chatID, err := uuid.Parse(rawID)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", rawID, err)
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.convs.DeleteChat(ctx, chatID); err != nil {
		return err
	}
	fmt.Printf("Deleted chat %s\n", chatID)
	return nil
}
