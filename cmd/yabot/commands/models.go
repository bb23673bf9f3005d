package commands

import (
	"github.com/spf13/cobra"

	"github.com/yabot-dev/yabot/internal/headless"
	"github.com/yabot-dev/yabot/pkg/types"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the daemon's models",
	Long: `List the models the running daemon offers. The default model is
marked with *.`,
	RunE: runModels,
}

func runModels(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer c.Close()

	models, _, err := c.ListModels(cmd.Context())
	if err != nil {
		return err
	}
	p := headless.NewPrinter(cmd.OutOrStdout(), headless.OutputText, false, false, noColor)
	p.HandleEvent(types.Event{Type: types.EventModelList, Models: models})
	return nil
}

var conversationsRoom string

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convs"},
	Short:   "List conversations",
	Long: `List the conversations held by the running daemon, optionally limited
to one room. A room's active conversation is marked with *.`,
	RunE: runConversations,
}

func init() {
	conversationsCmd.Flags().StringVarP(&conversationsRoom, "room", "r", "", "Only list this room's conversations")
}

func runConversations(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer c.Close()

	convs, err := c.ListConversations(cmd.Context(), conversationsRoom)
	if err != nil {
		return err
	}
	p := headless.NewPrinter(cmd.OutOrStdout(), headless.OutputText, false, false, noColor)
	p.HandleEvent(types.Event{Type: types.EventConversationList, Conversations: convs})
	return nil
}
