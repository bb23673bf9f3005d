package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yabot-dev/yabot/internal/headless"
)

var (
	sendRoom         string
	sendConv         string
	sendNew          bool
	sendModel        string
	sendAutoApprove  bool
	sendOutputFormat string
	sendTimeout      time.Duration
	sendStdin        bool
	sendQuiet        bool
	sendVerbose      bool
)

var sendCmd = &cobra.Command{
	Use:   "send [message...]",
	Short: "Send one message and print the turn",
	Long: `Send a message to a conversation on the running daemon and follow the
turn until the final response.

Sensitive tool calls are denied unless --yes is given. The exit code
reports the outcome: 0 success, 2 timeout, 3 tool call denied, 4 model
unavailable, 5 invalid input, 6 conversation not found, 7 cancelled.

Examples:
  yabot send "What's in this directory?"
  yabot send --room ops --yes "Restart the staging service"
  yabot send --new --model gpt-5.2 "Start over"
  echo "Summarize the README" | yabot send --stdin -o json`,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendRoom, "room", "r", "", "Room whose active conversation receives the message (default \"cli\")")
	sendCmd.Flags().StringVar(&sendConv, "conv", "", "Conversation id")
	sendCmd.Flags().BoolVar(&sendNew, "new", false, "Start a new conversation in the room")
	sendCmd.Flags().StringVarP(&sendModel, "model", "m", "", "Model for the conversation")
	sendCmd.Flags().BoolVarP(&sendAutoApprove, "yes", "y", false, "Approve every sensitive tool call")
	sendCmd.Flags().StringVarP(&sendOutputFormat, "output-format", "o", "text", "Output format: text, json, jsonl")
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 30*time.Minute, "Maximum time to wait for the turn")
	sendCmd.Flags().BoolVar(&sendStdin, "stdin", false, "Read the message from stdin")
	sendCmd.Flags().BoolVarP(&sendQuiet, "quiet", "q", false, "Only print the final response")
	sendCmd.Flags().BoolVarP(&sendVerbose, "verbose", "v", false, "Show all events")
}

func runSend(cmd *cobra.Command, args []string) error {
	format, ok := headless.ParseOutputFormat(strings.ToLower(sendOutputFormat))
	if !ok {
		return &ExitError{Code: int(headless.ExitInvalidInput),
			Err: fmt.Errorf("invalid output format: %s (must be text, json, or jsonl)", sendOutputFormat)}
	}

	prompt := strings.Join(args, " ")
	if prompt == "" && !sendStdin {
		return &ExitError{Code: int(headless.ExitInvalidInput),
			Err: fmt.Errorf("message required. Provide it as arguments or use --stdin")}
	}

	c, err := connect(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer c.Close()

	cfg := &headless.Config{
		Prompt:       prompt,
		ReadStdin:    sendStdin,
		RoomID:       sendRoom,
		ConvID:       sendConv,
		New:          sendNew,
		Model:        sendModel,
		AutoApprove:  sendAutoApprove,
		OutputFormat: format,
		Timeout:      sendTimeout,
		Quiet:        sendQuiet,
		Verbose:      sendVerbose,
		NoColor:      noColor,
	}
	result, err := headless.NewRunner(cfg, c).Run(cmd.Context(), os.Stdin, cmd.OutOrStdout())
	if err != nil {
		return &ExitError{Code: int(result.ExitCode), Err: err}
	}
	return nil
}
