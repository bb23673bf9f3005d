// Package commands provides the CLI commands for yabot.
package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yabot-dev/yabot/internal/client"
	"github.com/yabot-dev/yabot/internal/config"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Environment variables read by client commands.
const (
	EnvURL      = "YABOT_URL"
	EnvIdentity = "YABOT_IDENTITY"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	daemonURL string
	identity  string
	noColor   bool
)

var rootCmd = &cobra.Command{
	Use:   "yabot",
	Short: "yabot - a chat-driven agent daemon",
	Long: `yabot runs an agent daemon that chat front-ends connect to over a
websocket. Conversations live in the daemon; any number of clients can
attach to them, approve sensitive tool calls, and stop running turns.

Run 'yabot serve' to start the daemon, then 'yabot chat' to talk to it.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&daemonURL, "url", "", "Daemon websocket URL (default from $YABOT_URL or config)")
	rootCmd.PersistentFlags().StringVar(&identity, "identity", "", "Sender identity (default from $YABOT_IDENTITY or $USER)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.SetVersionTemplate(fmt.Sprintf("yabot %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(conversationsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// resolveURL returns the daemon URL from the flag, the environment, or the
// configured bind address.
func resolveURL() string {
	if daemonURL != "" {
		return daemonURL
	}
	if u := os.Getenv(EnvURL); u != "" {
		return u
	}
	host, port := config.DefaultHost, config.DefaultPort
	if wd, err := os.Getwd(); err == nil {
		if cfg, err := config.Load(wd); err == nil {
			host, port = cfg.Server.Host, cfg.Server.Port
		}
	}
	if host == "0.0.0.0" || host == "" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/ws"
}

func resolveIdentity() string {
	if identity != "" {
		return identity
	}
	if id := os.Getenv(EnvIdentity); id != "" {
		return id
	}
	return os.Getenv("USER")
}

// connect dials the daemon and announces the identity.
func connect(ctx context.Context, reconnect bool) (*client.Client, error) {
	c := client.New(client.Options{
		URL:           resolveURL(),
		Identity:      resolveIdentity(),
		AutoReconnect: reconnect,
	})
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.Connect(dialCtx); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w (is 'yabot serve' running?)", err)
	}
	if _, err := c.Hello(dialCtx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
