package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yabot-dev/yabot/internal/daemon"
)

var (
	servePort int
	serveHost string
	serveDir  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the yabot daemon",
	Long: `Start the agent daemon and serve the client protocol.

Configuration is read from ~/.config/yabot/yabot.json[c], the project's
yabot.json[c], .env files and YABOT_* environment variables. Logs go to the
daemon log file unless --print-logs is given.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 8765)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (default from config, 127.0.0.1)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Project directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := getWorkDir(serveDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, daemon.Options{
		WorkDir:   workDir,
		PrintLogs: printLogs,
		LogLevel:  logLevel,
		Host:      serveHost,
		Port:      servePort,
	})
	if err != nil {
		return err
	}

	cmd.PrintErrf("yabot %s listening on %s:%d (trace: %s)\n",
		Version, d.Config().Server.Host, d.Config().Server.Port, d.TracePath())
	return d.Run(ctx)
}

// getWorkDir returns the working directory from flag or current directory.
func getWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
