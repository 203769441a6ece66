package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"debugconsole/internal/auth"
	"debugconsole/internal/config"
	"debugconsole/internal/server/bootstrap"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// flagKeys maps serve flags onto configuration keys.
var flagKeys = map[string]string{
	"host":            "server.host",
	"port":            "server.port",
	"allowed-origins": "server.allowed_origins",
	"state-file":      "host.state_file",
	"log-dir":         "host.log_dir",
	"watch":           "host.watch",
	"password-hash":   "auth.password_hash",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"metrics":         "metrics.enabled",
	"pubsub":          "pubsub.enabled",
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "debug-console",
		Short:         "Local debug console for an edge device host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	root.AddCommand(newHashPasswordCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand() *cobra.Command {
	v := config.NewViper()
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return bootstrap.Run(ctx, cfg, bootstrap.WithPasswordNotice(func(username, password string, expires time.Time) {
				printPassword(out, username, password, expires)
			}))
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.String("host", "localhost", "Listen host")
	flags.IntP("port", "p", 1441, "Listen port")
	flags.StringSlice("allowed-origins", nil, "Browser origins allowed to connect")
	flags.String("state-file", "", "Host state YAML file")
	flags.String("log-dir", "", "Directory holding component log files")
	flags.Bool("watch", true, "Push changes to the state file and log directory")
	flags.String("password-hash", "", "Argon2id or bcrypt hash of the dashboard password")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.Bool("metrics", true, "Serve Prometheus metrics on /metrics")
	flags.Bool("pubsub", true, "Enable the in-process pub/sub bus")
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return cmd
}

func printPassword(out io.Writer, username, password string, expires time.Time) {
	fmt.Fprintln(out, bold("Dashboard login"))
	fmt.Fprintf(out, "  username: %s\n", green(username))
	fmt.Fprintf(out, "  password: %s\n", green(password))
	if !expires.IsZero() {
		fmt.Fprintf(out, "  expires:  %s\n", yellow(expires.Format(time.RFC3339)))
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print an Argon2id hash for auth.password_hash",
		Long: "Print an Argon2id hash for auth.password_hash. Without an argument the " +
			"password is read from the terminal, or from the first line of stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := readPassword(cmd, args)
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), green(hash))
			return nil
		},
	}
}

func readPassword(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return nonEmpty(args[0])
	}
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		raw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return nonEmpty(string(raw))
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return nonEmpty(strings.TrimRight(line, "\r\n"))
}

func nonEmpty(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "debug-console %s\n", Version)
		},
	}
}
