package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"qrun/internal/config"
	"qrun/internal/daemonctl"
	"qrun/internal/daemonrun"
	"qrun/internal/dispatch"
	"qrun/internal/protocol"
)

// exitNotRunning is returned for control commands when no daemon is bound.
const exitNotRunning = 2

// sendAttempts bounds retries when the daemon exits between the bind attempt
// and the send.
const sendAttempts = 3

type submitFlags struct {
	quiet bool
	debug bool
	max   int
	ttl   int
}

func newRootCommand() *cobra.Command {
	var socketFlag string
	var configFlag string
	var flags submitFlags

	ctx := newCommandContext(&socketFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:   "qrun [flags] [queue] command...",
		Short: "Run shell commands through named serial queues",
		Long: `qrun runs each named queue's commands one at a time, in submission order.
The first invocation starts a background daemon; later ones hand it their job.

With a single argument the argument is the command and runs on the unnamed
queue. Otherwise the first argument names the queue and the rest form the
command. Control commands: status (or list), history, stop, and
"<queue> skip" / "<queue> clear".`,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			req := parseInvocation(args)
			if dispatch.IsControl(req.Command) {
				return runControl(cmd, cfg, req)
			}
			opts, err := submitOptions(cmd, cfg, flags)
			if err != nil {
				return err
			}
			req.Options = opts
			return runSubmit(cmd, ctx, cfg, req, flags)
		},
	}

	// The command's own flags must reach it untouched.
	rootCmd.Flags().SetInterspersed(false)
	rootCmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress daemon diagnostic logging")
	rootCmd.Flags().BoolVarP(&flags.debug, "debug", "d", false, "Run the daemon in the foreground with debug logging")
	rootCmd.Flags().IntVarP(&flags.max, "max", "m", 0, "Maximum identical pending commands per queue, 0 for no limit (default from config)")
	rootCmd.Flags().IntVarP(&flags.ttl, "ttl", "t", 0, "Seconds a pending job stays valid, 0 never expires (default from config)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "Path to the qrun daemon socket")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	// Words like "help" are commands to run, not subcommands.
	rootCmd.SetHelpCommand(&cobra.Command{Use: "__help", Hidden: true})
	rootCmd.AddCommand(newServeCommand(ctx))

	return rootCmd
}

// parseInvocation applies the positional contract: one argument is the
// command on the unnamed queue, otherwise queue then command words.
func parseInvocation(args []string) protocol.Request {
	if len(args) == 1 {
		return protocol.Request{Command: args[0]}
	}
	name := args[0]
	return protocol.Request{Queue: &name, Command: strings.Join(args[1:], " ")}
}

func submitOptions(cmd *cobra.Command, cfg *config.Config, flags submitFlags) (*protocol.Options, error) {
	opts := &protocol.Options{Max: cfg.Jobs.DefaultMax, TTL: cfg.Jobs.DefaultTTL}
	if cmd.Flags().Changed("max") {
		if flags.max < 0 {
			return nil, fmt.Errorf("--max must be zero or positive, got %d", flags.max)
		}
		opts.Max = flags.max
	}
	if cmd.Flags().Changed("ttl") {
		if flags.ttl < 0 {
			return nil, fmt.Errorf("--ttl must be zero or positive, got %d", flags.ttl)
		}
		opts.TTL = flags.ttl
	}
	return opts, nil
}

func runControl(cmd *cobra.Command, cfg *config.Config, req protocol.Request) error {
	resp, err := dispatch.Call(cfg.Paths.Socket, req)
	if errors.Is(err, dispatch.ErrNotRunning) {
		printNotice(cmd.ErrOrStderr(), noticeWarn, "no queued jobs (daemon not running)")
		return &exitError{code: exitNotRunning}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(req.Command), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Text)
	return nil
}

// runSubmit becomes the daemon when it wins the socket and a client
// otherwise.
func runSubmit(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, req protocol.Request, flags submitFlags) error {
	for attempt := 1; ; attempt++ {
		listener, err := dispatch.Acquire(cfg.Paths.Socket)
		if err == nil {
			return serveFirst(cmd, ctx, cfg, listener, req, flags)
		}
		if !errors.Is(err, dispatch.ErrInUse) {
			return err
		}
		err = dispatch.Send(cfg.Paths.Socket, req)
		if err == nil {
			return nil
		}
		if !errors.Is(err, dispatch.ErrNotRunning) || attempt == sendAttempts {
			return fmt.Errorf("submit: %w", err)
		}
	}
}

func serveFirst(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, listener *net.UnixListener, req protocol.Request, flags submitFlags) error {
	if flags.debug {
		return daemonrun.Run(cmd.Context(), cfg, listener, req, daemonrun.Options{
			Foreground: true,
			Quiet:      flags.quiet,
		})
	}

	exe, err := os.Executable()
	if err != nil {
		_ = listener.Close()
		return fmt.Errorf("resolve executable: %w", err)
	}
	if _, err := daemonctl.Launch(exe, listener, req, daemonctl.LaunchOptions{
		SocketPath: cfg.Paths.Socket,
		ConfigPath: ctx.launchConfigPath(),
		OutputPath: cfg.OutputPath(),
		Quiet:      flags.quiet,
	}); err != nil {
		_ = listener.Close()
		return err
	}
	return nil
}
