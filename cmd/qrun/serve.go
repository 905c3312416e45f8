package main

import (
	"strings"

	"github.com/spf13/cobra"

	"qrun/internal/daemonctl"
	"qrun/internal/daemonrun"
	"qrun/internal/protocol"
)

// newServeCommand is the entry point of a detached daemon. The parent passes
// the bound socket as an inherited descriptor and the first job as flags.
func newServeCommand(ctx *commandContext) *cobra.Command {
	var listenFD int
	var queueName string
	var maxDup int
	var ttl int
	var quiet bool

	cmd := &cobra.Command{
		Use:    daemonctl.ServeCommand + " -- command",
		Hidden: true,
		Args:   cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			listener, err := daemonctl.ListenerFromFD(listenFD)
			if err != nil {
				return err
			}

			first := protocol.Request{Command: strings.Join(args, " ")}
			if cmd.Flags().Changed("queue") {
				name := queueName
				first.Queue = &name
			}
			if cmd.Flags().Changed("max") || cmd.Flags().Changed("ttl") {
				first.Options = &protocol.Options{Max: maxDup, TTL: ttl}
			}
			return daemonrun.Run(cmd.Context(), cfg, listener, first, daemonrun.Options{Quiet: quiet})
		},
	}

	cmd.Flags().IntVar(&listenFD, "listen-fd", daemonctl.ListenerFD, "Inherited socket descriptor")
	cmd.Flags().StringVar(&queueName, "queue", "", "Queue of the first job")
	cmd.Flags().IntVar(&maxDup, "max", 0, "Duplicate limit of the first job")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "TTL of the first job in seconds")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress diagnostic logging")
	return cmd
}
