package main

import (
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomscp/client"
	"github.com/caio-sobreiro/dicomscp/types"
)

func newEchoCommand(opts *rootOptions) *cobra.Command {
	var peer peerFlags
	var count int
	cmd := &cobra.Command{
		Use:   "echo <host:port>",
		Short: "Verify a peer with C-ECHO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contexts := []client.ContextRequest{{
				AbstractSyntax:   types.VerificationSOPClass,
				TransferSyntaxes: types.UncompressedTransferSyntaxes(),
			}}
			ctx, assoc, _, err := peer.connect(cmd, opts, args[0], contexts)
			if err != nil {
				return err
			}
			defer assoc.Close()

			for i := 0; i < count; i++ {
				start := time.Now()
				rsp, err := assoc.SendCEcho(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "C-ECHO %d: %s (%s)\n", rsp.MessageID, rsp.Status, time.Since(start).Round(time.Microsecond))
				if err := rsp.Err(); err != nil {
					return oops.In("echo").With("status", rsp.Status.String()).Wrapf(err, "C-ECHO failed")
				}
			}
			return assoc.Release(ctx)
		},
	}
	peer.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of C-ECHO requests")
	return cmd
}
