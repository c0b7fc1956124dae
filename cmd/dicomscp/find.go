package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomscp/client"
	"github.com/caio-sobreiro/dicomscp/types"
)

func newFindCommand(opts *rootOptions) *cobra.Command {
	var peer peerFlags
	var level string
	var q types.QueryRequest
	cmd := &cobra.Command{
		Use:   "find <host:port>",
		Short: "Query a peer with Study Root C-FIND",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Level = types.QueryLevel(strings.ToUpper(level))
			contexts := []client.ContextRequest{{
				AbstractSyntax:   types.StudyRootQueryRetrieveInformationModelFind,
				TransferSyntaxes: types.UncompressedTransferSyntaxes(),
			}}
			ctx, assoc, _, err := peer.connect(cmd, opts, args[0], contexts)
			if err != nil {
				return err
			}
			defer assoc.Close()

			responses, err := assoc.SendCFind(ctx, &client.CFindRequest{Query: q})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATIENT ID\tPATIENT NAME\tSTUDY UID\tDATE\tMODALITY\tSERIES UID\tSOP INSTANCE")
			for _, rsp := range responses {
				if !rsp.Status.IsPending() {
					continue
				}
				m := rsp.Match()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					m.PatientID, m.PatientName, m.StudyInstanceUID, m.StudyDate, m.Modality, m.SeriesInstanceUID, m.SOPInstanceUID)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(responses) > 0 {
				if err := responses[len(responses)-1].Err(); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "final status: %s\n", err)
				}
			}
			return assoc.Release(ctx)
		},
	}
	peer.register(cmd)
	f := cmd.Flags()
	f.StringVar(&level, "level", string(types.QueryLevelStudy), "PATIENT, STUDY, SERIES or IMAGE")
	f.StringVar(&q.PatientID, "patient-id", "", "patient ID, wildcards allowed")
	f.StringVar(&q.PatientName, "patient-name", "", "patient name, wildcards allowed")
	f.StringVar(&q.StudyInstanceUID, "study-uid", "", "study instance UID")
	f.StringVar(&q.StudyDate, "study-date", "", "date or range, YYYYMMDD-YYYYMMDD")
	f.StringVar(&q.AccessionNumber, "accession", "", "accession number")
	f.StringVar(&q.Modality, "modality", "", "modality")
	f.StringVar(&q.SeriesInstanceUID, "series-uid", "", "series instance UID")
	return cmd
}
