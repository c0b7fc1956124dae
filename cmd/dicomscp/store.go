package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/client"
	"github.com/caio-sobreiro/dicomscp/storage"
	"github.com/caio-sobreiro/dicomscp/types"
)

func newStoreCommand(opts *rootOptions) *cobra.Command {
	var peer peerFlags
	cmd := &cobra.Command{
		Use:   "store <host:port> <file or directory>...",
		Short: "Send Part 10 files with C-STORE",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			instances, err := indexPaths(args[1:])
			if err != nil {
				return err
			}
			if len(instances) == 0 {
				return oops.In("store").Errorf("no DICOM files found")
			}

			ctx, assoc, logger, err := peer.connect(cmd, opts, args[0], storeContexts(instances))
			if err != nil {
				return err
			}
			defer assoc.Close()

			var failed int
			for _, inst := range instances {
				data, err := os.ReadFile(inst.Location)
				if err != nil {
					return oops.In("store").With("path", inst.Location).Wrapf(err, "failed to read file")
				}
				rsp, err := assoc.SendCStore(ctx, &client.CStoreRequest{Data: data})
				if err != nil {
					logger.Error("c_store_failed", zap.String("path", inst.Location), zap.Error(err))
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", inst.Location, rsp.Status)
				if err := rsp.Err(); err != nil {
					logger.Warn("c_store_refused", zap.String("path", inst.Location), zap.Error(err))
					failed++
				}
			}
			if err := assoc.Release(ctx); err != nil {
				return err
			}
			if failed > 0 {
				return oops.In("store").With("failed", failed, "total", len(instances)).Errorf("%d of %d instances failed", failed, len(instances))
			}
			return nil
		},
	}
	peer.register(cmd)
	return cmd
}

// indexPaths reads the header of every file below paths. Files that are not
// Part 10 are skipped.
func indexPaths(paths []string) ([]*storage.Instance, error) {
	var out []*storage.Instance
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			inst, err := storage.IndexFile(path)
			if err != nil || inst.SOPClassUID == "" || inst.SOPInstanceUID == "" {
				return nil
			}
			out = append(out, inst)
			return nil
		})
		if err != nil {
			return nil, oops.In("store").With("path", root).Wrapf(err, "failed to scan")
		}
	}
	return out, nil
}

// storeContexts proposes one context per SOP class with the transfer
// syntaxes the files are encoded in.
func storeContexts(instances []*storage.Instance) []client.ContextRequest {
	var contexts []client.ContextRequest
	index := map[string]int{}
	for _, inst := range instances {
		ts := inst.TransferSyntaxUID
		if ts == "" {
			ts = types.ExplicitVRLittleEndian
		}
		i, ok := index[inst.SOPClassUID]
		if !ok {
			i = len(contexts)
			index[inst.SOPClassUID] = i
			contexts = append(contexts, client.ContextRequest{AbstractSyntax: inst.SOPClassUID})
		}
		if !slices.Contains(contexts[i].TransferSyntaxes, ts) {
			contexts[i].TransferSyntaxes = append(contexts[i].TransferSyntaxes, ts)
		}
	}
	return contexts
}
