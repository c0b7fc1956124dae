package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscp/client"
	"github.com/caio-sobreiro/dicomscp/config"
	"github.com/caio-sobreiro/dicomscp/storage"
	"github.com/caio-sobreiro/dicomscp/types"
)

func TestStoreContexts(t *testing.T) {
	got := storeContexts([]*storage.Instance{
		{SOPClassUID: types.CTImageStorage, TransferSyntaxUID: types.ExplicitVRLittleEndian},
		{SOPClassUID: types.CTImageStorage, TransferSyntaxUID: types.JPEGLosslessSV1},
		{SOPClassUID: types.CTImageStorage, TransferSyntaxUID: types.ExplicitVRLittleEndian},
		{SOPClassUID: types.MRImageStorage},
	})
	assert.Equal(t, []client.ContextRequest{
		{AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.ExplicitVRLittleEndian, types.JPEGLosslessSV1}},
		{AbstractSyntax: types.MRImageStorage, TransferSyntaxes: []string{types.ExplicitVRLittleEndian}},
	}, got)
}

func TestRootCommand(t *testing.T) {
	cmd := newRootCommand()
	for _, name := range []string{"serve", "echo", "store", "find"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)
	assert.NotNil(t, serve.Flags().Lookup("storage-s3-bucket"))
}

func TestIndexPathsSkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	instances, err := indexPaths([]string{dir})
	require.NoError(t, err)
	assert.Empty(t, instances)

	_, err = indexPaths([]string{dir + "/missing"})
	assert.Error(t, err)
}

func TestCalledAEs(t *testing.T) {
	cfg := config.Default()
	cfg.AETitle = "ARCHIVE"

	got := calledAEs(&cfg)
	require.NotNil(t, got)
	assert.ElementsMatch(t, []string{"ARCHIVE"}, got.ToSlice(), "only the local AE title is answered by default")

	cfg.AllowedCalledAEs = []string{"ARCHIVE", "ALIAS"}
	assert.ElementsMatch(t, []string{"ARCHIVE", "ALIAS"}, calledAEs(&cfg).ToSlice())

	cfg.AllowedCalledAEs = []string{"*"}
	assert.Nil(t, calledAEs(&cfg))
}
