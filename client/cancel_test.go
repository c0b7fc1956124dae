package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscp/services"
	"github.com/caio-sobreiro/dicomscp/types"
)

func TestSendCCancelErrors(t *testing.T) {
	s := startSCP(t, services.StoreConfig{})
	assoc, err := Connect(context.Background(), s.addr, testConfig())
	require.NoError(t, err)
	defer assoc.Close()

	assert.Error(t, assoc.SendCCancel(0, types.StudyRootQueryRetrieveInformationModelFind))
	assert.Error(t, assoc.SendCCancel(1, ""))
	assert.Error(t, assoc.SendCCancel(1, types.PatientRootQueryRetrieveInformationModelFind), "context not proposed")
}

func TestSendCFindCancelledByCallback(t *testing.T) {
	s := startSCP(t, services.StoreConfig{Finder: matches{
		{PatientID: "P1"}, {PatientID: "P2"}, {PatientID: "P3"},
	}})
	ctx := context.Background()
	assoc, err := Connect(ctx, s.addr, testConfig())
	require.NoError(t, err)
	defer assoc.Close()

	responses, err := assoc.SendCFind(ctx, &CFindRequest{
		Query:      types.QueryRequest{Level: types.QueryLevelPatient},
		OnResponse: func(*CFindResponse) bool { return false },
	})
	require.NoError(t, err)
	// The SCP answers the query synchronously, so the cancel arrives after
	// the final response and the association stays usable.
	require.NotEmpty(t, responses)
	assert.False(t, responses[len(responses)-1].Status.IsPending())

	rsp, err := assoc.SendCEcho(ctx)
	require.NoError(t, err)
	assert.True(t, rsp.Status.IsSuccess())
}
