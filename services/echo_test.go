package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscp/types"
)

func TestEchoService_Negotiation(t *testing.T) {
	a := types.NewAssociation("SCU", "SCP")
	_, err := a.AddProposedContext(1, types.VerificationSOPClass, []string{types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian})
	require.NoError(t, err)
	_, err = a.AddProposedContext(3, types.VerificationSOPClass, []string{types.ExplicitVRLittleEndian})
	require.NoError(t, err)
	_, err = a.AddProposedContext(5, types.VerificationSOPClass, []string{types.JPEGBaseline8Bit})
	require.NoError(t, err)
	_, err = a.AddProposedContext(7, types.CTImageStorage, []string{types.ImplicitVRLittleEndian})
	require.NoError(t, err)

	assert.Nil(t, NewEchoService().AssociateRequest(context.Background(), nil, a))

	pc, _ := a.Context(1)
	assert.Equal(t, types.ImplicitVRLittleEndian, pc.AcceptedTransferSyntax, "implicit preferred over peer order")
	pc, _ = a.Context(3)
	assert.Equal(t, types.ExplicitVRLittleEndian, pc.AcceptedTransferSyntax)
	pc, _ = a.Context(5)
	assert.Equal(t, types.RejectTransferSyntaxesNotSupported, pc.Result)
	pc, _ = a.Context(7)
	assert.Equal(t, types.RejectAbstractSyntaxNotSupported, pc.Result)
}

func TestEchoService_CEcho(t *testing.T) {
	status := NewEchoService().CEcho(context.Background(), nil, 1, 7, types.PriorityMedium)
	assert.True(t, status.IsSuccess())
}
