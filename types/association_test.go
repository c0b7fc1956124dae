package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAssociation(t *testing.T) *Association {
	t.Helper()
	a := NewAssociation("SCU", "SCP")
	a.MaxPDULength = 16384
	_, err := a.AddPresentationContext(VerificationSOPClass, ImplicitVRLittleEndian)
	require.NoError(t, err)
	_, err = a.AddPresentationContext(CTImageStorage, JPEGBaseline8Bit, ExplicitVRLittleEndian, ImplicitVRLittleEndian)
	require.NoError(t, err)
	return a
}

func TestAddPresentationContext_OddIDs(t *testing.T) {
	a := newTestAssociation(t)

	ids := []byte{}
	for _, pc := range a.Contexts() {
		ids = append(ids, pc.ID)
		assert.Equal(t, Proposed, pc.Result)
	}
	assert.Equal(t, []byte{1, 3}, ids)

	_, err := a.AddProposedContext(3, MRImageStorage, []string{ImplicitVRLittleEndian})
	assert.Error(t, err)
}

func TestSetResult_ExactlyOnce(t *testing.T) {
	a := newTestAssociation(t)
	pc, ok := a.Context(3)
	require.True(t, ok)

	require.NoError(t, pc.Accept(ExplicitVRLittleEndian))
	assert.Equal(t, ExplicitVRLittleEndian, pc.AcceptedTransferSyntax)

	err := pc.Reject(RejectUser)
	assert.ErrorIs(t, err, ErrContextResolved)
	assert.Equal(t, Accept, pc.Result)
}

func TestSetResult_AcceptRequiresProposedSyntax(t *testing.T) {
	a := newTestAssociation(t)
	pc, _ := a.Context(1)

	err := pc.Accept(ExplicitVRLittleEndian)
	assert.ErrorIs(t, err, ErrTransferSyntaxNotProposed)
	assert.Equal(t, Proposed, pc.Result)
}

func TestNegotiate_PeerOrderIsAuthoritative(t *testing.T) {
	a := newTestAssociation(t)
	pc, _ := a.Context(3)

	supported := map[string]bool{ImplicitVRLittleEndian: true, ExplicitVRLittleEndian: true}
	require.NoError(t, pc.Negotiate(true, func(ts string) bool { return supported[ts] }))

	assert.Equal(t, Accept, pc.Result)
	assert.Equal(t, ExplicitVRLittleEndian, pc.AcceptedTransferSyntax)
}

func TestNegotiate_Rejections(t *testing.T) {
	a := newTestAssociation(t)
	echo, _ := a.Context(1)
	ct, _ := a.Context(3)

	require.NoError(t, echo.Negotiate(false, func(string) bool { return true }))
	require.NoError(t, ct.Negotiate(true, func(string) bool { return false }))

	assert.Equal(t, RejectAbstractSyntaxNotSupported, echo.Result)
	assert.Equal(t, RejectTransferSyntaxesNotSupported, ct.Result)
	assert.Empty(t, ct.AcceptedTransferSyntax)
	assert.Equal(t, 0, a.AcceptedCount())
}

func TestResolveRemainingAndValidate(t *testing.T) {
	a := newTestAssociation(t)
	echo, _ := a.Context(1)
	require.NoError(t, echo.Accept(ImplicitVRLittleEndian))

	assert.Error(t, a.Validate())

	a.ResolveRemaining(RejectNoReason)
	ct, _ := a.Context(3)
	assert.Equal(t, RejectNoReason, ct.Result)
	assert.NoError(t, a.Validate())
	assert.Equal(t, 1, a.AcceptedCount())

	got, ok := a.AcceptedContext(VerificationSOPClass)
	require.True(t, ok)
	assert.Equal(t, byte(1), got.ID)
	_, ok = a.AcceptedContext(CTImageStorage)
	assert.False(t, ok)

	ts, ok := a.AcceptedTransferSyntax(1)
	assert.True(t, ok)
	assert.Equal(t, ImplicitVRLittleEndian, ts)
	assert.Equal(t, CTImageStorage, a.AbstractSyntax(3))
}

func TestValidate_Identity(t *testing.T) {
	a := NewAssociation("", "SCP")
	a.MaxPDULength = 16384
	assert.Error(t, a.Validate())

	a = NewAssociation("SCU", "SCP")
	assert.Error(t, a.Validate(), "max PDU of zero must fail")
}

func TestFreeze(t *testing.T) {
	a := newTestAssociation(t)
	a.Freeze()
	assert.True(t, a.Frozen())

	pc, _ := a.Context(1)
	assert.ErrorIs(t, pc.Accept(ImplicitVRLittleEndian), ErrAssociationFrozen)
	_, err := a.AddPresentationContext(MRImageStorage, ImplicitVRLittleEndian)
	assert.ErrorIs(t, err, ErrAssociationFrozen)
}

func TestPresContextResult(t *testing.T) {
	assert.Equal(t, byte(2), RejectProviderRejection.WireValue())
	assert.Equal(t, byte(4), RejectTransferSyntaxesNotSupported.WireValue())
	assert.Equal(t, "Reject (abstract syntax not supported)", RejectAbstractSyntaxNotSupported.String())
}

func TestAssociationString(t *testing.T) {
	a := newTestAssociation(t)
	out := a.String()
	assert.Contains(t, out, "Called AE Title:         SCP")
	assert.Contains(t, out, "CT Image Storage")
}
