package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscp/types"
)

func proposal(t *testing.T, called, calling string) *types.Association {
	t.Helper()
	a := types.NewAssociation(calling, called)
	_, err := a.AddProposedContext(1, types.CTImageStorage, []string{types.JPEG2000Lossless, types.ImplicitVRLittleEndian})
	require.NoError(t, err)
	_, err = a.AddProposedContext(3, types.BasicTextSRStorage, []string{types.JPEG2000Lossless, types.ExplicitVRLittleEndian})
	require.NoError(t, err)
	_, err = a.AddProposedContext(5, types.PatientRootQueryRetrieveInformationModelFind, []string{types.ImplicitVRLittleEndian})
	require.NoError(t, err)
	_, err = a.AddProposedContext(7, types.VerificationSOPClass, []string{types.ExplicitVRBigEndian})
	require.NoError(t, err)
	return a
}

func TestGenericStorageApply(t *testing.T) {
	a := proposal(t, "SCP", "SCU")
	require.NoError(t, GenericStorage().Apply(a))

	ct, _ := a.Context(1)
	assert.Equal(t, types.Accept, ct.Result)
	assert.Equal(t, types.JPEG2000Lossless, ct.AcceptedTransferSyntax, "peer order wins")

	sr, _ := a.Context(3)
	assert.Equal(t, types.Accept, sr.Result)
	assert.Equal(t, types.ExplicitVRLittleEndian, sr.AcceptedTransferSyntax, "no encapsulated syntax for non-image classes")

	find, _ := a.Context(5)
	assert.Equal(t, types.RejectAbstractSyntaxNotSupported, find.Result)

	echo, _ := a.Context(7)
	assert.Equal(t, types.RejectTransferSyntaxesNotSupported, echo.Result)
}

func TestApplyLeavesResolvedContexts(t *testing.T) {
	a := proposal(t, "SCP", "SCU")
	ct, _ := a.Context(1)
	require.NoError(t, ct.Reject(types.RejectNoReason))

	require.NoError(t, GenericStorage().Apply(a))
	assert.Equal(t, types.RejectNoReason, ct.Result)
}

func TestMatchesAndWeight(t *testing.T) {
	a := types.NewAssociation("MODALITY1", "ARCHIVE")
	a.RemoteImplementationUID = "1.2.3.4"
	a.RemoteImplementationVersion = "ACME_1"

	p := &Profile{CalledAE: "ARCH*", CallingAE: "MODALITY?", RemoteImplementationUID: "9.9"}
	assert.True(t, p.Matches(a, false))
	assert.False(t, p.Matches(a, true))
	assert.Equal(t, 4, p.Weight())
	assert.Equal(t, 8, (&Profile{}).Weight())

	exact := &Profile{CalledAE: "ARCHIVE", CallingAE: "MODALITY1", RemoteImplementationUID: "1.2.3.4", RemoteImplementationVersion: "ACME_1"}
	assert.True(t, exact.Matches(a, true))
	assert.Equal(t, 0, exact.Weight())
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern, value string
		want           bool
	}{
		{"", "ANYTHING", true},
		{"*", "", true},
		{"MOD*", "MOD/1", true},
		{"*/CT", "SITE/A/CT", true},
		{"MOD?1", "MOD/1", true},
		{"MOD?", "MOD", false},
		{"A*B*C", "AXXBYYC", true},
		{"A*B*C", "AXXBYY", false},
		{"ARCHIVE", "ARCHIVE2", false},
		{"[AB]", "A", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, match(tt.pattern, tt.value))
		})
	}
}

func TestSetFindPicksMostSpecific(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)

	broad := &Profile{Name: "broad", TransferSyntaxes: []string{types.ImplicitVRLittleEndian}, AbstractSyntaxes: []string{types.VerificationSOPClass}}
	narrow := &Profile{Name: "narrow", CallingAE: "CT1", TransferSyntaxes: []string{types.ImplicitVRLittleEndian}, AbstractSyntaxes: []string{types.VerificationSOPClass}}
	set.Add(broad, narrow)

	ctx := context.Background()
	p, err := set.Find(ctx, types.NewAssociation("CT1", "SCP"))
	require.NoError(t, err)
	assert.Equal(t, "narrow", p.Name)

	p, err = set.Find(ctx, types.NewAssociation("MR1", "SCP"))
	require.NoError(t, err)
	assert.Equal(t, "broad", p.Name)
}

func TestSetFallbackAndInvalidation(t *testing.T) {
	set, err := NewSet()
	require.NoError(t, err)
	ctx := context.Background()
	a := types.NewAssociation("CT1", "SCP")

	p, err := set.Find(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "Generic Storage", p.Name)

	set.Add(&Profile{Name: "ct", CallingAE: "CT1", TransferSyntaxes: []string{types.ImplicitVRLittleEndian}, AbstractSyntaxes: []string{types.CTImageStorage}})
	p, err = set.Find(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "ct", p.Name, "cached fallback is dropped on Add")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	single := `
name: worklist
called_ae: "WL*"
transfer_syntaxes: ["1.2.840.10008.1.2"]
abstract_syntaxes: ["1.2.840.10008.5.1.4.31"]
`
	list := `
- name: archive
  include_storage: true
  transfer_syntaxes: ["1.2.840.10008.1.2.1", "1.2.840.10008.1.2"]
- name: echo-only
  calling_ae: "PING"
  transfer_syntaxes: ["1.2.840.10008.1.2"]
  abstract_syntaxes: ["1.2.840.10008.1.1"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wl.yaml"), []byte(single), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "more.yml"), []byte(list), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	set, err := NewSet()
	require.NoError(t, err)
	require.NoError(t, set.LoadDir(dir))

	names := []string{}
	for _, p := range set.Profiles() {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"worklist", "archive", "echo-only"}, names)

	a := types.NewAssociation("MODALITY", "WLSERVER")
	_, err = a.AddProposedContext(1, types.ModalityWorklistInformationModelFind, []string{types.ImplicitVRLittleEndian})
	require.NoError(t, err)
	p, err := set.Apply(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "worklist", p.Name)
	assert.Equal(t, 1, a.AcceptedCount())
}

func TestLoadFileRejectsIncompleteProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nabstract_syntaxes: [\"1.2\"]\n"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
