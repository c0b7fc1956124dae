package session

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscp/dicom"
	"github.com/caio-sobreiro/dicomscp/dimse"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/types"
)

// acceptAll accepts every context with the first proposed transfer syntax.
type acceptAll struct{}

func (acceptAll) AssociateRequest(_ context.Context, _ *Session, assoc *types.Association) *Reject {
	for _, pc := range assoc.Contexts() {
		_ = pc.Accept(pc.TransferSyntaxes[0])
	}
	return nil
}

type recordingHandler struct {
	acceptAll
	timeouts atomic.Int32
	network  atomic.Int32
	closed   atomic.Int32
	aborted  atomic.Int32
	released atomic.Int32
	stores   chan *StoreRequest
	status   types.Status
	panicOn  string
}

func (h *recordingHandler) DimseTimeout(*Session)     { h.timeouts.Add(1) }
func (h *recordingHandler) ConnectionClosed(*Session) { h.closed.Add(1) }
func (h *recordingHandler) NetworkError(*Session, error) { h.network.Add(1) }
func (h *recordingHandler) Released(*Session)         { h.released.Add(1) }
func (h *recordingHandler) Aborted(*Session, dicomerr.AbortSource, dicomerr.AbortReason) {
	h.aborted.Add(1)
}

func (h *recordingHandler) CStore(_ context.Context, _ *Session, req *StoreRequest) (types.Status, error) {
	if h.panicOn == "store" {
		panic("store exploded")
	}
	if h.stores != nil {
		h.stores <- req
	}
	return h.status, nil
}

type harness struct {
	t      *testing.T
	client net.Conn
	s      *Session
	errc   chan error
}

func start(t *testing.T, h Handler, cfg Config) *harness {
	t.Helper()
	server, client := net.Pipe()
	s := New(server, KindPlain, h, WithConfig(cfg))
	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	t.Cleanup(func() {
		_ = client.Close()
		_ = s.Close()
	})
	return &harness{t: t, client: client, s: s, errc: errc}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AssociateTimeout = 2 * time.Second
	cfg.DimseTimeout = 2 * time.Second
	cfg.SocketTimeout = 2 * time.Second
	return cfg
}

func (h *harness) send(encoded []byte) {
	h.t.Helper()
	_ = h.client.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err := h.client.Write(encoded)
	require.NoError(h.t, err)
}

func (h *harness) read() *pdu.PDU {
	h.t.Helper()
	_ = h.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	p, err := pdu.ReadPDU(h.client, 0)
	require.NoError(h.t, err)
	return p
}

func (h *harness) associate(contexts ...[]string) (*types.Association, *pdu.PDU) {
	h.t.Helper()
	rq := types.NewAssociation("SCU", "SCP")
	rq.MaxPDULength = pdu.DefaultMaxPDULength
	for _, c := range contexts {
		_, err := rq.AddPresentationContext(c[0], c[1:]...)
		require.NoError(h.t, err)
	}
	h.send(pdu.EncodeAssociateRQ(rq))
	return rq, h.read()
}

func (h *harness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.errc:
		return err
	case <-time.After(5 * time.Second):
		h.t.Fatal("session did not finish")
		return nil
	}
}

func echoContext() []string {
	return []string{types.VerificationSOPClass, types.ImplicitVRLittleEndian}
}

func TestSession_EchoAndRelease(t *testing.T) {
	h := &recordingHandler{}
	hs := start(t, h, testConfig())

	rq, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))
	pc, ok := rq.AcceptedContext(types.VerificationSOPClass)
	require.True(t, ok)
	assert.Equal(t, StateEstablished, hs.s.State())

	w := dimse.NewWriter(hs.client, rq.RemoteMaxPDULength)
	_, err := w.WriteMessage(pc.ID, &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}, nil)
	require.NoError(t, err)

	rsp, _, err := dimse.ReceiveMessage(hs.client, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, types.CEchoRSP, rsp.CommandField)
	assert.Equal(t, uint16(1), rsp.MessageIDBeingRespondedTo)
	assert.Equal(t, types.StatusSuccess.Code, rsp.Status)

	hs.send(pdu.EncodeReleaseRQ())
	assert.Equal(t, pdu.TypeReleaseRP, hs.read().Type)

	require.NoError(t, hs.wait())
	assert.True(t, hs.s.IsClosed())
	assert.False(t, hs.s.ClosedOnError())
	assert.Equal(t, int32(1), h.released.Load())
	assert.Positive(t, hs.s.Stats().BytesRead)
}

func TestSession_RejectAllContextsStillAnswersOnce(t *testing.T) {
	hs := start(t, HandlerFunc(func(_ context.Context, _ *Session, assoc *types.Association) *Reject {
		for _, pc := range assoc.Contexts() {
			_ = pc.Reject(types.RejectAbstractSyntaxNotSupported)
		}
		return nil
	}), testConfig())

	rq, reply := hs.associate([]string{"1.2.3.4.5", types.ImplicitVRLittleEndian})
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))
	assert.Equal(t, 0, rq.AcceptedCount())

	// Nothing else is sent: the next PDU is the release answer.
	hs.send(pdu.EncodeReleaseRQ())
	assert.Equal(t, pdu.TypeReleaseRP, hs.read().Type)
	require.NoError(t, hs.wait())
}

func TestSession_UnresolvedContextsAreRejected(t *testing.T) {
	hs := start(t, HandlerFunc(func(context.Context, *Session, *types.Association) *Reject { return nil }), testConfig())

	rq, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))
	pc, _ := rq.Context(1)
	assert.Equal(t, types.RejectNoReason, pc.Result)
}

func TestSession_HandlerReject(t *testing.T) {
	hs := start(t, HandlerFunc(func(context.Context, *Session, *types.Association) *Reject {
		return &Reject{dicomerr.RejectResultPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonCalledAETitleNotRecognized}
	}), testConfig())

	_, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateRJ, reply.Type)
	rj, err := pdu.DecodeAssociateRJ(reply.Data)
	require.NoError(t, err)
	assert.Equal(t, dicomerr.RejectReasonCalledAETitleNotRecognized, rj.Reason)

	require.NoError(t, hs.wait())
	assert.True(t, hs.s.IsClosed())
	assert.False(t, hs.s.ClosedOnError())
}

func TestSession_HandlerPanicRejectsTransient(t *testing.T) {
	hs := start(t, HandlerFunc(func(context.Context, *Session, *types.Association) *Reject {
		panic("boom")
	}), testConfig())

	_, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateRJ, reply.Type)
	rj, err := pdu.DecodeAssociateRJ(reply.Data)
	require.NoError(t, err)
	assert.Equal(t, dicomerr.RejectResultTransient, rj.Result)
	assert.Equal(t, dicomerr.RejectSourceServiceProviderACSE, rj.Source)
}

func TestSession_AssociateTimeout(t *testing.T) {
	h := &recordingHandler{}
	cfg := testConfig()
	cfg.AssociateTimeout = 50 * time.Millisecond
	hs := start(t, h, cfg)

	err := hs.wait()
	require.Error(t, err)
	assert.True(t, dicomerr.IsTimeout(err))
	assert.True(t, hs.s.ClosedOnError())
	assert.Equal(t, int32(1), h.timeouts.Load())
	assert.Equal(t, StateClosed, hs.s.State())
}

func TestSession_DimseIdleTimeout(t *testing.T) {
	h := &recordingHandler{}
	cfg := testConfig()
	cfg.DimseTimeout = 100 * time.Millisecond
	hs := start(t, h, cfg)

	_, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	assert.Equal(t, StateEstablished, hs.s.State())

	err := hs.wait()
	require.Error(t, err)
	assert.True(t, dicomerr.IsTimeout(err))
	assert.True(t, hs.s.ClosedOnError())
	assert.Equal(t, int32(1), h.timeouts.Load())
	assert.Zero(t, h.network.Load())
	assert.Equal(t, StateClosed, hs.s.State())
}

func TestSession_StalledReaderIsTimeout(t *testing.T) {
	h := &recordingHandler{}
	cfg := testConfig()
	cfg.SocketTimeout = 100 * time.Millisecond
	hs := start(t, h, cfg)

	rq, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))
	pc, ok := rq.AcceptedContext(types.VerificationSOPClass)
	require.True(t, ok)

	// The C-ECHO-RSP is never read.
	_, err := dimse.NewWriter(hs.client, rq.RemoteMaxPDULength).WriteMessage(pc.ID, &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}, nil)
	require.NoError(t, err)

	err = hs.wait()
	require.Error(t, err)
	assert.True(t, dicomerr.IsTimeout(err))
	assert.True(t, hs.s.ClosedOnError())
	assert.Equal(t, int32(1), h.timeouts.Load())
	assert.Zero(t, h.network.Load(), "a write deadline is not a network error")
	assert.Equal(t, StateClosed, hs.s.State())
}

func TestSession_PeerCloseWithoutRelease(t *testing.T) {
	h := &recordingHandler{}
	hs := start(t, h, testConfig())

	_, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	require.NoError(t, hs.client.Close())

	require.NoError(t, hs.wait())
	assert.Equal(t, int32(1), h.closed.Load())
	assert.False(t, hs.s.ClosedOnError())
}

func TestSession_PeerAbort(t *testing.T) {
	h := &recordingHandler{}
	hs := start(t, h, testConfig())

	_, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	hs.send(pdu.EncodeAbort(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified))

	require.NoError(t, hs.wait())
	assert.Equal(t, int32(1), h.aborted.Load())
	assert.False(t, hs.s.ClosedOnError())
}

func TestSession_UnknownContextAborts(t *testing.T) {
	hs := start(t, &recordingHandler{}, testConfig())

	_, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)

	_, err := dimse.NewWriter(hs.client, 0).WriteMessage(7, &types.Message{CommandField: types.CEchoRQ, MessageID: 1}, nil)
	require.NoError(t, err)

	p := hs.read()
	require.Equal(t, pdu.TypeAbort, p.Type)
	abort := pdu.DecodeAbort(p.Data)
	assert.Equal(t, dicomerr.AbortSourceServiceUser, abort.Source)

	require.Error(t, hs.wait())
	assert.True(t, hs.s.ClosedOnError())
}

func TestSession_UnexpectedPDUAborts(t *testing.T) {
	hs := start(t, &recordingHandler{}, testConfig())
	hs.send(pdu.EncodeReleaseRQ())

	p := hs.read()
	require.Equal(t, pdu.TypeAbort, p.Type)
	abort := pdu.DecodeAbort(p.Data)
	assert.Equal(t, dicomerr.AbortSourceServiceProvider, abort.Source)
	assert.Equal(t, dicomerr.AbortReasonUnexpectedPDU, abort.Reason)
	require.Error(t, hs.wait())
	assert.True(t, hs.s.ClosedOnError())
}

func TestSession_UnsupportedCommand(t *testing.T) {
	hs := start(t, &recordingHandler{}, testConfig())

	rq, reply := hs.associate([]string{types.PatientRootQueryRetrieveInformationModelMove, types.ImplicitVRLittleEndian})
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))

	_, err := dimse.NewWriter(hs.client, 0).WriteMessage(1, &types.Message{
		CommandField:        types.CMoveRQ,
		MessageID:           4,
		AffectedSOPClassUID: types.PatientRootQueryRetrieveInformationModelMove,
		MoveDestination:     "DEST",
	}, bytes.NewReader(nil))
	require.NoError(t, err)

	rsp, _, err := dimse.ReceiveMessage(hs.client, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, types.CMoveRSP, rsp.CommandField)
	assert.Equal(t, types.StatusUnrecognizedOperation.Code, rsp.Status)
}

func storeMessage() *types.Message {
	return &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              2,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4.5",
		Priority:               types.PriorityMedium,
	}
}

func TestSession_StoreInMemory(t *testing.T) {
	h := &recordingHandler{stores: make(chan *StoreRequest, 1), status: types.StatusSuccess}
	hs := start(t, h, testConfig())

	rq, reply := hs.associate([]string{types.CTImageStorage, types.ExplicitVRLittleEndian, types.ImplicitVRLittleEndian})
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))

	dataset := bytes.Repeat([]byte{1, 2, 3, 4}, 10000)
	_, err := dimse.NewWriter(hs.client, rq.RemoteMaxPDULength).WriteMessage(1, storeMessage(), bytes.NewReader(dataset))
	require.NoError(t, err)

	rsp, _, err := dimse.ReceiveMessage(hs.client, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, types.CStoreRSP, rsp.CommandField)
	assert.Equal(t, "1.2.3.4.5", rsp.AffectedSOPInstanceUID)
	assert.Equal(t, uint16(0), rsp.Status)

	req := <-h.stores
	assert.Equal(t, types.ExplicitVRLittleEndian, req.TransferSyntax)
	assert.Equal(t, dataset, req.Dataset)
	assert.Empty(t, req.FileName)
}

func TestSession_StoreFileBuffer(t *testing.T) {
	h := &recordingHandler{stores: make(chan *StoreRequest, 1), status: types.StatusSuccess}
	cfg := testConfig()
	cfg.UseFileBuffer = true
	cfg.TempDir = t.TempDir()
	hs := start(t, h, cfg)

	rq, reply := hs.associate([]string{types.CTImageStorage, types.ExplicitVRLittleEndian})
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))

	dataset := []byte{0x08, 0x00, 0x16, 0x00, 'U', 'I', 0x02, 0x00, '1', 0x00}
	_, err := dimse.NewWriter(hs.client, 0).WriteMessage(1, storeMessage(), bytes.NewReader(dataset))
	require.NoError(t, err)
	_, _, err = dimse.ReceiveMessage(hs.client, 0, nil)
	require.NoError(t, err)

	req := <-h.stores
	assert.Nil(t, req.Dataset)
	assert.Equal(t, cfg.TempDir, filepath.Dir(req.FileName))

	data, err := os.ReadFile(req.FileName)
	require.NoError(t, err)
	meta, offset, err := dicom.ReadFileMetaInformation(data)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4.5", meta.MediaStorageSOPInstanceUID)
	assert.Equal(t, types.ExplicitVRLittleEndian, meta.TransferSyntaxUID)
	assert.Equal(t, "SCU", meta.SourceAETitle)
	assert.Equal(t, dataset, data[offset:])
}

func TestSession_AbortMidStoreRemovesBuffer(t *testing.T) {
	h := &recordingHandler{stores: make(chan *StoreRequest, 1), status: types.StatusSuccess}
	cfg := testConfig()
	cfg.UseFileBuffer = true
	cfg.TempDir = t.TempDir()
	hs := start(t, h, cfg)

	rq, reply := hs.associate([]string{types.CTImageStorage, types.ExplicitVRLittleEndian})
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))

	command, err := dimse.EncodeCommand(storeMessage())
	require.NoError(t, err)
	hs.send(pdu.EncodePDataTF(
		pdu.PDV{PresentationContextID: 1, Command: true, Last: true, Data: command},
		pdu.PDV{PresentationContextID: 1, Data: bytes.Repeat([]byte{7}, 512)},
	))
	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(cfg.TempDir)
		return len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond, "the data set is being buffered")

	hs.send(pdu.EncodeAbort(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified))
	require.NoError(t, hs.wait())

	entries, err := os.ReadDir(cfg.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, h.stores)
}

type deflateFinder struct {
	acceptAll
	requests chan *FindRequest
}

func (f *deflateFinder) CFind(_ context.Context, _ *Session, req *FindRequest, rsp Responder) (types.Status, error) {
	f.requests <- req
	if err := rsp.Pending(req.Identifier); err != nil {
		return types.Status{}, err
	}
	return types.StatusSuccess, nil
}

func TestSession_DeflatedContextRoundTrip(t *testing.T) {
	f := &deflateFinder{requests: make(chan *FindRequest, 1)}
	hs := start(t, f, testConfig())

	rq, reply := hs.associate([]string{types.StudyRootQueryRetrieveInformationModelFind, types.DeflatedExplicitVRLittleEndian})
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))

	identifier := []byte{0x08, 0x00, 0x52, 0x00, 'C', 'S', 0x06, 0x00, 'S', 'T', 'U', 'D', 'Y', ' '}
	deflated, err := dimse.Deflate(identifier)
	require.NoError(t, err)
	_, err = dimse.NewWriter(hs.client, 0).WriteMessage(1, &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           3,
		AffectedSOPClassUID: types.StudyRootQueryRetrieveInformationModelFind,
		Priority:            types.PriorityMedium,
	}, bytes.NewReader(deflated))
	require.NoError(t, err)

	req := <-f.requests
	assert.Equal(t, types.ExplicitVRLittleEndian, req.TransferSyntax, "the identifier was inflated")
	assert.Equal(t, identifier, req.Identifier)

	asm := &dimse.Assembler{Context: func(byte) (string, bool) { return types.DeflatedExplicitVRLittleEndian, true }}
	rsp, data, err := dimse.ReceiveMessage(hs.client, 0, asm)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending.Code, rsp.Status)
	assert.Equal(t, identifier, data, "the pending identifier was deflated on the wire")

	rsp, _, err = dimse.ReceiveMessage(hs.client, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess.Code, rsp.Status)
}

func TestSession_StorePanicAnswersFailure(t *testing.T) {
	h := &recordingHandler{panicOn: "store"}
	hs := start(t, h, testConfig())

	rq, reply := hs.associate([]string{types.CTImageStorage, types.ImplicitVRLittleEndian})
	require.NoError(t, pdu.DecodeAssociateAC(reply.Data, rq))

	_, err := dimse.NewWriter(hs.client, 0).WriteMessage(1, storeMessage(), bytes.NewReader([]byte{0, 0}))
	require.NoError(t, err)

	rsp, _, err := dimse.ReceiveMessage(hs.client, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessingFailure.Code, rsp.Status)
	assert.Equal(t, "store exploded", rsp.ErrorComment)
	assert.False(t, hs.s.IsClosed(), "a failing callback does not end the association")
}

func TestSession_KeepOpenAfterRelease(t *testing.T) {
	cfg := testConfig()
	cfg.CloseAfterRelease = false
	hs := start(t, &recordingHandler{}, cfg)

	_, reply := hs.associate(echoContext())
	require.Equal(t, pdu.TypeAssociateAC, reply.Type)
	hs.send(pdu.EncodeReleaseRQ())
	assert.Equal(t, pdu.TypeReleaseRP, hs.read().Type)
	assert.Equal(t, StateReleasing, hs.s.State())

	require.NoError(t, hs.client.Close())
	require.NoError(t, hs.wait())
	assert.False(t, hs.s.ClosedOnError())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New(server, KindPlain, acceptAll{})

	require.NoError(t, s.Close())
	assert.NotPanics(t, func() { _ = s.Close() })
	assert.True(t, s.IsClosed())
	assert.ErrorIs(t, s.Run(context.Background()), dicomerr.ErrSessionClosed)
	assert.ErrorIs(t, s.Abort(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified), dicomerr.ErrSessionClosed)
}

func TestSession_ContextCancelCloses(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New(server, KindPlain, acceptAll{}, WithConfig(testConfig()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	cancel()

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed on cancel")
	}
	<-errc
	assert.False(t, s.ClosedOnError())
}

func TestState_MonotonicAndString(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	s := New(server, KindPlain, acceptAll{})

	assert.True(t, s.setState(StateEstablished))
	assert.False(t, s.setState(StateAccepted), "states never move backwards")
	assert.Equal(t, "established", s.State().String())
	assert.Equal(t, "tls", KindTLS.String())
	s.SetUserState("bookkeeping")
	assert.Equal(t, "bookkeeping", s.UserState())
	_ = s.Close()
}
