package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscp/dicom"
	"github.com/caio-sobreiro/dicomscp/dimse"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/services"
	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/types"
)

// getSCP answers one C-GET by sending instances back as C-STORE requests.
type getSCP struct {
	addr      string
	instances map[string][]byte
	order     []string

	query    chan *dicom.Dataset
	statuses chan uint16
	errc     chan error
}

func startGetSCP(t *testing.T, order []string, instances map[string][]byte) *getSCP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	s := &getSCP{
		addr:      ln.Addr().String(),
		instances: instances,
		order:     order,
		query:     make(chan *dicom.Dataset, 1),
		statuses:  make(chan uint16, len(order)),
		errc:      make(chan error, 1),
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			s.errc <- err
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		s.errc <- s.serve(conn)
	}()
	return s
}

func (s *getSCP) serve(conn net.Conn) error {
	p, err := pdu.ReadPDU(conn, 0)
	if err != nil {
		return err
	}
	rq, err := pdu.DecodeAssociateRQ(p.Data)
	if err != nil {
		return err
	}
	for _, pc := range rq.Contexts() {
		if err := pc.Accept(pc.TransferSyntaxes[0]); err != nil {
			return err
		}
	}
	ac, err := pdu.EncodeAssociateAC(rq)
	if err != nil {
		return err
	}
	if _, err := conn.Write(ac); err != nil {
		return err
	}

	w := dimse.NewWriter(conn, 0)
	asm := &dimse.Assembler{Context: rq.AcceptedTransferSyntax}
	get, err := dimse.Receive(conn, 0, asm)
	if err != nil {
		return err
	}
	if get.Command.CommandField != types.CGetRQ {
		return errors.New("expected C-GET-RQ")
	}
	query, err := dicom.ParseDataset(get.Dataset, get.Command.TransferSyntaxUID)
	if err != nil {
		return err
	}
	s.query <- query

	storePC, ok := rq.AcceptedContext(types.CTImageStorage)
	if !ok {
		return errors.New("no storage context")
	}
	reply := dimse.NewResponseBuilder(get.Command)
	var completed, failed uint16
	for i, uid := range s.order {
		_, err := w.WriteMessage(storePC.ID, &types.Message{
			CommandField:           types.CStoreRQ,
			MessageID:              uint16(100 + i),
			AffectedSOPClassUID:    types.CTImageStorage,
			AffectedSOPInstanceUID: uid,
			Priority:               types.PriorityMedium,
		}, bytes.NewReader(s.instances[uid]))
		if err != nil {
			return err
		}
		rsp, _, err := dimse.ReceiveMessage(conn, 0, asm)
		if err != nil {
			return err
		}
		s.statuses <- rsp.Status
		if rsp.Status == types.StatusSuccess.Code {
			completed++
		} else {
			failed++
		}

		remaining := uint16(len(s.order) - i - 1)
		pending := reply.Response(types.StatusPending)
		pending.NumberOfRemainingSuboperations = &remaining
		pending.NumberOfCompletedSuboperations = &completed
		if _, err := w.WriteMessage(get.PresentationID, pending, nil); err != nil {
			return err
		}
	}

	final := reply.Response(types.StatusSuccess)
	final.NumberOfCompletedSuboperations = &completed
	final.NumberOfFailedSuboperations = &failed
	if _, err := w.WriteMessage(get.PresentationID, final, nil); err != nil {
		return err
	}

	p, err = pdu.ReadPDU(conn, 0)
	if err != nil {
		return err
	}
	if p.Type != pdu.TypeReleaseRQ {
		return errors.New("expected A-RELEASE-RQ")
	}
	_, err = conn.Write(pdu.EncodeReleaseRP())
	return err
}

func getConfig() Config {
	cfg := testConfig()
	cfg.Contexts = []ContextRequest{
		{AbstractSyntax: types.StudyRootQueryRetrieveInformationModelGet, TransferSyntaxes: []string{types.ExplicitVRLittleEndian}},
		{AbstractSyntax: types.CTImageStorage, TransferSyntaxes: []string{types.ExplicitVRLittleEndian}},
	}
	return cfg
}

func TestSendCGet(t *testing.T) {
	instances := map[string][]byte{
		"1.2.3.1": {0x08, 0x00, 0x60, 0x00, 'C', 'S', 0x02, 0x00, 'C', 'T'},
		"1.2.3.2": {0x08, 0x00, 0x60, 0x00, 'C', 'S', 0x02, 0x00, 'M', 'R'},
	}
	scp := startGetSCP(t, []string{"1.2.3.1", "1.2.3.2"}, instances)
	ctx := context.Background()

	assoc, err := Connect(ctx, scp.addr, getConfig())
	require.NoError(t, err)
	defer assoc.Close()

	var got []*session.StoreRequest
	responses, err := assoc.SendCGet(ctx, &CGetRequest{
		Query: types.QueryRequest{Level: types.QueryLevelStudy, StudyInstanceUID: "1.2.3"},
		OnStore: func(_ context.Context, req *session.StoreRequest) (types.Status, error) {
			got = append(got, req)
			if req.AffectedSOPInstanceUID == "1.2.3.2" {
				return types.StatusRefusedOutOfResources, nil
			}
			return types.StatusSuccess, nil
		},
	})
	require.NoError(t, err)

	query := <-scp.query
	assert.Equal(t, "1.2.3", query.GetString(dicom.TagStudyInstanceUID))

	require.Len(t, got, 2)
	assert.Equal(t, "1.2.3.1", got[0].AffectedSOPInstanceUID)
	assert.Equal(t, instances["1.2.3.1"], got[0].Dataset)
	assert.Equal(t, types.ExplicitVRLittleEndian, got[0].TransferSyntax)
	assert.Equal(t, types.StatusSuccess.Code, <-scp.statuses)
	assert.Equal(t, types.StatusRefusedOutOfResources.Code, <-scp.statuses)

	require.Len(t, responses, 3)
	assert.True(t, responses[0].Status.IsPending())
	require.NotNil(t, responses[0].NumberOfRemainingSuboperations)
	assert.Equal(t, uint16(1), *responses[0].NumberOfRemainingSuboperations)
	final := responses[2]
	assert.True(t, final.Status.IsSuccess())
	assert.NoError(t, final.Err())
	require.NotNil(t, final.NumberOfFailedSuboperations)
	assert.Equal(t, uint16(1), *final.NumberOfFailedSuboperations)

	require.NoError(t, assoc.Release(ctx))
	require.NoError(t, <-scp.errc)
}

func TestSendCGetWithoutStoreCallback(t *testing.T) {
	scp := startGetSCP(t, []string{"1.2.3.1"}, map[string][]byte{"1.2.3.1": {0x08, 0x00, 0x60, 0x00, 'C', 'S', 0x02, 0x00, 'C', 'T'}})
	ctx := context.Background()

	assoc, err := Connect(ctx, scp.addr, getConfig())
	require.NoError(t, err)
	defer assoc.Close()

	responses, err := assoc.SendCGet(ctx, &CGetRequest{Query: types.QueryRequest{Level: types.QueryLevelStudy}})
	require.NoError(t, err)
	require.NotEmpty(t, responses)
	assert.Equal(t, types.StatusUnrecognizedOperation.Code, <-scp.statuses)

	require.NoError(t, assoc.Release(ctx))
	require.NoError(t, <-scp.errc)
}

func TestSendCGetErrors(t *testing.T) {
	s := startSCP(t, services.StoreConfig{})
	ctx := context.Background()

	assoc, err := Connect(ctx, s.addr, testConfig())
	require.NoError(t, err)
	defer assoc.Close()

	_, err = assoc.SendCGet(ctx, nil)
	assert.ErrorIs(t, err, dicomerr.ErrInvalidMessage)

	// Study Root GET is not proposed by default.
	_, err = assoc.SendCGet(ctx, &CGetRequest{})
	assert.ErrorIs(t, err, dicomerr.ErrNoPresentationCtx)
}
