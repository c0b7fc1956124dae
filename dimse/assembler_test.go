package dimse

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/types"
)

// readPDVs decodes every P-DATA-TF PDU written to buf.
func readPDVs(t *testing.T, buf *bytes.Buffer) [][]pdu.PDV {
	t.Helper()
	var out [][]pdu.PDV
	for buf.Len() > 0 {
		p, err := pdu.ReadPDU(buf, 0)
		require.NoError(t, err)
		require.Equal(t, pdu.TypePDataTF, p.Type)
		pdvs, err := pdu.DecodePDataTF(p.Data)
		require.NoError(t, err)
		out = append(out, pdvs)
	}
	return out
}

func storeRequest() *types.Message {
	return &types.Message{
		CommandField:           types.CStoreRQ,
		MessageID:              1,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3.4",
	}
}

func TestWriter_FragmentsToPeerLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 256)

	dataset := bytes.Repeat([]byte{0xAB}, 1000)
	n, err := w.WriteMessage(1, storeRequest(), bytes.NewReader(dataset))
	require.NoError(t, err)
	assert.Equal(t, int64(len(dataset)), n)

	pdus := readPDVs(t, &buf)
	var data []byte
	var lastSeen int
	for i, pdvs := range pdus {
		require.Len(t, pdvs, 1)
		assert.LessOrEqual(t, len(pdvs[0].Data)+pdu.PDVHeaderLength, 256)
		if !pdvs[0].Command {
			data = append(data, pdvs[0].Data...)
		}
		if pdvs[0].Last && !pdvs[0].Command {
			lastSeen = i
		}
	}
	assert.Equal(t, dataset, data)
	assert.Equal(t, len(pdus)-1, lastSeen, "only the final data PDV is marked last")
}

func TestWriter_NoDatasetMarksCommand(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)

	msg := &types.Message{CommandField: types.CEchoRQ, MessageID: 1, AffectedSOPClassUID: types.VerificationSOPClass}
	_, err := w.WriteMessage(1, msg, nil)
	require.NoError(t, err)

	pdus := readPDVs(t, &buf)
	require.Len(t, pdus, 1)
	cmd, err := DecodeCommand(pdus[0][0].Data)
	require.NoError(t, err)
	assert.False(t, cmd.HasDataset())
	assert.Equal(t, uint16(0), msg.CommandDataSetType, "caller's message is not modified")
}

func TestWriter_EmptyDataset(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)

	_, err := w.WriteMessage(3, storeRequest(), bytes.NewReader(nil))
	require.NoError(t, err)

	pdus := readPDVs(t, &buf)
	require.Len(t, pdus, 2)
	assert.True(t, pdus[1][0].Last)
	assert.Empty(t, pdus[1][0].Data)
}

func TestAssembler_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 128)
	dataset := bytes.Repeat([]byte("0123456789"), 50)
	_, err := w.WriteMessage(5, storeRequest(), bytes.NewReader(dataset))
	require.NoError(t, err)

	var begins, progress int
	asm := &Assembler{
		Context: func(pcid byte) (string, bool) {
			return types.ExplicitVRLittleEndian, pcid == 5
		},
		OnBegin:    func(byte, *types.Message, Progress) { begins++ },
		OnProgress: func(byte, *types.Message, Progress) { progress++ },
	}

	var got []*Received
	for _, pdvs := range readPDVs(t, &buf) {
		done, err := asm.Add(pdvs)
		require.NoError(t, err)
		got = append(got, done...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, byte(5), got[0].PresentationID)
	assert.Equal(t, types.CStoreRQ, got[0].Command.CommandField)
	assert.Equal(t, types.ExplicitVRLittleEndian, got[0].Command.TransferSyntaxUID)
	assert.Equal(t, dataset, got[0].Dataset)
	assert.Equal(t, 1, begins)
	assert.Positive(t, progress)
	assert.False(t, asm.InProgress())
}

func TestAssembler_UnknownContext(t *testing.T) {
	asm := &Assembler{Context: func(byte) (string, bool) { return "", false }}
	_, err := asm.Add([]pdu.PDV{{PresentationContextID: 9, Command: true, Last: true}})
	assert.ErrorIs(t, err, ErrUnknownPresentationContext)
}

func TestAssembler_DataBeforeCommand(t *testing.T) {
	asm := &Assembler{}
	_, err := asm.Add([]pdu.PDV{{PresentationContextID: 1, Data: []byte{1, 2}}})
	assert.ErrorIs(t, err, ErrUnexpectedFragment)
}

func TestAssembler_ContextSwitch(t *testing.T) {
	asm := &Assembler{}
	_, err := asm.Add([]pdu.PDV{
		{PresentationContextID: 1, Command: true, Data: []byte{0, 0}},
		{PresentationContextID: 3, Command: true, Last: true, Data: []byte{0, 0}},
	})
	assert.ErrorIs(t, err, ErrUnexpectedFragment)
	assert.False(t, asm.InProgress(), "a protocol error drops the partial message")
}

func TestAssembler_TwoMessagesInOnePDU(t *testing.T) {
	echo, err := EncodeCommand(&types.Message{CommandField: types.CEchoRQ, MessageID: 1, CommandDataSetType: types.DataSetTypeNone})
	require.NoError(t, err)
	echo2, err := EncodeCommand(&types.Message{CommandField: types.CEchoRQ, MessageID: 2, CommandDataSetType: types.DataSetTypeNone})
	require.NoError(t, err)

	asm := &Assembler{}
	done, err := asm.Add([]pdu.PDV{
		{PresentationContextID: 1, Command: true, Last: true, Data: echo},
		{PresentationContextID: 1, Command: true, Last: true, Data: echo2},
	})
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, uint16(1), done[0].Command.MessageID)
	assert.Equal(t, uint16(2), done[1].Command.MessageID)
}

func TestAssembler_FileSink(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	w := NewWriter(&buf, 64)
	dataset := bytes.Repeat([]byte{0x42}, 300)
	_, err := w.WriteMessage(1, storeRequest(), bytes.NewReader(dataset))
	require.NoError(t, err)

	asm := &Assembler{
		OnCommand: func(pcid byte, msg *types.Message) (Sink, error) {
			return os.Create(filepath.Join(dir, msg.AffectedSOPInstanceUID+".dcm"))
		},
	}
	var got []*Received
	for _, pdvs := range readPDVs(t, &buf) {
		done, err := asm.Add(pdvs)
		require.NoError(t, err)
		got = append(got, done...)
	}

	require.Len(t, got, 1)
	assert.Nil(t, got[0].Dataset)
	require.Equal(t, filepath.Join(dir, "1.2.3.4.dcm"), got[0].FileName)
	onDisk, err := os.ReadFile(got[0].FileName)
	require.NoError(t, err)
	assert.Equal(t, dataset, onDisk)
}

func TestAssembler_InflatesDeflatedDataset(t *testing.T) {
	plain := bytes.Repeat([]byte("deflate me "), 100)
	compressed, err := Deflate(plain)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = NewWriter(&buf, 0).WriteMessage(1, storeRequest(), bytes.NewReader(compressed))
	require.NoError(t, err)

	asm := &Assembler{Context: func(byte) (string, bool) { return types.DeflatedExplicitVRLittleEndian, true }}
	var got []*Received
	for _, pdvs := range readPDVs(t, &buf) {
		done, err := asm.Add(pdvs)
		require.NoError(t, err)
		got = append(got, done...)
	}
	require.Len(t, got, 1)
	assert.Equal(t, plain, got[0].Dataset)
	assert.Equal(t, types.ExplicitVRLittleEndian, got[0].Command.TransferSyntaxUID)
}

func TestAssembler_ResetRemovesPartialSink(t *testing.T) {
	dir := t.TempDir()
	command, err := EncodeCommand(storeRequest())
	require.NoError(t, err)

	asm := &Assembler{
		OnCommand: func(pcid byte, msg *types.Message) (Sink, error) {
			return os.Create(filepath.Join(dir, "partial.dcm"))
		},
	}
	done, err := asm.Add([]pdu.PDV{
		{PresentationContextID: 1, Command: true, Last: true, Data: command},
		{PresentationContextID: 1, Data: []byte{1, 2, 3}},
	})
	require.NoError(t, err)
	assert.Empty(t, done)
	require.FileExists(t, filepath.Join(dir, "partial.dcm"))

	asm.Reset()
	assert.False(t, asm.InProgress())
	assert.NoFileExists(t, filepath.Join(dir, "partial.dcm"))
}

func TestReceiveMessage(t *testing.T) {
	t.Run("message", func(t *testing.T) {
		var buf bytes.Buffer
		rsp := &types.Message{CommandField: types.CEchoRSP, MessageIDBeingRespondedTo: 1}
		_, err := NewWriter(&buf, 0).WriteMessage(1, rsp, nil)
		require.NoError(t, err)

		msg, data, err := ReceiveMessage(&buf, 0, nil)
		require.NoError(t, err)
		assert.Equal(t, types.CEchoRSP, msg.CommandField)
		assert.Nil(t, data)
	})

	t.Run("abort", func(t *testing.T) {
		r := bytes.NewReader(pdu.EncodeAbort(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonUnexpectedPDU))
		_, _, err := ReceiveMessage(r, 0, nil)
		var abort *dicomerr.AbortError
		require.ErrorAs(t, err, &abort)
		assert.Equal(t, dicomerr.AbortReasonUnexpectedPDU, abort.Reason)
	})

	t.Run("release", func(t *testing.T) {
		_, _, err := ReceiveMessage(bytes.NewReader(pdu.EncodeReleaseRQ()), 0, nil)
		assert.ErrorIs(t, err, dicomerr.ErrReleaseRequested)
	})

	t.Run("eof", func(t *testing.T) {
		_, _, err := ReceiveMessage(bytes.NewReader(nil), 0, nil)
		assert.ErrorIs(t, err, io.EOF)
	})
}
