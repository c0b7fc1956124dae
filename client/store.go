package client

import (
	"bytes"
	"context"
	"io"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dicom"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/types"
)

// CStoreRequest represents a C-STORE request. Data may be a bare data set
// or a Part 10 file; the file meta group is stripped and its transfer
// syntax used to pick the presentation context.
type CStoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string

	// TransferSyntaxUID is the encoding of Data. Empty accepts any context
	// negotiated for the SOP class.
	TransferSyntaxUID string

	Data []byte

	// Reader streams the data set instead of Data.
	Reader io.Reader

	MessageID               uint16
	Priority                uint16
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
}

// CStoreResponse represents a C-STORE response
type CStoreResponse struct {
	Status         types.Status
	MessageID      uint16
	SOPClassUID    string
	SOPInstanceUID string
}

func (r *CStoreRequest) dataset() (io.Reader, error) {
	if r.Reader != nil {
		return r.Reader, nil
	}
	data := r.Data
	if dicom.HasPart10Header(data) {
		meta, offset, err := dicom.ReadFileMetaInformation(data)
		if err != nil {
			return nil, err
		}
		if r.TransferSyntaxUID == "" {
			r.TransferSyntaxUID = meta.TransferSyntaxUID
		}
		if r.SOPClassUID == "" {
			r.SOPClassUID = meta.MediaStorageSOPClassUID
		}
		if r.SOPInstanceUID == "" {
			r.SOPInstanceUID = meta.MediaStorageSOPInstanceUID
		}
		data = data[offset:]
	}
	if len(data) == 0 {
		return nil, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "C-STORE without data set")
	}
	return bytes.NewReader(data), nil
}

// SendCStore sends a C-STORE request and waits for response
func (a *Association) SendCStore(ctx context.Context, req *CStoreRequest) (*CStoreResponse, error) {
	if req == nil {
		return nil, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "C-STORE request is nil")
	}
	dataset, err := req.dataset()
	if err != nil {
		return nil, err
	}
	pc, err := a.contextFor(req.SOPClassUID, req.TransferSyntaxUID)
	if err != nil {
		return nil, err
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()
	defer a.bind(ctx)()

	messageID := req.MessageID
	if messageID == 0 {
		messageID = a.nextMessageID()
	}
	command := &types.Message{
		CommandField:            types.CStoreRQ,
		MessageID:               messageID,
		Priority:                req.Priority,
		AffectedSOPClassUID:     req.SOPClassUID,
		AffectedSOPInstanceUID:  req.SOPInstanceUID,
		MoveOriginatorAETitle:   req.MoveOriginatorAETitle,
		MoveOriginatorMessageID: req.MoveOriginatorMessageID,
	}
	n, err := a.writer.WriteMessage(pc.ID, command, dataset)
	if err != nil {
		return nil, oops.In("client").With("sop_instance", req.SOPInstanceUID).Wrapf(err, "failed to send C-STORE-RQ")
	}
	a.logger.Debug("c_store_sent",
		zap.String("sop_class", types.UIDName(req.SOPClassUID)),
		zap.String("sop_instance", req.SOPInstanceUID),
		zap.Int64("bytes", n))

	msg, _, err := a.receive()
	if err != nil {
		return nil, oops.In("client").Wrapf(err, "failed to receive C-STORE-RSP")
	}
	if msg.CommandField != types.CStoreRSP {
		return nil, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "unexpected %s, expected C-STORE-RSP", msg.CommandName())
	}
	return &CStoreResponse{
		Status:         types.StatusFromCode(msg.Status).WithComment(msg.ErrorComment),
		MessageID:      msg.MessageIDBeingRespondedTo,
		SOPClassUID:    msg.AffectedSOPClassUID,
		SOPInstanceUID: msg.AffectedSOPInstanceUID,
	}, nil
}
