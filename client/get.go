package client

import (
	"bytes"
	"context"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dicom"
	"github.com/caio-sobreiro/dicomscp/dimse"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/types"
)

// StoreFunc receives one instance sent back during a C-GET. The returned
// status answers the C-STORE sub-operation; an error answers
// StatusProcessingFailure.
type StoreFunc func(ctx context.Context, req *session.StoreRequest) (types.Status, error)

// CGetRequest encapsulates the information required to perform a C-GET.
// Dataset is sent as is; when nil it is built from Query.
type CGetRequest struct {
	SOPClassUID string // default Study Root
	MessageID   uint16
	Priority    uint16
	Dataset     *dicom.Dataset
	Query       types.QueryRequest

	// OnStore handles the C-STORE sub-operations the SCP sends on this
	// association. The storage classes must have been proposed in
	// Config.Contexts. Without it every instance is refused.
	OnStore StoreFunc
}

// CGetResponse represents a single C-GET response from the SCP.
type CGetResponse struct {
	Status                         types.Status
	MessageID                      uint16
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// Err returns a *errors.DIMSEError when the retrieve failed.
func (r *CGetResponse) Err() error { return statusError("C-GET", r.Status) }

// SendCGet performs a C-GET and returns every C-GET-RSP in order. The
// instances arrive as C-STORE requests on the same association and are
// answered through req.OnStore before the next response is read.
func (a *Association) SendCGet(ctx context.Context, req *CGetRequest) ([]*CGetResponse, error) {
	if req == nil {
		return nil, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "C-GET request is nil")
	}
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelGet
	}
	identifier := req.Dataset
	if identifier == nil {
		identifier = dicom.QueryToDataset(req.Query)
	}
	pc, err := a.contextFor(sopClass, "")
	if err != nil {
		return nil, err
	}
	encoded, err := identifier.Encode(pc.AcceptedTransferSyntax)
	if err != nil {
		return nil, oops.In("client").Wrapf(err, "failed to encode C-GET identifier")
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()
	defer a.bind(ctx)()

	messageID := req.MessageID
	if messageID == 0 {
		messageID = a.nextMessageID()
	}
	command := &types.Message{
		CommandField:        types.CGetRQ,
		MessageID:           messageID,
		Priority:            req.Priority,
		AffectedSOPClassUID: sopClass,
	}
	if _, err := a.writer.WriteMessage(pc.ID, command, bytes.NewReader(encoded)); err != nil {
		return nil, oops.In("client").Wrapf(err, "failed to send C-GET-RQ")
	}

	var responses []*CGetResponse
	for {
		rcv, err := a.receiveMessage()
		if err != nil {
			return responses, oops.In("client").With("responses", len(responses)).Wrapf(err, "failed to receive C-GET-RSP")
		}
		msg := rcv.Command
		switch msg.CommandField {
		case types.CStoreRQ:
			if err := a.answerStore(ctx, req.OnStore, rcv); err != nil {
				return responses, err
			}
		case types.CGetRSP:
			rsp := &CGetResponse{
				Status:                         types.StatusFromCode(msg.Status).WithComment(msg.ErrorComment),
				MessageID:                      msg.MessageIDBeingRespondedTo,
				NumberOfRemainingSuboperations: msg.NumberOfRemainingSuboperations,
				NumberOfCompletedSuboperations: msg.NumberOfCompletedSuboperations,
				NumberOfFailedSuboperations:    msg.NumberOfFailedSuboperations,
				NumberOfWarningSuboperations:   msg.NumberOfWarningSuboperations,
			}
			responses = append(responses, rsp)
			if !rsp.Status.IsPending() {
				return responses, nil
			}
		default:
			return responses, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "unexpected %s during C-GET", msg.CommandName())
		}
	}
}

// answerStore hands one C-STORE sub-operation to fn and sends its response.
func (a *Association) answerStore(ctx context.Context, fn StoreFunc, rcv *dimse.Received) error {
	msg := rcv.Command
	req := &session.StoreRequest{
		PresentationID:          rcv.PresentationID,
		MessageID:               msg.MessageID,
		AffectedSOPClassUID:     msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:  msg.AffectedSOPInstanceUID,
		Priority:                msg.Priority,
		MoveOriginatorAETitle:   msg.MoveOriginatorAETitle,
		MoveOriginatorMessageID: msg.MoveOriginatorMessageID,
		TransferSyntax:          msg.TransferSyntaxUID,
		Dataset:                 rcv.Dataset,
	}

	status := types.StatusUnrecognizedOperation
	if fn != nil {
		st, err := fn(ctx, req)
		if err != nil {
			a.logger.Warn("c_get_store_failed",
				zap.String("sop_instance", req.AffectedSOPInstanceUID),
				zap.Error(err))
			st = types.StatusProcessingFailure.WithComment(err.Error())
		}
		status = st
	}

	rsp := dimse.NewResponseBuilder(msg).CStoreResponse(status)
	if _, err := a.writer.WriteMessage(rcv.PresentationID, rsp, nil); err != nil {
		return oops.In("client").With("sop_instance", req.AffectedSOPInstanceUID).Wrapf(err, "failed to send C-STORE-RSP")
	}
	a.logger.Debug("c_get_instance_received",
		zap.String("sop_instance", req.AffectedSOPInstanceUID),
		zap.String("status", status.String()))
	return nil
}
