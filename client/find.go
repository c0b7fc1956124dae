package client

import (
	"bytes"
	"context"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dicom"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/types"
)

// CFindRequest encapsulates the information required to perform a C-FIND query.
// Dataset is sent as is; when nil it is built from Query.
type CFindRequest struct {
	SOPClassUID string // default Study Root
	MessageID   uint16
	Priority    uint16
	Dataset     *dicom.Dataset
	Query       types.QueryRequest

	// OnResponse, when set, sees every response as it arrives. Returning
	// false sends a C-CANCEL for the query.
	OnResponse func(*CFindResponse) bool
}

// CFindResponse represents a single C-FIND response from the SCP.
type CFindResponse struct {
	Status    types.Status
	MessageID uint16
	Dataset   *dicom.Dataset
}

// Match decodes the identifier of a pending response.
func (r *CFindResponse) Match() types.QueryMatch {
	if r.Dataset == nil {
		return types.QueryMatch{}
	}
	return dicom.MatchFromDataset(r.Dataset)
}

// SendCFind performs a DICOM C-FIND query and returns all responses in order.
func (a *Association) SendCFind(ctx context.Context, req *CFindRequest) ([]*CFindResponse, error) {
	if req == nil {
		return nil, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "C-FIND request is nil")
	}
	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.StudyRootQueryRetrieveInformationModelFind
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
		return nil, oops.In("client").Wrapf(err, "failed to encode C-FIND identifier")
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()
	defer a.bind(ctx)()

	messageID := req.MessageID
	if messageID == 0 {
		messageID = a.nextMessageID()
	}
	command := &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           messageID,
		Priority:            req.Priority,
		AffectedSOPClassUID: sopClass,
	}
	if _, err := a.writer.WriteMessage(pc.ID, command, bytes.NewReader(encoded)); err != nil {
		return nil, oops.In("client").Wrapf(err, "failed to send C-FIND-RQ")
	}

	var responses []*CFindResponse
	cancelled := false
	for {
		msg, data, err := a.receive()
		if err != nil {
			return responses, oops.In("client").With("responses", len(responses)).Wrapf(err, "failed to receive C-FIND-RSP")
		}
		if msg.CommandField != types.CFindRSP {
			return responses, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "unexpected %s, expected C-FIND-RSP", msg.CommandName())
		}

		rsp := &CFindResponse{
			Status:    types.StatusFromCode(msg.Status).WithComment(msg.ErrorComment),
			MessageID: msg.MessageIDBeingRespondedTo,
		}
		if len(data) > 0 {
			rsp.Dataset, err = dicom.ParseDataset(data, msg.TransferSyntaxUID)
			if err != nil {
				a.logger.Warn("c_find_identifier_unreadable", zap.Error(err), zap.Uint16("message_id", rsp.MessageID))
			}
		}
		responses = append(responses, rsp)

		if !rsp.Status.IsPending() {
			return responses, nil
		}
		if req.OnResponse != nil && !req.OnResponse(rsp) && !cancelled {
			cancelled = true
			if err := a.SendCCancel(messageID, sopClass); err != nil {
				return responses, err
			}
		}
	}
}
