package client

import (
	"context"

	"github.com/samber/oops"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/types"
)

// CEchoResponse represents the result of a C-ECHO operation.
type CEchoResponse struct {
	Status    types.Status
	MessageID uint16
}

// SendCEcho performs a DICOM C-ECHO (verification) request and returns the response status.
func (a *Association) SendCEcho(ctx context.Context) (*CEchoResponse, error) {
	pcid, err := a.GetPresentationContextID(types.VerificationSOPClass)
	if err != nil {
		return nil, err
	}

	a.opMu.Lock()
	defer a.opMu.Unlock()
	defer a.bind(ctx)()

	command := &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           a.nextMessageID(),
		AffectedSOPClassUID: types.VerificationSOPClass,
	}
	if _, err := a.writer.WriteMessage(pcid, command, nil); err != nil {
		return nil, oops.In("client").Wrapf(err, "failed to send C-ECHO-RQ")
	}

	msg, _, err := a.receive()
	if err != nil {
		return nil, oops.In("client").Wrapf(err, "failed to receive C-ECHO-RSP")
	}
	if msg.CommandField != types.CEchoRSP {
		return nil, oops.In("client").Wrapf(dicomerr.ErrInvalidMessage, "unexpected %s, expected C-ECHO-RSP", msg.CommandName())
	}
	return &CEchoResponse{
		Status:    types.StatusFromCode(msg.Status).WithComment(msg.ErrorComment),
		MessageID: msg.MessageIDBeingRespondedTo,
	}, nil
}
