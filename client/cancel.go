package client

import (
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/types"
)

// SendCCancel sends a C-CANCEL-RQ to cancel a pending C-FIND or C-MOVE operation.
// The messageID parameter must match the MessageID of the operation being canceled.
// C-CANCEL does not have a response; the SCP stops sending pending responses
// and answers the original request with a Cancel status.
func (a *Association) SendCCancel(messageID uint16, sopClassUID string) error {
	if messageID == 0 {
		return oops.In("client").Errorf("messageID must be non-zero for C-CANCEL")
	}
	if sopClassUID == "" {
		return oops.In("client").Errorf("sopClassUID must be provided for C-CANCEL")
	}

	pcid, err := a.GetPresentationContextID(sopClassUID)
	if err != nil {
		return err
	}

	command := &types.Message{
		CommandField:              types.CCancelRQ,
		MessageIDBeingRespondedTo: messageID,
	}
	if _, err := a.writer.WriteMessage(pcid, command, nil); err != nil {
		return oops.In("client").With("message_id", messageID).Wrapf(err, "failed to send C-CANCEL-RQ")
	}

	a.logger.Debug("c_cancel_sent", zap.Uint16("message_id", messageID), zap.String("sop_class", types.UIDName(sopClassUID)))
	return nil
}
