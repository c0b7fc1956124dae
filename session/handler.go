package session

import (
	"context"

	"github.com/caio-sobreiro/dicomscp/dimse"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/types"
)

// Reject describes an A-ASSOCIATE-RJ.
type Reject struct {
	Result dicomerr.RejectResult
	Source dicomerr.AssociationRejectSource
	Reason dicomerr.AssociationRejectReason
}

// Handler is the one method every service class implements. The handler sets
// a result on the proposed presentation contexts and returns nil to accept,
// or a Reject. Contexts left Proposed are rejected with no reason.
//
// A handler may implement any of the optional interfaces below; the session
// uses the documented default for the ones it does not.
type Handler interface {
	AssociateRequest(ctx context.Context, s *Session, assoc *types.Association) *Reject
}

// EchoHandler answers C-ECHO. Default: Success.
type EchoHandler interface {
	CEcho(ctx context.Context, s *Session, pcid byte, messageID uint16, priority uint16) types.Status
}

// StoreRequest is a received C-STORE-RQ. Exactly one of Dataset and FileName
// is set when the peer sent a data set.
type StoreRequest struct {
	PresentationID          byte
	MessageID               uint16
	AffectedSOPClassUID     string
	AffectedSOPInstanceUID  string
	Priority                uint16
	MoveOriginatorAETitle   string
	MoveOriginatorMessageID uint16
	TransferSyntax          string
	Dataset                 []byte
	FileName                string
}

// StoreHandler answers C-STORE. Default: StatusUnrecognizedOperation. An
// error is answered with StatusProcessingFailure.
type StoreHandler interface {
	CStore(ctx context.Context, s *Session, req *StoreRequest) (types.Status, error)
}

// StoreBufferHandler picks the file a C-STORE data set is streamed into when
// file buffering is enabled. Returning "" puts it in Config.TempDir.
type StoreBufferHandler interface {
	PrepareStore(ctx context.Context, s *Session, msg *types.Message) (string, error)
}

// FindRequest is a received C-FIND-RQ.
type FindRequest struct {
	PresentationID      byte
	MessageID           uint16
	AffectedSOPClassUID string
	Priority            uint16
	TransferSyntax      string
	Identifier          []byte
}

// Responder streams pending responses of a multi-response operation.
type Responder interface {
	Pending(identifier []byte) error
}

// FindHandler answers C-FIND. Matches are sent through rsp; the returned
// status is the final response. Default: StatusUnrecognizedOperation.
type FindHandler interface {
	CFind(ctx context.Context, s *Session, req *FindRequest, rsp Responder) (types.Status, error)
}

// DimseProgressHandler observes messages while they are received.
type DimseProgressHandler interface {
	DimseBegin(s *Session, pcid byte, msg *types.Message, p dimse.Progress)
	DimseProgress(s *Session, pcid byte, msg *types.Message, p dimse.Progress)
}

// NetworkErrorHandler is told about read and write failures. The session
// closes with the error flag set afterwards.
type NetworkErrorHandler interface {
	NetworkError(s *Session, err error)
}

// TimeoutHandler is told when the peer went quiet for longer than allowed.
// The session closes with the error flag set afterwards.
type TimeoutHandler interface {
	DimseTimeout(s *Session)
}

// ConnectionClosedHandler is told when the peer closed the transport without
// releasing the association.
type ConnectionClosedHandler interface {
	ConnectionClosed(s *Session)
}

// ReleaseHandler is told when the association was released.
type ReleaseHandler interface {
	Released(s *Session)
}

// AbortHandler is told when the peer aborted the association.
type AbortHandler interface {
	Aborted(s *Session, source dicomerr.AbortSource, reason dicomerr.AbortReason)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s *Session, assoc *types.Association) *Reject

func (f HandlerFunc) AssociateRequest(ctx context.Context, s *Session, assoc *types.Association) *Reject {
	return f(ctx, s, assoc)
}
