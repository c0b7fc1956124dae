package dimse

import (
	"github.com/caio-sobreiro/dicomscp/types"
)

// ResponseBuilder provides convenient methods for creating standard DIMSE response messages.
//
// The builder populates MessageIDBeingRespondedTo and the affected SOP class
// and instance from the request, and copies the error comment of a status.
type ResponseBuilder struct {
	request *types.Message
}

// NewResponseBuilder creates a new response builder for the given request message.
func NewResponseBuilder(request *types.Message) *ResponseBuilder {
	return &ResponseBuilder{request: request}
}

func (b *ResponseBuilder) base(field uint16, status types.Status) *types.Message {
	return &types.Message{
		CommandField:              field,
		MessageIDBeingRespondedTo: b.request.MessageID,
		AffectedSOPClassUID:       b.request.AffectedSOPClassUID,
		CommandDataSetType:        types.DataSetTypeNone,
		Status:                    status.Code,
		ErrorComment:              status.ErrorComment,
	}
}

// CEchoResponse creates a C-ECHO-RSP message.
//
// The affected SOP class is always Verification; the response has no dataset.
func (b *ResponseBuilder) CEchoResponse(status types.Status) *types.Message {
	rsp := b.base(types.CEchoRSP, status)
	rsp.AffectedSOPClassUID = types.VerificationSOPClass
	return rsp
}

// CFindResponse creates a C-FIND-RSP message.
//
// Parameters:
//   - status: The response status (StatusPending for matches, StatusSuccess at the end)
//   - hasDataset: Whether this response includes an identifier
//
// For pending responses with matches, set hasDataset=true.
// For the final response, set hasDataset=false.
func (b *ResponseBuilder) CFindResponse(status types.Status, hasDataset bool) *types.Message {
	rsp := b.base(types.CFindRSP, status)
	if hasDataset {
		rsp.CommandDataSetType = types.DataSetTypePresent
	}
	return rsp
}

// CStoreResponse creates a C-STORE-RSP message echoing the affected SOP
// instance of the request.
func (b *ResponseBuilder) CStoreResponse(status types.Status) *types.Message {
	rsp := b.base(types.CStoreRSP, status)
	rsp.AffectedSOPInstanceUID = b.request.AffectedSOPInstanceUID
	return rsp
}

// Response creates the response matching any request command. It is used to
// refuse requests nobody handles.
func (b *ResponseBuilder) Response(status types.Status) *types.Message {
	rsp := b.base(types.ResponseCommandFor(b.request.CommandField), status)
	rsp.AffectedSOPInstanceUID = b.request.AffectedSOPInstanceUID
	return rsp
}

// Helper functions for creating responses without a builder instance

// NewCEchoResponse creates a C-ECHO-RSP message from a request.
func NewCEchoResponse(request *types.Message, status types.Status) *types.Message {
	return NewResponseBuilder(request).CEchoResponse(status)
}

// NewCFindPendingResponse creates a pending C-FIND-RSP message (with dataset).
func NewCFindPendingResponse(request *types.Message) *types.Message {
	return NewResponseBuilder(request).CFindResponse(types.StatusPending, true)
}

// NewCFindFinalResponse creates the final C-FIND-RSP message (no dataset).
func NewCFindFinalResponse(request *types.Message, status types.Status) *types.Message {
	return NewResponseBuilder(request).CFindResponse(status, false)
}

// NewCStoreResponse creates a C-STORE-RSP message.
func NewCStoreResponse(request *types.Message, status types.Status) *types.Message {
	return NewResponseBuilder(request).CStoreResponse(status)
}
