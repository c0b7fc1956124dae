// Package errors provides DICOM-specific error types for better error handling
package errors

import (
	"errors"
	"fmt"
	"os"

	"github.com/caio-sobreiro/dicomscp/types"
)

// Common errors
var (
	ErrConnectionClosed    = errors.New("dicom: connection closed")
	ErrAssociationRejected = errors.New("dicom: association rejected")
	ErrInvalidPDU          = errors.New("dicom: invalid PDU")
	ErrUnsupportedTransfer = errors.New("dicom: unsupported transfer syntax")
	ErrNoPresentationCtx   = errors.New("dicom: no suitable presentation context")
	ErrInvalidMessage      = errors.New("dicom: invalid DIMSE message")
	ErrOperationCanceled   = errors.New("dicom: operation canceled")
	ErrSessionClosed       = errors.New("dicom: session closed")
	ErrReleaseRequested    = errors.New("dicom: peer requested release")
)

// AssociationError represents an association-level error, usually an
// A-ASSOCIATE-RJ received from or sent to a peer.
type AssociationError struct {
	Result RejectResult
	Reason AssociationRejectReason
	Source AssociationRejectSource
	Msg    string
}

func (e *AssociationError) Error() string {
	return fmt.Sprintf("association rejected: %s (result: %s, source: %s, reason: %s)",
		e.Msg, e.Result, e.Source, e.Reason.Describe(e.Source))
}

// Is makes errors.Is(err, ErrAssociationRejected) hold for every rejection.
func (e *AssociationError) Is(target error) bool {
	return target == ErrAssociationRejected
}

// RejectResult is the result field of an A-ASSOCIATE-RJ.
type RejectResult byte

const (
	RejectResultPermanent RejectResult = 0x01
	RejectResultTransient RejectResult = 0x02
)

func (r RejectResult) String() string {
	switch r {
	case RejectResultPermanent:
		return "rejected-permanent"
	case RejectResultTransient:
		return "rejected-transient"
	default:
		return "unknown"
	}
}

// AssociationRejectReason represents why an association was rejected. The
// meaning of a value depends on the source.
type AssociationRejectReason byte

const (
	RejectReasonUnknown                        AssociationRejectReason = 0x00
	RejectReasonNoReasonGiven                  AssociationRejectReason = 0x01
	RejectReasonApplicationContextNotSupported AssociationRejectReason = 0x02
	RejectReasonCallingAETitleNotRecognized    AssociationRejectReason = 0x03
	RejectReasonCalledAETitleNotRecognized     AssociationRejectReason = 0x07

	// Reasons used with RejectSourceServiceProviderACSE.
	RejectReasonProtocolVersionNotSupported AssociationRejectReason = 0x02

	// Reasons used with RejectSourceServiceProviderPresentation.
	RejectReasonTemporaryCongestion AssociationRejectReason = 0x01
	RejectReasonLocalLimitExceeded  AssociationRejectReason = 0x02
)

func (r AssociationRejectReason) String() string {
	return r.Describe(RejectSourceServiceUser)
}

// Describe names the reason as interpreted for the given source.
func (r AssociationRejectReason) Describe(source AssociationRejectSource) string {
	switch source {
	case RejectSourceServiceProviderACSE:
		switch r {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonProtocolVersionNotSupported:
			return "protocol-version-not-supported"
		}
	case RejectSourceServiceProviderPresentation:
		switch r {
		case RejectReasonTemporaryCongestion:
			return "temporary-congestion"
		case RejectReasonLocalLimitExceeded:
			return "local-limit-exceeded"
		}
	default:
		switch r {
		case RejectReasonNoReasonGiven:
			return "no-reason-given"
		case RejectReasonApplicationContextNotSupported:
			return "application-context-not-supported"
		case RejectReasonCallingAETitleNotRecognized:
			return "calling-ae-title-not-recognized"
		case RejectReasonCalledAETitleNotRecognized:
			return "called-ae-title-not-recognized"
		}
	}
	return "unknown"
}

// AssociationRejectSource represents who rejected the association
type AssociationRejectSource byte

const (
	RejectSourceUnknown                     AssociationRejectSource = 0x00
	RejectSourceServiceUser                 AssociationRejectSource = 0x01
	RejectSourceServiceProviderACSE         AssociationRejectSource = 0x02
	RejectSourceServiceProviderPresentation AssociationRejectSource = 0x03

	RejectSourceServiceProvider = RejectSourceServiceProviderACSE
)

func (s AssociationRejectSource) String() string {
	switch s {
	case RejectSourceServiceUser:
		return "service-user"
	case RejectSourceServiceProviderACSE:
		return "service-provider-acse"
	case RejectSourceServiceProviderPresentation:
		return "service-provider-presentation"
	default:
		return "unknown"
	}
}

// NewAssociationError creates a new association error
func NewAssociationError(result RejectResult, source AssociationRejectSource, reason AssociationRejectReason, msg string) *AssociationError {
	return &AssociationError{
		Result: result,
		Source: source,
		Reason: reason,
		Msg:    msg,
	}
}

// DIMSEError represents a DIMSE operation error with status code
type DIMSEError struct {
	Status    uint16
	Operation string
	Msg       string
}

func (e *DIMSEError) Error() string {
	return fmt.Sprintf("DIMSE %s failed: %s (status: 0x%04X)", e.Operation, e.Msg, e.Status)
}

// NewDIMSEError creates a new DIMSE error
func NewDIMSEError(operation string, status uint16, msg string) *DIMSEError {
	return &DIMSEError{
		Operation: operation,
		Status:    status,
		Msg:       msg,
	}
}

// State classifies the status code carried by the error.
func (e *DIMSEError) State() types.State {
	return types.StatusFromCode(e.Status).State
}

// IsSuccess returns true if the DIMSE status indicates success
func (e *DIMSEError) IsSuccess() bool { return e.State() == types.StateSuccess }

// IsPending returns true if the DIMSE status indicates pending
func (e *DIMSEError) IsPending() bool { return e.State() == types.StatePending }

// IsWarning returns true if the DIMSE status indicates a warning
func (e *DIMSEError) IsWarning() bool { return e.State() == types.StateWarning }

// IsFailure returns true if the DIMSE status indicates failure
func (e *DIMSEError) IsFailure() bool { return e.State() == types.StateFailure }

// TimeoutError represents a timeout error
type TimeoutError struct {
	Operation string
	Duration  string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.Operation, e.Duration)
}

func (e *TimeoutError) Timeout() bool {
	return true
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(operation, duration string) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
	}
}

// IsTimeout reports whether err, or anything it wraps, is a timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// NetworkError represents a network-level error
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{
		Op:  op,
		Err: err,
	}
}

// PDUError represents a PDU-level protocol error
type PDUError struct {
	PDUType byte
	Msg     string
}

func (e *PDUError) Error() string {
	return fmt.Sprintf("PDU error (type: 0x%02X): %s", e.PDUType, e.Msg)
}

// Is makes errors.Is(err, ErrInvalidPDU) hold for every PDU error.
func (e *PDUError) Is(target error) bool {
	return target == ErrInvalidPDU
}

// NewPDUError creates a new PDU error
func NewPDUError(pduType byte, msg string) *PDUError {
	return &PDUError{
		PDUType: pduType,
		Msg:     msg,
	}
}

// AbortSource identifies who issued an A-ABORT.
type AbortSource byte

const (
	AbortSourceServiceUser     AbortSource = 0x00
	AbortSourceServiceProvider AbortSource = 0x02
)

func (s AbortSource) String() string {
	switch s {
	case AbortSourceServiceUser:
		return "service-user"
	case AbortSourceServiceProvider:
		return "service-provider"
	default:
		return "unknown"
	}
}

// AbortReason is the diagnostic of a provider-initiated A-ABORT.
type AbortReason byte

const (
	AbortReasonNotSpecified          AbortReason = 0x00
	AbortReasonUnrecognizedPDU       AbortReason = 0x01
	AbortReasonUnexpectedPDU         AbortReason = 0x02
	AbortReasonUnrecognizedParameter AbortReason = 0x04
	AbortReasonUnexpectedParameter   AbortReason = 0x05
	AbortReasonInvalidParameter      AbortReason = 0x06
)

func (r AbortReason) String() string {
	switch r {
	case AbortReasonNotSpecified:
		return "not-specified"
	case AbortReasonUnrecognizedPDU:
		return "unrecognized-pdu"
	case AbortReasonUnexpectedPDU:
		return "unexpected-pdu"
	case AbortReasonUnrecognizedParameter:
		return "unrecognized-pdu-parameter"
	case AbortReasonUnexpectedParameter:
		return "unexpected-pdu-parameter"
	case AbortReasonInvalidParameter:
		return "invalid-pdu-parameter-value"
	default:
		return "unknown"
	}
}

// AbortError represents an A-ABORT PDU received
type AbortError struct {
	Source AbortSource
	Reason AbortReason
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("connection aborted by %s (reason: %s)", e.Source, e.Reason)
}

// NewAbortError creates a new abort error
func NewAbortError(source AbortSource, reason AbortReason) *AbortError {
	return &AbortError{
		Source: source,
		Reason: reason,
	}
}
