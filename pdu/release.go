package pdu

import (
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
)

// EncodeReleaseRQ builds an A-RELEASE-RQ PDU.
func EncodeReleaseRQ() []byte {
	return Encode(TypeReleaseRQ, make([]byte, 4))
}

// EncodeReleaseRP builds an A-RELEASE-RP PDU.
func EncodeReleaseRP() []byte {
	return Encode(TypeReleaseRP, make([]byte, 4))
}

// EncodeAbort builds an A-ABORT PDU.
func EncodeAbort(source dicomerr.AbortSource, reason dicomerr.AbortReason) []byte {
	return Encode(TypeAbort, []byte{0x00, 0x00, byte(source), byte(reason)})
}

// DecodeAbort parses an A-ABORT payload. A short payload is reported as a
// service user abort without a reason.
func DecodeAbort(data []byte) *dicomerr.AbortError {
	if len(data) < 4 {
		return dicomerr.NewAbortError(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified)
	}
	return dicomerr.NewAbortError(dicomerr.AbortSource(data[2]), dicomerr.AbortReason(data[3]))
}
