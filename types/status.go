package types

import (
	"fmt"
	"strconv"
	"strings"
)

// State is the outcome class of a DIMSE status code.
type State int

const (
	StateSuccess State = iota
	StateCancel
	StatePending
	StateWarning
	StateFailure
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "Success"
	case StateCancel:
		return "Cancel"
	case StatePending:
		return "Pending"
	case StateWarning:
		return "Warning"
	default:
		return "Failure"
	}
}

// Status is the value carried in (0000,0900) together with its meaning.
// Service classes decide statuses; the engine only transports them.
type Status struct {
	Code         uint16
	State        State
	Description  string
	ErrorComment string

	// mask selects the significant bits of Code. Statuses declared with an
	// "x" nibble, such as "Cxxx", match a whole family of codes.
	mask uint16
}

// NewStatus declares a status from a four character hex pattern where "x"
// marks a wildcard nibble.
func NewStatus(pattern string, state State, description string) Status {
	pattern = strings.ToLower(pattern)
	code, err := strconv.ParseUint(strings.ReplaceAll(pattern, "x", "0"), 16, 16)
	if err != nil {
		panic(fmt.Sprintf("types: invalid status pattern %q", pattern))
	}
	var mask uint16
	for i, r := range pattern {
		if r != 'x' {
			mask |= 0xF << uint(4*(len(pattern)-1-i))
		}
	}
	return Status{Code: uint16(code), State: state, Description: description, mask: mask}
}

var (
	StatusSuccess        = NewStatus("0000", StateSuccess, "Success")
	StatusCancel         = NewStatus("FE00", StateCancel, "Cancel")
	StatusPending        = NewStatus("FF00", StatePending, "Pending")
	StatusPendingWarning = NewStatus("FF01", StatePending, "Pending: optional keys not supported")

	StatusAttributeListError            = NewStatus("0107", StateWarning, "Attribute list error")
	StatusAttributeValueOutOfRange      = NewStatus("0116", StateWarning, "Attribute value out of range")
	StatusCoercionOfDataElements        = NewStatus("B000", StateWarning, "Coercion of data elements")
	StatusElementsDiscarded             = NewStatus("B006", StateWarning, "Elements discarded")
	StatusDataSetDoesNotMatchSOPWarning = NewStatus("B007", StateWarning, "Data set does not match SOP class")

	StatusProcessingFailure      = NewStatus("0110", StateFailure, "Processing failure")
	StatusDuplicateSOPInstance   = NewStatus("0111", StateFailure, "Duplicate SOP instance")
	StatusNoSuchSOPClass         = NewStatus("0118", StateFailure, "No such SOP class")
	StatusSOPClassNotSupported   = NewStatus("0122", StateFailure, "SOP class not supported")
	StatusNotAuthorized          = NewStatus("0124", StateFailure, "Refused: not authorized")
	StatusUnrecognizedOperation  = NewStatus("0211", StateFailure, "Unrecognized operation")
	StatusRefusedOutOfResources  = NewStatus("A700", StateFailure, "Refused: out of resources")
	StatusMoveDestinationUnknown = NewStatus("A801", StateFailure, "Refused: move destination unknown")
	StatusDataSetDoesNotMatchSOP = NewStatus("A900", StateFailure, "Error: data set does not match SOP class")
	StatusUnableToProcess        = NewStatus("C001", StateFailure, "Unable to process")
	StatusCannotUnderstand       = NewStatus("Cxxx", StateFailure, "Error: cannot understand")
)

var knownStatuses = []Status{
	StatusSuccess, StatusCancel, StatusPending, StatusPendingWarning,
	StatusAttributeListError, StatusAttributeValueOutOfRange, StatusCoercionOfDataElements,
	StatusElementsDiscarded, StatusDataSetDoesNotMatchSOPWarning,
	StatusProcessingFailure, StatusNoSuchSOPClass, StatusUnrecognizedOperation,
	StatusRefusedOutOfResources, StatusDataSetDoesNotMatchSOP, StatusMoveDestinationUnknown,
	StatusUnableToProcess, StatusSOPClassNotSupported, StatusDuplicateSOPInstance, StatusNotAuthorized,
	StatusCannotUnderstand,
}

// StatusFromCode classifies a status code received from a peer.
func StatusFromCode(code uint16) Status {
	probe := Status{Code: code, mask: 0xFFFF}
	for _, s := range knownStatuses {
		if s.Matches(probe) {
			return Status{Code: code, State: s.State, Description: s.Description, mask: 0xFFFF}
		}
	}
	state := StateFailure
	switch {
	case code == 0x0000:
		state = StateSuccess
	case code == 0xFE00:
		state = StateCancel
	case code == 0xFF00 || code == 0xFF01:
		state = StatePending
	case code == 0x0001 || code&0xF000 == 0xB000:
		state = StateWarning
	}
	return Status{Code: code, State: state, Description: fmt.Sprintf("Status 0x%04X", code), mask: 0xFFFF}
}

// Matches reports whether two statuses name the same code, honouring the
// wildcard nibbles of either side.
func (s Status) Matches(other Status) bool {
	return s.Code&other.effectiveMask() == other.Code&s.effectiveMask()
}

func (s Status) effectiveMask() uint16 {
	if s.mask == 0 {
		return 0xFFFF
	}
	return s.mask
}

// WithComment returns a copy of s carrying an error comment (0000,0902).
func (s Status) WithComment(comment string) Status {
	s.ErrorComment = comment
	return s
}

// IsSuccess reports a Success outcome.
func (s Status) IsSuccess() bool { return s.State == StateSuccess }

// IsPending reports a Pending outcome.
func (s Status) IsPending() bool { return s.State == StatePending }

// IsWarning reports a Warning outcome.
func (s Status) IsWarning() bool { return s.State == StateWarning }

// IsFailure reports a Failure outcome.
func (s Status) IsFailure() bool { return s.State == StateFailure }

func (s Status) String() string {
	if s.State == StateWarning || s.State == StateFailure {
		if s.ErrorComment != "" {
			return fmt.Sprintf("%s [%04x: %s] -> %s", s.State, s.Code, s.Description, s.ErrorComment)
		}
		return fmt.Sprintf("%s [%04x: %s]", s.State, s.Code, s.Description)
	}
	return s.Description
}
