package types

// DIMSE command fields, PS3.7 Annex E.
const (
	CStoreRQ  uint16 = 0x0001
	CStoreRSP uint16 = 0x8001
	CGetRQ    uint16 = 0x0010
	CGetRSP   uint16 = 0x8010
	CFindRQ   uint16 = 0x0020
	CFindRSP  uint16 = 0x8020
	CMoveRQ   uint16 = 0x0021
	CMoveRSP  uint16 = 0x8021
	CEchoRQ   uint16 = 0x0030
	CEchoRSP  uint16 = 0x8030
	CCancelRQ uint16 = 0x0FFF
)

// Priority values carried in (0000,0700).
const (
	PriorityMedium uint16 = 0x0000
	PriorityHigh   uint16 = 0x0001
	PriorityLow    uint16 = 0x0002
)

// Command Data Set Type values. Any value other than DataSetTypeNone means a
// data set follows the command.
const (
	DataSetTypePresent uint16 = 0x0000
	DataSetTypeNone    uint16 = 0x0101
)

// Message is a decoded DIMSE command set.
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	MessageIDBeingRespondedTo uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	ErrorComment              string
	MoveDestination           string
	MoveOriginatorAETitle     string
	MoveOriginatorMessageID   uint16

	// Negotiated transfer syntax of the data set that follows, filled in by the
	// receiver from the presentation context. Not encoded.
	TransferSyntaxUID string

	// Sub-operation counters of C-GET and C-MOVE responses.
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// HasDataset reports whether a data set follows this command.
func (m *Message) HasDataset() bool {
	return m.CommandDataSetType != DataSetTypeNone
}

// IsRequest reports whether the command field names a request primitive.
func (m *Message) IsRequest() bool {
	return m.CommandField&0x8000 == 0
}

// CommandName returns the DIMSE primitive name of the command field.
func (m *Message) CommandName() string {
	return CommandName(m.CommandField)
}

// CommandName returns the DIMSE primitive name of a command field.
func CommandName(field uint16) string {
	switch field {
	case CStoreRQ:
		return "C-STORE-RQ"
	case CStoreRSP:
		return "C-STORE-RSP"
	case CGetRQ:
		return "C-GET-RQ"
	case CGetRSP:
		return "C-GET-RSP"
	case CFindRQ:
		return "C-FIND-RQ"
	case CFindRSP:
		return "C-FIND-RSP"
	case CMoveRQ:
		return "C-MOVE-RQ"
	case CMoveRSP:
		return "C-MOVE-RSP"
	case CEchoRQ:
		return "C-ECHO-RQ"
	case CEchoRSP:
		return "C-ECHO-RSP"
	case CCancelRQ:
		return "C-CANCEL-RQ"
	default:
		return "UNKNOWN"
	}
}

// ResponseCommandFor maps a DIMSE request command to its corresponding response command.
func ResponseCommandFor(request uint16) uint16 {
	return request | 0x8000
}
