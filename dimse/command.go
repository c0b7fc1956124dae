// Package dimse implements the DIMSE message layer: command set encoding,
// fragmentation of messages into P-DATA-TF PDUs and reassembly of received
// fragments.
package dimse

import (
	"encoding/binary"
	"fmt"
	"strings"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/types"
)

// Command set elements, group 0000.
const (
	tagGroupLength               uint16 = 0x0000
	tagAffectedSOPClassUID       uint16 = 0x0002
	tagRequestedSOPClassUID      uint16 = 0x0003
	tagCommandField              uint16 = 0x0100
	tagMessageID                 uint16 = 0x0110
	tagMessageIDBeingRespondedTo uint16 = 0x0120
	tagMoveDestination           uint16 = 0x0600
	tagPriority                  uint16 = 0x0700
	tagCommandDataSetType        uint16 = 0x0800
	tagStatus                    uint16 = 0x0900
	tagErrorComment              uint16 = 0x0902
	tagAffectedSOPInstanceUID    uint16 = 0x1000
	tagRemainingSuboperations    uint16 = 0x1020
	tagCompletedSuboperations    uint16 = 0x1021
	tagFailedSuboperations       uint16 = 0x1022
	tagWarningSuboperations      uint16 = 0x1023
	tagMoveOriginatorAETitle     uint16 = 0x1030
	tagMoveOriginatorMessageID   uint16 = 0x1031
)

func hasPriority(field uint16) bool {
	switch field {
	case types.CStoreRQ, types.CFindRQ, types.CMoveRQ, types.CGetRQ:
		return true
	}
	return false
}

// EncodeCommand encodes a DIMSE command message using Implicit VR Little Endian
func EncodeCommand(msg *types.Message) ([]byte, error) {
	if msg.CommandField == 0 {
		return nil, fmt.Errorf("%w: command field is required", dicomerr.ErrInvalidMessage)
	}
	request := msg.IsRequest()

	// Command Group Length (0000,0000), back-filled once the group is complete.
	buf := make([]byte, 0, 256)
	buf = AppendImplicitElement(buf, tagGroupLength, make([]byte, 4))
	lengthPos := len(buf) - 4

	buf = appendUID(buf, tagAffectedSOPClassUID, msg.AffectedSOPClassUID)
	buf = appendUID(buf, tagRequestedSOPClassUID, msg.RequestedSOPClassUID)
	buf = appendUint16(buf, tagCommandField, msg.CommandField)

	if request && msg.CommandField != types.CCancelRQ {
		buf = appendUint16(buf, tagMessageID, msg.MessageID)
	}
	if !request || msg.CommandField == types.CCancelRQ {
		buf = appendUint16(buf, tagMessageIDBeingRespondedTo, msg.MessageIDBeingRespondedTo)
	}

	buf = appendText(buf, tagMoveDestination, msg.MoveDestination)
	if request && hasPriority(msg.CommandField) {
		buf = appendUint16(buf, tagPriority, msg.Priority)
	}
	buf = appendUint16(buf, tagCommandDataSetType, msg.CommandDataSetType)
	if !request {
		buf = appendUint16(buf, tagStatus, msg.Status)
		buf = appendText(buf, tagErrorComment, msg.ErrorComment)
	}
	buf = appendUID(buf, tagAffectedSOPInstanceUID, msg.AffectedSOPInstanceUID)

	for _, counter := range []struct {
		tag   uint16
		value *uint16
	}{
		{tagRemainingSuboperations, msg.NumberOfRemainingSuboperations},
		{tagCompletedSuboperations, msg.NumberOfCompletedSuboperations},
		{tagFailedSuboperations, msg.NumberOfFailedSuboperations},
		{tagWarningSuboperations, msg.NumberOfWarningSuboperations},
	} {
		if counter.value != nil {
			buf = appendUint16(buf, counter.tag, *counter.value)
		}
	}

	buf = appendText(buf, tagMoveOriginatorAETitle, msg.MoveOriginatorAETitle)
	if msg.MoveOriginatorMessageID != 0 {
		buf = appendUint16(buf, tagMoveOriginatorMessageID, msg.MoveOriginatorMessageID)
	}

	binary.LittleEndian.PutUint32(buf[lengthPos:lengthPos+4], uint32(len(buf)-lengthPos-4))
	return buf, nil
}

// AppendImplicitElement appends a group 0000 element using Implicit VR (no VR field)
func AppendImplicitElement(buf []byte, element uint16, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, 0x0000)
	buf = binary.LittleEndian.AppendUint16(buf, element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

func appendUint16(buf []byte, element, value uint16) []byte {
	return AppendImplicitElement(buf, element, binary.LittleEndian.AppendUint16(nil, value))
}

func appendUID(buf []byte, element uint16, uid string) []byte {
	if uid == "" {
		return buf
	}
	value := []byte(uid)
	if len(value)%2 == 1 {
		value = append(value, 0x00)
	}
	return AppendImplicitElement(buf, element, value)
}

func appendText(buf []byte, element uint16, text string) []byte {
	if text == "" {
		return buf
	}
	value := []byte(text)
	if len(value)%2 == 1 {
		value = append(value, ' ')
	}
	return AppendImplicitElement(buf, element, value)
}

// DecodeCommand decodes a DIMSE command message. Elements outside group 0000
// and unknown command elements are skipped.
func DecodeCommand(data []byte) (*types.Message, error) {
	msg := &types.Message{
		CommandDataSetType: types.DataSetTypeNone,
	}
	offset := 0

	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("%w: truncated element at offset %d", dicomerr.ErrInvalidMessage, offset)
		}
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		length := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		end := offset + 8 + int(length)
		if end > len(data) || end < offset {
			return nil, fmt.Errorf("%w: element (%04x,%04x) exceeds command length", dicomerr.ErrInvalidMessage, group, element)
		}
		value := data[offset+8 : end]
		offset = end

		if group != 0x0000 {
			continue
		}

		switch element {
		case tagAffectedSOPClassUID:
			msg.AffectedSOPClassUID = trimValue(value)
		case tagRequestedSOPClassUID:
			msg.RequestedSOPClassUID = trimValue(value)
		case tagCommandField:
			msg.CommandField = readUint16(value)
		case tagMessageID:
			msg.MessageID = readUint16(value)
		case tagMessageIDBeingRespondedTo:
			msg.MessageIDBeingRespondedTo = readUint16(value)
		case tagMoveDestination:
			msg.MoveDestination = trimValue(value)
		case tagPriority:
			msg.Priority = readUint16(value)
		case tagCommandDataSetType:
			msg.CommandDataSetType = readUint16(value)
		case tagStatus:
			msg.Status = readUint16(value)
		case tagErrorComment:
			msg.ErrorComment = trimValue(value)
		case tagAffectedSOPInstanceUID:
			msg.AffectedSOPInstanceUID = trimValue(value)
		case tagRemainingSuboperations:
			msg.NumberOfRemainingSuboperations = readCounter(value)
		case tagCompletedSuboperations:
			msg.NumberOfCompletedSuboperations = readCounter(value)
		case tagFailedSuboperations:
			msg.NumberOfFailedSuboperations = readCounter(value)
		case tagWarningSuboperations:
			msg.NumberOfWarningSuboperations = readCounter(value)
		case tagMoveOriginatorAETitle:
			msg.MoveOriginatorAETitle = trimValue(value)
		case tagMoveOriginatorMessageID:
			msg.MoveOriginatorMessageID = readUint16(value)
		}
	}

	if msg.CommandField == 0 {
		return nil, fmt.Errorf("%w: missing command field", dicomerr.ErrInvalidMessage)
	}
	return msg, nil
}

func trimValue(value []byte) string {
	return strings.TrimRight(string(value), "\x00 ")
}

func readUint16(value []byte) uint16 {
	if len(value) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(value[:2])
}

func readCounter(value []byte) *uint16 {
	if len(value) < 2 {
		return nil
	}
	v := binary.LittleEndian.Uint16(value[:2])
	return &v
}
