// Package pdu encodes and decodes DICOM Upper Layer protocol data units
// (PS3.8 section 9.3).
package pdu

import (
	"encoding/binary"
	"fmt"
	"io"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
)

// PDU types
const (
	TypeAssociateRQ byte = 0x01
	TypeAssociateAC byte = 0x02
	TypeAssociateRJ byte = 0x03
	TypePDataTF     byte = 0x04
	TypeReleaseRQ   byte = 0x05
	TypeReleaseRP   byte = 0x06
	TypeAbort       byte = 0x07
)

const (
	// HeaderLength is the size of the type, reserved and length fields.
	HeaderLength = 6

	// MaxPDULengthLimit caps the length accepted from a peer whatever was
	// negotiated, so a corrupt header cannot force a huge allocation.
	MaxPDULengthLimit = 16 << 20

	// DefaultMaxPDULength is proposed when the configuration leaves it unset.
	DefaultMaxPDULength = 16384
)

// PDU represents a Protocol Data Unit
type PDU struct {
	Type byte
	Data []byte
}

// TypeName returns the service primitive name of a PDU type.
func TypeName(t byte) string {
	switch t {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", t)
	}
}

// ReadPDU reads one complete PDU. maxLength bounds the payload; zero means
// MaxPDULengthLimit. io.EOF is returned unchanged when the stream ends
// cleanly before a header.
func ReadPDU(r io.Reader, maxLength uint32) (*PDU, error) {
	var header [HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	pduType := header[0]
	length := binary.BigEndian.Uint32(header[2:6])
	if pduType < TypeAssociateRQ || pduType > TypeAbort {
		return nil, dicomerr.NewPDUError(pduType, "unrecognized PDU type")
	}
	limit := maxLength
	if limit == 0 || limit > MaxPDULengthLimit {
		limit = MaxPDULengthLimit
	}
	if length > limit {
		return nil, dicomerr.NewPDUError(pduType, fmt.Sprintf("length %d exceeds limit %d", length, limit))
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read %s payload: %w", TypeName(pduType), err)
	}
	return &PDU{Type: pduType, Data: data}, nil
}

// Encode returns the PDU with its header prepended.
func Encode(pduType byte, payload []byte) []byte {
	buf := make([]byte, HeaderLength, HeaderLength+len(payload))
	buf[0] = pduType
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(payload)))
	return append(buf, payload...)
}

// WritePDU writes a PDU in a single call so concurrent writers guarded by a
// mutex never interleave partial PDUs.
func WritePDU(w io.Writer, pduType byte, payload []byte) error {
	_, err := w.Write(Encode(pduType, payload))
	return err
}

// appendItem appends an item or sub-item with a 16 bit length.
func appendItem(buf []byte, itemType byte, value []byte) []byte {
	buf = append(buf, itemType, 0x00)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(value)))
	return append(buf, value...)
}

// item is one decoded item or sub-item.
type item struct {
	Type  byte
	Value []byte
}

// splitItems walks a sequence of items with 16 bit lengths.
func splitItems(pduType byte, data []byte) ([]item, error) {
	var items []item
	offset := 0
	for offset < len(data) {
		if offset+4 > len(data) {
			return nil, dicomerr.NewPDUError(pduType, "truncated item header")
		}
		length := int(binary.BigEndian.Uint16(data[offset+2 : offset+4]))
		end := offset + 4 + length
		if end > len(data) {
			return nil, dicomerr.NewPDUError(pduType, fmt.Sprintf("item 0x%02x exceeds PDU length", data[offset]))
		}
		items = append(items, item{Type: data[offset], Value: data[offset+4 : end]})
		offset = end
	}
	return items, nil
}
