package pdu

import (
	"encoding/binary"
	"fmt"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
)

// Message control header bits of a PDV.
const (
	ControlCommand byte = 0x01
	ControlLast    byte = 0x02
)

// PDVHeaderLength is the length field plus context id and control byte.
const PDVHeaderLength = 6

// PDV is one presentation data value item of a P-DATA-TF PDU.
type PDV struct {
	PresentationContextID byte
	Command               bool
	Last                  bool
	Data                  []byte
}

// ControlHeader returns the message control header byte.
func (p PDV) ControlHeader() byte {
	var h byte
	if p.Command {
		h |= ControlCommand
	}
	if p.Last {
		h |= ControlLast
	}
	return h
}

// DecodePDataTF splits a P-DATA-TF payload into its PDVs. The returned data
// slices alias payload.
func DecodePDataTF(payload []byte) ([]PDV, error) {
	var pdvs []PDV
	offset := 0
	for offset < len(payload) {
		if offset+PDVHeaderLength > len(payload) {
			return nil, dicomerr.NewPDUError(TypePDataTF, "truncated PDV header")
		}
		length := binary.BigEndian.Uint32(payload[offset : offset+4])
		if length < 2 {
			return nil, dicomerr.NewPDUError(TypePDataTF, fmt.Sprintf("invalid PDV length %d", length))
		}
		end := offset + 4 + int(length)
		if end > len(payload) || end < offset {
			return nil, dicomerr.NewPDUError(TypePDataTF, "PDV length exceeds PDU payload")
		}
		control := payload[offset+5]
		pdvs = append(pdvs, PDV{
			PresentationContextID: payload[offset+4],
			Command:               control&ControlCommand != 0,
			Last:                  control&ControlLast != 0,
			Data:                  payload[offset+6 : end],
		})
		offset = end
	}
	if len(pdvs) == 0 {
		return nil, dicomerr.NewPDUError(TypePDataTF, "no PDV items")
	}
	return pdvs, nil
}

// EncodePDataTF builds a P-DATA-TF PDU carrying pdvs in order.
func EncodePDataTF(pdvs ...PDV) []byte {
	size := 0
	for _, p := range pdvs {
		size += PDVHeaderLength + len(p.Data)
	}
	buf := make([]byte, 0, size)
	for _, p := range pdvs {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Data)+2))
		buf = append(buf, p.PresentationContextID, p.ControlHeader())
		buf = append(buf, p.Data...)
	}
	return Encode(TypePDataTF, buf)
}
