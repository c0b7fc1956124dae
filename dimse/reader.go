package dimse

import (
	"io"

	"github.com/samber/oops"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/types"
)

// ReceiveMessage blocks until one complete DIMSE message has been read from r.
// It is used by the SCU, which has a single outstanding request. A-ABORT is
// returned as *errors.AbortError and A-RELEASE-RQ as errors.ErrReleaseRequested.
func ReceiveMessage(r io.Reader, maxPDU uint32, asm *Assembler) (*types.Message, []byte, error) {
	rcv, err := Receive(r, maxPDU, asm)
	if err != nil {
		return nil, nil, err
	}
	return rcv.Command, rcv.Dataset, nil
}

// Receive is ReceiveMessage keeping the presentation context the message
// arrived on.
func Receive(r io.Reader, maxPDU uint32, asm *Assembler) (*Received, error) {
	if asm == nil {
		asm = &Assembler{}
	}
	for {
		p, err := pdu.ReadPDU(r, maxPDU)
		if err != nil {
			return nil, err
		}

		switch p.Type {
		case pdu.TypePDataTF:
			pdvs, err := pdu.DecodePDataTF(p.Data)
			if err != nil {
				return nil, err
			}
			done, err := asm.Add(pdvs)
			if err != nil {
				return nil, err
			}
			if len(done) > 0 {
				return done[0], nil
			}
		case pdu.TypeAbort:
			return nil, pdu.DecodeAbort(p.Data)
		case pdu.TypeReleaseRQ:
			return nil, dicomerr.ErrReleaseRequested
		default:
			return nil, oops.Wrapf(dicomerr.NewPDUError(p.Type, "unexpected PDU while waiting for DIMSE message"), "receive failed")
		}
	}
}
