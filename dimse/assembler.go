package dimse

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/samber/oops"

	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/types"
)

var (
	// ErrUnknownPresentationContext is returned for a PDV whose context id was
	// not accepted on the association.
	ErrUnknownPresentationContext = errors.New("dimse: unknown presentation context")

	// ErrUnexpectedFragment is returned for data before a command or a
	// context switch in the middle of a message.
	ErrUnexpectedFragment = errors.New("dimse: unexpected PDV")
)

// Sink receives the data set of one message. *os.File satisfies it.
type Sink interface {
	io.Writer
	Close() error
	Name() string
}

// Received is one complete DIMSE message.
type Received struct {
	PresentationID byte
	Command        *types.Message

	// Dataset holds the data set when it was kept in memory. A deflated data
	// set is inflated and Command.TransferSyntaxUID reads Explicit VR Little
	// Endian; a buffered file keeps the bytes as received.
	Dataset []byte

	// FileName is set when the data set was written to a Sink.
	FileName string
}

// Assembler rebuilds DIMSE messages from P-DATA-TF fragments. It is not safe
// for concurrent use; one session owns one assembler.
type Assembler struct {
	// Context resolves the accepted transfer syntax of a presentation context.
	Context func(pcid byte) (transferSyntax string, ok bool)

	// OnCommand is consulted once a command is complete and announces a data
	// set. Returning a nil Sink keeps the data set in memory.
	OnCommand func(pcid byte, msg *types.Message) (Sink, error)

	OnBegin    func(pcid byte, msg *types.Message, p Progress)
	OnProgress func(pcid byte, msg *types.Message, p Progress)

	active   bool
	pcid     byte
	command  bytes.Buffer
	msg      *types.Message
	data     bytes.Buffer
	sink     Sink
	progress Progress
}

// Add feeds the PDVs of one P-DATA-TF PDU. Messages completed by this PDU are
// returned in completion order.
func (a *Assembler) Add(pdvs []pdu.PDV) ([]*Received, error) {
	done, err := a.add(pdvs)
	if err != nil {
		a.Reset()
		return done, err
	}
	if a.active && a.msg != nil && a.OnProgress != nil {
		a.progress.Elapsed = time.Since(a.progress.Started)
		a.OnProgress(a.pcid, a.msg, a.progress)
	}
	return done, nil
}

func (a *Assembler) add(pdvs []pdu.PDV) ([]*Received, error) {
	var done []*Received
	for _, pdv := range pdvs {
		ts, ok := a.lookup(pdv.PresentationContextID)
		if !ok {
			return done, fmt.Errorf("%w: %d", ErrUnknownPresentationContext, pdv.PresentationContextID)
		}

		if !a.active {
			if !pdv.Command {
				return done, fmt.Errorf("%w: data set fragment on context %d before command", ErrUnexpectedFragment, pdv.PresentationContextID)
			}
			a.start(pdv.PresentationContextID)
		} else if pdv.PresentationContextID != a.pcid {
			return done, fmt.Errorf("%w: context changed from %d to %d within a message", ErrUnexpectedFragment, a.pcid, pdv.PresentationContextID)
		}

		a.progress.BytesTransferred += int64(len(pdv.Data))

		var (
			rcv *Received
			err error
		)
		if pdv.Command {
			rcv, err = a.addCommand(pdv, ts)
		} else {
			rcv, err = a.addData(pdv, ts)
		}
		if err != nil {
			return done, err
		}
		if rcv != nil {
			done = append(done, rcv)
		}
	}
	return done, nil
}

func (a *Assembler) lookup(pcid byte) (string, bool) {
	if a.Context == nil {
		return "", true
	}
	return a.Context(pcid)
}

func (a *Assembler) start(pcid byte) {
	a.active = true
	a.pcid = pcid
	a.command.Reset()
	a.data.Reset()
	a.msg = nil
	a.sink = nil
	a.progress = Progress{Started: time.Now()}
}

func (a *Assembler) addCommand(pdv pdu.PDV, ts string) (*Received, error) {
	if a.msg != nil {
		return nil, fmt.Errorf("%w: command fragment after command completed", ErrUnexpectedFragment)
	}
	a.command.Write(pdv.Data)
	if a.progress.EstimatedCommandLength == 0 && a.command.Len() >= 12 {
		raw := a.command.Bytes()
		if binary.LittleEndian.Uint16(raw[0:2]) == 0x0000 && binary.LittleEndian.Uint16(raw[2:4]) == tagGroupLength {
			a.progress.EstimatedCommandLength = int64(binary.LittleEndian.Uint32(raw[8:12])) + 12
		}
	}
	if !pdv.Last {
		return nil, nil
	}

	msg, err := DecodeCommand(a.command.Bytes())
	if err != nil {
		return nil, err
	}
	msg.TransferSyntaxUID = ts
	a.msg = msg

	if a.OnBegin != nil {
		a.progress.Elapsed = time.Since(a.progress.Started)
		a.OnBegin(a.pcid, msg, a.progress)
	}

	if !msg.HasDataset() {
		return a.finish(), nil
	}
	if a.OnCommand != nil {
		sink, err := a.OnCommand(a.pcid, msg)
		if err != nil {
			return nil, oops.Wrapf(err, "failed to prepare data set sink")
		}
		a.sink = sink
	}
	return nil, nil
}

func (a *Assembler) addData(pdv pdu.PDV, ts string) (*Received, error) {
	if a.msg == nil {
		return nil, fmt.Errorf("%w: data set fragment before command completed", ErrUnexpectedFragment)
	}
	if !a.msg.HasDataset() {
		return nil, fmt.Errorf("%w: data set fragment for %s without data set", ErrUnexpectedFragment, a.msg.CommandName())
	}

	if a.sink != nil {
		if _, err := a.sink.Write(pdv.Data); err != nil {
			return nil, oops.Wrapf(err, "failed to buffer data set to %s", a.sink.Name())
		}
	} else {
		a.data.Write(pdv.Data)
	}
	if !pdv.Last {
		return nil, nil
	}

	if a.sink == nil && types.IsDeflated(ts) {
		inflated, err := inflate(a.data.Bytes())
		if err != nil {
			return nil, err
		}
		a.data.Reset()
		a.data.Write(inflated)
		// the command now describes the inflated bytes
		a.msg.TransferSyntaxUID = types.ExplicitVRLittleEndian
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			return nil, oops.Wrapf(err, "failed to close data set buffer %s", a.sink.Name())
		}
	}
	return a.finish(), nil
}

func (a *Assembler) finish() *Received {
	rcv := &Received{
		PresentationID: a.pcid,
		Command:        a.msg,
	}
	if a.sink != nil {
		rcv.FileName = a.sink.Name()
	} else if a.msg.HasDataset() {
		rcv.Dataset = bytes.Clone(a.data.Bytes())
	}
	a.active = false
	a.msg = nil
	a.sink = nil
	a.command.Reset()
	a.data.Reset()
	return rcv
}

// Reset drops a partially received message. An open sink is closed and
// its file removed.
func (a *Assembler) Reset() {
	if a.sink != nil {
		_ = a.sink.Close()
		_ = os.Remove(a.sink.Name())
	}
	a.active = false
	a.msg = nil
	a.sink = nil
	a.command.Reset()
	a.data.Reset()
}

// InProgress reports whether a message is partially received.
func (a *Assembler) InProgress() bool {
	return a.active
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to inflate deflated data set: %v", dicomerr.ErrInvalidMessage, err)
	}
	return out, nil
}

// Deflate compresses a data set for the deflated explicit VR little endian
// transfer syntax.
func Deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
