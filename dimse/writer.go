package dimse

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/samber/oops"

	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/types"
)

// Writer serialises PDUs onto a connection. Messages are fragmented so that
// no P-DATA-TF payload exceeds the peer's maximum PDU length.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	maxPDU uint32
}

// NewWriter creates a Writer. A maxPDU of zero means the peer set no limit;
// fragments then use pdu.DefaultMaxPDULength.
func NewWriter(w io.Writer, maxPDU uint32) *Writer {
	return &Writer{w: w, maxPDU: maxPDU}
}

// SetMaxPDULength updates the limit once the peer's value is known.
func (w *Writer) SetMaxPDULength(maxPDU uint32) {
	w.mu.Lock()
	w.maxPDU = maxPDU
	w.mu.Unlock()
}

// MaxPDULength returns the current fragment limit.
func (w *Writer) MaxPDULength() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxPDU
}

func (w *Writer) fragmentSize() int {
	limit := w.maxPDU
	if limit == 0 || limit > pdu.MaxPDULengthLimit {
		limit = pdu.DefaultMaxPDULength
	}
	size := int(limit) - pdu.PDVHeaderLength
	if size < 1 {
		size = 1
	}
	return size
}

// WriteRaw writes an already encoded PDU.
func (w *Writer) WriteRaw(encoded []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(encoded)
	return err
}

// WriteMessage sends msg on presentation context pcid, followed by dataset
// when it is non-nil. The Command Data Set Type is set from dataset. It
// returns the number of data set bytes sent.
func (w *Writer) WriteMessage(pcid byte, msg *types.Message, dataset io.Reader) (int64, error) {
	command := *msg
	switch {
	case dataset == nil:
		command.CommandDataSetType = types.DataSetTypeNone
	case command.CommandDataSetType == types.DataSetTypeNone:
		command.CommandDataSetType = types.DataSetTypePresent
	}

	encoded, err := EncodeCommand(&command)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	size := w.fragmentSize()
	if err := w.writeFragments(pcid, true, encoded, size); err != nil {
		return 0, oops.Wrapf(err, "failed to send %s command", command.CommandName())
	}
	if dataset == nil {
		return 0, nil
	}
	n, err := w.streamDataset(pcid, dataset, size)
	if err != nil {
		return n, oops.Wrapf(err, "failed to send %s data set", command.CommandName())
	}
	return n, nil
}

func (w *Writer) writeFragments(pcid byte, command bool, data []byte, size int) error {
	for {
		n := min(len(data), size)
		last := n == len(data)
		frame := pdu.EncodePDataTF(pdu.PDV{
			PresentationContextID: pcid,
			Command:               command,
			Last:                  last,
			Data:                  data[:n],
		})
		if _, err := w.w.Write(frame); err != nil {
			return err
		}
		if last {
			return nil
		}
		data = data[n:]
	}
}

// streamDataset reads the data set one fragment at a time. A peek after each
// full fragment decides whether it carries the last flag.
func (w *Writer) streamDataset(pcid byte, r io.Reader, size int) (int64, error) {
	br := bufio.NewReaderSize(r, size)
	buf := make([]byte, size)
	var total int64
	for {
		n, err := io.ReadFull(br, buf)
		last := false
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			last = true
		case err != nil:
			return total, err
		default:
			if _, peekErr := br.Peek(1); peekErr != nil {
				if !errors.Is(peekErr, io.EOF) {
					return total, peekErr
				}
				last = true
			}
		}
		frame := pdu.EncodePDataTF(pdu.PDV{
			PresentationContextID: pcid,
			Last:                  last,
			Data:                  buf[:n],
		})
		if _, err := w.w.Write(frame); err != nil {
			return total, err
		}
		total += int64(n)
		if last {
			return total, nil
		}
	}
}
