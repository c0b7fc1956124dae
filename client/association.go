package client

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dimse"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/types"
)

// ContextRequest is one abstract syntax to propose, with its transfer
// syntaxes in order of preference.
type ContextRequest struct {
	AbstractSyntax   string
	TransferSyntaxes []string
}

// DefaultContexts proposes verification, the common image storage classes
// and Study Root C-FIND, each with Explicit then Implicit VR Little Endian.
func DefaultContexts() []ContextRequest {
	abstracts := []string{
		types.VerificationSOPClass,
		types.CTImageStorage,
		types.MRImageStorage,
		types.ComputedRadiographyImageStorage,
		types.UltrasoundImageStorage,
		types.SecondaryCaptureImageStorage,
		types.StudyRootQueryRetrieveInformationModelFind,
	}
	out := make([]ContextRequest, 0, len(abstracts))
	for _, uid := range abstracts {
		out = append(out, ContextRequest{AbstractSyntax: uid, TransferSyntaxes: types.UncompressedTransferSyntaxes()})
	}
	return out
}

// Config holds client configuration
type Config struct {
	CallingAETitle string
	CalledAETitle  string
	MaxPDULength   uint32
	ConnectTimeout time.Duration // default 30s
	ReadTimeout    time.Duration // default 60s
	WriteTimeout   time.Duration // default 60s
	Kind           session.Kind
	TLSConfig      *tls.Config
	Logger         *zap.Logger
	Contexts       []ContextRequest // default DefaultContexts()
}

func (c *Config) setDefaults() {
	if c.MaxPDULength == 0 {
		c.MaxPDULength = pdu.DefaultMaxPDULength
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if len(c.Contexts) == 0 {
		c.Contexts = DefaultContexts()
	}
}

// Association represents a client-side DICOM association. Requests are
// serialised; SendCCancel may be called while a C-FIND is running.
type Association struct {
	conn   net.Conn
	cfg    Config
	assoc  *types.Association
	writer *dimse.Writer
	asm    *dimse.Assembler
	logger *zap.Logger

	opMu      sync.Mutex
	messageID atomic.Uint32
	closed    atomic.Bool
}

// Connect establishes a DICOM association with a remote SCP. A rejection is
// returned as *errors.AssociationError.
func Connect(ctx context.Context, address string, cfg Config) (*Association, error) {
	cfg.setDefaults()
	errb := oops.In("client").With("address", address).With("called_ae", cfg.CalledAETitle)

	conn, err := session.Dial(ctx, address, cfg.Kind, cfg.TLSConfig, cfg.ConnectTimeout)
	if err != nil {
		return nil, errb.Wrapf(err, "failed to connect")
	}

	rq := types.NewAssociation(cfg.CallingAETitle, cfg.CalledAETitle)
	rq.MaxPDULength = cfg.MaxPDULength
	for _, c := range cfg.Contexts {
		if _, err := rq.AddPresentationContext(c.AbstractSyntax, c.TransferSyntaxes...); err != nil {
			_ = conn.Close()
			return nil, errb.Wrapf(err, "invalid presentation context")
		}
	}

	a := &Association{
		conn:   conn,
		cfg:    cfg,
		assoc:  rq,
		writer: dimse.NewWriter(conn, 0),
		logger: cfg.Logger.With(zap.String("remote_addr", address), zap.String("called_ae", cfg.CalledAETitle)),
	}
	a.asm = &dimse.Assembler{Context: rq.AcceptedTransferSyntax}

	if err := a.negotiate(ctx); err != nil {
		_ = conn.Close()
		var rj *dicomerr.AssociationError
		if errors.As(err, &rj) {
			return nil, rj
		}
		return nil, errb.Wrapf(err, "association failed")
	}

	a.logger.Info("association_established",
		zap.Int("accepted_contexts", rq.AcceptedCount()),
		zap.Uint32("remote_max_pdu", rq.RemoteMaxPDULength),
		zap.String("remote_implementation", rq.RemoteImplementationVersion))
	return a, nil
}

func (a *Association) negotiate(ctx context.Context) error {
	defer a.bind(ctx)()
	if err := a.writer.WriteRaw(pdu.EncodeAssociateRQ(a.assoc)); err != nil {
		return err
	}
	p, err := pdu.ReadPDU(a.conn, 0)
	if err != nil {
		return err
	}
	switch p.Type {
	case pdu.TypeAssociateAC:
		if err := pdu.DecodeAssociateAC(p.Data, a.assoc); err != nil {
			return err
		}
		a.writer.SetMaxPDULength(a.assoc.RemoteMaxPDULength)
		a.assoc.Freeze()
		return nil
	case pdu.TypeAssociateRJ:
		rj, err := pdu.DecodeAssociateRJ(p.Data)
		if err != nil {
			return err
		}
		return rj
	case pdu.TypeAbort:
		return pdu.DecodeAbort(p.Data)
	default:
		return dicomerr.NewPDUError(p.Type, "unexpected answer to A-ASSOCIATE-RQ")
	}
}

// bind applies the configured timeouts to the connection and interrupts it
// when ctx is cancelled. The returned func undoes the cancellation hook.
func (a *Association) bind(ctx context.Context) func() {
	now := time.Now()
	read, write := now.Add(a.cfg.ReadTimeout), now.Add(a.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok {
		read, write = earliest(read, d), earliest(write, d)
	}
	_ = a.conn.SetReadDeadline(read)
	_ = a.conn.SetWriteDeadline(write)
	stop := context.AfterFunc(ctx, func() { _ = a.conn.SetDeadline(time.Now()) })
	return func() { stop() }
}

func earliest(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

// Negotiated returns the association as accepted by the peer.
func (a *Association) Negotiated() *types.Association {
	return a.assoc
}

func (a *Association) nextMessageID() uint16 {
	for {
		if id := uint16(a.messageID.Add(1)); id != 0 {
			return id
		}
	}
}

// GetPresentationContextID finds an accepted presentation context for the
// given abstract syntax.
func (a *Association) GetPresentationContextID(abstractSyntax string) (byte, error) {
	pc, ok := a.assoc.AcceptedContext(abstractSyntax)
	if !ok {
		return 0, oops.In("client").With("abstract_syntax", types.UIDName(abstractSyntax)).
			Wrapf(dicomerr.ErrNoPresentationCtx, "no accepted presentation context")
	}
	return pc.ID, nil
}

// contextFor returns an accepted context for abstractSyntax. When ts is set
// the context must have accepted it.
func (a *Association) contextFor(abstractSyntax, ts string) (*types.PresentationContext, error) {
	for _, pc := range a.assoc.Contexts() {
		if pc.AbstractSyntax != abstractSyntax || !pc.IsAccepted() {
			continue
		}
		if ts == "" || pc.AcceptedTransferSyntax == ts {
			return pc, nil
		}
	}
	return nil, oops.In("client").
		With("abstract_syntax", types.UIDName(abstractSyntax)).
		With("transfer_syntax", types.UIDName(ts)).
		Wrapf(dicomerr.ErrNoPresentationCtx, "no accepted presentation context")
}

func (a *Association) receive() (*types.Message, []byte, error) {
	rcv, err := a.receiveMessage()
	if err != nil {
		return nil, nil, err
	}
	return rcv.Command, rcv.Dataset, nil
}

func (a *Association) receiveMessage() (*dimse.Received, error) {
	rcv, err := dimse.Receive(a.conn, 0, a.asm)
	if err != nil {
		var abort *dicomerr.AbortError
		if errors.As(err, &abort) {
			a.closed.Store(true)
			_ = a.conn.Close()
		}
		return nil, err
	}
	return rcv, nil
}

// Release performs an orderly release and closes the connection.
func (a *Association) Release(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return dicomerr.ErrSessionClosed
	}
	defer a.conn.Close()
	defer a.bind(ctx)()

	if err := a.writer.WriteRaw(pdu.EncodeReleaseRQ()); err != nil {
		return oops.In("client").Wrapf(err, "failed to send A-RELEASE-RQ")
	}
	for {
		p, err := pdu.ReadPDU(a.conn, 0)
		if err != nil {
			return oops.In("client").Wrapf(err, "failed to receive A-RELEASE-RP")
		}
		switch p.Type {
		case pdu.TypeReleaseRP:
			a.logger.Debug("association_released")
			return nil
		case pdu.TypeAbort:
			return pdu.DecodeAbort(p.Data)
		case pdu.TypePDataTF:
			// late responses of a cancelled operation
		default:
			return dicomerr.NewPDUError(p.Type, "unexpected answer to A-RELEASE-RQ")
		}
	}
}

// Abort sends an A-ABORT and closes the connection.
func (a *Association) Abort() error {
	if !a.closed.CompareAndSwap(false, true) {
		return dicomerr.ErrSessionClosed
	}
	defer a.conn.Close()
	_ = a.conn.SetWriteDeadline(time.Now().Add(a.cfg.WriteTimeout))
	return a.writer.WriteRaw(pdu.EncodeAbort(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified))
}

// Close releases the association if it is still open.
func (a *Association) Close() error {
	if a.closed.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ReadTimeout)
	defer cancel()
	if err := a.Release(ctx); err != nil && !errors.Is(err, dicomerr.ErrSessionClosed) {
		a.logger.Warn("release_failed", zap.Error(err))
	}
	return nil
}
