// Package session drives one DICOM association over one connection: the
// upper layer handshake, the DIMSE message pump and the lifecycle hooks of
// the service class that owns it.
package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dicom"
	"github.com/caio-sobreiro/dicomscp/dimse"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/logging"
	"github.com/caio-sobreiro/dicomscp/metrics"
	"github.com/caio-sobreiro/dicomscp/pdu"
	"github.com/caio-sobreiro/dicomscp/types"
)

// State is the protocol state of a session. States only move forward.
type State int32

const (
	StateConnected State = iota
	StateAssociationRequested
	StateAccepted
	StateRejected
	StateEstablished
	StateReleasing
	StateAborting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAssociationRequested:
		return "association-requested"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	case StateEstablished:
		return "established"
	case StateReleasing:
		return "releasing"
	case StateAborting:
		return "aborting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Option configures a Session.
type Option func(*Session)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithLogger overrides the logger used by the session.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics records traffic through h.
func WithMetrics(h metrics.Handler) Option {
	return func(s *Session) {
		s.metricsHandler = h
	}
}

// Session is one accepted connection. Run drives it; every other method is
// safe to call from any goroutine.
type Session struct {
	id      ksuid.KSUID
	kind    Kind
	conn    *MeteredConn
	writer  *dimse.Writer
	handler Handler
	cfg     Config

	logger         *zap.Logger
	logp           atomic.Pointer[zap.Logger]
	metricsHandler metrics.Handler
	inst           *instruments

	assoc *types.Association
	asm   *dimse.Assembler

	state         atomic.Int32
	closedOnError atomic.Bool
	closeOnce     sync.Once
	timeoutOnce   sync.Once
	done          chan struct{}
	started       time.Time

	// ctx is the context of Run, used by callbacks that have none of their own.
	ctx context.Context

	userMu    sync.Mutex
	userState any

	errMu    sync.Mutex
	closeErr error
}

// New wraps conn. The session does nothing until Run is called.
func New(conn net.Conn, kind Kind, handler Handler, opts ...Option) *Session {
	s := &Session{
		id:      ksuid.New(),
		kind:    kind,
		handler: handler,
		cfg:     DefaultConfig(),
		done:    make(chan struct{}),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.MaxPDULength == 0 {
		s.cfg.MaxPDULength = pdu.DefaultMaxPDULength
	}

	s.conn = NewMeteredConn(conn, s.cfg.ThrottleBytesPerSecond)
	s.writer = dimse.NewWriter(&deadlineWriter{conn: s.conn, timeout: s.cfg.SocketTimeout}, 0)
	s.logp.Store(logging.OrNop(s.logger).With(
		zap.String("session_id", s.id.String()),
		zap.String("remote_addr", conn.RemoteAddr().String()),
		zap.Stringer("transport", kind),
	))
	s.ctx = context.Background()
	s.inst = newInstruments(metrics.OrNoop(s.metricsHandler))
	s.asm = &dimse.Assembler{
		Context:    s.acceptedContext,
		OnCommand:  s.prepareSink,
		OnBegin:    s.dimseBegin,
		OnProgress: s.dimseProgress,
	}
	return s
}

// ID returns the unique id of the session.
func (s *Session) ID() string { return s.id.String() }

// Kind returns the transport kind the session was accepted on.
func (s *Session) Kind() Kind { return s.kind }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// State returns the current protocol state.
func (s *Session) State() State { return State(s.state.Load()) }

// Association returns the negotiated association, or nil before the
// A-ASSOCIATE-RQ was received. It must not be modified after the answer was
// sent.
func (s *Session) Association() *types.Association {
	if s.State() < StateAssociationRequested {
		return nil
	}
	return s.assoc
}

// Logger returns the session logger. It carries the AE titles once the
// association was requested.
func (s *Session) Logger() *zap.Logger { return s.logp.Load() }

func (s *Session) log() *zap.Logger { return s.logp.Load() }

// SetUserState stores caller bookkeeping on the session.
func (s *Session) SetUserState(v any) {
	s.userMu.Lock()
	s.userState = v
	s.userMu.Unlock()
}

// UserState returns the value stored with SetUserState.
func (s *Session) UserState() any {
	s.userMu.Lock()
	defer s.userMu.Unlock()
	return s.userState
}

// Stats returns the bytes moved so far.
func (s *Session) Stats() Stats { return s.conn.Stats() }

// IsClosed reports whether the session reached StateClosed.
func (s *Session) IsClosed() bool { return s.State() == StateClosed }

// ClosedOnError reports whether the session ended because of a network
// error, a protocol error or a timeout.
func (s *Session) ClosedOnError() bool { return s.closedOnError.Load() }

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that closed the session, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.closeErr
}

// setState advances the state; moving backwards is ignored.
func (s *Session) setState(next State) bool {
	for {
		cur := s.state.Load()
		if State(cur) >= next {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// Close shuts the transport and marks the session closed. It is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		err = s.conn.Close()
		stats := s.conn.Stats()
		ctx := context.Background()
		s.inst.bytes.Add(ctx, stats.BytesRead, map[string]string{"direction": "in"})
		s.inst.bytes.Add(ctx, stats.BytesWritten, map[string]string{"direction": "out"})
		s.log().Debug("session_closed",
			zap.Bool("closed_on_error", s.closedOnError.Load()),
			zap.Int64("bytes_read", stats.BytesRead),
			zap.Int64("bytes_written", stats.BytesWritten),
			zap.Duration("duration", time.Since(s.started)))
		close(s.done)
	})
	return err
}

func (s *Session) closeWithError(err error) {
	if s.IsClosed() {
		return
	}
	s.errMu.Lock()
	if s.closeErr == nil {
		s.closeErr = err
	}
	s.errMu.Unlock()
	s.closedOnError.Store(true)
	_ = s.Close()
}

// Abort sends an A-ABORT and closes the session.
func (s *Session) Abort(source dicomerr.AbortSource, reason dicomerr.AbortReason) error {
	if s.IsClosed() {
		return dicomerr.ErrSessionClosed
	}
	s.setState(StateAborting)
	s.inst.aborts.Add(context.Background(), 1, map[string]string{"initiator": "local"})
	err := s.writer.WriteRaw(pdu.EncodeAbort(source, reason))
	_ = s.Close()
	return err
}

func (s *Session) abortOnError(source dicomerr.AbortSource, reason dicomerr.AbortReason, cause error) {
	s.log().Warn("association_aborted",
		zap.Stringer("source", source),
		zap.Stringer("reason", reason),
		zap.Error(cause))
	s.errMu.Lock()
	if s.closeErr == nil {
		s.closeErr = cause
	}
	s.errMu.Unlock()
	s.closedOnError.Store(true)
	_ = s.Abort(source, reason)
}

// Run drives the session until it is closed. It returns the error that
// closed the session, or nil for a release, a peer abort or a peer close.
func (s *Session) Run(ctx context.Context) error {
	if s.IsClosed() {
		return dicomerr.ErrSessionClosed
	}
	ctx = logging.ToContext(ctx, s.log())
	s.ctx = ctx
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()
	defer s.Close()
	defer s.asm.Reset()

	s.log().Debug("session_started")
	if s.associate(ctx) {
		s.pump(ctx)
	}
	return s.Err()
}

func (s *Session) readPDU(timeout time.Duration) (*pdu.PDU, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	p, err := pdu.ReadPDU(s.conn, 0)
	if err != nil {
		return nil, err
	}
	s.inst.pdus.Add(context.Background(), 1, map[string]string{"direction": "in", "type": pdu.TypeName(p.Type)})
	return p, nil
}

func (s *Session) handleReadError(err error) {
	switch {
	case s.IsClosed():
		return
	case errors.Is(err, io.EOF):
		if s.State() == StateReleasing {
			_ = s.Close()
			return
		}
		s.log().Info("connection_closed_by_peer", zap.Stringer("state", s.State()))
		if h, ok := s.handler.(ConnectionClosedHandler); ok {
			s.safeHook("connection_closed", func() { h.ConnectionClosed(s) })
		}
		_ = s.Close()
	case dicomerr.IsTimeout(err):
		if s.State() == StateReleasing {
			_ = s.Close()
			return
		}
		s.timedOut("read "+s.State().String(), s.timeoutFor())
	case errors.Is(err, dicomerr.ErrInvalidPDU):
		s.abortOnError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonUnrecognizedPDU, err)
	default:
		s.networkError(err)
	}
}

// timedOut fires the timeout hook at most once and closes on error.
func (s *Session) timedOut(op string, limit time.Duration) {
	if s.IsClosed() {
		return
	}
	s.timeoutOnce.Do(func() {
		s.log().Warn("dimse_timeout", zap.Stringer("state", s.State()), zap.String("op", op))
		s.inst.timeouts.Add(context.Background(), 1, nil)
		if h, ok := s.handler.(TimeoutHandler); ok {
			s.safeHook("dimse_timeout", func() { h.DimseTimeout(s) })
		}
	})
	s.closeWithError(dicomerr.NewTimeoutError(op, limit.String()))
}

// writeError classifies a failed write: a deadline is a timeout, anything
// else a network error.
func (s *Session) writeError(err error) {
	if dicomerr.IsTimeout(err) {
		s.timedOut("write "+s.State().String(), s.cfg.SocketTimeout)
		return
	}
	s.networkError(err)
}

func (s *Session) networkError(err error) {
	if s.IsClosed() {
		return
	}
	s.log().Warn("network_error", zap.Stringer("state", s.State()), zap.Error(err))
	if h, ok := s.handler.(NetworkErrorHandler); ok {
		s.safeHook("network_error", func() { h.NetworkError(s, err) })
	}
	s.closeWithError(dicomerr.NewNetworkError(s.State().String(), err))
}

func (s *Session) timeoutFor() time.Duration {
	if s.State() < StateEstablished {
		return s.cfg.associateTimeout()
	}
	return s.cfg.idleTimeout()
}

// associate reads the A-ASSOCIATE-RQ and answers it exactly once. It
// reports whether the association was accepted.
func (s *Session) associate(ctx context.Context) bool {
	p, err := s.readPDU(s.cfg.associateTimeout())
	if err != nil {
		s.handleReadError(err)
		return false
	}
	if p.Type != pdu.TypeAssociateRQ {
		s.abortOnError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonUnexpectedPDU,
			dicomerr.NewPDUError(p.Type, "expected A-ASSOCIATE-RQ"))
		return false
	}
	assoc, err := pdu.DecodeAssociateRQ(p.Data)
	if err != nil {
		s.abortOnError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonInvalidParameter, err)
		return false
	}

	assoc.MaxPDULength = s.cfg.MaxPDULength
	assoc.ImplementationClassUID = s.cfg.ImplementationClassUID
	assoc.ImplementationVersion = s.cfg.ImplementationVersion
	if assoc.ImplementationClassUID == "" {
		assoc.ImplementationClassUID = dicom.ImplementationClassUID
	}
	if assoc.ImplementationVersion == "" {
		assoc.ImplementationVersion = dicom.ImplementationVersionName
	}
	if assoc.NegotiateAsyncOps {
		assoc.AsyncOpsInvoked, assoc.AsyncOpsPerformed = 1, 1
	}
	s.assoc = assoc
	s.writer.SetMaxPDULength(assoc.RemoteMaxPDULength)
	s.setState(StateAssociationRequested)

	s.logp.Store(s.log().With(
		zap.String("calling_ae", assoc.CallingAETitle),
		zap.String("called_ae", assoc.CalledAETitle)))
	ctx = logging.ToContext(ctx, s.log())
	s.ctx = ctx
	s.log().Info("association_requested",
		zap.Int("contexts", len(assoc.Contexts())),
		zap.String("remote_implementation", assoc.RemoteImplementationUID),
		zap.Uint32("remote_max_pdu", assoc.RemoteMaxPDULength))

	reject := s.screen(assoc)
	if reject == nil {
		reject = s.callAssociate(ctx, assoc)
	}
	if reject != nil {
		return s.reject(assoc, reject)
	}
	return s.accept(assoc)
}

// screen rejects requests no service class could accept.
func (s *Session) screen(assoc *types.Association) *Reject {
	switch {
	case assoc.ApplicationContext != types.ApplicationContextUID:
		return &Reject{dicomerr.RejectResultPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonApplicationContextNotSupported}
	case assoc.CallingAETitle == "":
		return &Reject{dicomerr.RejectResultPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonCallingAETitleNotRecognized}
	case assoc.CalledAETitle == "":
		return &Reject{dicomerr.RejectResultPermanent, dicomerr.RejectSourceServiceUser, dicomerr.RejectReasonCalledAETitleNotRecognized}
	}
	return nil
}

func (s *Session) callAssociate(ctx context.Context, assoc *types.Association) (reject *Reject) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("associate_handler_panic", zap.Any("panic", r), zap.Stack("stack"))
			reject = &Reject{dicomerr.RejectResultTransient, dicomerr.RejectSourceServiceProviderACSE, dicomerr.RejectReasonNoReasonGiven}
		}
	}()
	return s.handler.AssociateRequest(ctx, s, assoc)
}

func (s *Session) reject(assoc *types.Association, rj *Reject) bool {
	assoc.Freeze()
	s.setState(StateRejected)
	s.inst.associations.Add(context.Background(), 1, map[string]string{"result": "rejected"})
	s.log().Info("association_rejected",
		zap.Stringer("result", rj.Result),
		zap.Stringer("source", rj.Source),
		zap.String("reason", rj.Reason.Describe(rj.Source)))

	if err := s.writer.WriteRaw(pdu.EncodeAssociateRJ(rj.Result, rj.Source, rj.Reason)); err != nil {
		s.writeError(err)
		return false
	}
	_ = s.Close()
	return false
}

func (s *Session) accept(assoc *types.Association) bool {
	assoc.ResolveRemaining(types.RejectNoReason)

	var opts []pdu.AcceptOption
	if s.cfg.AcceptedContextsOnly {
		opts = append(opts, pdu.WithAcceptedContextsOnly())
	}
	encoded, err := pdu.EncodeAssociateAC(assoc, opts...)
	if err == nil {
		err = assoc.Validate()
	}
	if err != nil {
		// The handler produced something we cannot put on the wire.
		s.log().Error("association_invalid", zap.Error(err))
		s.reject(assoc, &Reject{dicomerr.RejectResultTransient, dicomerr.RejectSourceServiceProviderACSE, dicomerr.RejectReasonNoReasonGiven})
		return false
	}

	assoc.Freeze()
	s.setState(StateAccepted)
	s.inst.associations.Add(context.Background(), 1, map[string]string{"result": "accepted"})
	s.log().Info("association_accepted", zap.Int("accepted_contexts", assoc.AcceptedCount()))
	if ce := s.log().Check(zap.DebugLevel, "association_detail"); ce != nil {
		ce.Write(zap.String("association", assoc.String()))
	}

	if err := s.writer.WriteRaw(encoded); err != nil {
		s.writeError(err)
		return false
	}
	s.setState(StateEstablished)
	return true
}

func (s *Session) pump(ctx context.Context) {
	for !s.IsClosed() {
		p, err := s.readPDU(s.cfg.idleTimeout())
		if err != nil {
			s.handleReadError(err)
			return
		}

		switch p.Type {
		case pdu.TypePDataTF:
			if s.State() != StateEstablished {
				s.abortOnError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonUnexpectedPDU,
					dicomerr.NewPDUError(p.Type, "P-DATA-TF after release"))
				return
			}
			if !s.receive(ctx, p.Data) {
				return
			}
		case pdu.TypeReleaseRQ:
			s.setState(StateReleasing)
			s.log().Info("association_released")
			if err := s.writer.WriteRaw(pdu.EncodeReleaseRP()); err != nil {
				s.writeError(err)
				return
			}
			if h, ok := s.handler.(ReleaseHandler); ok {
				s.safeHook("released", func() { h.Released(s) })
			}
			if s.cfg.CloseAfterRelease {
				_ = s.Close()
				return
			}
		case pdu.TypeAbort:
			abort := pdu.DecodeAbort(p.Data)
			s.setState(StateAborting)
			s.inst.aborts.Add(context.Background(), 1, map[string]string{"initiator": "peer"})
			s.log().Info("association_aborted_by_peer",
				zap.Stringer("source", abort.Source),
				zap.Stringer("reason", abort.Reason))
			if h, ok := s.handler.(AbortHandler); ok {
				s.safeHook("aborted", func() { h.Aborted(s, abort.Source, abort.Reason) })
			}
			_ = s.Close()
			return
		default:
			s.abortOnError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonUnexpectedPDU,
				dicomerr.NewPDUError(p.Type, "unexpected "+pdu.TypeName(p.Type)+" on established association"))
			return
		}
	}
}

// receive feeds one P-DATA-TF and dispatches the completed messages.
func (s *Session) receive(ctx context.Context, payload []byte) bool {
	pdvs, err := pdu.DecodePDataTF(payload)
	if err != nil {
		s.abortOnError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonInvalidParameter, err)
		return false
	}
	done, err := s.asm.Add(pdvs)
	for _, rcv := range done {
		if werr := s.dispatch(ctx, rcv); werr != nil {
			s.writeError(werr)
			return false
		}
	}
	switch {
	case errors.Is(err, dimse.ErrUnknownPresentationContext):
		s.abortOnError(dicomerr.AbortSourceServiceUser, dicomerr.AbortReasonNotSpecified, err)
		return false
	case err != nil:
		s.abortOnError(dicomerr.AbortSourceServiceProvider, dicomerr.AbortReasonInvalidParameter, err)
		return false
	}
	return true
}

func (s *Session) acceptedContext(pcid byte) (string, bool) {
	return s.assoc.AcceptedTransferSyntax(pcid)
}

// prepareSink opens the buffer file of a C-STORE data set when file
// buffering is on. The file starts with a Part 10 meta header.
func (s *Session) prepareSink(pcid byte, msg *types.Message) (dimse.Sink, error) {
	if !s.cfg.UseFileBuffer || msg.CommandField != types.CStoreRQ {
		return nil, nil
	}

	var name string
	if h, ok := s.handler.(StoreBufferHandler); ok {
		var err error
		name, err = h.PrepareStore(s.ctx, s, msg)
		if err != nil {
			return nil, err
		}
	}
	if name == "" {
		dir := s.cfg.TempDir
		if dir == "" {
			dir = os.TempDir()
		}
		name = filepath.Join(dir, uuid.NewString()+".dcm")
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, err
	}
	meta := dicom.FileMeta{
		MediaStorageSOPClassUID:    msg.AffectedSOPClassUID,
		MediaStorageSOPInstanceUID: msg.AffectedSOPInstanceUID,
		TransferSyntaxUID:          msg.TransferSyntaxUID,
		ImplementationClassUID:     s.assoc.ImplementationClassUID,
		ImplementationVersionName:  s.assoc.ImplementationVersion,
		SourceAETitle:              s.assoc.CallingAETitle,
	}
	if err := dicom.WriteFileMetaInformation(f, meta); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return nil, err
	}
	return f, nil
}

func (s *Session) dimseBegin(pcid byte, msg *types.Message, p dimse.Progress) {
	if h, ok := s.handler.(DimseProgressHandler); ok {
		s.safeHook("dimse_begin", func() { h.DimseBegin(s, pcid, msg, p) })
	}
}

func (s *Session) dimseProgress(pcid byte, msg *types.Message, p dimse.Progress) {
	if h, ok := s.handler.(DimseProgressHandler); ok {
		s.safeHook("dimse_progress", func() { h.DimseProgress(s, pcid, msg, p) })
	}
}

// safeHook runs a lifecycle callback, logging instead of propagating a panic.
func (s *Session) safeHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("handler_panic", zap.String("hook", name), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}

// safeStatus runs a DIMSE callback. Errors and panics become
// StatusProcessingFailure so the peer still gets an answer.
func (s *Session) safeStatus(name string, fn func() (types.Status, error)) (status types.Status) {
	defer func() {
		if r := recover(); r != nil {
			s.log().Error("handler_panic", zap.String("hook", name), zap.Any("panic", r), zap.Stack("stack"))
			status = types.StatusProcessingFailure.WithComment(truncateComment(fmt.Sprintf("%v", r)))
		}
	}()
	status, err := fn()
	if err != nil {
		s.log().Warn("handler_failed", zap.String("hook", name), zap.Error(err))
		return types.StatusProcessingFailure.WithComment(truncateComment(err.Error()))
	}
	return status
}

// Error Comment is an LO value.
func truncateComment(comment string) string {
	if len(comment) > 64 {
		return comment[:64]
	}
	return comment
}

func (s *Session) dispatch(ctx context.Context, rcv *dimse.Received) error {
	msg := rcv.Command
	s.inst.messages.Add(ctx, 1, map[string]string{"command": msg.CommandName()})
	s.log().Debug("dimse_received",
		zap.String("command", msg.CommandName()),
		zap.Uint8("pcid", rcv.PresentationID),
		zap.Uint16("message_id", msg.MessageID))

	if !msg.IsRequest() {
		s.log().Warn("dimse_response_dropped", zap.String("command", msg.CommandName()))
		return nil
	}

	switch msg.CommandField {
	case types.CEchoRQ:
		return s.handleEcho(ctx, rcv)
	case types.CStoreRQ:
		return s.handleStore(ctx, rcv)
	case types.CFindRQ:
		return s.handleFind(ctx, rcv)
	case types.CCancelRQ:
		s.log().Info("dimse_cancel_ignored", zap.Uint16("message_id", msg.MessageIDBeingRespondedTo))
		return nil
	default:
		s.log().Warn("dimse_unsupported", zap.String("command", msg.CommandName()))
		return s.respond(rcv.PresentationID, dimse.NewResponseBuilder(msg).Response(types.StatusUnrecognizedOperation), nil)
	}
}

// respond sends rsp on pcid. dataset is Explicit VR Little Endian when the
// context is deflated and is compressed here.
func (s *Session) respond(pcid byte, rsp *types.Message, dataset []byte) error {
	var r io.Reader
	if dataset != nil {
		if ts, ok := s.assoc.AcceptedTransferSyntax(pcid); ok && types.IsDeflated(ts) {
			deflated, err := dimse.Deflate(dataset)
			if err != nil {
				return oops.Wrapf(err, "failed to deflate %s data set", rsp.CommandName())
			}
			dataset = deflated
		}
		r = bytes.NewReader(dataset)
	}
	_, err := s.writer.WriteMessage(pcid, rsp, r)
	if err != nil {
		return err
	}
	s.inst.pdus.Add(context.Background(), 1, map[string]string{"direction": "out", "type": pdu.TypeName(pdu.TypePDataTF)})
	return nil
}

func (s *Session) handleEcho(ctx context.Context, rcv *dimse.Received) error {
	msg := rcv.Command
	status := types.StatusSuccess
	if h, ok := s.handler.(EchoHandler); ok {
		status = s.safeStatus("c_echo", func() (types.Status, error) {
			return h.CEcho(ctx, s, rcv.PresentationID, msg.MessageID, msg.Priority), nil
		})
	}
	return s.respond(rcv.PresentationID, dimse.NewCEchoResponse(msg, status), nil)
}

func (s *Session) handleStore(ctx context.Context, rcv *dimse.Received) error {
	msg := rcv.Command
	h, ok := s.handler.(StoreHandler)
	if !ok {
		if rcv.FileName != "" {
			_ = os.Remove(rcv.FileName)
		}
		return s.respond(rcv.PresentationID, dimse.NewCStoreResponse(msg, types.StatusUnrecognizedOperation), nil)
	}
	if !msg.HasDataset() {
		return s.respond(rcv.PresentationID,
			dimse.NewCStoreResponse(msg, types.StatusCannotUnderstand.WithComment("C-STORE without data set")), nil)
	}

	req := &StoreRequest{
		PresentationID:          rcv.PresentationID,
		MessageID:               msg.MessageID,
		AffectedSOPClassUID:     msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:  msg.AffectedSOPInstanceUID,
		Priority:                msg.Priority,
		MoveOriginatorAETitle:   msg.MoveOriginatorAETitle,
		MoveOriginatorMessageID: msg.MoveOriginatorMessageID,
		TransferSyntax:          msg.TransferSyntaxUID,
		Dataset:                 rcv.Dataset,
		FileName:                rcv.FileName,
	}
	status := s.safeStatus("c_store", func() (types.Status, error) {
		return h.CStore(ctx, s, req)
	})
	s.log().Info("c_store",
		zap.String("sop_class", types.UIDName(msg.AffectedSOPClassUID)),
		zap.String("sop_instance", msg.AffectedSOPInstanceUID),
		zap.Stringer("status", status))
	return s.respond(rcv.PresentationID, dimse.NewCStoreResponse(msg, status), nil)
}

// findResponder sends pending C-FIND responses on the request's context.
type findResponder struct {
	s    *Session
	pcid byte
	req  *types.Message
	sent int
}

func (r *findResponder) Pending(identifier []byte) error {
	if r.s.IsClosed() {
		return dicomerr.ErrSessionClosed
	}
	r.sent++
	return r.s.respond(r.pcid, dimse.NewCFindPendingResponse(r.req), identifier)
}

func (s *Session) handleFind(ctx context.Context, rcv *dimse.Received) error {
	msg := rcv.Command
	h, ok := s.handler.(FindHandler)
	if !ok {
		return s.respond(rcv.PresentationID, dimse.NewCFindFinalResponse(msg, types.StatusUnrecognizedOperation), nil)
	}

	req := &FindRequest{
		PresentationID:      rcv.PresentationID,
		MessageID:           msg.MessageID,
		AffectedSOPClassUID: msg.AffectedSOPClassUID,
		Priority:            msg.Priority,
		TransferSyntax:      msg.TransferSyntaxUID,
		Identifier:          rcv.Dataset,
	}
	rsp := &findResponder{s: s, pcid: rcv.PresentationID, req: msg}
	status := s.safeStatus("c_find", func() (types.Status, error) {
		return h.CFind(ctx, s, req, rsp)
	})
	if s.IsClosed() {
		return oops.Wrapf(dicomerr.ErrSessionClosed, "C-FIND aborted after %d matches", rsp.sent)
	}
	s.log().Info("c_find", zap.Int("matches", rsp.sent), zap.Stringer("status", status))
	return s.respond(rcv.PresentationID, dimse.NewCFindFinalResponse(msg, status), nil)
}

// deadlineWriter sets a write deadline before every write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.conn.Write(p)
}
