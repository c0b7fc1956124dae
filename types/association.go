package types

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	// ErrContextResolved is returned when a presentation context result is
	// set a second time.
	ErrContextResolved = errors.New("dicom: presentation context already resolved")
	// ErrAssociationFrozen is returned when negotiation state is modified
	// after the accept or reject PDU has been sent.
	ErrAssociationFrozen = errors.New("dicom: association is read-only")
	// ErrTransferSyntaxNotProposed is returned when a context is accepted
	// with a transfer syntax the peer did not offer.
	ErrTransferSyntaxNotProposed = errors.New("dicom: transfer syntax was not proposed")
)

// PresContextResult is the negotiation outcome of a presentation context.
type PresContextResult byte

const (
	Accept                             PresContextResult = 0
	RejectUser                         PresContextResult = 1
	RejectNoReason                     PresContextResult = 2
	RejectAbstractSyntaxNotSupported   PresContextResult = 3
	RejectTransferSyntaxesNotSupported PresContextResult = 4
	// RejectProviderRejection is reported by the upper layer provider. It is
	// carried on the wire with the no-reason code.
	RejectProviderRejection PresContextResult = 0xFE
	// Proposed marks a context nobody has decided on yet. Never sent.
	Proposed PresContextResult = 0xFF
)

// WireValue returns the result/reason byte of an A-ASSOCIATE-AC item.
func (r PresContextResult) WireValue() byte {
	if r == RejectProviderRejection {
		return byte(RejectNoReason)
	}
	return byte(r)
}

func (r PresContextResult) String() string {
	switch r {
	case Accept:
		return "Accept"
	case RejectUser:
		return "Reject (user)"
	case RejectNoReason:
		return "Reject (no reason)"
	case RejectAbstractSyntaxNotSupported:
		return "Reject (abstract syntax not supported)"
	case RejectTransferSyntaxesNotSupported:
		return "Reject (transfer syntaxes not supported)"
	case RejectProviderRejection:
		return "Reject (provider rejection)"
	case Proposed:
		return "Proposed"
	default:
		return fmt.Sprintf("Unknown (%d)", byte(r))
	}
}

// PresentationContext is one abstract syntax and the transfer syntaxes
// proposed for it, plus the negotiated outcome.
type PresentationContext struct {
	ID                     byte
	AbstractSyntax         string
	TransferSyntaxes       []string
	Result                 PresContextResult
	AcceptedTransferSyntax string

	owner *Association
}

// HasTransferSyntax reports whether the peer proposed ts for this context.
func (pc *PresentationContext) HasTransferSyntax(ts string) bool {
	return slices.Contains(pc.TransferSyntaxes, ts)
}

// IsAccepted reports whether the context was accepted.
func (pc *PresentationContext) IsAccepted() bool {
	return pc.Result == Accept
}

// SetResult records the negotiation outcome. A context is resolved exactly
// once; an accepted context must name one of the proposed transfer syntaxes.
func (pc *PresentationContext) SetResult(result PresContextResult, transferSyntax string) error {
	if pc.owner != nil && pc.owner.frozen {
		return ErrAssociationFrozen
	}
	if pc.Result != Proposed {
		return fmt.Errorf("%w: context %d is %s", ErrContextResolved, pc.ID, pc.Result)
	}
	if result == Proposed {
		return fmt.Errorf("dicom: context %d cannot be set back to proposed", pc.ID)
	}
	if result == Accept {
		if !pc.HasTransferSyntax(transferSyntax) {
			return fmt.Errorf("%w: %s for context %d", ErrTransferSyntaxNotProposed, transferSyntax, pc.ID)
		}
		pc.AcceptedTransferSyntax = transferSyntax
	} else {
		pc.AcceptedTransferSyntax = ""
	}
	pc.Result = result
	return nil
}

// Accept accepts the context with transferSyntax.
func (pc *PresentationContext) Accept(transferSyntax string) error {
	return pc.SetResult(Accept, transferSyntax)
}

// Reject rejects the context with the given reason.
func (pc *PresentationContext) Reject(reason PresContextResult) error {
	return pc.SetResult(reason, "")
}

// Negotiate resolves pc by scanning the proposed transfer syntaxes in the
// order the peer listed them and accepting the first one supportsTS allows.
// Contexts whose abstract syntax is not supported are rejected outright.
func (pc *PresentationContext) Negotiate(supportsAbstract bool, supportsTS func(string) bool) error {
	if !supportsAbstract {
		return pc.Reject(RejectAbstractSyntaxNotSupported)
	}
	for _, ts := range pc.TransferSyntaxes {
		if supportsTS(ts) {
			return pc.Accept(ts)
		}
	}
	return pc.Reject(RejectTransferSyntaxesNotSupported)
}

// Association holds the negotiation parameters of one association.
type Association struct {
	CalledAETitle  string
	CallingAETitle string

	ApplicationContext     string
	MaxPDULength           uint32
	ImplementationClassUID string
	ImplementationVersion  string

	// Implementation identification received from the peer.
	RemoteImplementationUID     string
	RemoteImplementationVersion string
	RemoteMaxPDULength          uint32

	NegotiateAsyncOps bool
	AsyncOpsInvoked   uint16
	AsyncOpsPerformed uint16

	contexts map[byte]*PresentationContext
	frozen   bool
}

// NewAssociation returns an association between the two AE titles with
// default negotiation parameters.
func NewAssociation(callingAE, calledAE string) *Association {
	return &Association{
		CallingAETitle:     callingAE,
		CalledAETitle:      calledAE,
		ApplicationContext: ApplicationContextUID,
		AsyncOpsInvoked:    1,
		AsyncOpsPerformed:  1,
		contexts:           make(map[byte]*PresentationContext),
	}
}

// AddPresentationContext proposes abstractSyntax with the given transfer
// syntaxes under the next free odd context identifier.
func (a *Association) AddPresentationContext(abstractSyntax string, transferSyntaxes ...string) (*PresentationContext, error) {
	id := byte(1)
	for {
		if _, ok := a.contexts[id]; !ok {
			break
		}
		if id == 255 {
			return nil, errors.New("dicom: no presentation context identifiers left")
		}
		id += 2
	}
	return a.AddProposedContext(id, abstractSyntax, transferSyntaxes)
}

// AddProposedContext registers a context with an explicit identifier, as read
// from an A-ASSOCIATE-RQ.
func (a *Association) AddProposedContext(id byte, abstractSyntax string, transferSyntaxes []string) (*PresentationContext, error) {
	if a.frozen {
		return nil, ErrAssociationFrozen
	}
	if a.contexts == nil {
		a.contexts = make(map[byte]*PresentationContext)
	}
	if _, ok := a.contexts[id]; ok {
		return nil, fmt.Errorf("dicom: duplicate presentation context id %d", id)
	}
	pc := &PresentationContext{
		ID:               id,
		AbstractSyntax:   abstractSyntax,
		TransferSyntaxes: slices.Clone(transferSyntaxes),
		Result:           Proposed,
		owner:            a,
	}
	a.contexts[id] = pc
	return pc, nil
}

// Context returns the context with the given identifier.
func (a *Association) Context(id byte) (*PresentationContext, bool) {
	pc, ok := a.contexts[id]
	return pc, ok
}

// Contexts returns every context ordered by identifier.
func (a *Association) Contexts() []*PresentationContext {
	ids := make([]int, 0, len(a.contexts))
	for id := range a.contexts {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	out := make([]*PresentationContext, 0, len(ids))
	for _, id := range ids {
		out = append(out, a.contexts[byte(id)])
	}
	return out
}

// FindAbstractSyntax returns the first context proposing uid.
func (a *Association) FindAbstractSyntax(uid string) (*PresentationContext, bool) {
	for _, pc := range a.Contexts() {
		if pc.AbstractSyntax == uid {
			return pc, true
		}
	}
	return nil, false
}

// AcceptedContext returns the first accepted context for uid.
func (a *Association) AcceptedContext(uid string) (*PresentationContext, bool) {
	for _, pc := range a.Contexts() {
		if pc.AbstractSyntax == uid && pc.IsAccepted() {
			return pc, true
		}
	}
	return nil, false
}

// AcceptedTransferSyntax returns the negotiated transfer syntax of context id.
func (a *Association) AcceptedTransferSyntax(id byte) (string, bool) {
	pc, ok := a.contexts[id]
	if !ok || !pc.IsAccepted() {
		return "", false
	}
	return pc.AcceptedTransferSyntax, true
}

// AbstractSyntax returns the abstract syntax of context id.
func (a *Association) AbstractSyntax(id byte) string {
	if pc, ok := a.contexts[id]; ok {
		return pc.AbstractSyntax
	}
	return ""
}

// AcceptedCount returns the number of accepted contexts.
func (a *Association) AcceptedCount() int {
	n := 0
	for _, pc := range a.contexts {
		if pc.IsAccepted() {
			n++
		}
	}
	return n
}

// ResolveRemaining sets result on every context still marked Proposed.
func (a *Association) ResolveRemaining(result PresContextResult) {
	for _, pc := range a.contexts {
		if pc.Result == Proposed {
			_ = pc.SetResult(result, "")
		}
	}
}

// Freeze makes the association read-only. Called once the answer to the
// association request has been sent.
func (a *Association) Freeze() { a.frozen = true }

// Frozen reports whether Freeze was called.
func (a *Association) Frozen() bool { return a.frozen }

// Validate checks the invariants that must hold before an association is
// accepted.
func (a *Association) Validate() error {
	if strings.TrimSpace(a.CalledAETitle) == "" || strings.TrimSpace(a.CallingAETitle) == "" {
		return errors.New("dicom: AE titles must not be empty")
	}
	if a.MaxPDULength == 0 {
		return errors.New("dicom: maximum PDU length must be positive")
	}
	for _, pc := range a.Contexts() {
		if pc.Result == Proposed {
			return fmt.Errorf("dicom: presentation context %d is unresolved", pc.ID)
		}
		if pc.IsAccepted() && !pc.HasTransferSyntax(pc.AcceptedTransferSyntax) {
			return fmt.Errorf("%w: context %d", ErrTransferSyntaxNotProposed, pc.ID)
		}
	}
	return nil
}

func (a *Association) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Application Context:     %s\n", a.ApplicationContext)
	fmt.Fprintf(&b, "Implementation Class:    %s\n", a.ImplementationClassUID)
	fmt.Fprintf(&b, "Implementation Version:  %s\n", a.ImplementationVersion)
	fmt.Fprintf(&b, "Remote Implementation:   %s %s\n", a.RemoteImplementationUID, a.RemoteImplementationVersion)
	fmt.Fprintf(&b, "Maximum PDU Size:        %d\n", a.MaxPDULength)
	fmt.Fprintf(&b, "Called AE Title:         %s\n", a.CalledAETitle)
	fmt.Fprintf(&b, "Calling AE Title:        %s\n", a.CallingAETitle)
	if a.NegotiateAsyncOps {
		fmt.Fprintf(&b, "Asynchronous Operations: %d invoked / %d performed\n", a.AsyncOpsInvoked, a.AsyncOpsPerformed)
	}
	fmt.Fprintf(&b, "Presentation Contexts:   %d", len(a.contexts))
	for _, pc := range a.Contexts() {
		fmt.Fprintf(&b, "\n    Presentation Context:  %d [%s]", pc.ID, pc.Result)
		fmt.Fprintf(&b, "\n        Abstract:  %s", UIDName(pc.AbstractSyntax))
		if pc.IsAccepted() {
			fmt.Fprintf(&b, "\n        Transfer:  %s", UIDName(pc.AcceptedTransferSyntax))
			continue
		}
		for _, ts := range pc.TransferSyntaxes {
			fmt.Fprintf(&b, "\n        Transfer:  %s", UIDName(ts))
		}
	}
	return b.String()
}
