package pdu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/caio-sobreiro/dicomscp/dicom"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/types"
)

const (
	protocolVersion       = 0x0001
	associateFixedLength  = 68
	itemApplicationCtx    = 0x10
	itemPresentationCtxRQ = 0x20
	itemPresentationCtxAC = 0x21
	itemAbstractSyntax    = 0x30
	itemTransferSyntax    = 0x40
	itemUserInformation   = 0x50
	subItemMaxLength      = 0x51
	subItemImplClassUID   = 0x52
	subItemAsyncOps       = 0x53
	subItemImplVersion    = 0x55
)

func normalizeUID(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00 ")
}

func normalizeAETitle(raw []byte) string {
	value := string(raw)
	if idx := strings.IndexByte(value, 0); idx != -1 {
		value = value[:idx]
	}
	return strings.TrimSpace(value)
}

func padAETitle(ae string) []byte {
	if len(ae) > 16 {
		ae = ae[:16]
	}
	return []byte(fmt.Sprintf("%-16s", ae))
}

func appendFixedFields(buf []byte, a *types.Association) []byte {
	buf = binary.BigEndian.AppendUint16(buf, protocolVersion)
	buf = append(buf, 0x00, 0x00)
	buf = append(buf, padAETitle(a.CalledAETitle)...)
	buf = append(buf, padAETitle(a.CallingAETitle)...)
	return append(buf, make([]byte, 32)...)
}

func appendUserInformation(buf []byte, a *types.Association) []byte {
	var ui []byte
	ui = appendItem(ui, subItemMaxLength, binary.BigEndian.AppendUint32(nil, a.MaxPDULength))

	implUID := a.ImplementationClassUID
	if implUID == "" {
		implUID = dicom.ImplementationClassUID
	}
	ui = appendItem(ui, subItemImplClassUID, []byte(implUID))

	if a.NegotiateAsyncOps {
		var ops []byte
		ops = binary.BigEndian.AppendUint16(ops, a.AsyncOpsInvoked)
		ops = binary.BigEndian.AppendUint16(ops, a.AsyncOpsPerformed)
		ui = appendItem(ui, subItemAsyncOps, ops)
	}

	version := a.ImplementationVersion
	if version == "" {
		version = dicom.ImplementationVersionName
	}
	ui = appendItem(ui, subItemImplVersion, []byte(version))

	return appendItem(buf, itemUserInformation, ui)
}

func applicationContext(a *types.Association) string {
	if a.ApplicationContext != "" {
		return a.ApplicationContext
	}
	return types.ApplicationContextUID
}

// EncodeAssociateRQ builds an A-ASSOCIATE-RQ PDU proposing every presentation
// context of a.
func EncodeAssociateRQ(a *types.Association) []byte {
	buf := make([]byte, 0, 1024)
	buf = appendFixedFields(buf, a)
	buf = appendItem(buf, itemApplicationCtx, []byte(applicationContext(a)))

	for _, pc := range a.Contexts() {
		var value []byte
		value = append(value, pc.ID, 0x00, 0x00, 0x00)
		value = appendItem(value, itemAbstractSyntax, []byte(pc.AbstractSyntax))
		for _, ts := range pc.TransferSyntaxes {
			value = appendItem(value, itemTransferSyntax, []byte(ts))
		}
		buf = appendItem(buf, itemPresentationCtxRQ, value)
	}

	buf = appendUserInformation(buf, a)
	return Encode(TypeAssociateRQ, buf)
}

// DecodeAssociateRQ parses the payload of an A-ASSOCIATE-RQ. Every proposed
// context is left in the Proposed state for the service class to resolve.
func DecodeAssociateRQ(data []byte) (*types.Association, error) {
	if len(data) < associateFixedLength {
		return nil, dicomerr.NewPDUError(TypeAssociateRQ, fmt.Sprintf("too short: %d bytes", len(data)))
	}

	a := types.NewAssociation(normalizeAETitle(data[20:36]), normalizeAETitle(data[4:20]))
	a.ApplicationContext = ""

	items, err := splitItems(TypeAssociateRQ, data[associateFixedLength:])
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		switch it.Type {
		case itemApplicationCtx:
			a.ApplicationContext = normalizeUID(it.Value)
		case itemPresentationCtxRQ:
			if err := decodeProposedContext(a, it.Value); err != nil {
				return nil, err
			}
		case itemUserInformation:
			if err := decodeUserInformation(TypeAssociateRQ, a, it.Value); err != nil {
				return nil, err
			}
		}
	}

	a.RemoteImplementationUID = a.ImplementationClassUID
	a.RemoteImplementationVersion = a.ImplementationVersion
	a.RemoteMaxPDULength = a.MaxPDULength
	a.ImplementationClassUID = ""
	a.ImplementationVersion = ""
	a.MaxPDULength = 0
	return a, nil
}

func decodeProposedContext(a *types.Association, data []byte) error {
	if len(data) < 4 {
		return dicomerr.NewPDUError(TypeAssociateRQ, "presentation context item too short")
	}
	id := data[0]
	subItems, err := splitItems(TypeAssociateRQ, data[4:])
	if err != nil {
		return err
	}

	var abstractSyntax string
	var transferSyntaxes []string
	for _, sub := range subItems {
		switch sub.Type {
		case itemAbstractSyntax:
			abstractSyntax = normalizeUID(sub.Value)
		case itemTransferSyntax:
			transferSyntaxes = append(transferSyntaxes, normalizeUID(sub.Value))
		}
	}
	if abstractSyntax == "" {
		return dicomerr.NewPDUError(TypeAssociateRQ, fmt.Sprintf("presentation context %d missing abstract syntax", id))
	}
	if _, err := a.AddProposedContext(id, abstractSyntax, transferSyntaxes); err != nil {
		return dicomerr.NewPDUError(TypeAssociateRQ, err.Error())
	}
	return nil
}

// decodeUserInformation stores the peer's values in the local fields of a;
// callers move them to the Remote* fields as needed.
func decodeUserInformation(pduType byte, a *types.Association, data []byte) error {
	subItems, err := splitItems(pduType, data)
	if err != nil {
		return err
	}
	for _, sub := range subItems {
		switch sub.Type {
		case subItemMaxLength:
			if len(sub.Value) != 4 {
				return dicomerr.NewPDUError(pduType, "invalid maximum length sub-item")
			}
			a.MaxPDULength = binary.BigEndian.Uint32(sub.Value)
		case subItemImplClassUID:
			a.ImplementationClassUID = normalizeUID(sub.Value)
		case subItemImplVersion:
			a.ImplementationVersion = normalizeAETitle(sub.Value)
		case subItemAsyncOps:
			if len(sub.Value) == 4 {
				a.NegotiateAsyncOps = true
				a.AsyncOpsInvoked = binary.BigEndian.Uint16(sub.Value[0:2])
				a.AsyncOpsPerformed = binary.BigEndian.Uint16(sub.Value[2:4])
			}
		}
	}
	return nil
}

// AcceptOption adjusts A-ASSOCIATE-AC encoding.
type AcceptOption func(*acceptOptions)

type acceptOptions struct {
	acceptedOnly bool
}

// WithAcceptedContextsOnly omits rejected presentation contexts from the AC.
// Some implementations (DCMTK based peers among them) refuse an AC that lists
// rejected contexts even though PS3.8 requires every proposed context.
func WithAcceptedContextsOnly() AcceptOption {
	return func(o *acceptOptions) { o.acceptedOnly = true }
}

// EncodeAssociateAC builds an A-ASSOCIATE-AC PDU answering every presentation
// context of a. Contexts must already be resolved.
func EncodeAssociateAC(a *types.Association, opts ...AcceptOption) ([]byte, error) {
	var o acceptOptions
	for _, opt := range opts {
		opt(&o)
	}

	buf := make([]byte, 0, 512)
	buf = appendFixedFields(buf, a)
	buf = appendItem(buf, itemApplicationCtx, []byte(applicationContext(a)))

	for _, pc := range a.Contexts() {
		if pc.Result == types.Proposed {
			return nil, fmt.Errorf("pdu: presentation context %d is unresolved", pc.ID)
		}
		if o.acceptedOnly && !pc.IsAccepted() {
			continue
		}
		var value []byte
		value = append(value, pc.ID, 0x00, pc.Result.WireValue(), 0x00)
		if pc.IsAccepted() {
			value = appendItem(value, itemTransferSyntax, []byte(pc.AcceptedTransferSyntax))
		}
		buf = appendItem(buf, itemPresentationCtxAC, value)
	}

	buf = appendUserInformation(buf, a)
	return Encode(TypeAssociateAC, buf), nil
}

// DecodeAssociateAC applies the results of an A-ASSOCIATE-AC payload to the
// association that was proposed. Contexts missing from the AC are marked
// RejectNoReason.
func DecodeAssociateAC(data []byte, a *types.Association) error {
	if len(data) < associateFixedLength {
		return dicomerr.NewPDUError(TypeAssociateAC, fmt.Sprintf("too short: %d bytes", len(data)))
	}
	items, err := splitItems(TypeAssociateAC, data[associateFixedLength:])
	if err != nil {
		return err
	}

	remote := &types.Association{}
	for _, it := range items {
		switch it.Type {
		case itemPresentationCtxAC:
			if len(it.Value) < 4 {
				return dicomerr.NewPDUError(TypeAssociateAC, "presentation context item too short")
			}
			id, result := it.Value[0], types.PresContextResult(it.Value[2])
			var ts string
			subItems, err := splitItems(TypeAssociateAC, it.Value[4:])
			if err != nil {
				return err
			}
			for _, sub := range subItems {
				if sub.Type == itemTransferSyntax {
					ts = normalizeUID(sub.Value)
				}
			}
			pc, ok := a.Context(id)
			if !ok {
				return dicomerr.NewPDUError(TypeAssociateAC, fmt.Sprintf("unknown presentation context %d", id))
			}
			if err := pc.SetResult(result, ts); err != nil {
				return dicomerr.NewPDUError(TypeAssociateAC, err.Error())
			}
		case itemUserInformation:
			if err := decodeUserInformation(TypeAssociateAC, remote, it.Value); err != nil {
				return err
			}
		}
	}

	a.RemoteMaxPDULength = remote.MaxPDULength
	a.RemoteImplementationUID = remote.ImplementationClassUID
	a.RemoteImplementationVersion = remote.ImplementationVersion
	a.ResolveRemaining(types.RejectNoReason)
	return nil
}

// EncodeAssociateRJ builds an A-ASSOCIATE-RJ PDU.
func EncodeAssociateRJ(result dicomerr.RejectResult, source dicomerr.AssociationRejectSource, reason dicomerr.AssociationRejectReason) []byte {
	return Encode(TypeAssociateRJ, []byte{0x00, byte(result), byte(source), byte(reason)})
}

// DecodeAssociateRJ parses an A-ASSOCIATE-RJ payload.
func DecodeAssociateRJ(data []byte) (*dicomerr.AssociationError, error) {
	if len(data) < 4 {
		return nil, dicomerr.NewPDUError(TypeAssociateRJ, "too short")
	}
	return dicomerr.NewAssociationError(
		dicomerr.RejectResult(data[1]),
		dicomerr.AssociationRejectSource(data[2]),
		dicomerr.AssociationRejectReason(data[3]),
		"rejected by peer",
	), nil
}
