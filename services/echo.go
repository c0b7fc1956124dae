// Package services provides the service classes a DICOM application entity
// plugs into a session: verification and storage, with query support.
package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/types"
)

// EchoService answers verification requests only.
//
// Verification contexts accept Implicit VR Little Endian when proposed, then
// Explicit VR Little Endian. Every other abstract syntax is rejected. The
// association itself is always accepted.
type EchoService struct{}

// NewEchoService creates a new C-ECHO service instance.
func NewEchoService() *EchoService {
	return &EchoService{}
}

// AssociateRequest resolves the proposed contexts.
func (e *EchoService) AssociateRequest(ctx context.Context, s *session.Session, assoc *types.Association) *session.Reject {
	for _, pc := range assoc.Contexts() {
		if pc.Result != types.Proposed {
			continue
		}
		if err := negotiateVerification(pc); err != nil {
			sessionLogger(s).Warn("echo_negotiation_failed", zap.Uint8("pcid", pc.ID), zap.Error(err))
		}
	}
	return nil
}

func negotiateVerification(pc *types.PresentationContext) error {
	if pc.AbstractSyntax != types.VerificationSOPClass {
		return pc.Reject(types.RejectAbstractSyntaxNotSupported)
	}
	for _, ts := range []string{types.ImplicitVRLittleEndian, types.ExplicitVRLittleEndian} {
		if pc.HasTransferSyntax(ts) {
			return pc.Accept(ts)
		}
	}
	return pc.Reject(types.RejectTransferSyntaxesNotSupported)
}

// CEcho returns Success.
func (e *EchoService) CEcho(ctx context.Context, s *session.Session, pcid byte, messageID uint16, priority uint16) types.Status {
	sessionLogger(s).Debug("c_echo", zap.Uint8("pcid", pcid), zap.Uint16("message_id", messageID))
	return types.StatusSuccess
}

func sessionLogger(s *session.Session) *zap.Logger {
	if s == nil {
		return zap.NewNop()
	}
	return s.Logger()
}
