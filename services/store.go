package services

import (
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dimse"
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/profile"
	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/types"
)

// ErrNoStoreCallback is returned by NewStoreService when OnCStore is unset.
var ErrNoStoreCallback = errors.New("services: OnCStore is required")

// AssociateResult is the decision of StoreConfig.OnAssociationRequest.
type AssociateResult int

const (
	AssociateAccept AssociateResult = iota
	AssociateRejectCalledAE
	AssociateRejectCallingAE
	AssociateRejectNoReason
)

func (r AssociateResult) reject() *session.Reject {
	rj := &session.Reject{
		Result: dicomerr.RejectResultPermanent,
		Source: dicomerr.RejectSourceServiceUser,
		Reason: dicomerr.RejectReasonNoReasonGiven,
	}
	switch r {
	case AssociateAccept:
		return nil
	case AssociateRejectCalledAE:
		rj.Reason = dicomerr.RejectReasonCalledAETitleNotRecognized
	case AssociateRejectCallingAE:
		rj.Reason = dicomerr.RejectReasonCallingAETitleNotRecognized
	}
	return rj
}

// Finder answers C-FIND queries.
type Finder interface {
	Query(ctx context.Context, q types.QueryRequest) ([]types.QueryMatch, error)
}

// StoreConfig holds the callbacks of a storage SCP. Only OnCStore is
// required; every other field has a default.
type StoreConfig struct {
	// OnAssociationRequest screens the peer before any context is
	// negotiated. When nil the allow-lists apply.
	OnAssociationRequest func(ctx context.Context, assoc *types.Association) AssociateResult

	// AllowedCalledAEs and AllowedCallingAEs restrict the AE titles when
	// non-empty.
	AllowedCalledAEs  mapset.Set[string]
	AllowedCallingAEs mapset.Set[string]

	// Profiles picks a capability table per peer. Capabilities, when set,
	// is used for every peer instead.
	Profiles     *profile.Set
	Capabilities *profile.Profile

	OnCEcho          func(ctx context.Context, s *session.Session) types.Status
	OnCStore         func(ctx context.Context, s *session.Session, req *session.StoreRequest) (types.Status, error)
	OnCStoreBegin    func(s *session.Session, msg *types.Message, p dimse.Progress)
	OnCStoreProgress func(s *session.Session, msg *types.Message, p dimse.Progress)

	// Finder serves C-FIND. When nil C-FIND is not offered.
	Finder Finder

	// RejectEmptyAssociation answers an association whose contexts were all
	// rejected with an A-ASSOCIATE-RJ instead of an AC listing rejections.
	RejectEmptyAssociation bool

	UseFileBuffer bool
	TempDir       string
	PrepareStore  func(ctx context.Context, s *session.Session, msg *types.Message) (string, error)
}

// StoreService is a storage SCP driven by StoreConfig.
type StoreService struct {
	cfg  StoreConfig
	caps *profile.Profile
}

// NewStoreService validates cfg and returns the service.
func NewStoreService(cfg StoreConfig) (*StoreService, error) {
	if cfg.OnCStore == nil {
		return nil, oops.In("services").Wrapf(ErrNoStoreCallback, "invalid store configuration")
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = profile.GenericStorage()
		if cfg.Finder != nil {
			caps.AbstractSyntaxes = append(caps.AbstractSyntaxes,
				types.PatientRootQueryRetrieveInformationModelFind,
				types.StudyRootQueryRetrieveInformationModelFind)
		}
	}
	return &StoreService{cfg: cfg, caps: caps}, nil
}

// SessionConfig returns base with the buffering settings of the service.
func (s *StoreService) SessionConfig(base session.Config) session.Config {
	base.UseFileBuffer = s.cfg.UseFileBuffer
	if s.cfg.TempDir != "" {
		base.TempDir = s.cfg.TempDir
	}
	return base
}

func allowed(set mapset.Set[string], ae string) bool {
	return set == nil || set.Cardinality() == 0 || set.Contains(ae)
}

func (s *StoreService) screen(ctx context.Context, assoc *types.Association) AssociateResult {
	if s.cfg.OnAssociationRequest != nil {
		return s.cfg.OnAssociationRequest(ctx, assoc)
	}
	if !allowed(s.cfg.AllowedCalledAEs, assoc.CalledAETitle) {
		return AssociateRejectCalledAE
	}
	if !allowed(s.cfg.AllowedCallingAEs, assoc.CallingAETitle) {
		return AssociateRejectCallingAE
	}
	return AssociateAccept
}

func (s *StoreService) negotiate(ctx context.Context, assoc *types.Association) (string, error) {
	if s.cfg.Capabilities == nil && s.cfg.Profiles != nil {
		p, err := s.cfg.Profiles.Apply(ctx, assoc)
		if err != nil {
			return "", err
		}
		return p.Name, nil
	}
	return s.caps.Name, s.caps.Apply(assoc)
}

// AssociateRequest screens the peer, then negotiates the contexts with the
// matching capability table.
func (s *StoreService) AssociateRequest(ctx context.Context, sess *session.Session, assoc *types.Association) *session.Reject {
	log := sessionLogger(sess)
	if result := s.screen(ctx, assoc); result != AssociateAccept {
		log.Info("store_association_refused", zap.Int("result", int(result)))
		return result.reject()
	}

	name, err := s.negotiate(ctx, assoc)
	if err != nil {
		log.Error("store_negotiation_failed", zap.Error(err))
		return &session.Reject{
			Result: dicomerr.RejectResultTransient,
			Source: dicomerr.RejectSourceServiceUser,
			Reason: dicomerr.RejectReasonNoReasonGiven,
		}
	}
	log.Debug("store_negotiated", zap.String("profile", name), zap.Int("accepted", assoc.AcceptedCount()))

	if s.cfg.RejectEmptyAssociation && assoc.AcceptedCount() == 0 {
		return AssociateRejectNoReason.reject()
	}
	return nil
}

// CEcho defers to OnCEcho, Success otherwise.
func (s *StoreService) CEcho(ctx context.Context, sess *session.Session, pcid byte, messageID uint16, priority uint16) types.Status {
	if s.cfg.OnCEcho != nil {
		return s.cfg.OnCEcho(ctx, sess)
	}
	return types.StatusSuccess
}

// CStore hands the instance to OnCStore.
func (s *StoreService) CStore(ctx context.Context, sess *session.Session, req *session.StoreRequest) (types.Status, error) {
	return s.cfg.OnCStore(ctx, sess, req)
}

// PrepareStore defers to the configured callback. An empty name lets the
// session pick a file in TempDir.
func (s *StoreService) PrepareStore(ctx context.Context, sess *session.Session, msg *types.Message) (string, error) {
	if s.cfg.PrepareStore == nil {
		return "", nil
	}
	return s.cfg.PrepareStore(ctx, sess, msg)
}

func (s *StoreService) DimseBegin(sess *session.Session, pcid byte, msg *types.Message, p dimse.Progress) {
	if msg.CommandField == types.CStoreRQ && s.cfg.OnCStoreBegin != nil {
		s.cfg.OnCStoreBegin(sess, msg, p)
	}
}

func (s *StoreService) DimseProgress(sess *session.Session, pcid byte, msg *types.Message, p dimse.Progress) {
	if msg.CommandField == types.CStoreRQ && s.cfg.OnCStoreProgress != nil {
		s.cfg.OnCStoreProgress(sess, msg, p)
	}
}
