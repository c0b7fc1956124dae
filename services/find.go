package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dicom"
	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/types"
)

// CFind parses the identifier, queries the Finder and streams one pending
// response per match.
func (s *StoreService) CFind(ctx context.Context, sess *session.Session, req *session.FindRequest, rsp session.Responder) (types.Status, error) {
	if s.cfg.Finder == nil {
		return types.StatusUnrecognizedOperation, nil
	}
	return serveFind(ctx, sessionLogger(sess), s.cfg.Finder, req, rsp)
}

func serveFind(ctx context.Context, log *zap.Logger, finder Finder, req *session.FindRequest, rsp session.Responder) (types.Status, error) {
	identifier, err := dicom.ParseDataset(req.Identifier, req.TransferSyntax)
	if err != nil {
		return types.StatusUnableToProcess.WithComment("unreadable identifier"), nil
	}
	q, err := dicom.QueryFromDataset(identifier)
	if err != nil {
		return types.StatusDataSetDoesNotMatchSOP.WithComment("invalid query/retrieve level"), nil
	}

	matches, err := finder.Query(ctx, q)
	if err != nil {
		return types.Status{}, err
	}
	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return types.StatusCancel, nil
		}
		data, err := dicom.MatchToDataset(identifier, m).Encode(req.TransferSyntax)
		if err != nil {
			return types.Status{}, err
		}
		if err := rsp.Pending(data); err != nil {
			return types.Status{}, err
		}
	}
	log.Debug("c_find_served", zap.String("level", string(q.Level)), zap.Int("matches", len(matches)))
	return types.StatusSuccess, nil
}
