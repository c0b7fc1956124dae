package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/caio-sobreiro/dicomscp/dicom"
	"github.com/caio-sobreiro/dicomscp/session"
	"github.com/caio-sobreiro/dicomscp/types"
)

// Receiver is a C-STORE callback that writes each instance to a sink and
// records it in an optional catalog.
type Receiver struct {
	sink    Sink
	catalog *Catalog
	logger  *zap.Logger
	now     func() time.Time
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

func WithCatalog(c *Catalog) ReceiverOption {
	return func(r *Receiver) { r.catalog = c }
}

func WithReceiverLogger(l *zap.Logger) ReceiverOption {
	return func(r *Receiver) { r.logger = l }
}

func NewReceiver(sink Sink, opts ...ReceiverOption) *Receiver {
	r := &Receiver{sink: sink, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store persists the instance carried by req. A file buffered data set is
// streamed to the sink and removed afterwards, whether or not it was stored.
func (r *Receiver) Store(ctx context.Context, s *session.Session, req *session.StoreRequest) (types.Status, error) {
	if req.FileName != "" {
		defer func() { _ = os.Remove(req.FileName) }()
	}
	src, err := r.part10(s, req)
	if err != nil {
		return types.Status{}, err
	}

	inst, err := r.index(src)
	if err != nil {
		r.logger.Warn("index_failed",
			zap.String("sop_instance", req.AffectedSOPInstanceUID),
			zap.Error(err))
		inst = &Instance{Size: src.size}
	}
	// the command set is authoritative for identity
	inst.SOPClassUID = req.AffectedSOPClassUID
	inst.SOPInstanceUID = req.AffectedSOPInstanceUID
	inst.TransferSyntaxUID = req.TransferSyntax
	inst.ReceivedAt = r.now()
	if s != nil {
		if assoc := s.Association(); assoc != nil {
			inst.CallingAETitle = assoc.CallingAETitle
		}
	}

	rc, err := src.open()
	if err != nil {
		return types.Status{}, err
	}
	location, err := r.sink.Put(ctx, inst.Key(), rc)
	_ = rc.Close()
	if err != nil {
		r.logger.Error("store_failed",
			zap.String("sop_instance", inst.SOPInstanceUID),
			zap.Error(err))
		return types.StatusRefusedOutOfResources.WithComment("storage unavailable"), nil
	}
	inst.Location = location

	if r.catalog != nil {
		if err := r.catalog.Record(ctx, inst); err != nil {
			return types.Status{}, err
		}
	}
	r.logger.Debug("instance_stored",
		zap.String("sop_instance", inst.SOPInstanceUID),
		zap.String("study", inst.StudyInstanceUID),
		zap.String("location", location),
		zap.Int64("size", inst.Size))
	return types.StatusSuccess, nil
}

// instanceSource reopens a received Part 10 instance from its start.
type instanceSource struct {
	size int64
	open func() (io.ReadCloser, error)
}

func (r *Receiver) index(src instanceSource) (*Instance, error) {
	rc, err := src.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return Index(rc, src.size)
}

// part10 returns the received instance with File Meta Information. A
// buffered file already carries it and is read from disk on each open.
func (r *Receiver) part10(s *session.Session, req *session.StoreRequest) (instanceSource, error) {
	if req.FileName != "" {
		st, err := os.Stat(req.FileName)
		if err != nil {
			return instanceSource{}, oops.In("storage").With("path", req.FileName).Wrapf(err, "failed to stat buffered instance")
		}
		name := req.FileName
		return instanceSource{
			size: st.Size(),
			open: func() (io.ReadCloser, error) {
				f, err := os.Open(name)
				if err != nil {
					return nil, oops.In("storage").With("path", name).Wrapf(err, "failed to open buffered instance")
				}
				return f, nil
			},
		}, nil
	}

	meta := dicom.FileMeta{
		MediaStorageSOPClassUID:    req.AffectedSOPClassUID,
		MediaStorageSOPInstanceUID: req.AffectedSOPInstanceUID,
		TransferSyntaxUID:          req.TransferSyntax,
	}
	if s != nil {
		if assoc := s.Association(); assoc != nil {
			meta.SourceAETitle = assoc.CallingAETitle
		}
	}
	var header bytes.Buffer
	if err := dicom.WriteFileMetaInformation(&header, meta); err != nil {
		return instanceSource{}, oops.In("storage").Wrapf(err, "failed to write file meta information")
	}
	dataset := req.Dataset
	return instanceSource{
		size: int64(header.Len() + len(dataset)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(io.MultiReader(bytes.NewReader(header.Bytes()), bytes.NewReader(dataset))), nil
		},
	}, nil
}
