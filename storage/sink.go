package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/samber/oops"
)

// Sink stores the Part 10 bytes of an instance under a key and returns the
// location it was written to.
type Sink interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error)
}

// FileSink writes instances below a root directory.
type FileSink struct {
	root string
}

// NewFileSink creates root if needed.
func NewFileSink(root string) (*FileSink, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, oops.In("storage").With("root", root).Wrapf(err, "failed to create storage directory")
	}
	return &FileSink{root: root}, nil
}

func (s *FileSink) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return "", oops.In("storage").With("path", name).Wrapf(err, "failed to create directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), ".incoming-*")
	if err != nil {
		return "", oops.In("storage").With("path", name).Wrapf(err, "failed to create file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", oops.In("storage").With("path", name).Wrapf(err, "failed to write instance")
	}
	if err := tmp.Close(); err != nil {
		return "", oops.In("storage").With("path", name).Wrapf(err, "failed to close instance")
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return "", oops.In("storage").With("path", name).Wrapf(err, "failed to move instance into place")
	}
	return name, nil
}

// EncryptedSink encrypts every instance to a set of age recipients before
// handing it to the wrapped sink. Keys get an ".age" suffix.
type EncryptedSink struct {
	next       Sink
	recipients []age.Recipient
}

// NewEncryptedSink wraps next. recipients is the text form accepted by
// age.ParseRecipients, one recipient per line.
func NewEncryptedSink(next Sink, recipients string) (*EncryptedSink, error) {
	parsed, err := age.ParseRecipients(strings.NewReader(recipients))
	if err != nil {
		return nil, oops.In("storage").Wrapf(err, "failed to parse age recipients")
	}
	return &EncryptedSink{next: next, recipients: parsed}, nil
}

func (s *EncryptedSink) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	pr, pw := io.Pipe()
	go func() {
		w, err := age.Encrypt(pw, s.recipients...)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(w, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(w.Close())
	}()

	location, err := s.next.Put(ctx, key+".age", pr)
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return "", oops.In("storage").With("key", key).Wrapf(err, "failed to store encrypted instance")
	}
	return location, nil
}

// Decrypt opens an instance written by EncryptedSink.
func Decrypt(r io.Reader, identities string) (io.Reader, error) {
	ids, err := age.ParseIdentities(strings.NewReader(identities))
	if err != nil {
		return nil, oops.In("storage").Wrapf(err, "failed to parse age identities")
	}
	out, err := age.Decrypt(r, ids...)
	if err != nil {
		return nil, oops.In("storage").Wrapf(err, "failed to decrypt instance")
	}
	return out, nil
}
