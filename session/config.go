package session

import (
	"time"

	"github.com/caio-sobreiro/dicomscp/pdu"
)

// Config holds the per-association settings. Start from DefaultConfig.
type Config struct {
	// MaxPDULength is advertised to the peer as the largest PDU we accept.
	MaxPDULength uint32

	// AssociateTimeout bounds the wait for the A-ASSOCIATE-RQ. Zero falls
	// back to SocketTimeout.
	AssociateTimeout time.Duration

	// DimseTimeout bounds the idle time between PDUs once established. Zero
	// disables it.
	DimseTimeout time.Duration

	// SocketTimeout bounds every read and write.
	SocketTimeout time.Duration

	// CloseAfterRelease closes the transport right after the A-RELEASE-RP.
	// When false the session waits for the peer to close.
	CloseAfterRelease bool

	// UseFileBuffer streams C-STORE data sets to files instead of memory.
	UseFileBuffer bool

	// TempDir receives buffered data sets when the handler does not choose a
	// file. Empty means os.TempDir.
	TempDir string

	// ThrottleBytesPerSecond limits the transfer rate. Zero disables it.
	ThrottleBytesPerSecond int

	// AcceptedContextsOnly leaves rejected contexts out of the AC for peers
	// that refuse them.
	AcceptedContextsOnly bool

	ImplementationClassUID string
	ImplementationVersion  string
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		MaxPDULength:      pdu.DefaultMaxPDULength,
		AssociateTimeout:  30 * time.Second,
		DimseTimeout:      3 * time.Minute,
		SocketTimeout:     30 * time.Second,
		CloseAfterRelease: true,
	}
}

func (c Config) associateTimeout() time.Duration {
	if c.AssociateTimeout > 0 {
		return c.AssociateTimeout
	}
	return c.SocketTimeout
}

func (c Config) idleTimeout() time.Duration {
	if c.DimseTimeout > 0 {
		return c.DimseTimeout
	}
	return c.SocketTimeout
}
