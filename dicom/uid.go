package dicom

import (
	"math/big"

	"github.com/google/uuid"
)

// Implementation identification sent in association negotiation and written
// to File Meta Information.
const (
	ImplementationClassUID    = "2.25.200687464212117937516314744622394651302"
	ImplementationVersionName = "DICOMSCP_GO_1"
)

// NewUID returns a globally unique UID under the 2.25 root, derived from a
// random UUID as described in PS3.5 B.2.
func NewUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}
