package client

import (
	dicomerr "github.com/caio-sobreiro/dicomscp/errors"
	"github.com/caio-sobreiro/dicomscp/types"
)

// statusError reports a failed final status as *errors.DIMSEError. Success,
// pending and warning statuses yield nil.
func statusError(operation string, st types.Status) error {
	if !st.IsFailure() {
		return nil
	}
	msg := st.ErrorComment
	if msg == "" {
		msg = st.Description
	}
	return dicomerr.NewDIMSEError(operation, st.Code, msg)
}

// Err returns a *errors.DIMSEError when the peer answered with a failure.
func (r *CEchoResponse) Err() error { return statusError("C-ECHO", r.Status) }

// Err returns a *errors.DIMSEError when the peer refused the instance.
func (r *CStoreResponse) Err() error { return statusError("C-STORE", r.Status) }

// Err returns a *errors.DIMSEError when the query failed.
func (r *CFindResponse) Err() error { return statusError("C-FIND", r.Status) }
