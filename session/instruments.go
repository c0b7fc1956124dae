package session

import "github.com/caio-sobreiro/dicomscp/metrics"

type instruments struct {
	pdus         metrics.Int64Counter
	messages     metrics.Int64Counter
	bytes        metrics.Int64Counter
	timeouts     metrics.Int64Counter
	aborts       metrics.Int64Counter
	associations metrics.Int64Counter
}

func newInstruments(h metrics.Handler) *instruments {
	return &instruments{
		pdus:         h.Int64Counter("dicom_pdus", "PDUs sent and received", metrics.Dimensionless),
		messages:     h.Int64Counter("dicom_dimse_messages", "DIMSE messages received", metrics.Dimensionless),
		bytes:        h.Int64Counter("dicom_bytes", "Bytes moved per session", metrics.Bytes),
		timeouts:     h.Int64Counter("dicom_timeouts", "Sessions closed by a timeout", metrics.Dimensionless),
		aborts:       h.Int64Counter("dicom_aborts", "Associations aborted", metrics.Dimensionless),
		associations: h.Int64Counter("dicom_associations", "Association requests answered", metrics.Dimensionless),
	}
}
