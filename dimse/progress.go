package dimse

import "time"

// Progress describes how far a DIMSE message has been received.
type Progress struct {
	BytesTransferred int64

	// EstimatedCommandLength is derived from the command group length once
	// the first command fragment arrived.
	EstimatedCommandLength int64

	// EstimatedDatasetLength is unknown on the wire and stays zero unless the
	// sender announced it out of band.
	EstimatedDatasetLength int64

	Started time.Time
	Elapsed time.Duration
}

// BytesPerSecond returns the average receive rate so far.
func (p Progress) BytesPerSecond() float64 {
	if p.Elapsed <= 0 {
		return 0
	}
	return float64(p.BytesTransferred) / p.Elapsed.Seconds()
}
