// Package storage persists received instances: a sink for the bytes, an
// optional catalog for queries, and an indexer that reads the attributes
// both need.
package storage

import (
	"path"
	"time"

	"github.com/caio-sobreiro/dicomscp/types"
)

// Instance describes one stored SOP instance.
type Instance struct {
	SOPClassUID       string
	SOPInstanceUID    string
	TransferSyntaxUID string

	PatientID         string
	PatientName       string
	StudyInstanceUID  string
	StudyDate         string
	StudyDescription  string
	AccessionNumber   string
	SeriesInstanceUID string
	Modality          string

	CallingAETitle string
	Location       string
	Size           int64
	ReceivedAt     time.Time
}

// Key returns the object name of the instance, grouped by study and series.
func (i *Instance) Key() string {
	study, series := i.StudyInstanceUID, i.SeriesInstanceUID
	if study == "" {
		study = "unknown"
	}
	if series == "" {
		series = "unknown"
	}
	return path.Join(study, series, i.SOPInstanceUID+".dcm")
}

// Match converts the instance to a C-FIND result.
func (i *Instance) Match() types.QueryMatch {
	return types.QueryMatch{
		PatientName:       i.PatientName,
		PatientID:         i.PatientID,
		StudyInstanceUID:  i.StudyInstanceUID,
		StudyDate:         i.StudyDate,
		StudyDescription:  i.StudyDescription,
		AccessionNumber:   i.AccessionNumber,
		Modality:          i.Modality,
		SeriesInstanceUID: i.SeriesInstanceUID,
		SOPClassUID:       i.SOPClassUID,
		SOPInstanceUID:    i.SOPInstanceUID,
	}
}
