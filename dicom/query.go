package dicom

import (
	"fmt"

	"github.com/caio-sobreiro/dicomscp/types"
)

// levelKeys lists the attributes each query level returns, in addition to
// the unique keys of the levels above it.
var levelKeys = map[types.QueryLevel][]Tag{
	types.QueryLevelPatient: {TagPatientName, TagPatientID},
	types.QueryLevelStudy:   {TagStudyInstanceUID, TagStudyDate, TagStudyDescription, TagAccessionNumber},
	types.QueryLevelSeries:  {TagSeriesInstanceUID, TagModality},
	types.QueryLevelImage:   {TagSOPInstanceUID, TagSOPClassUID},
}

var levelOrder = []types.QueryLevel{
	types.QueryLevelPatient, types.QueryLevelStudy, types.QueryLevelSeries, types.QueryLevelImage,
}

// QueryToDataset builds a C-FIND identifier. Every attribute of the requested
// level and above is included so the peer returns it.
func QueryToDataset(q types.QueryRequest) *Dataset {
	ds := NewDataset()
	ds.Set(TagQueryRetrieveLevel, string(q.Level))
	values := map[Tag]string{
		TagPatientName:       q.PatientName,
		TagPatientID:         q.PatientID,
		TagStudyInstanceUID:  q.StudyInstanceUID,
		TagStudyDate:         q.StudyDate,
		TagStudyDescription:  q.StudyDescription,
		TagAccessionNumber:   q.AccessionNumber,
		TagModality:          q.Modality,
		TagSeriesInstanceUID: q.SeriesInstanceUID,
		TagSOPInstanceUID:    q.SOPInstanceUID,
	}
	for _, level := range levelOrder {
		for _, tag := range levelKeys[level] {
			if v := values[tag]; v != "" {
				ds.Set(tag, v)
			} else {
				ds.Set(tag)
			}
		}
		if level == q.Level {
			break
		}
	}
	return ds
}

// QueryFromDataset reads a C-FIND identifier received from a peer.
func QueryFromDataset(ds *Dataset) (types.QueryRequest, error) {
	q := types.QueryRequest{
		Level:             types.QueryLevel(ds.GetString(TagQueryRetrieveLevel)),
		PatientName:       ds.GetString(TagPatientName),
		PatientID:         ds.GetString(TagPatientID),
		StudyInstanceUID:  ds.GetString(TagStudyInstanceUID),
		StudyDate:         ds.GetString(TagStudyDate),
		StudyDescription:  ds.GetString(TagStudyDescription),
		AccessionNumber:   ds.GetString(TagAccessionNumber),
		Modality:          ds.GetString(TagModality),
		SeriesInstanceUID: ds.GetString(TagSeriesInstanceUID),
		SOPInstanceUID:    ds.GetString(TagSOPInstanceUID),
	}
	if !q.Level.Valid() {
		return q, fmt.Errorf("dicom: invalid query/retrieve level %q", q.Level)
	}
	return q, nil
}

// MatchToDataset builds a C-FIND response identifier. Only attributes the
// request asked for are returned, plus the query level.
func MatchToDataset(request *Dataset, m types.QueryMatch) *Dataset {
	values := map[Tag]string{
		TagPatientName:       m.PatientName,
		TagPatientID:         m.PatientID,
		TagStudyInstanceUID:  m.StudyInstanceUID,
		TagStudyDate:         m.StudyDate,
		TagStudyDescription:  m.StudyDescription,
		TagAccessionNumber:   m.AccessionNumber,
		TagModality:          m.Modality,
		TagSeriesInstanceUID: m.SeriesInstanceUID,
		TagSOPClassUID:       m.SOPClassUID,
		TagSOPInstanceUID:    m.SOPInstanceUID,
	}
	ds := NewDataset()
	for _, tag := range request.Tags() {
		if tag == TagQueryRetrieveLevel || tag == TagSpecificCharacterSet {
			if e, ok := request.Get(tag); ok {
				ds.Set(tag, e.Values...)
			}
			continue
		}
		if v, ok := values[tag]; ok && v != "" {
			ds.Set(tag, v)
		} else {
			ds.Set(tag)
		}
	}
	return ds
}

// MatchFromDataset reads a C-FIND response identifier.
func MatchFromDataset(ds *Dataset) types.QueryMatch {
	return types.QueryMatch{
		PatientName:       ds.GetString(TagPatientName),
		PatientID:         ds.GetString(TagPatientID),
		StudyInstanceUID:  ds.GetString(TagStudyInstanceUID),
		StudyDate:         ds.GetString(TagStudyDate),
		StudyDescription:  ds.GetString(TagStudyDescription),
		AccessionNumber:   ds.GetString(TagAccessionNumber),
		Modality:          ds.GetString(TagModality),
		SeriesInstanceUID: ds.GetString(TagSeriesInstanceUID),
		SOPClassUID:       ds.GetString(TagSOPClassUID),
		SOPInstanceUID:    ds.GetString(TagSOPInstanceUID),
	}
}
