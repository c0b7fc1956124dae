package types

// QueryLevel represents the level of C-FIND query
type QueryLevel string

const (
	QueryLevelPatient QueryLevel = "PATIENT"
	QueryLevelStudy   QueryLevel = "STUDY"
	QueryLevelSeries  QueryLevel = "SERIES"
	QueryLevelImage   QueryLevel = "IMAGE"
)

// Valid reports whether l is one of the four query levels.
func (l QueryLevel) Valid() bool {
	switch l {
	case QueryLevelPatient, QueryLevelStudy, QueryLevelSeries, QueryLevelImage:
		return true
	}
	return false
}

// QueryRequest represents a parsed C-FIND identifier. Empty fields are
// universal matches; a trailing "*" requests a prefix match.
type QueryRequest struct {
	Level             QueryLevel
	PatientName       string
	PatientID         string
	StudyInstanceUID  string
	StudyDate         string
	StudyDescription  string
	AccessionNumber   string
	Modality          string
	SeriesInstanceUID string
	SOPInstanceUID    string
}

// QueryMatch is one C-FIND result. Only the attributes of the requested
// level and above are returned to the peer.
type QueryMatch struct {
	PatientName       string
	PatientID         string
	StudyInstanceUID  string
	StudyDate         string
	StudyDescription  string
	AccessionNumber   string
	Modality          string
	SeriesInstanceUID string
	SOPClassUID       string
	SOPInstanceUID    string
}
