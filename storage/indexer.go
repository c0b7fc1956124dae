package storage

import (
	"io"
	"os"
	"strings"

	"github.com/samber/oops"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Index reads the identifying attributes of a Part 10 stream of size bytes.
// Pixel data is skipped.
func Index(r io.Reader, size int64) (*Instance, error) {
	ds, err := dicom.Parse(r, size, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, oops.In("storage").Wrapf(err, "failed to parse instance")
	}
	inst := &Instance{
		SOPClassUID:       first(&ds, tag.SOPClassUID),
		SOPInstanceUID:    first(&ds, tag.SOPInstanceUID),
		TransferSyntaxUID: first(&ds, tag.TransferSyntaxUID),
		PatientID:         first(&ds, tag.PatientID),
		PatientName:       first(&ds, tag.PatientName),
		StudyInstanceUID:  first(&ds, tag.StudyInstanceUID),
		StudyDate:         first(&ds, tag.StudyDate),
		StudyDescription:  first(&ds, tag.StudyDescription),
		AccessionNumber:   first(&ds, tag.AccessionNumber),
		SeriesInstanceUID: first(&ds, tag.SeriesInstanceUID),
		Modality:          first(&ds, tag.Modality),
		Size:              size,
	}
	if inst.SOPClassUID == "" {
		inst.SOPClassUID = first(&ds, tag.MediaStorageSOPClassUID)
	}
	if inst.SOPInstanceUID == "" {
		inst.SOPInstanceUID = first(&ds, tag.MediaStorageSOPInstanceUID)
	}
	return inst, nil
}

// IndexFile indexes the Part 10 file at path.
func IndexFile(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, oops.In("storage").With("path", path).Wrapf(err, "failed to open instance")
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, oops.In("storage").With("path", path).Wrapf(err, "failed to stat instance")
	}
	inst, err := Index(f, st.Size())
	if err != nil {
		return nil, oops.In("storage").With("path", path).Wrapf(err, "failed to index instance")
	}
	inst.Location = path
	return inst, nil
}

func first(ds *dicom.Dataset, t tag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimRight(values[0], "\x00 ")
}
