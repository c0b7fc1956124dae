package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	preambleLength = 128
	magic          = "DICM"
)

// ErrNotPart10 is returned when data does not start with a preamble and the
// DICM prefix.
var ErrNotPart10 = errors.New("dicom: not a DICOM Part 10 stream")

// FileMeta is the File Meta Information (group 0002) of a Part 10 file.
type FileMeta struct {
	MediaStorageSOPClassUID    string
	MediaStorageSOPInstanceUID string
	TransferSyntaxUID          string
	ImplementationClassUID     string
	ImplementationVersionName  string
	SourceAETitle              string
}

// WriteFileMetaInformation writes the 128 byte preamble, the DICM prefix and
// the meta group. The caller appends the data set, encoded in
// meta.TransferSyntaxUID, directly after it.
func WriteFileMetaInformation(w io.Writer, meta FileMeta) error {
	if meta.ImplementationClassUID == "" {
		meta.ImplementationClassUID = ImplementationClassUID
	}
	if meta.ImplementationVersionName == "" {
		meta.ImplementationVersionName = ImplementationVersionName
	}

	group := NewDataset()
	group.SetRaw(TagFileMetaVersion, "OB", []byte{0x00, 0x01})
	group.Set(TagMediaStorageSOPClassUID, meta.MediaStorageSOPClassUID)
	group.Set(TagMediaStorageSOPInstanceUID, meta.MediaStorageSOPInstanceUID)
	group.Set(TagTransferSyntaxUID, meta.TransferSyntaxUID)
	group.Set(TagImplementationClassUID, meta.ImplementationClassUID)
	group.Set(TagImplementationVersionName, meta.ImplementationVersionName)
	if meta.SourceAETitle != "" {
		group.Set(TagSourceApplicationEntityTitle, meta.SourceAETitle)
	}
	body, err := group.Encode("")
	if err != nil {
		return err
	}

	out := make([]byte, preambleLength, preambleLength+len(magic)+12+len(body))
	out = append(out, magic...)
	out = appendExplicitElement(out, TagFileMetaGroupLength, "UL", binary.LittleEndian.AppendUint32(nil, uint32(len(body))))
	out = append(out, body...)
	_, err = w.Write(out)
	return err
}

// ReadFileMetaInformation parses the meta group of a Part 10 file and returns
// it together with the offset of the data set.
func ReadFileMetaInformation(data []byte) (FileMeta, int, error) {
	var meta FileMeta
	if !HasPart10Header(data) {
		return meta, 0, ErrNotPart10
	}

	offset := preambleLength + len(magic)
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset:])
		if group != 0x0002 {
			break
		}
		element := binary.LittleEndian.Uint16(data[offset+2:])
		vr := string(data[offset+4 : offset+6])

		var length, valueOffset int
		if isLongVR(vr) {
			if offset+12 > len(data) {
				return meta, 0, fmt.Errorf("dicom: truncated meta element (0002,%04x)", element)
			}
			length = int(binary.LittleEndian.Uint32(data[offset+8:]))
			valueOffset = offset + 12
		} else {
			length = int(binary.LittleEndian.Uint16(data[offset+6:]))
			valueOffset = offset + 8
		}
		end := valueOffset + length
		if end > len(data) {
			return meta, 0, fmt.Errorf("dicom: meta element (0002,%04x) exceeds data", element)
		}

		value := strings.TrimRight(string(data[valueOffset:end]), "\x00 ")
		switch (Tag{group, element}) {
		case TagMediaStorageSOPClassUID:
			meta.MediaStorageSOPClassUID = value
		case TagMediaStorageSOPInstanceUID:
			meta.MediaStorageSOPInstanceUID = value
		case TagTransferSyntaxUID:
			meta.TransferSyntaxUID = value
		case TagImplementationClassUID:
			meta.ImplementationClassUID = value
		case TagImplementationVersionName:
			meta.ImplementationVersionName = value
		case TagSourceApplicationEntityTitle:
			meta.SourceAETitle = value
		}
		offset = end
	}
	return meta, offset, nil
}

// StripPart10Header removes the preamble and File Meta Information and
// returns only the data set, which is what a C-STORE carries.
func StripPart10Header(data []byte) ([]byte, error) {
	_, offset, err := ReadFileMetaInformation(data)
	if err != nil {
		return nil, err
	}
	if offset >= len(data) {
		return nil, fmt.Errorf("dicom: no data set after File Meta Information")
	}
	return data[offset:], nil
}

// HasPart10Header checks if the data starts with a DICOM Part 10 header.
func HasPart10Header(data []byte) bool {
	return len(data) >= preambleLength+len(magic) && string(data[preambleLength:preambleLength+len(magic)]) == magic
}
