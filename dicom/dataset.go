package dicom

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/caio-sobreiro/dicomscp/types"
)

// Tag represents a DICOM tag (group, element)
type Tag struct {
	Group   uint16
	Element uint16
}

// String returns the tag as a string in (GGGG,EEEE) format
func (t Tag) String() string {
	return fmt.Sprintf("(%04x,%04x)", t.Group, t.Element)
}

func (t Tag) less(o Tag) bool {
	if t.Group != o.Group {
		return t.Group < o.Group
	}
	return t.Element < o.Element
}

// Attributes carried in C-FIND identifiers and the file meta group.
var (
	TagFileMetaGroupLength           = Tag{0x0002, 0x0000}
	TagFileMetaVersion               = Tag{0x0002, 0x0001}
	TagMediaStorageSOPClassUID       = Tag{0x0002, 0x0002}
	TagMediaStorageSOPInstanceUID    = Tag{0x0002, 0x0003}
	TagTransferSyntaxUID             = Tag{0x0002, 0x0010}
	TagImplementationClassUID        = Tag{0x0002, 0x0012}
	TagImplementationVersionName     = Tag{0x0002, 0x0013}
	TagSourceApplicationEntityTitle  = Tag{0x0002, 0x0016}
	TagSpecificCharacterSet          = Tag{0x0008, 0x0005}
	TagSOPClassUID                   = Tag{0x0008, 0x0016}
	TagSOPInstanceUID                = Tag{0x0008, 0x0018}
	TagStudyDate                     = Tag{0x0008, 0x0020}
	TagStudyTime                     = Tag{0x0008, 0x0030}
	TagAccessionNumber               = Tag{0x0008, 0x0050}
	TagQueryRetrieveLevel            = Tag{0x0008, 0x0052}
	TagRetrieveAETitle               = Tag{0x0008, 0x0054}
	TagModality                      = Tag{0x0008, 0x0060}
	TagModalitiesInStudy             = Tag{0x0008, 0x0061}
	TagStudyDescription              = Tag{0x0008, 0x1030}
	TagSeriesDescription             = Tag{0x0008, 0x103E}
	TagPatientName                   = Tag{0x0010, 0x0010}
	TagPatientID                     = Tag{0x0010, 0x0020}
	TagPatientBirthDate              = Tag{0x0010, 0x0030}
	TagPatientSex                    = Tag{0x0010, 0x0040}
	TagStudyInstanceUID              = Tag{0x0020, 0x000D}
	TagSeriesInstanceUID             = Tag{0x0020, 0x000E}
	TagStudyID                       = Tag{0x0020, 0x0010}
	TagSeriesNumber                  = Tag{0x0020, 0x0011}
	TagInstanceNumber                = Tag{0x0020, 0x0013}
	TagNumberOfStudyRelatedInstances = Tag{0x0020, 0x1208}
)

var dictionary = map[Tag]string{
	TagFileMetaGroupLength:           "UL",
	TagFileMetaVersion:               "OB",
	TagMediaStorageSOPClassUID:       "UI",
	TagMediaStorageSOPInstanceUID:    "UI",
	TagTransferSyntaxUID:             "UI",
	TagImplementationClassUID:        "UI",
	TagImplementationVersionName:     "SH",
	TagSourceApplicationEntityTitle:  "AE",
	TagSpecificCharacterSet:          "CS",
	TagSOPClassUID:                   "UI",
	TagSOPInstanceUID:                "UI",
	TagStudyDate:                     "DA",
	TagStudyTime:                     "TM",
	TagAccessionNumber:               "SH",
	TagQueryRetrieveLevel:            "CS",
	TagRetrieveAETitle:               "AE",
	TagModality:                      "CS",
	TagModalitiesInStudy:             "CS",
	TagStudyDescription:              "LO",
	TagSeriesDescription:             "LO",
	TagPatientName:                   "PN",
	TagPatientID:                     "LO",
	TagPatientBirthDate:              "DA",
	TagPatientSex:                    "CS",
	TagStudyInstanceUID:              "UI",
	TagSeriesInstanceUID:             "UI",
	TagStudyID:                       "SH",
	TagSeriesNumber:                  "IS",
	TagInstanceNumber:                "IS",
	TagNumberOfStudyRelatedInstances: "IS",
}

// LookupVR returns the value representation of a known tag, or "UN".
func LookupVR(tag Tag) string {
	if vr, ok := dictionary[tag]; ok {
		return vr
	}
	if tag.Element == 0x0000 {
		return "UL"
	}
	return "UN"
}

func isLongVR(vr string) bool {
	switch vr {
	case "OB", "OD", "OF", "OL", "OV", "OW", "SQ", "SV", "UC", "UN", "UR", "UT", "UV":
		return true
	}
	return false
}

func isTextVR(vr string) bool {
	switch vr {
	case "AE", "AS", "CS", "DA", "DS", "DT", "IS", "LO", "LT", "PN", "SH", "ST", "TM", "UC", "UI", "UR", "UT":
		return true
	}
	return false
}

// Element represents a DICOM data element. Text values are split on the
// backslash delimiter; every other VR keeps its raw bytes.
type Element struct {
	Tag    Tag
	VR     string
	Values []string
	Raw    []byte
}

// String returns the values joined with the multi-value delimiter.
func (e *Element) String() string {
	return strings.Join(e.Values, "\\")
}

func (e *Element) encodeValue() []byte {
	if !isTextVR(e.VR) {
		v := slices.Clone(e.Raw)
		if len(v)%2 == 1 {
			v = append(v, 0x00)
		}
		return v
	}
	v := []byte(strings.Join(e.Values, "\\"))
	if len(v)%2 == 1 {
		if e.VR == "UI" {
			v = append(v, 0x00)
		} else {
			v = append(v, ' ')
		}
	}
	return v
}

// Dataset is a flat set of elements. It covers what the network layer needs
// to build and read C-FIND identifiers; full Part-10 parsing is done by the
// storage indexer.
type Dataset struct {
	elements map[Tag]*Element
}

// NewDataset creates a new empty dataset
func NewDataset() *Dataset {
	return &Dataset{elements: make(map[Tag]*Element)}
}

// Set stores text values under tag using the dictionary VR. Calling Set with
// no values stores an empty, universal-match attribute.
func (d *Dataset) Set(tag Tag, values ...string) {
	d.elements[tag] = &Element{Tag: tag, VR: LookupVR(tag), Values: values}
}

// SetRaw stores a binary value with an explicit VR.
func (d *Dataset) SetRaw(tag Tag, vr string, raw []byte) {
	d.elements[tag] = &Element{Tag: tag, VR: vr, Raw: raw}
}

// Get returns an element by tag
func (d *Dataset) Get(tag Tag) (*Element, bool) {
	e, ok := d.elements[tag]
	return e, ok
}

// Has reports whether tag is present, even with an empty value.
func (d *Dataset) Has(tag Tag) bool {
	_, ok := d.elements[tag]
	return ok
}

// GetString returns the first value of tag or "".
func (d *Dataset) GetString(tag Tag) string {
	if e, ok := d.elements[tag]; ok && len(e.Values) > 0 {
		return e.Values[0]
	}
	return ""
}

// Len returns the number of elements.
func (d *Dataset) Len() int { return len(d.elements) }

// Tags returns the element tags in ascending order.
func (d *Dataset) Tags() []Tag {
	tags := make([]Tag, 0, len(d.elements))
	for tag := range d.elements {
		tags = append(tags, tag)
	}
	slices.SortFunc(tags, func(a, b Tag) int {
		switch {
		case a.less(b):
			return -1
		case b.less(a):
			return 1
		}
		return 0
	})
	return tags
}

// Encode serialises the dataset in the given transfer syntax. Only the
// little endian native syntaxes are supported.
func (d *Dataset) Encode(transferSyntaxUID string) ([]byte, error) {
	explicit, err := littleEndianExplicit(transferSyntaxUID)
	if err != nil {
		return nil, err
	}
	var buf []byte
	for _, tag := range d.Tags() {
		e := d.elements[tag]
		value := e.encodeValue()
		if explicit {
			buf = appendExplicitElement(buf, tag, e.VR, value)
		} else {
			buf = appendImplicitElement(buf, tag, value)
		}
	}
	return buf, nil
}

// ParseDataset decodes data written in the given transfer syntax. Sequences
// and undefined length values are rejected.
func ParseDataset(data []byte, transferSyntaxUID string) (*Dataset, error) {
	explicit, err := littleEndianExplicit(transferSyntaxUID)
	if err != nil {
		return nil, err
	}
	ds := NewDataset()
	offset := 0
	for offset < len(data) {
		if offset+8 > len(data) {
			return nil, fmt.Errorf("dicom: truncated element header at offset %d", offset)
		}
		tag := Tag{
			Group:   binary.LittleEndian.Uint16(data[offset:]),
			Element: binary.LittleEndian.Uint16(data[offset+2:]),
		}
		var vr string
		var length uint32
		var valueOffset int
		switch {
		case !explicit:
			vr = LookupVR(tag)
			length = binary.LittleEndian.Uint32(data[offset+4:])
			valueOffset = offset + 8
		default:
			vr = string(data[offset+4 : offset+6])
			if isLongVR(vr) {
				if offset+12 > len(data) {
					return nil, fmt.Errorf("dicom: truncated element header at offset %d", offset)
				}
				length = binary.LittleEndian.Uint32(data[offset+8:])
				valueOffset = offset + 12
			} else {
				length = uint32(binary.LittleEndian.Uint16(data[offset+6:]))
				valueOffset = offset + 8
			}
		}
		if length == 0xFFFFFFFF || vr == "SQ" {
			return nil, fmt.Errorf("dicom: element %s: sequences are not supported", tag)
		}
		end := valueOffset + int(length)
		if end > len(data) {
			return nil, fmt.Errorf("dicom: element %s exceeds dataset length", tag)
		}
		value := data[valueOffset:end]
		if isTextVR(vr) {
			e := &Element{Tag: tag, VR: vr}
			if text := strings.TrimRight(string(value), "\x00 "); text != "" {
				e.Values = strings.Split(text, "\\")
				for i := range e.Values {
					e.Values[i] = strings.TrimSpace(e.Values[i])
				}
			}
			ds.elements[tag] = e
		} else {
			ds.SetRaw(tag, vr, slices.Clone(value))
		}
		offset = end
	}
	return ds, nil
}

func littleEndianExplicit(transferSyntaxUID string) (bool, error) {
	switch transferSyntaxUID {
	case types.ImplicitVRLittleEndian:
		return false, nil
	case "", types.ExplicitVRLittleEndian:
		return true, nil
	default:
		return false, fmt.Errorf("dicom: cannot encode identifiers in %s", types.UIDName(transferSyntaxUID))
	}
}

func appendImplicitElement(buf []byte, tag Tag, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, tag.Group)
	buf = binary.LittleEndian.AppendUint16(buf, tag.Element)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	return append(buf, value...)
}

func appendExplicitElement(buf []byte, tag Tag, vr string, value []byte) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, tag.Group)
	buf = binary.LittleEndian.AppendUint16(buf, tag.Element)
	buf = append(buf, vr[0], vr[1])
	if isLongVR(vr) {
		buf = append(buf, 0, 0)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(value)))
	} else {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(value)))
	}
	return append(buf, value...)
}
