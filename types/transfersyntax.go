package types

// Transfer Syntax UIDs, DICOM PS3.5 section 10 and PS3.6 Annex A.
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"

	JPEGBaseline8Bit  = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit = "1.2.840.10008.1.2.4.51"
	JPEGLossless      = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1   = "1.2.840.10008.1.2.4.70"

	JPEGLSLossless     = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless = "1.2.840.10008.1.2.4.81"

	JPEG2000Lossless = "1.2.840.10008.1.2.4.90"
	JPEG2000         = "1.2.840.10008.1.2.4.91"

	RLELossless = "1.2.840.10008.1.2.5"

	MPEG2MainProfile        = "1.2.840.10008.1.2.4.100"
	MPEG4AVCH264HighProfile = "1.2.840.10008.1.2.4.102"
	HEVCH265MainProfile     = "1.2.840.10008.1.2.4.107"

	HTJ2KLossless = "1.2.840.10008.1.2.4.201"
	HTJ2K         = "1.2.840.10008.1.2.4.203"
)

// TransferSyntaxInfo describes the encoding rules named by a transfer syntax UID.
type TransferSyntaxInfo struct {
	UID          string
	Name         string
	ExplicitVR   bool
	BigEndian    bool
	Deflated     bool
	Encapsulated bool // pixel data is carried in compressed fragments
	Lossless     bool
	Retired      bool
}

// Compressed reports whether the data set or its pixel data is compressed.
func (i TransferSyntaxInfo) Compressed() bool {
	return i.Deflated || i.Encapsulated
}

type tsFlag uint8

const (
	tsExplicit tsFlag = 1 << iota
	tsBigEndian
	tsDeflated
	tsEncapsulated
	tsLossless
	tsRetired
)

func transferSyntax(uid, name string, flags tsFlag) TransferSyntaxInfo {
	return TransferSyntaxInfo{
		UID:          uid,
		Name:         name,
		ExplicitVR:   flags&tsExplicit != 0,
		BigEndian:    flags&tsBigEndian != 0,
		Deflated:     flags&tsDeflated != 0,
		Encapsulated: flags&tsEncapsulated != 0,
		Lossless:     flags&tsLossless != 0,
		Retired:      flags&tsRetired != 0,
	}
}

var transferSyntaxes = func() map[string]TransferSyntaxInfo {
	list := []TransferSyntaxInfo{
		transferSyntax(ImplicitVRLittleEndian, "Implicit VR Little Endian", tsLossless),
		transferSyntax(ExplicitVRLittleEndian, "Explicit VR Little Endian", tsExplicit|tsLossless),
		transferSyntax(ExplicitVRBigEndian, "Explicit VR Big Endian", tsExplicit|tsBigEndian|tsLossless|tsRetired),
		transferSyntax(DeflatedExplicitVRLittleEndian, "Deflated Explicit VR Little Endian", tsExplicit|tsDeflated|tsLossless),
		transferSyntax(JPEGBaseline8Bit, "JPEG Baseline (Process 1)", tsExplicit|tsEncapsulated),
		transferSyntax(JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", tsExplicit|tsEncapsulated),
		transferSyntax(JPEGLossless, "JPEG Lossless, Non-Hierarchical (Process 14)", tsExplicit|tsEncapsulated|tsLossless),
		transferSyntax(JPEGLosslessSV1, "JPEG Lossless, Non-Hierarchical, First-Order Prediction", tsExplicit|tsEncapsulated|tsLossless),
		transferSyntax(JPEGLSLossless, "JPEG-LS Lossless", tsExplicit|tsEncapsulated|tsLossless),
		transferSyntax(JPEGLSNearLossless, "JPEG-LS Lossy (Near-Lossless)", tsExplicit|tsEncapsulated),
		transferSyntax(JPEG2000Lossless, "JPEG 2000 Image Compression (Lossless Only)", tsExplicit|tsEncapsulated|tsLossless),
		transferSyntax(JPEG2000, "JPEG 2000 Image Compression", tsExplicit|tsEncapsulated),
		transferSyntax(RLELossless, "RLE Lossless", tsExplicit|tsEncapsulated|tsLossless),
		transferSyntax(MPEG2MainProfile, "MPEG2 Main Profile / Main Level", tsExplicit|tsEncapsulated),
		transferSyntax(MPEG4AVCH264HighProfile, "MPEG-4 AVC/H.264 High Profile / Level 4.1", tsExplicit|tsEncapsulated),
		transferSyntax(HEVCH265MainProfile, "HEVC/H.265 Main Profile / Level 5.1", tsExplicit|tsEncapsulated),
		transferSyntax(HTJ2KLossless, "High-Throughput JPEG 2000 (Lossless Only)", tsExplicit|tsEncapsulated|tsLossless),
		transferSyntax(HTJ2K, "High-Throughput JPEG 2000", tsExplicit|tsEncapsulated),
	}
	m := make(map[string]TransferSyntaxInfo, len(list))
	for _, ts := range list {
		m[ts.UID] = ts
	}
	return m
}()

// LookupTransferSyntax returns the registered description of uid.
func LookupTransferSyntax(uid string) (TransferSyntaxInfo, bool) {
	info, ok := transferSyntaxes[uid]
	return info, ok
}

// GetTransferSyntaxInfo returns the description of uid. Unknown UIDs are
// reported as explicit little endian encapsulated syntaxes, which is how every
// transfer syntax registered after the original set is defined.
func GetTransferSyntaxInfo(uid string) TransferSyntaxInfo {
	if info, ok := transferSyntaxes[uid]; ok {
		return info
	}
	return TransferSyntaxInfo{UID: uid, Name: "Unknown", ExplicitVR: true, Encapsulated: true}
}

// IsCompressed reports whether uid names a deflated or encapsulated syntax.
func IsCompressed(uid string) bool {
	return GetTransferSyntaxInfo(uid).Compressed()
}

// IsEncapsulated reports whether uid carries compressed pixel data fragments.
func IsEncapsulated(uid string) bool {
	return GetTransferSyntaxInfo(uid).Encapsulated
}

// IsLossless reports whether uid preserves pixel data exactly.
func IsLossless(uid string) bool {
	return GetTransferSyntaxInfo(uid).Lossless
}

// IsDeflated reports whether the data set is deflate compressed.
func IsDeflated(uid string) bool {
	return GetTransferSyntaxInfo(uid).Deflated
}

// UncompressedTransferSyntaxes returns the native syntaxes every service can
// decode, most widely supported first.
func UncompressedTransferSyntaxes() []string {
	return []string{ExplicitVRLittleEndian, ImplicitVRLittleEndian}
}
