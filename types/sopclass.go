package types

import "sort"

// ApplicationContextUID is the DICOM Application Context Name.
const ApplicationContextUID = "1.2.840.10008.3.1.1.1"

// VerificationSOPClass is the abstract syntax of C-ECHO.
const VerificationSOPClass = "1.2.840.10008.1.1"

// Storage SOP classes, PS3.4 Annex B.5.
const (
	ComputedRadiographyImageStorage                   = "1.2.840.10008.5.1.4.1.1.1"
	DigitalXRayImageStorageForPresentation            = "1.2.840.10008.5.1.4.1.1.1.1"
	DigitalXRayImageStorageForProcessing              = "1.2.840.10008.5.1.4.1.1.1.1.1"
	DigitalMammographyXRayImageStorageForPresentation = "1.2.840.10008.5.1.4.1.1.1.2"
	DigitalMammographyXRayImageStorageForProcessing   = "1.2.840.10008.5.1.4.1.1.1.2.1"
	DigitalIntraOralXRayImageStorageForPresentation   = "1.2.840.10008.5.1.4.1.1.1.3"
	CTImageStorage                                    = "1.2.840.10008.5.1.4.1.1.2"
	EnhancedCTImageStorage                            = "1.2.840.10008.5.1.4.1.1.2.1"
	UltrasoundMultiFrameImageStorage                  = "1.2.840.10008.5.1.4.1.1.3.1"
	MRImageStorage                                    = "1.2.840.10008.5.1.4.1.1.4"
	EnhancedMRImageStorage                            = "1.2.840.10008.5.1.4.1.1.4.1"
	MRSpectroscopyStorage                             = "1.2.840.10008.5.1.4.1.1.4.2"
	UltrasoundImageStorage                            = "1.2.840.10008.5.1.4.1.1.6.1"
	SecondaryCaptureImageStorage                      = "1.2.840.10008.5.1.4.1.1.7"
	MultiFrameSingleBitSecondaryCaptureImageStorage   = "1.2.840.10008.5.1.4.1.1.7.1"
	MultiFrameGrayscaleByteSecondaryCaptureStorage    = "1.2.840.10008.5.1.4.1.1.7.2"
	MultiFrameGrayscaleWordSecondaryCaptureStorage    = "1.2.840.10008.5.1.4.1.1.7.3"
	MultiFrameTrueColorSecondaryCaptureImageStorage   = "1.2.840.10008.5.1.4.1.1.7.4"
	TwelveLeadECGWaveformStorage                      = "1.2.840.10008.5.1.4.1.1.9.1.1"
	GeneralECGWaveformStorage                         = "1.2.840.10008.5.1.4.1.1.9.1.2"
	BasicVoiceAudioWaveformStorage                    = "1.2.840.10008.5.1.4.1.1.9.4.1"
	GrayscaleSoftcopyPresentationStateStorage         = "1.2.840.10008.5.1.4.1.1.11.1"
	XRayAngiographicImageStorage                      = "1.2.840.10008.5.1.4.1.1.12.1"
	XRayRadiofluoroscopicImageStorage                 = "1.2.840.10008.5.1.4.1.1.12.2"
	BreastTomosynthesisImageStorage                   = "1.2.840.10008.5.1.4.1.1.13.1.3"
	NuclearMedicineImageStorage                       = "1.2.840.10008.5.1.4.1.1.20"
	VLEndoscopicImageStorage                          = "1.2.840.10008.5.1.4.1.1.77.1.1"
	VLMicroscopicImageStorage                         = "1.2.840.10008.5.1.4.1.1.77.1.2"
	VLPhotographicImageStorage                        = "1.2.840.10008.5.1.4.1.1.77.1.4"
	VLWholeSlideMicroscopyImageStorage                = "1.2.840.10008.5.1.4.1.1.77.1.6"
	OphthalmicPhotography8BitImageStorage             = "1.2.840.10008.5.1.4.1.1.77.1.5.1"
	BasicTextSRStorage                                = "1.2.840.10008.5.1.4.1.1.88.11"
	EnhancedSRStorage                                 = "1.2.840.10008.5.1.4.1.1.88.22"
	ComprehensiveSRStorage                            = "1.2.840.10008.5.1.4.1.1.88.33"
	KeyObjectSelectionDocumentStorage                 = "1.2.840.10008.5.1.4.1.1.88.59"
	EncapsulatedPDFStorage                            = "1.2.840.10008.5.1.4.1.1.104.1"
	EncapsulatedCDAStorage                            = "1.2.840.10008.5.1.4.1.1.104.2"
	PETImageStorage                                   = "1.2.840.10008.5.1.4.1.1.128"
	EnhancedPETImageStorage                           = "1.2.840.10008.5.1.4.1.1.130"
	RTImageStorage                                    = "1.2.840.10008.5.1.4.1.1.481.1"
	RTDoseStorage                                     = "1.2.840.10008.5.1.4.1.1.481.2"
	RTStructureSetStorage                             = "1.2.840.10008.5.1.4.1.1.481.3"
	RTPlanStorage                                     = "1.2.840.10008.5.1.4.1.1.481.5"
)

// Query/Retrieve SOP classes.
const (
	PatientRootQueryRetrieveInformationModelFind = "1.2.840.10008.5.1.4.1.2.1.1"
	PatientRootQueryRetrieveInformationModelMove = "1.2.840.10008.5.1.4.1.2.1.2"
	PatientRootQueryRetrieveInformationModelGet  = "1.2.840.10008.5.1.4.1.2.1.3"
	StudyRootQueryRetrieveInformationModelFind   = "1.2.840.10008.5.1.4.1.2.2.1"
	StudyRootQueryRetrieveInformationModelMove   = "1.2.840.10008.5.1.4.1.2.2.2"
	StudyRootQueryRetrieveInformationModelGet    = "1.2.840.10008.5.1.4.1.2.2.3"
	ModalityWorklistInformationModelFind         = "1.2.840.10008.5.1.4.31"
)

// SOP class categories.
const (
	CategoryVerification  = "Verification"
	CategoryStorage       = "Storage"
	CategoryQueryRetrieve = "Query/Retrieve"
	CategoryWorklist      = "Worklist"
)

// SOPClassInfo names a SOP class and the service it belongs to.
type SOPClassInfo struct {
	UID      string
	Name     string
	Category string
	Image    bool // storage class whose instances carry pixel data
}

func storage(uid, name string, image bool) SOPClassInfo {
	return SOPClassInfo{UID: uid, Name: name, Category: CategoryStorage, Image: image}
}

var sopClasses = func() map[string]SOPClassInfo {
	list := []SOPClassInfo{
		{UID: VerificationSOPClass, Name: "Verification SOP Class", Category: CategoryVerification},

		storage(ComputedRadiographyImageStorage, "Computed Radiography Image Storage", true),
		storage(DigitalXRayImageStorageForPresentation, "Digital X-Ray Image Storage - For Presentation", true),
		storage(DigitalXRayImageStorageForProcessing, "Digital X-Ray Image Storage - For Processing", true),
		storage(DigitalMammographyXRayImageStorageForPresentation, "Digital Mammography X-Ray Image Storage - For Presentation", true),
		storage(DigitalMammographyXRayImageStorageForProcessing, "Digital Mammography X-Ray Image Storage - For Processing", true),
		storage(DigitalIntraOralXRayImageStorageForPresentation, "Digital Intra-Oral X-Ray Image Storage - For Presentation", true),
		storage(CTImageStorage, "CT Image Storage", true),
		storage(EnhancedCTImageStorage, "Enhanced CT Image Storage", true),
		storage(UltrasoundMultiFrameImageStorage, "Ultrasound Multi-frame Image Storage", true),
		storage(MRImageStorage, "MR Image Storage", true),
		storage(EnhancedMRImageStorage, "Enhanced MR Image Storage", true),
		storage(MRSpectroscopyStorage, "MR Spectroscopy Storage", false),
		storage(UltrasoundImageStorage, "Ultrasound Image Storage", true),
		storage(SecondaryCaptureImageStorage, "Secondary Capture Image Storage", true),
		storage(MultiFrameSingleBitSecondaryCaptureImageStorage, "Multi-frame Single Bit Secondary Capture Image Storage", true),
		storage(MultiFrameGrayscaleByteSecondaryCaptureStorage, "Multi-frame Grayscale Byte Secondary Capture Image Storage", true),
		storage(MultiFrameGrayscaleWordSecondaryCaptureStorage, "Multi-frame Grayscale Word Secondary Capture Image Storage", true),
		storage(MultiFrameTrueColorSecondaryCaptureImageStorage, "Multi-frame True Color Secondary Capture Image Storage", true),
		storage(TwelveLeadECGWaveformStorage, "12-lead ECG Waveform Storage", false),
		storage(GeneralECGWaveformStorage, "General ECG Waveform Storage", false),
		storage(BasicVoiceAudioWaveformStorage, "Basic Voice Audio Waveform Storage", false),
		storage(GrayscaleSoftcopyPresentationStateStorage, "Grayscale Softcopy Presentation State Storage", false),
		storage(XRayAngiographicImageStorage, "X-Ray Angiographic Image Storage", true),
		storage(XRayRadiofluoroscopicImageStorage, "X-Ray Radiofluoroscopic Image Storage", true),
		storage(BreastTomosynthesisImageStorage, "Breast Tomosynthesis Image Storage", true),
		storage(NuclearMedicineImageStorage, "Nuclear Medicine Image Storage", true),
		storage(VLEndoscopicImageStorage, "VL Endoscopic Image Storage", true),
		storage(VLMicroscopicImageStorage, "VL Microscopic Image Storage", true),
		storage(VLPhotographicImageStorage, "VL Photographic Image Storage", true),
		storage(VLWholeSlideMicroscopyImageStorage, "VL Whole Slide Microscopy Image Storage", true),
		storage(OphthalmicPhotography8BitImageStorage, "Ophthalmic Photography 8 Bit Image Storage", true),
		storage(BasicTextSRStorage, "Basic Text SR Storage", false),
		storage(EnhancedSRStorage, "Enhanced SR Storage", false),
		storage(ComprehensiveSRStorage, "Comprehensive SR Storage", false),
		storage(KeyObjectSelectionDocumentStorage, "Key Object Selection Document Storage", false),
		storage(EncapsulatedPDFStorage, "Encapsulated PDF Storage", false),
		storage(EncapsulatedCDAStorage, "Encapsulated CDA Storage", false),
		storage(PETImageStorage, "Positron Emission Tomography Image Storage", true),
		storage(EnhancedPETImageStorage, "Enhanced PET Image Storage", true),
		storage(RTImageStorage, "RT Image Storage", true),
		storage(RTDoseStorage, "RT Dose Storage", false),
		storage(RTStructureSetStorage, "RT Structure Set Storage", false),
		storage(RTPlanStorage, "RT Plan Storage", false),

		{UID: PatientRootQueryRetrieveInformationModelFind, Name: "Patient Root Query/Retrieve Information Model - FIND", Category: CategoryQueryRetrieve},
		{UID: PatientRootQueryRetrieveInformationModelMove, Name: "Patient Root Query/Retrieve Information Model - MOVE", Category: CategoryQueryRetrieve},
		{UID: PatientRootQueryRetrieveInformationModelGet, Name: "Patient Root Query/Retrieve Information Model - GET", Category: CategoryQueryRetrieve},
		{UID: StudyRootQueryRetrieveInformationModelFind, Name: "Study Root Query/Retrieve Information Model - FIND", Category: CategoryQueryRetrieve},
		{UID: StudyRootQueryRetrieveInformationModelMove, Name: "Study Root Query/Retrieve Information Model - MOVE", Category: CategoryQueryRetrieve},
		{UID: StudyRootQueryRetrieveInformationModelGet, Name: "Study Root Query/Retrieve Information Model - GET", Category: CategoryQueryRetrieve},
		{UID: ModalityWorklistInformationModelFind, Name: "Modality Worklist Information Model - FIND", Category: CategoryWorklist},
	}
	m := make(map[string]SOPClassInfo, len(list))
	for _, c := range list {
		m[c.UID] = c
	}
	return m
}()

// GetSOPClassInfo returns the registered description of uid.
func GetSOPClassInfo(uid string) (SOPClassInfo, bool) {
	info, ok := sopClasses[uid]
	return info, ok
}

// IsStorageSOPClass reports whether uid is a registered storage SOP class.
func IsStorageSOPClass(uid string) bool {
	return sopClasses[uid].Category == CategoryStorage
}

// IsImageStorageSOPClass reports whether uid is a storage class carrying pixel data.
func IsImageStorageSOPClass(uid string) bool {
	info := sopClasses[uid]
	return info.Category == CategoryStorage && info.Image
}

// IsQueryRetrieveSOPClass reports whether uid is a query/retrieve information model.
func IsQueryRetrieveSOPClass(uid string) bool {
	return sopClasses[uid].Category == CategoryQueryRetrieve
}

// StorageSOPClasses lists every registered storage SOP class in UID order.
func StorageSOPClasses() []string {
	out := make([]string, 0, len(sopClasses))
	for uid, info := range sopClasses {
		if info.Category == CategoryStorage {
			out = append(out, uid)
		}
	}
	sort.Strings(out)
	return out
}

// UIDName returns a human readable name for a SOP class or transfer syntax UID,
// or the UID itself when it is not registered.
func UIDName(uid string) string {
	if info, ok := sopClasses[uid]; ok {
		return info.Name
	}
	if info, ok := transferSyntaxes[uid]; ok {
		return info.Name
	}
	return uid
}
