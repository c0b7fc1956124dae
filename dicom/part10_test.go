package dicom

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomscp/types"
)

func TestWriteAndReadFileMetaInformation(t *testing.T) {
	meta := FileMeta{
		MediaStorageSOPClassUID:    types.CTImageStorage,
		MediaStorageSOPInstanceUID: "1.2.3.4.5",
		TransferSyntaxUID:          types.ExplicitVRLittleEndian,
		SourceAETitle:              "MODALITY",
	}
	dataset := []byte{0x10, 0x00, 0x20, 0x00, 'L', 'O', 0x02, 0x00, 'P', '1'}

	var buf bytes.Buffer
	require.NoError(t, WriteFileMetaInformation(&buf, meta))
	buf.Write(dataset)

	data := buf.Bytes()
	assert.True(t, HasPart10Header(data))

	got, offset, err := ReadFileMetaInformation(data)
	require.NoError(t, err)
	meta.ImplementationClassUID = ImplementationClassUID
	meta.ImplementationVersionName = ImplementationVersionName
	assert.Equal(t, meta, got)
	assert.Equal(t, dataset, data[offset:])

	stripped, err := StripPart10Header(data)
	require.NoError(t, err)
	assert.Equal(t, dataset, stripped)
}

func TestStripPart10Header_Errors(t *testing.T) {
	_, err := StripPart10Header(make([]byte, 10))
	assert.ErrorIs(t, err, ErrNotPart10)

	_, err = StripPart10Header(make([]byte, 200))
	assert.ErrorIs(t, err, ErrNotPart10)

	var buf bytes.Buffer
	require.NoError(t, WriteFileMetaInformation(&buf, FileMeta{TransferSyntaxUID: types.ImplicitVRLittleEndian}))
	_, err = StripPart10Header(buf.Bytes())
	assert.Error(t, err, "meta only, no data set")
}

func TestHasPart10Header_RawDataset(t *testing.T) {
	assert.False(t, HasPart10Header([]byte{0x08, 0x00, 0x05, 0x00}))
}

func TestNewUID(t *testing.T) {
	a, b := NewUID(), NewUID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "2.25."))
	assert.LessOrEqual(t, len(a), 64)
}
