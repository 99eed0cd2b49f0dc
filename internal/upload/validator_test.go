package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validFields() Fields {
	return Fields{
		DeviceID:      "123456789012345678901234567890123456", // 36 chars
		MeasurementID: "12345678901234567890",                 // 20 chars, numeric
		DeviceType:    "Pixel 7",
		OSVersion:     "14",
		AppVersion:    "3.2.1",
		Modality:      "BICYCLE",
		Length:        "120.5",
		LocationCount: "3",
		FormatVersion: "2",
	}
}

func TestValidateMetadata_HappyPath(t *testing.T) {
	m, err := validateMetadata(validFields())
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.LocationCount)
	assert.Equal(t, 120.5, m.Length)
	assert.False(t, m.IsAttachment())
	assert.Nil(t, m.StartLocation)
	assert.Nil(t, m.EndLocation)
}

func TestValidateMetadata_WrongFormatVersion(t *testing.T) {
	f := validFields()
	f.FormatVersion = "1"
	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrSkipUpload)
}

func TestValidateMetadata_TooFewLocations(t *testing.T) {
	f := validFields()
	f.LocationCount = "1"
	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrSkipUpload)
}

func TestValidateMetadata_NegativeLocationCount(t *testing.T) {
	f := validFields()
	f.LocationCount = "-1"
	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestValidateMetadata_BadDeviceIDLength(t *testing.T) {
	f := validFields()
	f.DeviceID = "tooshort"
	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestValidateMetadata_NonNumericMeasurementID(t *testing.T) {
	f := validFields()
	f.MeasurementID = "not-a-number-2345678"
	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestValidateMetadata_EmptyRequiredField(t *testing.T) {
	f := validFields()
	f.Modality = ""
	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestValidateMetadata_LocationPairAllOrNothing(t *testing.T) {
	f := validFields()
	f.StartLocLat = "52.5"
	// Only one of six location fields set: rejected.
	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestValidateMetadata_LocationPairComplete(t *testing.T) {
	f := validFields()
	f.StartLocLat, f.StartLocLon, f.StartLocTS = "52.5", "13.4", "1000"
	f.EndLocLat, f.EndLocLon, f.EndLocTS = "52.6", "13.5", "2000"

	m, err := validateMetadata(f)
	require.NoError(t, err)
	require.NotNil(t, m.StartLocation)
	require.NotNil(t, m.EndLocation)
	assert.Equal(t, 52.5, m.StartLocation.Lat)
	assert.Equal(t, int64(2000), m.EndLocation.Timestamp)
}

func TestValidateMetadata_LocationOutOfRange(t *testing.T) {
	f := validFields()
	f.StartLocLat, f.StartLocLon, f.StartLocTS = "200", "13.4", "1000"
	f.EndLocLat, f.EndLocLon, f.EndLocTS = "52.6", "13.5", "2000"

	_, err := validateMetadata(f)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestParseContentRange(t *testing.T) {
	from, to, total, err := parseContentRange("bytes 0-511/2048")
	require.NoError(t, err)
	assert.Equal(t, int64(0), from)
	assert.Equal(t, int64(511), to)
	assert.Equal(t, int64(2048), total)
}

func TestParseContentRange_Malformed(t *testing.T) {
	for _, header := range []string{"", "bytes 0-511", "bytes x-511/2048", "bytes 511-0/2048"} {
		_, _, _, err := parseContentRange(header)
		assert.ErrorIs(t, err, ErrUnparsable, "header %q", header)
	}
}

func TestParseStatusRange(t *testing.T) {
	total, err := parseStatusRange("bytes */2048")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), total)

	_, err = parseStatusRange("bytes 0-511/2048")
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestCheckDeclaredSize(t *testing.T) {
	size, err := checkDeclaredSize(" 2048 ", 4096)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), size)

	_, err = checkDeclaredSize("8192", 4096)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = checkDeclaredSize("not-a-number", 4096)
	assert.ErrorIs(t, err, ErrUnparsable)

	_, err = checkDeclaredSize("0", 4096)
	assert.ErrorIs(t, err, ErrUnparsable)
}

func TestContentRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=0-511", contentRangeHeader(512))
}
