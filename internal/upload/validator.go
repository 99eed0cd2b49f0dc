package upload

import (
	"fmt"
	"strconv"
	"strings"
)

// Fields is the raw, untrusted input to validateMetadata: the decoded
// pre-request JSON body, with every value rendered back to text.
// validateMetadata is the only place that parses them. Chunk requests do
// not go through Fields; they reuse the Metadata bound to the session.
type Fields struct {
	DeviceID      string
	MeasurementID string
	AttachmentID  string
	DeviceType    string
	OSVersion     string
	AppVersion    string
	Modality      string
	Length        string
	LocationCount string
	FormatVersion string

	StartLocLat string
	StartLocLon string
	StartLocTS  string
	EndLocLat   string
	EndLocLon   string
	EndLocTS    string
}

const (
	deviceIDLength  = 36
	maxFieldLength  = 30
	measurementIDLength = 20
)

// validateMetadata turns untrusted Fields into a Metadata value, or
// rejects it. It never performs I/O and never mutates global state.
func validateMetadata(f Fields) (Metadata, error) {
	formatVersion, err := strconv.Atoi(strings.TrimSpace(f.FormatVersion))
	if err != nil {
		return Metadata{}, ErrInvalidMetadata
	}
	if formatVersion != SupportedFormatVersion {
		return Metadata{}, ErrSkipUpload
	}

	locationCount, err := strconv.ParseInt(strings.TrimSpace(f.LocationCount), 10, 64)
	if err != nil || locationCount < 0 {
		return Metadata{}, ErrInvalidMetadata
	}
	if locationCount < 2 {
		return Metadata{}, ErrSkipUpload
	}

	if len(f.DeviceID) != deviceIDLength {
		return Metadata{}, ErrInvalidMetadata
	}
	if err := checkRequiredTextField(f.MeasurementID, measurementIDLength); err != nil {
		return Metadata{}, err
	}
	for _, r := range f.MeasurementID {
		if r < '0' || r > '9' {
			return Metadata{}, ErrInvalidMetadata
		}
	}

	for _, field := range []string{f.DeviceType, f.OSVersion, f.AppVersion, f.Modality} {
		if err := checkRequiredTextField(field, maxFieldLength); err != nil {
			return Metadata{}, err
		}
	}

	length, err := strconv.ParseFloat(strings.TrimSpace(f.Length), 64)
	if err != nil || length < 0 {
		return Metadata{}, ErrInvalidMetadata
	}

	start, end, err := validateLocationPair(f)
	if err != nil {
		return Metadata{}, err
	}

	return Metadata{
		DeviceID:      f.DeviceID,
		MeasurementID: f.MeasurementID,
		AttachmentID:  f.AttachmentID,
		DeviceType:    f.DeviceType,
		OSVersion:     f.OSVersion,
		AppVersion:    f.AppVersion,
		Modality:      f.Modality,
		Length:        length,
		LocationCount: locationCount,
		StartLocation: start,
		EndLocation:   end,
		FormatVersion: formatVersion,
	}, nil
}

func checkRequiredTextField(value string, maxLen int) error {
	if value == "" || len(value) > maxLen {
		return ErrInvalidMetadata
	}
	return nil
}

// validateLocationPair enforces the "all six or none" rule for the
// optional start/end location fields.
func validateLocationPair(f Fields) (*Location, *Location, error) {
	present := []string{f.StartLocLat, f.StartLocLon, f.StartLocTS, f.EndLocLat, f.EndLocLon, f.EndLocTS}

	anySet := false
	allSet := true
	for _, v := range present {
		if v != "" {
			anySet = true
		} else {
			allSet = false
		}
	}
	if !anySet {
		return nil, nil, nil
	}
	if !allSet {
		return nil, nil, ErrInvalidMetadata
	}

	start, err := parseLocation(f.StartLocTS, f.StartLocLat, f.StartLocLon)
	if err != nil {
		return nil, nil, err
	}
	end, err := parseLocation(f.EndLocTS, f.EndLocLat, f.EndLocLon)
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func parseLocation(ts, lat, lon string) (*Location, error) {
	t, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return nil, ErrInvalidMetadata
	}
	latF, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil || latF < -90 || latF > 90 {
		return nil, ErrInvalidMetadata
	}
	lonF, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil || lonF < -180 || lonF > 180 {
		return nil, ErrInvalidMetadata
	}
	return &Location{Timestamp: t, Lat: latF, Lon: lonF}, nil
}

// parseContentRange accepts exactly "bytes <from>-<to>/<total>".
func parseContentRange(header string) (from, to, total int64, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, 0, ErrUnparsable
	}
	rest := strings.TrimPrefix(header, prefix)

	slashIdx := strings.IndexByte(rest, '/')
	if slashIdx < 0 {
		return 0, 0, 0, ErrUnparsable
	}
	rangePart, totalPart := rest[:slashIdx], rest[slashIdx+1:]

	dashIdx := strings.IndexByte(rangePart, '-')
	if dashIdx < 0 {
		return 0, 0, 0, ErrUnparsable
	}

	from, err = strconv.ParseInt(rangePart[:dashIdx], 10, 64)
	if err != nil || from < 0 {
		return 0, 0, 0, ErrUnparsable
	}
	to, err = strconv.ParseInt(rangePart[dashIdx+1:], 10, 64)
	if err != nil || to < from {
		return 0, 0, 0, ErrUnparsable
	}
	total, err = strconv.ParseInt(totalPart, 10, 64)
	if err != nil || total < 0 {
		return 0, 0, 0, ErrUnparsable
	}

	return from, to, total, nil
}

// parseStatusRange accepts exactly "bytes */<total>".
func parseStatusRange(header string) (total int64, err error) {
	const prefix = "bytes */"
	if !strings.HasPrefix(header, prefix) {
		return 0, ErrUnparsable
	}
	total, err = strconv.ParseInt(strings.TrimPrefix(header, prefix), 10, 64)
	if err != nil || total < 0 {
		return 0, ErrUnparsable
	}
	return total, nil
}

// checkDeclaredSize parses the x-upload-content-length header and
// enforces the configured payload limit.
func checkDeclaredSize(header string, limit int64) (int64, error) {
	size, err := strconv.ParseInt(strings.TrimSpace(header), 10, 64)
	if err != nil {
		return 0, ErrUnparsable
	}
	if size < 1 {
		return 0, ErrUnparsable
	}
	if size > limit {
		return 0, ErrPayloadTooLarge
	}
	return size, nil
}

// contentRangeHeader renders the Range header clients expect on a 308:
// "bytes=0-<n-1>", only ever called with n > 0.
func contentRangeHeader(n int64) string {
	return fmt.Sprintf("bytes=0-%d", n-1)
}

// formatFloat and formatInt convert a decoded JSON pre-request field back
// into the plain-text form validateMetadata expects, since Fields holds
// every value as a string.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
