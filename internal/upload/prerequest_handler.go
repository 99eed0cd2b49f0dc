package upload

import (
	"encoding/json"
	"net/http"
)

// preRequestBody is the JSON shape of the pre-request body (spec.md §6).
type preRequestBody struct {
	DeviceID      string  `json:"deviceId"`
	MeasurementID string  `json:"measurementId"`
	AttachmentID  string  `json:"attachmentId"`
	DeviceType    string  `json:"deviceType"`
	OSVersion     string  `json:"osVersion"`
	AppVersion    string  `json:"appVersion"`
	Modality      string  `json:"modality"`
	Length        float64 `json:"length"`
	LocationCount int64   `json:"locationCount"`
	FormatVersion int     `json:"formatVersion"`

	StartLocLat *float64 `json:"startLocLat"`
	StartLocLon *float64 `json:"startLocLon"`
	StartLocTS  *int64   `json:"startLocTS"`
	EndLocLat   *float64 `json:"endLocLat"`
	EndLocLon   *float64 `json:"endLocLon"`
	EndLocTS    *int64   `json:"endLocTS"`
}

func (b preRequestBody) toFields() Fields {
	f := Fields{
		DeviceID:      b.DeviceID,
		MeasurementID: b.MeasurementID,
		AttachmentID:  b.AttachmentID,
		DeviceType:    b.DeviceType,
		OSVersion:     b.OSVersion,
		AppVersion:    b.AppVersion,
		Modality:      b.Modality,
		Length:        formatFloat(b.Length),
		LocationCount: formatInt(b.LocationCount),
		FormatVersion: formatInt(int64(b.FormatVersion)),
	}
	if b.StartLocLat != nil {
		f.StartLocLat = formatFloat(*b.StartLocLat)
	}
	if b.StartLocLon != nil {
		f.StartLocLon = formatFloat(*b.StartLocLon)
	}
	if b.StartLocTS != nil {
		f.StartLocTS = formatInt(*b.StartLocTS)
	}
	if b.EndLocLat != nil {
		f.EndLocLat = formatFloat(*b.EndLocLat)
	}
	if b.EndLocLon != nil {
		f.EndLocLon = formatFloat(*b.EndLocLon)
	}
	if b.EndLocTS != nil {
		f.EndLocTS = formatInt(*b.EndLocTS)
	}
	return f
}

// handlePreRequest implements spec.md §4.2.
func (h *Handler) handlePreRequest(c *httpContext) error {
	if _, ok := PrincipalFromContext(c); !ok {
		return ErrIllegalSession
	}

	if _, err := checkDeclaredSize(c.req.Header.Get("x-upload-content-length"), h.config.MeasurementPayloadLimit); err != nil {
		return err
	}

	var body preRequestBody
	if err := json.NewDecoder(c.req.Body).Decode(&body); err != nil {
		return ErrUnparsable
	}

	metadata, err := validateMetadata(body.toFields())
	if err != nil {
		return err
	}

	exists, err := h.checkAlreadyStored(c, metadata)
	if err != nil {
		return err
	}
	if exists {
		c.log.Info("PreRequestRejected", "reason", "already stored")
		return ErrAlreadyStored
	}

	session, err := h.sessionStore.Create(c)
	if err != nil {
		return ErrStorageFailure
	}

	session.Bound = true
	session.Metadata = metadata
	if err := h.sessionStore.Update(c, session); err != nil {
		return ErrStorageFailure
	}

	location := h.locationURL(c.req, session.SessionID)
	h.sendResp(c, HTTPResponse{
		StatusCode: http.StatusOK,
		Header: HTTPHeader{
			"Location": location,
		},
	})
	return nil
}

func (h *Handler) checkAlreadyStored(c *httpContext, m Metadata) (bool, error) {
	var (
		exists bool
		err    error
	)
	if m.IsAttachment() {
		exists, err = h.metadataStore.ExistsAttachment(c, m.DeviceID, m.MeasurementID, m.AttachmentID)
	} else {
		exists, err = h.metadataStore.Exists(c, m.DeviceID, m.MeasurementID)
	}
	if isErrorCode(err, ErrDuplicatesInDatabase) {
		return false, err
	}
	if err != nil {
		return false, ErrStorageFailure
	}
	return exists, nil
}
