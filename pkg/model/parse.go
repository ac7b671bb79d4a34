package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
)

// Wire field names. The same flat names are used as JSON keys in the
// pre-request body and as HTTP header names on chunk PUTs.
const (
	FieldDeviceID      = "deviceId"
	FieldMeasurementID = "measurementId"
	FieldOSVersion     = "osVersion"
	FieldDeviceType    = "deviceType"
	FieldAppVersion    = "appVersion"
	FieldFormatVersion = "formatVersion"
	FieldLength        = "length"
	FieldLocationCount = "locationCount"
	FieldStartLocLat   = "startLocLat"
	FieldStartLocLon   = "startLocLon"
	FieldStartLocTS    = "startLocTS"
	FieldEndLocLat     = "endLocLat"
	FieldEndLocLon     = "endLocLon"
	FieldEndLocTS      = "endLocTS"
	FieldModality      = "modality"
	FieldLogCount      = "logCount"
	FieldImageCount    = "imageCount"
	FieldVideoCount    = "videoCount"
	FieldFilesSize     = "filesSize"
)

// ErrInvalidMetadata is the kind wrapped by every metadata parse or
// validation failure. Handlers map it to 422 Unprocessable Entity.
var ErrInvalidMetadata = errors.New("invalid metadata")

// ErrMissingLocations reports a measurement without boundary locations.
// Handlers map it to 412 Precondition Failed: a measurement that never got
// a geographic fix carries no usable track and is rejected up front.
var ErrMissingLocations = errors.New("measurement has no locations")

// FieldError is a metadata failure tied to a specific wire field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("metadata field %q: %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrInvalidMetadata) hold for field errors.
func (e *FieldError) Unwrap() error { return ErrInvalidMetadata }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// lookup resolves a wire field to its raw string value.
// The bool result reports presence, mirroring map access.
type lookup func(name string) (string, bool)

// ParseJSON decodes metadata from a pre-request JSON body.
//
// The body is a flat JSON object keyed by the wire field names. Clients
// send numeric fields both as JSON numbers and as strings; both forms are
// accepted and funnel through the same field parser as header metadata.
func ParseJSON(r io.Reader) (*Metadata, error) {
	var raw map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: body is not a JSON object: %v", ErrInvalidMetadata, err)
	}

	return parseFrom(func(name string) (string, bool) {
		v, ok := raw[name]
		if !ok || v == nil {
			return "", false
		}
		switch t := v.(type) {
		case string:
			return t, true
		case json.Number:
			return t.String(), true
		case bool:
			return strconv.FormatBool(t), true
		default:
			// Nested objects or arrays are never valid field values.
			return fmt.Sprintf("%v", t), true
		}
	})
}

// ParseHeaders decodes metadata from the flat header set of a chunk PUT.
func ParseHeaders(h http.Header) (*Metadata, error) {
	return parseFrom(func(name string) (string, bool) {
		v := h.Get(name)
		return v, v != ""
	})
}

// parseFrom builds a Metadata record from raw field values, enforcing the
// syntactic rules: every failure is a FieldError naming the culprit.
func parseFrom(get lookup) (*Metadata, error) {
	m := &Metadata{}

	raw, ok := get(FieldDeviceID)
	if !ok {
		return nil, fieldErr(FieldDeviceID, "required")
	}
	deviceID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fieldErr(FieldDeviceID, "not a well-formed UUID: %q", raw)
	}
	m.DeviceID = deviceID

	if m.MeasurementID, err = parseUint(get, FieldMeasurementID, true); err != nil {
		return nil, err
	}
	if m.OSVersion, err = parseString(get, FieldOSVersion); err != nil {
		return nil, err
	}
	if m.DeviceType, err = parseString(get, FieldDeviceType); err != nil {
		return nil, err
	}
	if m.AppVersion, err = parseString(get, FieldAppVersion); err != nil {
		return nil, err
	}

	rawVersion, ok := get(FieldFormatVersion)
	if !ok {
		return nil, fieldErr(FieldFormatVersion, "required")
	}
	m.FormatVersion, err = strconv.Atoi(rawVersion)
	if err != nil {
		return nil, fieldErr(FieldFormatVersion, "not an integer: %q", rawVersion)
	}

	rawLength, ok := get(FieldLength)
	if !ok {
		return nil, fieldErr(FieldLength, "required")
	}
	m.Length, err = strconv.ParseFloat(rawLength, 64)
	if err != nil || math.IsNaN(m.Length) || math.IsInf(m.Length, 0) {
		return nil, fieldErr(FieldLength, "not a decimal number: %q", rawLength)
	}
	if m.Length < 0 {
		return nil, fieldErr(FieldLength, "must be non-negative, got %q", rawLength)
	}

	if m.LocationCount, err = parseUint(get, FieldLocationCount, true); err != nil {
		return nil, err
	}
	if m.Modality, err = parseString(get, FieldModality); err != nil {
		return nil, err
	}

	if m.StartLocation, err = parseLocation(get, FieldStartLocLat, FieldStartLocLon, FieldStartLocTS); err != nil {
		return nil, err
	}
	if m.EndLocation, err = parseLocation(get, FieldEndLocLat, FieldEndLocLon, FieldEndLocTS); err != nil {
		return nil, err
	}

	// Attachment counters are optional and default to zero.
	if m.Attachments.LogCount, err = parseUint(get, FieldLogCount, false); err != nil {
		return nil, err
	}
	if m.Attachments.ImageCount, err = parseUint(get, FieldImageCount, false); err != nil {
		return nil, err
	}
	if m.Attachments.VideoCount, err = parseUint(get, FieldVideoCount, false); err != nil {
		return nil, err
	}
	if m.Attachments.FilesSize, err = parseUint(get, FieldFilesSize, false); err != nil {
		return nil, err
	}

	return m, nil
}

func parseString(get lookup, field string) (string, error) {
	v, ok := get(field)
	if !ok || v == "" {
		return "", fieldErr(field, "required")
	}
	return v, nil
}

func parseUint(get lookup, field string, required bool) (uint64, error) {
	raw, ok := get(field)
	if !ok {
		if required {
			return 0, fieldErr(field, "required")
		}
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fieldErr(field, "not a non-negative integer: %q", raw)
	}
	return v, nil
}

// parseLocation assembles an optional boundary location. Either all three
// coordinate fields are present, or none: a partial location is rejected.
func parseLocation(get lookup, latField, lonField, tsField string) (*GeoLocation, error) {
	rawLat, okLat := get(latField)
	rawLon, okLon := get(lonField)
	rawTS, okTS := get(tsField)

	if !okLat && !okLon && !okTS {
		return nil, nil
	}
	if !okLat || !okLon || !okTS {
		return nil, fieldErr(latField, "location requires %s, %s and %s together", latField, lonField, tsField)
	}

	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return nil, fieldErr(latField, "not a decimal number: %q", rawLat)
	}
	lon, err := strconv.ParseFloat(rawLon, 64)
	if err != nil {
		return nil, fieldErr(lonField, "not a decimal number: %q", rawLon)
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return nil, fieldErr(tsField, "not an integer timestamp: %q", rawTS)
	}

	return &GeoLocation{Timestamp: ts, Latitude: lat, Longitude: lon}, nil
}
