// Package model defines the typed measurement metadata exchanged between
// upload clients and the collector, together with the codecs that read it
// from a JSON pre-request body or from the flat header set of a chunk PUT.
//
// Both codecs produce the same typed Metadata value; the upload handler
// compares the header-encoded copy against the session's stored copy on
// every chunk to catch clients that change identity mid-upload.
package model

import (
	"time"

	"github.com/google/uuid"
)

// GeoLocation is a single geographic fix captured by the client.
type GeoLocation struct {
	// Timestamp is the capture time in milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// Latitude in decimal degrees, inside [-90, 90].
	Latitude float64 `json:"latitude" validate:"gte=-90,lte=90"`

	// Longitude in decimal degrees, inside [-180, 180].
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// Attachments counts auxiliary files captured alongside a measurement.
// All fields default to zero when the client sends none.
type Attachments struct {
	LogCount   uint64 `json:"logCount"`
	ImageCount uint64 `json:"imageCount"`
	VideoCount uint64 `json:"videoCount"`
	FilesSize  uint64 `json:"filesSize"`
}

// Metadata is the typed representation of one measurement's metadata.
//
// The pair (DeviceID, MeasurementID) is the measurement key: globally
// unique per client device. It identifies the logical measurement, while
// the server-minted upload-id identifies one attempt at uploading it.
type Metadata struct {
	// Device identity
	DeviceID      uuid.UUID
	MeasurementID uint64

	// Device description
	OSVersion  string
	DeviceType string

	// Uploading application
	AppVersion    string
	FormatVersion int

	// Measurement summary
	Length        float64 // track length in meters, >= 0
	LocationCount uint64
	StartLocation *GeoLocation
	EndLocation   *GeoLocation
	Modality      string

	Attachments Attachments
}

// Key returns the measurement key as a comparable value.
func (m *Metadata) Key() MeasurementKey {
	return MeasurementKey{DeviceID: m.DeviceID, MeasurementID: m.MeasurementID}
}

// MeasurementKey is the client-supplied logical identity of a measurement.
type MeasurementKey struct {
	DeviceID      uuid.UUID
	MeasurementID uint64
}

// Equal reports whether two metadata records describe the same measurement
// with identical field values. Location pointers are compared by value.
func (m *Metadata) Equal(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.DeviceID != other.DeviceID ||
		m.MeasurementID != other.MeasurementID ||
		m.OSVersion != other.OSVersion ||
		m.DeviceType != other.DeviceType ||
		m.AppVersion != other.AppVersion ||
		m.FormatVersion != other.FormatVersion ||
		m.Length != other.Length ||
		m.LocationCount != other.LocationCount ||
		m.Modality != other.Modality ||
		m.Attachments != other.Attachments {
		return false
	}
	return locationsEqual(m.StartLocation, other.StartLocation) &&
		locationsEqual(m.EndLocation, other.EndLocation)
}

func locationsEqual(a, b *GeoLocation) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// HasLocations reports whether both boundary locations are present.
func (m *Metadata) HasLocations() bool {
	return m.StartLocation != nil && m.EndLocation != nil
}

// UploadTimeFormat is the wire format for persisted upload timestamps.
const UploadTimeFormat = time.RFC3339
