package model

import (
	"time"
)

// Document is the metadata record persisted by a backend when an upload
// finalizes. It is the queryable side of a measurement: one document per
// finalized upload-id, joinable to the stored blob through Filename.
type Document struct {
	// Filename is the upload-id, which is also the blob/object name.
	Filename string `json:"filename"`

	// UploadLength is the total size of the finalized blob in bytes.
	UploadLength uint64 `json:"uploadLength"`

	// UploadDate is the finalization time, ISO-8601 in UTC.
	UploadDate string `json:"uploadDate"`

	// Properties holds the flattened measurement metadata plus the owner.
	Properties DocumentProperties `json:"properties"`

	// Geometry embeds the start and end locations as a GeoJSON MultiPoint,
	// coordinates in [longitude, latitude] order.
	Geometry *Geometry `json:"geometry,omitempty"`
}

// DocumentProperties flattens the metadata fields of a measurement.
type DocumentProperties struct {
	DeviceID      string  `json:"deviceId"`
	MeasurementID uint64  `json:"measurementId"`
	OSVersion     string  `json:"osVersion"`
	DeviceType    string  `json:"deviceType"`
	AppVersion    string  `json:"appVersion"`
	FormatVersion int     `json:"formatVersion"`
	Length        float64 `json:"length"`
	LocationCount uint64  `json:"locationCount"`
	StartLocTS    int64   `json:"startLocTS,omitempty"`
	EndLocTS      int64   `json:"endLocTS,omitempty"`
	Modality      string  `json:"modality"`
	LogCount      uint64  `json:"logCount"`
	ImageCount    uint64  `json:"imageCount"`
	VideoCount    uint64  `json:"videoCount"`
	FilesSize     uint64  `json:"filesSize"`
	UserID        string  `json:"userId"`
}

// Geometry is a minimal GeoJSON geometry object.
type Geometry struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"`
}

// NewDocument assembles the persisted document for a finalized upload.
//
// uploadID becomes the filename, userID the document owner and now the
// upload timestamp. The boundary locations, when present, become a
// two-point GeoJSON MultiPoint.
func NewDocument(uploadID, userID string, totalBytes uint64, m *Metadata, now time.Time) *Document {
	doc := &Document{
		Filename:     uploadID,
		UploadLength: totalBytes,
		UploadDate:   now.UTC().Format(UploadTimeFormat),
		Properties: DocumentProperties{
			DeviceID:      m.DeviceID.String(),
			MeasurementID: m.MeasurementID,
			OSVersion:     m.OSVersion,
			DeviceType:    m.DeviceType,
			AppVersion:    m.AppVersion,
			FormatVersion: m.FormatVersion,
			Length:        m.Length,
			LocationCount: m.LocationCount,
			Modality:      m.Modality,
			LogCount:      m.Attachments.LogCount,
			ImageCount:    m.Attachments.ImageCount,
			VideoCount:    m.Attachments.VideoCount,
			FilesSize:     m.Attachments.FilesSize,
			UserID:        userID,
		},
	}

	if m.HasLocations() {
		doc.Properties.StartLocTS = m.StartLocation.Timestamp
		doc.Properties.EndLocTS = m.EndLocation.Timestamp
		doc.Geometry = &Geometry{
			Type: "MultiPoint",
			Coordinates: [][2]float64{
				{m.StartLocation.Longitude, m.StartLocation.Latitude},
				{m.EndLocation.Longitude, m.EndLocation.Latitude},
			},
		}
	}

	return doc
}
