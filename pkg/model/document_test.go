package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument(t *testing.T) {
	m, err := ParseHeaders(validHeaders())
	require.NoError(t, err)

	now := time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	doc := NewDocument("upload-1", "user-1", 134697, m, now)

	assert.Equal(t, "upload-1", doc.Filename)
	assert.Equal(t, uint64(134697), doc.UploadLength)
	assert.Equal(t, "2026-08-24T10:30:00Z", doc.UploadDate)
	assert.Equal(t, "user-1", doc.Properties.UserID)
	assert.Equal(t, testDeviceID, doc.Properties.DeviceID)
	assert.Equal(t, uint64(42), doc.Properties.MeasurementID)

	require.NotNil(t, doc.Geometry)
	assert.Equal(t, "MultiPoint", doc.Geometry.Type)
	require.Len(t, doc.Geometry.Coordinates, 2)
	// GeoJSON coordinate order is [longitude, latitude].
	assert.Equal(t, [2]float64{13.73, 51.05}, doc.Geometry.Coordinates[0])
	assert.Equal(t, [2]float64{13.76, 51.07}, doc.Geometry.Coordinates[1])
	assert.Equal(t, int64(1714000000000), doc.Properties.StartLocTS)
	assert.Equal(t, int64(1714000600000), doc.Properties.EndLocTS)
}

func TestDocumentJSONShape(t *testing.T) {
	m, err := ParseHeaders(validHeaders())
	require.NoError(t, err)

	doc := NewDocument("upload-1", "user-1", 4, m, time.Now())
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Contains(t, decoded, "filename")
	assert.Contains(t, decoded, "uploadLength")
	assert.Contains(t, decoded, "uploadDate")

	props, ok := decoded["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", props["userId"])
	assert.Equal(t, "BICYCLE", props["modality"])

	geom, ok := decoded["geometry"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "MultiPoint", geom["type"])
}
