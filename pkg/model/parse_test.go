package model

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeviceID = "78370516-4f7e-4cd4-9e95-e9a2c9b3ec04"

func validHeaders() http.Header {
	h := http.Header{}
	h.Set(FieldDeviceID, testDeviceID)
	h.Set(FieldMeasurementID, "42")
	h.Set(FieldOSVersion, "Android 13")
	h.Set(FieldDeviceType, "Pixel 7")
	h.Set(FieldAppVersion, "3.2.1")
	h.Set(FieldFormatVersion, "3")
	h.Set(FieldLength, "1253.7")
	h.Set(FieldLocationCount, "2")
	h.Set(FieldStartLocLat, "51.05")
	h.Set(FieldStartLocLon, "13.73")
	h.Set(FieldStartLocTS, "1714000000000")
	h.Set(FieldEndLocLat, "51.07")
	h.Set(FieldEndLocLon, "13.76")
	h.Set(FieldEndLocTS, "1714000600000")
	h.Set(FieldModality, "BICYCLE")
	return h
}

func TestParseHeaders_Valid(t *testing.T) {
	m, err := ParseHeaders(validHeaders())
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse(testDeviceID), m.DeviceID)
	assert.Equal(t, uint64(42), m.MeasurementID)
	assert.Equal(t, "Android 13", m.OSVersion)
	assert.Equal(t, 3, m.FormatVersion)
	assert.Equal(t, 1253.7, m.Length)
	assert.Equal(t, uint64(2), m.LocationCount)
	require.NotNil(t, m.StartLocation)
	require.NotNil(t, m.EndLocation)
	assert.Equal(t, 51.05, m.StartLocation.Latitude)
	assert.Equal(t, 13.76, m.EndLocation.Longitude)
	assert.Equal(t, int64(1714000600000), m.EndLocation.Timestamp)
	assert.Equal(t, Attachments{}, m.Attachments)
}

func TestParseHeaders_OptionalAttachments(t *testing.T) {
	h := validHeaders()
	h.Set(FieldLogCount, "1")
	h.Set(FieldImageCount, "12")
	h.Set(FieldFilesSize, "4096")

	m, err := ParseHeaders(h)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.Attachments.LogCount)
	assert.Equal(t, uint64(12), m.Attachments.ImageCount)
	assert.Equal(t, uint64(0), m.Attachments.VideoCount)
	assert.Equal(t, uint64(4096), m.Attachments.FilesSize)
}

func TestParseHeaders_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h http.Header)
		field  string
	}{
		{"garbage length", func(h http.Header) { h.Set(FieldLength, "Sir! You are being hacked!") }, FieldLength},
		{"negative length", func(h http.Header) { h.Set(FieldLength, "-1") }, FieldLength},
		{"bad device id", func(h http.Header) { h.Set(FieldDeviceID, "not-a-uuid") }, FieldDeviceID},
		{"missing device id", func(h http.Header) { h.Del(FieldDeviceID) }, FieldDeviceID},
		{"negative location count", func(h http.Header) { h.Set(FieldLocationCount, "-3") }, FieldLocationCount},
		{"fractional measurement id", func(h http.Header) { h.Set(FieldMeasurementID, "1.5") }, FieldMeasurementID},
		{"bad format version", func(h http.Header) { h.Set(FieldFormatVersion, "latest") }, FieldFormatVersion},
		{"partial start location", func(h http.Header) { h.Del(FieldStartLocTS) }, FieldStartLocLat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHeaders()
			tt.mutate(h)

			_, err := ParseHeaders(h)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidMetadata)

			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
}

func TestParseJSON_MatchesHeaderParse(t *testing.T) {
	body := `{
		"deviceId": "` + testDeviceID + `",
		"measurementId": 42,
		"osVersion": "Android 13",
		"deviceType": "Pixel 7",
		"appVersion": "3.2.1",
		"formatVersion": 3,
		"length": 1253.7,
		"locationCount": "2",
		"startLocLat": 51.05,
		"startLocLon": 13.73,
		"startLocTS": 1714000000000,
		"endLocLat": "51.07",
		"endLocLon": "13.76",
		"endLocTS": "1714000600000",
		"modality": "BICYCLE"
	}`

	fromJSON, err := ParseJSON(strings.NewReader(body))
	require.NoError(t, err)

	fromHeaders, err := ParseHeaders(validHeaders())
	require.NoError(t, err)

	// JSON numbers and strings must funnel to the same typed record as
	// the header encoding.
	assert.True(t, fromJSON.Equal(fromHeaders))
}

func TestParseJSON_NotAnObject(t *testing.T) {
	_, err := ParseJSON(strings.NewReader(`[1, 2, 3]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestMetadataEqual_DetectsDeviceSwap(t *testing.T) {
	a, err := ParseHeaders(validHeaders())
	require.NoError(t, err)

	h := validHeaders()
	h.Set(FieldDeviceID, "00000000-0000-4000-8000-000000000001")
	b, err := ParseHeaders(h)
	require.NoError(t, err)

	assert.False(t, a.Equal(b))
}

func TestValidate(t *testing.T) {
	opts := ValidationOptions{
		AcceptedFormatVersions: []int{2, 3},
		AcceptedModalities:     []string{"BICYCLE", "CAR", "WALKING"},
	}

	t.Run("valid", func(t *testing.T) {
		m, err := ParseHeaders(validHeaders())
		require.NoError(t, err)
		assert.NoError(t, m.Validate(opts))
	})

	t.Run("no locations", func(t *testing.T) {
		h := validHeaders()
		h.Set(FieldLocationCount, "0")
		for _, f := range []string{FieldStartLocLat, FieldStartLocLon, FieldStartLocTS,
			FieldEndLocLat, FieldEndLocLon, FieldEndLocTS} {
			h.Del(f)
		}
		m, err := ParseHeaders(h)
		require.NoError(t, err)
		assert.True(t, errors.Is(m.Validate(opts), ErrMissingLocations))
	})

	t.Run("count without locations", func(t *testing.T) {
		h := validHeaders()
		for _, f := range []string{FieldStartLocLat, FieldStartLocLon, FieldStartLocTS} {
			h.Del(f)
		}
		m, err := ParseHeaders(h)
		require.NoError(t, err)
		assert.ErrorIs(t, m.Validate(opts), ErrInvalidMetadata)
	})

	t.Run("unknown format version", func(t *testing.T) {
		h := validHeaders()
		h.Set(FieldFormatVersion, "99")
		m, err := ParseHeaders(h)
		require.NoError(t, err)
		assert.ErrorIs(t, m.Validate(opts), ErrInvalidMetadata)
	})

	t.Run("unknown modality", func(t *testing.T) {
		h := validHeaders()
		h.Set(FieldModality, "TELEPORT")
		m, err := ParseHeaders(h)
		require.NoError(t, err)
		assert.ErrorIs(t, m.Validate(opts), ErrInvalidMetadata)
	})

	t.Run("latitude out of bounds", func(t *testing.T) {
		h := validHeaders()
		h.Set(FieldStartLocLat, "91.0")
		m, err := ParseHeaders(h)
		require.NoError(t, err)

		err = m.Validate(opts)
		require.Error(t, err)
		var fe *FieldError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, FieldStartLocLat, fe.Field)
	})

	t.Run("longitude out of bounds", func(t *testing.T) {
		h := validHeaders()
		h.Set(FieldEndLocLon, "-180.5")
		m, err := ParseHeaders(h)
		require.NoError(t, err)

		err = m.Validate(opts)
		require.Error(t, err)
		var fe *FieldError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, FieldEndLocLon, fe.Field)
	})

	t.Run("negative timestamp", func(t *testing.T) {
		h := validHeaders()
		h.Set(FieldStartLocTS, "-7")
		m, err := ParseHeaders(h)
		require.NoError(t, err)
		assert.ErrorIs(t, m.Validate(opts), ErrInvalidMetadata)
	})
}
