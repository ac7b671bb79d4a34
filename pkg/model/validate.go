package model

import (
	"slices"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance used for range checks on
// location coordinates. validator.Validate is safe for concurrent use.
var validate = validator.New()

// ValidationOptions carries the server-configured acceptance sets.
type ValidationOptions struct {
	// AcceptedFormatVersions lists the binary format versions this server
	// understands. Empty means accept any version.
	AcceptedFormatVersions []int

	// AcceptedModalities lists recognized modality tags. Empty means
	// accept any tag.
	AcceptedModalities []string
}

// Validate enforces the semantic rules on a parsed metadata record.
//
// Returns ErrMissingLocations when the measurement declares zero locations
// (and consistently omits both boundary locations); a FieldError wrapping
// ErrInvalidMetadata for every other violation; nil when the record is
// acceptable.
func (m *Metadata) Validate(opts ValidationOptions) error {
	if len(opts.AcceptedFormatVersions) > 0 &&
		!slices.Contains(opts.AcceptedFormatVersions, m.FormatVersion) {
		return fieldErr(FieldFormatVersion, "version %d not accepted by this server", m.FormatVersion)
	}

	if len(opts.AcceptedModalities) > 0 &&
		!slices.Contains(opts.AcceptedModalities, m.Modality) {
		return fieldErr(FieldModality, "unrecognized modality %q", m.Modality)
	}

	// locationCount == 0 iff both boundary locations are absent.
	switch {
	case m.LocationCount == 0 && m.HasLocations():
		return fieldErr(FieldLocationCount, "zero locations declared but boundary locations present")
	case m.LocationCount == 0 && (m.StartLocation != nil || m.EndLocation != nil):
		return fieldErr(FieldLocationCount, "zero locations declared but a boundary location present")
	case m.LocationCount == 0:
		return ErrMissingLocations
	case !m.HasLocations():
		return fieldErr(FieldLocationCount, "%d locations declared but boundary locations missing", m.LocationCount)
	}

	if err := m.StartLocation.validateBounds(FieldStartLocLat, FieldStartLocLon, FieldStartLocTS); err != nil {
		return err
	}
	return m.EndLocation.validateBounds(FieldEndLocLat, FieldEndLocLon, FieldEndLocTS)
}

// validateBounds checks Earth bounds and timestamp sanity on one location.
func (l *GeoLocation) validateBounds(latField, lonField, tsField string) error {
	if l.Timestamp < 0 {
		return fieldErr(tsField, "timestamp must be non-negative, got %d", l.Timestamp)
	}
	if err := validate.Struct(l); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			field := latField
			if errs[0].StructField() == "Longitude" {
				field = lonField
			}
			return fieldErr(field, "outside Earth bounds")
		}
		return fieldErr(latField, "invalid location: %v", err)
	}
	return nil
}
