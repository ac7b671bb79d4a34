package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so uploads can be
// correlated across the protocol handler, storage backends and the janitor.
const (
	// Request handling
	KeyRequestID  = "request_id"  // HTTP middleware request ID
	KeyMethod     = "method"      // HTTP method
	KeyPath       = "path"        // Request path
	KeyStatus     = "status"      // HTTP status code
	KeyClientIP   = "client_ip"   // Client IP address (without port)
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message

	// Upload session
	KeyUploadID      = "upload_id"      // Server-minted upload attempt UUID
	KeyDeviceID      = "device_id"      // Client device UUID
	KeyMeasurementID = "measurement_id" // Per-device measurement counter
	KeyUserID        = "user_id"        // Authenticated session owner
	KeySessionState  = "session_state"  // Open, Finalizing, Done, Aborted

	// Byte accounting
	KeyOffset        = "offset"         // Chunk start offset
	KeyBytesReceived = "bytes_received" // Bytes durably staged so far
	KeyTotalBytes    = "total_bytes"    // Declared total upload size

	// Storage backend
	KeyBackend  = "backend"  // Backend type: gridfs, s3
	KeyBucket   = "bucket"   // Cloud bucket name
	KeyKey      = "key"      // Object key in cloud storage
	KeyStageDir = "stage_dir" // Local staging directory
	KeyAttempt  = "attempt"  // Retry attempt number
)

// Field constructors for the keys used on hot paths.

// UploadID returns a slog.Attr for the upload attempt identifier.
func UploadID(id string) slog.Attr {
	return slog.String(KeyUploadID, id)
}

// DeviceID returns a slog.Attr for the client device identifier.
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// UserID returns a slog.Attr for the authenticated user.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// BytesReceived returns a slog.Attr for the staged byte count.
func BytesReceived(n uint64) slog.Attr {
	return slog.Uint64(KeyBytesReceived, n)
}

// TotalBytes returns a slog.Attr for the declared upload size.
func TotalBytes(n uint64) slog.Attr {
	return slog.Uint64(KeyTotalBytes, n)
}

// Err returns a slog.Attr for an error value.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
