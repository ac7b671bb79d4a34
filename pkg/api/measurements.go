package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/openmeasure/collector/internal/logger"
	"github.com/openmeasure/collector/pkg/auth"
	"github.com/openmeasure/collector/pkg/metrics"
	"github.com/openmeasure/collector/pkg/model"
	"github.com/openmeasure/collector/pkg/session"
	"github.com/openmeasure/collector/pkg/storage"
	"github.com/openmeasure/collector/pkg/storage/docstore"
)

// HeaderUploadContentLength carries the declared total payload size on
// the pre-request.
const HeaderUploadContentLength = "x-upload-content-length"

// sessionNotFound is the uniform 404 detail. Owner mismatches use the
// same wording so probing another user's upload-id reveals nothing.
const sessionNotFound = "upload session not found"

// Options configures the measurement handler.
type Options struct {
	// Endpoint is the base path the API is mounted under. Used to build
	// the Location header of pre-request responses.
	Endpoint string

	// PayloadLimit is the maximum accepted declared payload size.
	PayloadLimit uint64

	// Validation bounds the accepted metadata values.
	Validation model.ValidationOptions

	// BackendName labels abort metrics.
	BackendName string
}

// Handler implements the resumable upload endpoints and the measurement
// query endpoints.
type Handler struct {
	sessions *session.Store
	backend  storage.Backend
	docs     docstore.DocumentStore
	authn    auth.Authenticator
	metrics  *metrics.Metrics
	opts     Options

	now func() time.Time
}

// NewHandler creates the measurement handler.
func NewHandler(sessions *session.Store, backend storage.Backend, docs docstore.DocumentStore,
	authn auth.Authenticator, m *metrics.Metrics, opts Options) *Handler {
	return &Handler{
		sessions: sessions,
		backend:  backend,
		docs:     docs,
		authn:    authn,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// authenticate resolves the bearer token, writing a 401 on failure.
func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	token, err := auth.TokenFromRequest(r)
	if err != nil {
		Unauthorized(w, err.Error())
		return nil, false
	}

	principal, err := h.authn.Authenticate(r.Context(), token)
	if err != nil {
		logger.Debug("token rejected", logger.KeyError, err.Error())
		Unauthorized(w, "invalid token")
		return nil, false
	}
	return principal, true
}

// CreateUpload handles the pre-request: POST /measurements?uploadType=resumable.
//
// It validates the metadata, admits the declared size, opens the backend
// staging resources and allocates the session. The response carries the
// upload URL in the Location header.
func (h *Handler) CreateUpload(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("uploadType") != "resumable" {
		BadRequest(w, "only uploadType=resumable is supported")
		return
	}

	meta, err := model.ParseJSON(r.Body)
	if err != nil {
		h.writeMetadataError(w, err)
		return
	}
	if err := meta.Validate(h.opts.Validation); err != nil {
		h.writeMetadataError(w, err)
		return
	}

	total, err := strconv.ParseUint(r.Header.Get(HeaderUploadContentLength), 10, 64)
	if err != nil {
		UnprocessableEntity(w, fmt.Sprintf("invalid %s header", HeaderUploadContentLength))
		return
	}
	if total > h.opts.PayloadLimit {
		UnprocessableEntity(w, fmt.Sprintf(
			"declared payload size %d exceeds the limit of %d bytes", total, h.opts.PayloadLimit))
		return
	}

	uploadID := uuid.NewString()

	handle, err := h.backend.Begin(r.Context(), uploadID, principal.UserID, meta, total)
	if err != nil {
		logger.Error("failed to open upload backend",
			logger.KeyUploadID, uploadID, logger.KeyError, err.Error())
		InternalServerError(w, "failed to open upload")
		return
	}

	now := h.now()
	sess := &session.Session{
		UploadID:           uploadID,
		Owner:              principal.UserID,
		Key:                meta.Key(),
		Metadata:           meta,
		DeclaredTotalBytes: total,
		Backend:            handle,
		CreatedAt:          now,
		LastActivityAt:     now,
		State:              session.Open,
	}
	if err := h.sessions.Create(sess); err != nil {
		// A freshly minted UUID cannot collide with a live session.
		logger.Error("failed to register upload session",
			logger.KeyUploadID, uploadID, logger.KeyError, err.Error())
		InternalServerError(w, "failed to create upload session")
		return
	}

	h.metrics.SessionsCreated.Inc()
	logger.Info("upload session created",
		logger.UploadID(uploadID),
		logger.UserID(principal.UserID),
		logger.DeviceID(meta.DeviceID.String()),
		logger.KeyMeasurementID, meta.MeasurementID,
		logger.TotalBytes(total))

	w.Header().Set("Location", h.uploadLocation(r, uploadID))
	w.WriteHeader(http.StatusOK)
}

// uploadLocation builds the absolute upload URL for the Location header.
func (h *Handler) uploadLocation(r *http.Request, uploadID string) string {
	scheme := "http"
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	} else if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s/measurements/%s/", scheme, r.Host, h.opts.Endpoint, uploadID)
}

// writeMetadataError maps metadata errors to their wire status.
func (h *Handler) writeMetadataError(w http.ResponseWriter, err error) {
	if errors.Is(err, model.ErrMissingLocations) {
		PreconditionFailed(w, "measurement carries no locations")
		return
	}
	UnprocessableEntity(w, err.Error())
}

// chunkResult is the outcome of one chunk PUT, computed under the
// session lock and written to the response afterwards.
type chunkResult struct {
	status      int
	rangeHeader string
	detail      string
}

func (h *Handler) writeChunkResult(w http.ResponseWriter, res chunkResult) {
	switch res.status {
	case http.StatusOK, http.StatusCreated:
		w.WriteHeader(res.status)
	case http.StatusPermanentRedirect:
		if res.rangeHeader != "" {
			w.Header().Set("Range", res.rangeHeader)
		}
		w.WriteHeader(res.status)
	case http.StatusNotFound:
		NotFound(w, res.detail)
	case http.StatusUnprocessableEntity:
		UnprocessableEntity(w, res.detail)
	default:
		InternalServerError(w, res.detail)
	}
}

// UploadChunk handles PUT /measurements/{uploadID}/ for both chunk
// writes (Content-Range "bytes from-to/total") and status queries
// (Content-Range "bytes */total").
func (h *Handler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	uploadID := chi.URLParam(r, "uploadID")

	contentRange, err := ParseContentRange(r.Header.Get("Content-Range"))
	if err != nil {
		UnprocessableEntity(w, err.Error())
		return
	}

	if contentRange.IsStatus {
		h.uploadStatus(w, principal, uploadID)
		return
	}

	var res chunkResult
	err = h.sessions.WithSession(uploadID, func(s *session.Session) error {
		res = h.applyChunk(r, principal, s, contentRange)
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		NotFound(w, sessionNotFound)
		return
	}

	h.writeChunkResult(w, res)
}

// applyChunk performs one chunk write. Runs with the session lock held,
// so reads and mutations of s need no further synchronization.
func (h *Handler) applyChunk(r *http.Request, principal *auth.Principal, s *session.Session, cr ContentRange) chunkResult {
	if s.Owner != principal.UserID {
		return chunkResult{status: http.StatusNotFound, detail: sessionNotFound}
	}

	switch s.State {
	case session.Aborted:
		return chunkResult{status: http.StatusNotFound, detail: sessionNotFound}
	case session.Done:
		// A replayed final chunk after completion confirms success
		// without touching the persisted document.
		return chunkResult{status: http.StatusOK}
	}

	meta, err := model.ParseHeaders(r.Header)
	if err != nil {
		h.metrics.ChunksRejected.WithLabelValues("invalid_metadata").Inc()
		return chunkResult{status: http.StatusUnprocessableEntity, detail: err.Error()}
	}
	if !meta.Equal(s.Metadata) {
		h.metrics.ChunksRejected.WithLabelValues("metadata_mismatch").Inc()
		return chunkResult{
			status: http.StatusUnprocessableEntity,
			detail: "chunk metadata does not match the upload session",
		}
	}

	if cr.Total != s.DeclaredTotalBytes {
		h.metrics.ChunksRejected.WithLabelValues("total_mismatch").Inc()
		return chunkResult{
			status: http.StatusUnprocessableEntity,
			detail: fmt.Sprintf("declared total %d does not match the session's %d", cr.Total, s.DeclaredTotalBytes),
		}
	}

	if cr.From != s.BytesReceived {
		h.metrics.ChunksRejected.WithLabelValues("range_mismatch").Inc()
		return chunkResult{
			status:      http.StatusPermanentRedirect,
			rangeHeader: rangeHeader(s.BytesReceived),
		}
	}

	h.metrics.InFlightUploads.Inc()
	defer h.metrics.InFlightUploads.Dec()

	// Bound the stream to the declared chunk; surplus body bytes would
	// otherwise shift the range accounting.
	chunkLen := cr.To - cr.From + 1
	staged, err := s.Backend.Append(r.Context(), cr.From, io.LimitReader(r.Body, int64(chunkLen)))

	// The acknowledged count never moves backwards: some Append error
	// paths cannot know the durable offset and report 0.
	if staged > s.BytesReceived {
		h.metrics.BytesReceived.Add(float64(staged - s.BytesReceived))
		s.BytesReceived = staged
	}
	s.Touch(h.now())

	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRangeMismatch):
			return chunkResult{status: http.StatusPermanentRedirect, rangeHeader: rangeHeader(staged)}
		case errors.Is(err, storage.ErrOverflow):
			return chunkResult{status: http.StatusUnprocessableEntity, detail: "chunk exceeds the declared total"}
		case errors.Is(err, storage.ErrPermanent):
			// The staging resources are gone for good; the session is dead
			// and the client must restart with a new pre-request.
			logger.Error("chunk append failed permanently, aborting session",
				logger.UploadID(s.UploadID), logger.KeyOffset, cr.From, logger.KeyError, err.Error())
			_ = s.TransitionTo(session.Aborted)
			h.metrics.SessionsAborted.WithLabelValues(h.opts.BackendName).Inc()
			return chunkResult{status: http.StatusInternalServerError, detail: "failed to stage chunk"}
		default:
			logger.Warn("chunk append failed",
				logger.UploadID(s.UploadID), logger.KeyOffset, cr.From, logger.KeyError, err.Error())
			return chunkResult{status: http.StatusInternalServerError, detail: "failed to stage chunk"}
		}
	}

	if s.BytesReceived < s.DeclaredTotalBytes {
		// The chunk landed at the expected offset, so no Range header is
		// needed; the client continues from its own accounting.
		return chunkResult{status: http.StatusPermanentRedirect}
	}

	return h.finalize(r, s)
}

// finalize drives the session through Finalizing into Done, persisting
// the payload and its metadata document.
func (h *Handler) finalize(r *http.Request, s *session.Session) chunkResult {
	if err := s.TransitionTo(session.Finalizing); err != nil {
		return chunkResult{status: http.StatusInternalServerError, detail: err.Error()}
	}

	if err := s.Backend.Finalize(r.Context()); err != nil {
		logger.Error("finalize failed, aborting session",
			logger.UploadID(s.UploadID), logger.KeyError, err.Error())
		_ = s.TransitionTo(session.Aborted)
		h.metrics.SessionsAborted.WithLabelValues(h.opts.BackendName).Inc()
		return chunkResult{status: http.StatusInternalServerError, detail: "failed to persist upload"}
	}

	if err := s.TransitionTo(session.Done); err != nil {
		return chunkResult{status: http.StatusInternalServerError, detail: err.Error()}
	}
	s.Touch(h.now())

	h.metrics.SessionsFinalized.Inc()
	logger.Info("upload complete",
		logger.UploadID(s.UploadID),
		logger.UserID(s.Owner),
		logger.TotalBytes(s.DeclaredTotalBytes))

	return chunkResult{status: http.StatusCreated}
}

// uploadStatus answers a "bytes */total" status query: 200 once the
// upload is Done, 308 with the accepted prefix while partial, 404 for
// unknown or foreign sessions.
func (h *Handler) uploadStatus(w http.ResponseWriter, principal *auth.Principal, uploadID string) {
	s, ok := h.sessions.Get(uploadID)
	if !ok || s.Owner != principal.UserID {
		NotFound(w, sessionNotFound)
		return
	}

	switch s.State {
	case session.Done:
		w.WriteHeader(http.StatusOK)
	case session.Aborted:
		NotFound(w, sessionNotFound)
	default:
		if header := rangeHeader(s.BytesReceived); header != "" {
			w.Header().Set("Range", header)
		}
		w.WriteHeader(http.StatusPermanentRedirect)
	}
}

// ListMeasurements returns the caller's finalized measurement documents.
func (h *Handler) ListMeasurements(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	docs, err := h.docs.ListByUser(r.Context(), principal.UserID, limit)
	if err != nil {
		logger.Error("failed to list measurements",
			logger.UserID(principal.UserID), logger.KeyError, err.Error())
		InternalServerError(w, "failed to list measurements")
		return
	}
	if docs == nil {
		docs = []*model.Document{}
	}

	WriteJSON(w, http.StatusOK, docs)
}

// GetMeasurement returns one finalized measurement document by upload-id.
// Foreign documents read as 404.
func (h *Handler) GetMeasurement(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	uploadID := chi.URLParam(r, "uploadID")

	doc, err := h.docs.GetDocument(r.Context(), uploadID)
	if errors.Is(err, docstore.ErrNotFound) {
		NotFound(w, "measurement not found")
		return
	}
	if err != nil {
		logger.Error("failed to load measurement",
			logger.UploadID(uploadID), logger.KeyError, err.Error())
		InternalServerError(w, "failed to load measurement")
		return
	}
	if doc.Properties.UserID != principal.UserID {
		NotFound(w, "measurement not found")
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}
