package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/souzou-notes/souzou/internal/wire"
)

// maxPushBody caps a push request; a batch larger than this is malformed.
const maxPushBody = 32 << 20

func (s *HTTPServer) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}
		since = parsed
	}

	resp, err := s.sync.Pull(ctx, since)
	if err != nil {
		s.logger.Error(ctx, "pull failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, r, resp)
}

func (s *HTTPServer) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req wire.PushRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	outcomes, err := s.sync.Push(ctx, deviceIDFrom(ctx), req.Mutations)
	if err != nil {
		s.logger.Error(ctx, "push failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, r, &wire.PushResponse{Results: outcomes})
}

func (s *HTTPServer) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	key, url, err := s.media.PresignedPutURL(ctx)
	if err != nil {
		s.logger.Error(ctx, "presign failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, r, &wire.UploadURLResponse{Key: key, URL: url})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(r.Context(), "response encode failed", "error", err)
	}
}
