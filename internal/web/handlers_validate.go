package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/cdmmerge/internal/codes"
	"github.com/JonMunkholm/cdmmerge/internal/core"
	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/JonMunkholm/cdmmerge/internal/logging"
	"github.com/JonMunkholm/cdmmerge/internal/stream"
)

// validateRequest is the JSON body of the validate endpoints.
type validateRequest struct {
	Codes []string `json:"codes"`
}

// handleValidate validates a JSON list of codes and returns the aggregate.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	list, err := s.decodeCodes(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.runSync(w, r, list)
}

// handleValidateStream validates a JSON list of codes and streams progress
// as Server-Sent Events.
func (s *Server) handleValidateStream(w http.ResponseWriter, r *http.Request) {
	list, err := s.decodeCodes(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	s.runStream(w, r, list)
}

// handleValidateUpload validates the codes in an uploaded CSV or plain list.
// Form fields: file (required), column (optional). ?stream=true streams.
func (s *Server) handleValidateUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Validation.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("file too large: limit is %d bytes", maxSize))
			return
		}
		respondErrorStatus(w, r, fmt.Errorf("invalid request: %w", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("no file provided: %w", err))
		return
	}
	defer file.Close()

	list, err := codes.ReadCodes(file, r.FormValue("column"))
	if err != nil {
		respondError(w, r, fmt.Errorf("%s: %w", header.Filename, err))
		return
	}
	if err := s.checkLimit(list); err != nil {
		respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("codes uploaded",
		"filename", header.Filename,
		"size", header.Size,
		"codes", len(list),
	)

	if streaming, _ := strconv.ParseBool(r.URL.Query().Get("stream")); streaming {
		s.runStream(w, r, list)
		return
	}
	s.runSync(w, r, list)
}

// decodeCodes reads and bounds the JSON request body.
func (s *Server) decodeCodes(w http.ResponseWriter, r *http.Request) ([]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Validation.MaxFileSize)

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := s.checkLimit(req.Codes); err != nil {
		return nil, err
	}
	return req.Codes, nil
}

// checkLimit rejects empty input and input over VALIDATION_MAX_CODES.
func (s *Server) checkLimit(list []string) error {
	n := len(hcpcs.NormalizeCodes(list))
	if n == 0 {
		return core.ErrNoCodes
	}
	if limit := s.cfg.Validation.MaxCodes; n > limit {
		return fmt.Errorf("%d codes exceeds limit of %d: %w", n, limit, core.ErrTooManyCodes)
	}
	return nil
}

// acquireRun takes a run slot. The returned release must be called once the
// run has finished, not when the client leaves.
func (s *Server) acquireRun(ctx context.Context) (release func(), err error) {
	if s.deps.Limiter == nil {
		return func() {}, nil
	}
	if err := s.deps.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	return s.deps.Limiter.Release, nil
}

func (s *Server) runSync(w http.ResponseWriter, r *http.Request, list []string) {
	release, err := s.acquireRun(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Validation.RunTimeout)
	defer cancel()

	resp, err := s.deps.Validator.ValidateCodes(ctx, list)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// runStream relays a run's events as SSE. A client that disconnects closes
// the stream; the run itself continues until write-back, holding its slot.
func (s *Server) runStream(w http.ResponseWriter, r *http.Request, list []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondErrorStatus(w, r, errors.New("streaming not supported"), http.StatusInternalServerError)
		return
	}

	release, err := s.acquireRun(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	// Detach from the request so a disconnect does not abandon write-back.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.Validation.RunTimeout)
	finish := func() {
		cancel()
		release()
	}

	st := s.deps.Validator.StreamCodes(ctx, list)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := logging.FromContext(r.Context())
	for {
		select {
		case ev, ok := <-st.Events():
			if !ok {
				finish()
				return
			}
			if err := writeEvent(w, ev); err != nil {
				logger.Warn("sse write failed", "error", err)
			}
			flusher.Flush()

		case <-r.Context().Done():
			logger.Info("stream client disconnected, run continues")
			st.Close()
			go func() {
				for range st.Events() {
				}
				finish()
			}()
			return
		}
	}
}

// writeEvent writes one SSE frame. Progress events carry the processed count
// as their id.
func writeEvent(w http.ResponseWriter, ev stream.Event[core.Response]) error {
	if ev.Type == stream.EventError {
		// Expose the mapped message, not the technical error.
		msg := core.MapError(errors.New(ev.Error))
		ev.Error = msg.Message
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.Type == stream.EventProgress {
		_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Processed, ev.Type, data)
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}
