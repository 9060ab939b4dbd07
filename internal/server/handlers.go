package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
)

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			ge := cloudgpt.InvalidRequest("request_too_large", "",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			ge.Status = http.StatusRequestEntityTooLarge
			return ge
		}
		return cloudgpt.InvalidRequest("invalid_json", "", "request body is not valid JSON: "+err.Error())
	}
	return nil
}

// admit resolves the caller and counts the request against its quota. It
// writes the error response itself and reports whether to continue.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, m cloudgpt.Modality) (cloudgpt.Caller, bool) {
	id, err := s.resolver.Resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return cloudgpt.Caller{}, false
	}

	d := s.limiter.Check(r.Context(), id, m)
	setRateHeaders(w, d)
	if !d.Allowed {
		s.writeError(w, r, rateLimitError(d, s.now()))
		return cloudgpt.Caller{}, false
	}

	return cloudgpt.Caller{
		Identity:  id,
		RequestID: RequestID(r.Context()),
		EndUserID: r.Header.Get("x-user-id"),
	}, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req cloudgpt.ChatRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if res := cloudgpt.ValidateMessages(req.Messages); !res.OK {
		s.writeError(w, r, res.Err())
		return
	}

	caller, ok := s.admit(w, r, cloudgpt.ModalityChat)
	if !ok {
		return
	}

	if req.Stream {
		s.streamChat(w, r, caller, req)
		return
	}

	resp, err := s.router.ChatCompletion(r.Context(), caller, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	setRoutingHeaders(w, resp.Routing)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, caller cloudgpt.Caller, req cloudgpt.ChatRequest) {
	stream, err := s.router.ChatCompletionStream(r.Context(), caller, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer stream.Close()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	setRoutingHeaders(w, stream.Routing)
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				s.logger.Debug("client went away during stream", "request_id", caller.RequestID, "error", werr)
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			// Headers are out; the client sees a truncated stream.
			s.logger.Warn("stream interrupted", "request_id", caller.RequestID, "error", err)
			return
		}
	}
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	s.handleMedia(w, r, cloudgpt.ModalityImage)
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	s.handleMedia(w, r, cloudgpt.ModalityVideo)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request, m cloudgpt.Modality) {
	var req cloudgpt.MediaRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.router.CheckMediaRequest(req, m); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, ok := s.admit(w, r, m)
	if !ok {
		return
	}

	var (
		resp cloudgpt.MediaResponse
		err  error
	)
	if m == cloudgpt.ModalityVideo {
		resp, err = s.router.GenerateVideo(r.Context(), caller, req)
	} else {
		resp, err = s.router.GenerateImage(r.Context(), caller, req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	setRoutingHeaders(w, resp.Routing)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req cloudgpt.EmbeddingRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, ok := s.admit(w, r, cloudgpt.ModalityEmbedding)
	if !ok {
		return
	}

	resp, err := s.router.CreateEmbedding(r.Context(), caller, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	setRoutingHeaders(w, resp.Routing)
	writeJSON(w, http.StatusOK, resp)
}

type modelCard struct {
	ID          string            `json:"id"`
	Object      string            `json:"object"`
	OwnedBy     string            `json:"owned_by"`
	DisplayName string            `json:"display_name,omitempty"`
	Modality    cloudgpt.Modality `json:"modality"`
	Premium     bool              `json:"premium"`
	UsageWeight float64           `json:"usage_weight"`
	MaxDuration int               `json:"max_duration,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
}

func card(m cloudgpt.Model) modelCard {
	return modelCard{
		ID:          m.ID,
		Object:      "model",
		OwnedBy:     m.Provider,
		DisplayName: m.DisplayName,
		Modality:    m.Modality,
		Premium:     m.Premium,
		UsageWeight: m.Weight(),
		MaxDuration: m.MaxDuration,
		Aliases:     m.Aliases,
	}
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	var filter []cloudgpt.Modality
	if v := r.URL.Query().Get("modality"); v != "" {
		filter = append(filter, cloudgpt.Modality(v))
	}

	models := s.router.Registry().List(filter...)
	data := make([]modelCard, 0, len(models))
	for _, m := range models {
		data = append(data, card(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	m, err := s.router.Registry().Resolve(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, card(m))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"time":      s.now().Unix(),
		"models":    len(s.router.Registry().List()),
		"providers": s.router.Registry().Providers(),
		"degraded":  s.router.Health().Snapshot(),
	})
}

func setRoutingHeaders(w http.ResponseWriter, info cloudgpt.RoutingInfo) {
	if info.Provider == "" {
		return
	}
	w.Header().Set("X-CloudGPT-Provider", info.Provider)
	w.Header().Set("X-CloudGPT-Attempts", strconv.Itoa(len(info.Attempts)))
	if info.Fallback {
		w.Header().Set("X-CloudGPT-Fallback", "true")
	}
}
