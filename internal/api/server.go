// Package api is the HTTP surface of the service. Handlers validate
// nothing themselves beyond JSON decoding; request rules live in the
// synth package and are mapped to status codes here, once.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/melokit/meloserve/internal/config"
	"github.com/melokit/meloserve/internal/synth"
)

type Server struct {
	cfg     config.Config
	svc     *synth.Service
	log     *slog.Logger
	version string
	metrics http.Handler
}

func NewServer(cfg config.Config, svc *synth.Service, log *slog.Logger, version string, metrics http.Handler) *Server {
	return &Server{
		cfg:     cfg,
		svc:     svc,
		log:     log.With(slog.String("component", "api")),
		version: version,
		metrics: metrics,
	}
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /speakers", s.handleSpeakers)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("POST /synthesize", s.handleSynthesize)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	var h http.Handler = mux
	h = s.accessLog(h)
	h = requestID(h)
	h = cors(s.cfg.CORS.Origins, h)
	return h
}

// ttsRequest uses pointers for speaker and speed so an omitted field can
// be told apart from an explicit zero value: only absent fields get the
// configured defaults, explicit values are validated as supplied.
type ttsRequest struct {
	Text    string   `json:"text"`
	Speaker *string  `json:"speaker"`
	Speed   *float64 `json:"speed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type infoResponse struct {
	Name               string   `json:"name"`
	Version            string   `json:"version"`
	Description        string   `json:"description"`
	Endpoints          []string `json:"endpoints"`
	SupportedLanguages []string `json:"supported_languages"`
	MaxTextLength      int      `json:"max_text_length"`
	SupportedFormats   []string `json:"supported_formats"`
}

type healthResponse struct {
	Status            string `json:"status"`
	SpeakersLoaded    bool   `json:"speakers_loaded"`
	ModelReady        bool   `json:"model_ready"`
	AvailableSpeakers int    `json:"available_speakers"`
	Device            string `json:"device"`
}

type speakersResponse struct {
	Speakers  []string            `json:"speakers"`
	Total     int                 `json:"total"`
	Languages map[string][]string `json:"languages"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, infoResponse{
		Name:               s.cfg.ServiceName,
		Version:            s.version,
		Description:        "Text-to-speech REST service",
		Endpoints:          []string{"/", "/health", "/speakers", "/tts", "/synthesize", "/metrics"},
		SupportedLanguages: []string{s.cfg.Model.Language},
		MaxTextLength:      s.svc.MaxTextLength(),
		SupportedFormats:   []string{"wav", "mp3"},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	count := 0
	if reg := s.svc.Registry(); reg != nil {
		count = reg.Len()
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:            "ok",
		SpeakersLoaded:    count > 0,
		ModelReady:        s.svc.Ready(),
		AvailableSpeakers: count,
		Device:            s.svc.Device(),
	})
}

func (s *Server) handleSpeakers(w http.ResponseWriter, _ *http.Request) {
	reg := s.svc.Registry()
	if !s.svc.Ready() || reg == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "model not ready"})
		return
	}
	writeJSON(w, http.StatusOK, speakersResponse{
		Speakers:  reg.IDs(),
		Total:     reg.Len(),
		Languages: reg.ByLanguage(),
	})
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	wavData, _, err := s.svc.SynthesizeWAV(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wavData)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decode(w, r)
	if !ok {
		return
	}

	enc, err := s.svc.SynthesizeMP3(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enc)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (synth.Request, bool) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return synth.Request{}, false
	}

	out := synth.Request{
		Text:    req.Text,
		Speaker: s.cfg.Synthesis.DefaultSpeaker,
		Speed:   s.cfg.Synthesis.DefaultSpeed,
	}
	if req.Speaker != nil {
		out.Speaker = *req.Speaker
	}
	if req.Speed != nil {
		out.Speed = *req.Speed
	}
	return out, true
}

// writeError maps the synthesis error taxonomy to transport status codes.
// Unknown speaker is 400 (it names a missing resource), other field
// violations are 422, not-ready states are 503, and everything server-side
// is a generic 500 with detail only in the logs.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *synth.ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusUnprocessableEntity
		if verr.Field == "speaker" {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, errorResponse{Error: verr.Error()})
	case errors.Is(err, synth.ErrNotReady), errors.Is(err, synth.ErrDraining):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service not ready"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "synthesis failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
