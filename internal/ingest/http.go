package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sahilm/fuzzy"

	"github.com/dgnsrekt/homespeak/internal/alarm"
	"github.com/dgnsrekt/homespeak/internal/backend"
	"github.com/dgnsrekt/homespeak/internal/playback"
	"github.com/dgnsrekt/homespeak/internal/sounds"
	"github.com/dgnsrekt/homespeak/internal/speech"
)

const (
	maxTextBody  = 64 << 10
	maxAudioBody = 32 << 20
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Hub serves /ws when set.
	Hub *Hub

	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer

	Logger *log.Logger
}

type handler struct {
	adapter *Adapter
	logger  *log.Logger
}

// NewRouter returns the HTTP API of the adapter.
func NewRouter(a *Adapter, opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	h := &handler{adapter: a, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.healthz)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Hub != nil {
		r.Handle("/ws", opts.Hub)
	}

	r.Post("/say", h.say)
	r.Post("/say/{style}", h.sayStyle)
	r.Route("/play", func(r chi.Router) {
		r.Post("/mp3", h.playMP3)
		r.Post("/file", h.playFile)
	})
	r.Post("/player/{command}", h.player)
	r.Get("/voices/{backend}", h.voices)
	r.Get("/usage/{backend}", h.usage)
	r.Route("/alarm", func(r chi.Router) {
		r.Post("/", h.createAlarm)
		r.Get("/", h.listAlarms)
		r.Delete("/{id}", h.deleteAlarm)
	})

	return r
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"player":  h.adapter.player.State().String(),
		"pending": h.adapter.player.Len(),
	})
}

// say accepts a JSON SayCommand or a text/plain phrase. With ?wait=true
// the response carries the synthesis outcome.
func (h *handler) say(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	var p Phrase
	if isJSON(r) {
		var cmd SayCommand
		if err := json.Unmarshal(body, &cmd); err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
			return
		}
		p = cmd.Phrase(source(r))
	} else {
		p = Phrase{Text: string(body), Source: source(r)}
		q := r.URL.Query()
		p.Voice, p.Backend, p.Style = q.Get("voice"), q.Get("backend"), q.Get("style")
		p.Template, _ = strconv.ParseBool(q.Get("template"))
	}
	h.submit(w, r, p)
}

func (h *handler) sayStyle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	h.submit(w, r, Phrase{
		Text:   string(body),
		Style:  chi.URLParam(r, "style"),
		Voice:  r.URL.Query().Get("voice"),
		Source: source(r),
	})
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request, p Phrase) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		receipt, err := h.adapter.SubmitWait(r.Context(), p)
		if err != nil {
			writeJSON(w, statusFor(err), receipt)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
		return
	}

	seq, err := h.adapter.Submit(r.Context(), p)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, Receipt{Seq: seq})
}

func (h *handler) playMP3(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAudioBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	receipt, err := h.adapter.PlayAudio(data, source(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (h *handler) playFile(w http.ResponseWriter, r *http.Request) {
	var req SoundRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	receipt, err := h.adapter.PlaySound(req, source(r))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, receipt)
}

func (h *handler) player(w http.ResponseWriter, r *http.Request) {
	arg := r.URL.Query().Get("value")
	if arg == "" {
		body, _ := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTextBody))
		arg = string(body)
	}
	receipt, err := h.adapter.Control(chi.URLParam(r, "command"), arg)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (h *handler) voices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.adapter.Voices(r.Context(), chi.URLParam(r, "backend"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, FilterVoices(voices, r.URL.Query().Get("q")))
}

func (h *handler) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.adapter.Usage(r.Context(), chi.URLParam(r, "backend"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tier":      u.Tier,
		"used":      u.Used,
		"limit":     u.Limit,
		"remaining": u.Remaining(),
		"unit":      u.Unit,
		"resets_at": u.ResetsAt,
	})
}

// AlarmList is the body of GET /alarm and the reply of B.alarm.list.
type AlarmList struct {
	Alarms []alarm.Alarm `json:"alarms"`
}

func (h *handler) createAlarm(w http.ResponseWriter, r *http.Request) {
	var a alarm.Alarm
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody)).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	created, err := h.adapter.AddAlarm(a)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listAlarms(w http.ResponseWriter, _ *http.Request) {
	alarms, err := h.adapter.Alarms()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, AlarmList{Alarms: alarms})
}

func (h *handler) deleteAlarm(w http.ResponseWriter, r *http.Request) {
	if err := h.adapter.RemoveAlarm(chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FilterVoices returns the voices whose name or id fuzzy-matches query,
// best match first. An empty query returns voices unchanged.
func FilterVoices(voices []backend.Voice, query string) []backend.Voice {
	if query == "" {
		return voices
	}
	targets := make([]string, len(voices))
	for i, v := range voices {
		targets[i] = v.Name + " " + v.ID
	}
	matches := fuzzy.Find(query, targets)
	out := make([]backend.Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var synth *speech.SynthesisFailed
	switch {
	case errors.Is(err, backend.ErrEmptyText),
		errors.Is(err, backend.ErrUnsupportedStyle),
		errors.Is(err, playback.ErrEmptyAudio),
		errors.Is(err, sounds.ErrOutsideLibrary),
		errors.Is(err, alarm.ErrInvalid),
		errors.Is(err, ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrUnknownBackend),
		errors.Is(err, sounds.ErrNotFound),
		errors.Is(err, alarm.ErrNotFound),
		errors.Is(err, ErrUnknownRoute),
		errors.Is(err, ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, playback.ErrQueueClosed),
		errors.Is(err, ErrNoSounds),
		errors.Is(err, ErrNoAlarms),
		errors.Is(err, speech.ErrNoBackend):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &synth):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func source(r *http.Request) string {
	return "http:" + r.URL.Path
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, Receipt{Error: err.Error()})
}

func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
