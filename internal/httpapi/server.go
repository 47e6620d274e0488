package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/control"
	"github.com/hamed0406/uptimed/internal/daemon"
	"github.com/hamed0406/uptimed/internal/dashboard"
	"github.com/hamed0406/uptimed/internal/domain"
	apimw "github.com/hamed0406/uptimed/internal/httpapi/middleware"
)

// StatusSource is the running daemon as seen by the API.
type StatusSource interface {
	Hosts() []daemon.HostStatus
	Status() control.StatusMessage
}

type Server struct {
	Logger *zap.Logger
	Status StatusSource
	Dash   *dashboard.Service
	Hub    *Hub
}

func NewServer(l *zap.Logger, st StatusSource, dash *dashboard.Service, hub *Hub) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Status: st, Dash: dash, Hub: hub}
}

// Router builds the read-only status API. Read routes need a public or
// admin key and are rate limited; /api/config needs an admin key.
func (s *Server) Router(keys apimw.Keys, allowedOrigins []string, publicRPM, publicBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLog)
	if len(allowedOrigins) == 0 {
		r.Use(cors.AllowAll().Handler)
	} else {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "X-API-Key"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(publicRPM, publicBurst))
		r.Use(apimw.RequireAny(keys))
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/hosts/summary", s.handleSummary)
		r.Get("/api/hosts/alerts", s.handleAlerts)
		if s.Hub != nil {
			r.Get("/api/live", s.Hub.ServeWS)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RequireAdmin(keys))
		r.Get("/api/config", s.handleConfig)
	})
	return r
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug("api_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.Status.Hosts())
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.Status.Status())
}

// hosts is the ?host= filter or every monitored host. ok is false for a
// malformed filter.
func (s *Server) hosts(r *http.Request) ([]string, bool) {
	if h := r.URL.Query().Get("host"); h != "" {
		if !isValidHTTPURL(h) {
			return nil, false
		}
		return []string{normalizeHTTPURL(h)}, true
	}
	var out []string
	for _, hs := range s.Status.Hosts() {
		out = append(out, hs.Host)
	}
	return out, true
}

func isValidHTTPURL(raw string) bool {
	_, err := domain.ParseURL(raw)
	return err == nil
}

func normalizeHTTPURL(raw string) string {
	return domain.NormalizeHost(raw)
}

func badHost(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]string{"error": "host must be an http(s) URL"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	hosts, ok := s.hosts(r)
	if !ok {
		badHost(w, r)
		return
	}
	sums, err := s.Dash.Summaries(r.Context(), hosts)
	if err != nil {
		s.Logger.Warn("summary_error", zap.Error(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, map[string]string{"error": "summary unavailable"})
		return
	}
	render.JSON(w, r, sums)
}

type alertView struct {
	Host    string    `json:"host"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "since must be RFC3339"})
			return
		}
		since = t
	}
	hosts, ok := s.hosts(r)
	if !ok {
		badHost(w, r)
		return
	}
	out := []alertView{}
	for _, h := range hosts {
		recs, err := s.Dash.Alerts(r.Context(), h, since)
		if err != nil {
			s.Logger.Warn("alerts_error", zap.String("host", h), zap.Error(err))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "alerts unavailable"})
			return
		}
		for _, a := range recs {
			out = append(out, alertView{Host: h, Message: a.Text(domain.FieldError), Time: a.Time})
		}
	}
	render.JSON(w, r, out)
}
