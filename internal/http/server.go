package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bilancio/internal/log"
	"bilancio/internal/services"
)

// Processor runs scheduler passes for the API.
type Processor interface {
	ProcessDue(ctx context.Context, now time.Time) (*services.PassSummary, error)
	Preview(ctx context.Context, now time.Time) (*services.PassSummary, error)
}

// Pinger reports whether the store can be reached.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	Addr      string
	Processor Processor
	Store     Pinger
	// Location interprets date-only "now" parameters (default: UTC).
	Location *time.Location
	Logger   *log.Logger
	// RunsPerMinute limits POST requests per client IP (default: 60).
	RunsPerMinute int
}

type Server struct {
	http.Server
	processor   Processor
	store       Pinger
	loc         *time.Location
	now         func() time.Time
	rateLimiter *rateLimiter

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.RunsPerMinute <= 0 {
		opts.RunsPerMinute = 60
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              opts.Addr,
			Handler:           log.RequestMiddleware(opts.Logger, extractClientIP)(mux),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      5 * time.Minute,
		},
		processor:   opts.Processor,
		store:       opts.Store,
		loc:         opts.Location,
		now:         time.Now,
		rateLimiter: newRateLimiter(opts.RunsPerMinute),
	}

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("POST /api/recurring/run", s.withSecurityHeaders(s.handleRunRecurring))
	mux.HandleFunc("GET /api/recurring/preview", s.withSecurityHeaders(s.handlePreviewRecurring))

	return s
}

// withSecurityHeaders adds security headers and rate limits POST requests.
func (s *Server) withSecurityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)

		clientIP := extractClientIP(r)
		if r.Method == http.MethodPost {
			if ok, wait := s.rateLimiter.allow(clientIP); !ok {
				log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
					log.FieldClientIP, clientIP,
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
				writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}

		next(w, r)
	}
}

// Shutdown stops the rate limiter and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
