package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 64

type requestInfoKey struct{}

type requestInfo struct {
	id       string
	clientIP string
}

// RequestID returns the id assigned by RequestContext, or "".
func RequestID(r *http.Request) string {
	info, _ := r.Context().Value(requestInfoKey{}).(requestInfo)
	return info.id
}

// ClientIP returns the address recorded by RequestContext, falling back to
// the connection's remote host.
func ClientIP(r *http.Request) string {
	if info, ok := r.Context().Value(requestInfoKey{}).(requestInfo); ok && info.clientIP != "" {
		return info.clientIP
	}
	return remoteHost(r.RemoteAddr)
}

// RequestContext prepares each request for the engine: it assigns a request
// id, stores the client address and User-Agent with authcore.WithClientIP and
// authcore.WithUserAgent, attaches a request-scoped logger, and logs the
// outcome. trustProxy makes it take the first X-Forwarded-For entry as the
// client address; enable it only behind a proxy that overwrites that header.
func RequestContext(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" || len(id) > maxRequestIDLength {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ip := remoteHost(r.RemoteAddr)
			if trustProxy {
				if forwarded := firstForwarded(r.Header.Get("X-Forwarded-For")); forwarded != "" {
					ip = forwarded
				}
			}

			reqLogger := logger.With("request_id", id)
			ctx := context.WithValue(r.Context(), requestInfoKey{}, requestInfo{id: id, clientIP: ip})
			ctx = authcore.WithClientIP(ctx, ip)
			ctx = authcore.WithUserAgent(ctx, r.UserAgent())
			ctx = logging.WithLogger(ctx, reqLogger)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			level := slog.LevelInfo
			if rec.status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			reqLogger.LogAttrs(r.Context(), level, "http.request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.String("client_ip", ip),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func firstForwarded(header string) string {
	first, _, _ := strings.Cut(header, ",")
	first = strings.TrimSpace(first)
	if net.ParseIP(first) == nil {
		return ""
	}
	return first
}
