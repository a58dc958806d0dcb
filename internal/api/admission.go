package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vaenkat/health-ecosystem-hub/internal/limiter"
	"github.com/vaenkat/health-ecosystem-hub/internal/metrics"
)

// admissionDenied is the 429 body. The field set is fixed; deployed clients
// parse this exact shape.
type admissionDenied struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ErrorCode  string `json:"error_code"`
	RetryAfter int    `json:"retry_after"`
	Timestamp  string `json:"timestamp"`
}

// admissionMiddleware asks the limiter before letting a request through.
// Requests are keyed by the authenticated user when the context carries one,
// falling back to the client IP. Denial is an expected outcome and is never
// logged above debug.
func (s *Server) admissionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := ""
		if identity := identityFrom(r.Context()); identity != nil {
			userID = identity.UserID
		}
		key := limiter.KeyFor(userID, r)

		d := s.limiter.Admit(key)
		metrics.RecordAdmission(d.Allowed)
		s.recordAdmission(key, d.Allowed, r)

		if !d.Allowed {
			retry := int((d.RetryAfter + time.Second - 1) / time.Second)
			s.logger.Debug("request denied", "key", key, "retry_after_s", retry)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			writeJSON(w, http.StatusTooManyRequests, admissionDenied{
				Success:    false,
				Message:    "Rate limit exceeded. Please try again later.",
				ErrorCode:  "RATE_LIMIT_EXCEEDED",
				RetryAfter: retry,
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
			})
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		for _, tier := range d.Tiers {
			suffix := strings.ToUpper(tier.Name[:1]) + tier.Name[1:]
			h.Set("X-RateLimit-Limit-"+suffix, strconv.Itoa(tier.Limit))
			h.Set("X-RateLimit-Remaining-"+suffix, strconv.Itoa(tier.Remaining))
		}
		next.ServeHTTP(w, r)
	})
}

// recordAdmission hands the decision to the stats sink without holding up the
// request. The request context dies with the response, so the write gets its
// own deadline.
func (s *Server) recordAdmission(key limiter.ClientKey, allowed bool, r *http.Request) {
	if s.recorder == nil {
		return
	}
	ev := limiter.Event{Key: key, Allowed: allowed, Method: r.Method, Path: r.URL.Path, At: time.Now()}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.recorder.Record(ctx, ev); err != nil {
			s.logger.Debug("admission stats record failed", "error", err)
		}
	}()
}
