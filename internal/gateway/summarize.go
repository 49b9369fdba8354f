package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/AlexKimmel/PageGate/internal/cache"
	"github.com/AlexKimmel/PageGate/internal/gate"
	"github.com/AlexKimmel/PageGate/internal/identity"
	"github.com/AlexKimmel/PageGate/internal/ratelimit"
)

// Producer is the upstream crawl+summarize collaborator.
type Producer interface {
	Produce(ctx context.Context, url string) (string, error)
}

type summarizeRequest struct {
	URL string `json:"url"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
	Cached  bool   `json:"cached"`
}

type limitedResponse struct {
	Error limitedError `json:"error"`
}

type limitedError struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds"`
}

// Summarize translates HTTP to and from the access gate. All user-facing
// shapes live here; the gate only hands back structured outcomes.
func Summarize(g *gate.Gate, p Producer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}

		var req summarizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
			writeJSON(w, http.StatusBadRequest, "bad_request", "body must contain a url field")
			return
		}

		id := identity.Resolve(r.Header, r.RemoteAddr)
		out, err := g.Handle(r.Context(), id, req.URL, func(ctx context.Context) (string, error) {
			return p.Produce(ctx, req.URL)
		})

		switch {
		case errors.Is(err, cache.ErrBadURL):
			writeJSON(w, http.StatusBadRequest, "invalid_url", "not an absolute http(s) url")
		case errors.Is(err, gate.ErrLimiter):
			writeJSON(w, http.StatusServiceUnavailable, "limiter_unavailable", "try again later")
		case errors.Is(err, gate.ErrPipeline):
			writeJSON(w, http.StatusBadGateway, "upstream_failed", "could not summarize the page")
		case err != nil:
			writeJSON(w, http.StatusInternalServerError, "internal", "internal error")
		case out.Cached:
			w.Header().Set("X-Cache", "HIT")
			respond(w, http.StatusOK, summarizeResponse{Summary: out.Value, Cached: true})
		case out.Decision.Kind != ratelimit.Allowed:
			retry := int64(out.Decision.RetryAfter.Seconds())
			w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
			respond(w, http.StatusTooManyRequests, limitedResponse{Error: limitedError{
				Code:              out.Decision.Kind.String(),
				Message:           "too many requests",
				RetryAfterSeconds: retry,
			}})
		default:
			w.Header().Set("X-Cache", "MISS")
			w.Header().Set("X-RateLimit-Remaining-Hourly", strconv.Itoa(out.Decision.RemainingHourly))
			w.Header().Set("X-RateLimit-Remaining-Daily", strconv.Itoa(out.Decision.RemainingDaily))
			respond(w, http.StatusOK, summarizeResponse{Summary: out.Value})
		}
	})
}

func respond(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// local tiny JSON helper for fixed error shapes
func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
