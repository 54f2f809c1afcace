package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kalambet/linkreach/internal/ratelimit"
	"github.com/kalambet/linkreach/internal/storage"
)

// ErrRateLimited is returned when the hourly connection budget is spent.
var ErrRateLimited = errors.New("rate limit exceeded")

type recordConnectionRequest struct {
	ProfileURL  string  `json:"profileUrl"`
	Timestamp   any     `json:"timestamp"`
	MessageUsed *string `json:"messageUsed"`
}

// recordConnection checks the connection window and, when allowed, appends
// c to the log. A failed insert gives the slot back. The returned Decision is valid whenever err is nil or
// ErrRateLimited.
func recordConnection(ctx context.Context, deps Deps, c storage.Connection) (storage.Connection, ratelimit.Decision, error) {
	dec, err := deps.Window.Allow(ctx)
	if err != nil {
		return storage.Connection{}, ratelimit.Decision{}, fmt.Errorf("checking rate limit: %w", err)
	}
	if !dec.Allowed {
		deps.Logger.Warn("connection rate limit exceeded",
			zap.String("profile_url", c.ProfileURL),
			zap.Duration("retry_after", dec.RetryAfter),
		)
		return storage.Connection{}, dec, ErrRateLimited
	}

	saved, err := deps.Store.RecordConnection(c)
	if err != nil {
		if relErr := deps.Window.Release(ctx, dec); relErr != nil {
			deps.Logger.Warn("releasing connection slot", zap.Error(relErr))
		}
		return storage.Connection{}, dec, err
	}
	deps.Logger.Info("connection recorded", zap.String("profile_url", c.ProfileURL))
	return saved, dec, nil
}

func handleRecordConnection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isJSON(r) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Request must be JSON")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req recordConnectionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProfileURL == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "No profile URL provided")
			return
		}
		at, err := parseTimestamp(req.Timestamp)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid timestamp: %v", err)
			return
		}

		_, dec, err := recordConnection(r.Context(), deps, storage.Connection{
			ProfileURL:  req.ProfileURL,
			ConnectedAt: at,
			MessageUsed: req.MessageUsed,
		})
		if errors.Is(err, ErrRateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(dec.RetryAfter.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "Rate limit exceeded",
				"message": fmt.Sprintf("Maximum of %d connections per hour allowed", deps.Window.Limit()),
			})
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record connection: %v", err)
			return
		}

		count, err := deps.Store.CountConnections()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count connections: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":           true,
			"connections_count": count,
			"message":           "Connection recorded successfully",
		})
	}
}

func handleListConnections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		conns, err := deps.Store.ListConnections(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list connections: %v", err)
			return
		}
		if conns == nil {
			conns = []storage.Connection{}
		}

		writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
	}
}

// parseTimestamp accepts Unix seconds (as sent by the extension) or an
// RFC 3339 string. A missing value yields the zero time, which the store
// replaces with the current time.
func parseTimestamp(v any) (time.Time, error) {
	switch ts := v.(type) {
	case nil:
		return time.Time{}, nil
	case float64:
		if ts <= 0 || math.IsInf(ts, 0) || math.IsNaN(ts) {
			return time.Time{}, fmt.Errorf("out of range: %v", ts)
		}
		sec, frac := math.Modf(ts)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	case string:
		if ts == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported type %T", v)
	}
}
