package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/kalambet/linkreach/internal/outreach"
)

// lastResortMessage is returned if message generation itself breaks.
const lastResortMessage = "I came across your profile and would love to connect!"

const maxBatchSize = 100

type generateMessageRequest struct {
	ProfileData map[string]any `json:"profileData"`
}

type generateMessagesRequest struct {
	Status string `json:"status"`
	Limit  int    `json:"limit"`
}

type draft struct {
	ProfileURL string `json:"profileUrl"`
	Message    string `json:"message"`
}

func handleGenerateMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isJSON(r) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Request must be JSON")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req generateMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.ProfileData == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "No profile data provided")
			return
		}

		msg, err := safeGenerate(r.Context(), deps.Generator, outreach.Profile(req.ProfileData))
		if err != nil {
			deps.Logger.Error("message generation failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"success": false,
				"error":   err.Error(),
				"message": lastResortMessage,
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": msg,
		})
	}
}

func handleGenerateMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req generateMessagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Limit <= 0 || req.Limit > maxBatchSize {
			req.Limit = maxBatchSize
		}

		stored, err := deps.Store.ListProfiles(req.Status)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list profiles: %v", err)
			return
		}
		if len(stored) > req.Limit {
			stored = stored[:req.Limit]
		}

		profiles := make([]outreach.Profile, len(stored))
		for i, p := range stored {
			profiles[i] = outreach.Profile(p.Data)
		}
		msgs := deps.Generator.GenerateBatch(r.Context(), profiles, deps.BatchConcurrency)

		drafts := make([]draft, len(stored))
		for i, p := range stored {
			drafts[i] = draft{ProfileURL: p.URL, Message: msgs[i]}
		}
		writeJSON(w, http.StatusOK, map[string]any{"messages": drafts})
	}
}

// safeGenerate converts a panic inside the generator into an error.
func safeGenerate(ctx context.Context, g MessageGenerator, p outreach.Profile) (msg string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("generating message: %v", rec)
		}
	}()
	return g.Generate(ctx, p), nil
}
