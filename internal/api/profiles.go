package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kalambet/linkreach/internal/storage"
)

type collectProfilesRequest struct {
	Profiles []map[string]any `json:"profiles"`
}

func handleCollectProfiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isJSON(r) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "Request must be JSON")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req collectProfilesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Profiles == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "No profiles provided")
			return
		}

		stored, err := deps.Store.SaveProfiles(req.Profiles)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store profiles: %v", err)
			return
		}
		total, err := deps.Store.CountProfiles()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count profiles: %v", err)
			return
		}

		if skipped := len(req.Profiles) - stored; skipped > 0 {
			deps.Logger.Sugar().Debugf("skipped %d profiles without profileUrl", skipped)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"profiles_count": total,
			"message":        fmt.Sprintf("Stored %d profiles", len(req.Profiles)),
		})
	}
}

func handleGetProfiles(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profiles, err := deps.Store.ListProfiles(r.URL.Query().Get("status"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list profiles: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"profiles": profileDocs(profiles)})
	}
}

// profileDocs returns the stored documents, never nil.
func profileDocs(profiles []storage.Profile) []map[string]any {
	docs := make([]map[string]any, len(profiles))
	for i, p := range profiles {
		docs[i] = p.Data
	}
	return docs
}
