package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tapreward/server/internal/reward"
)

const maxBodyBytes = 16 << 10

// errorResponse is the body of every failed request
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, errorResponse{Error: message})
}

func respondJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

type outcomeResponse struct {
	status  int
	message string
}

var outcomeResponses = map[string]outcomeResponse{
	reward.ReasonMalformedRequest: {http.StatusBadRequest, "Malformed request."},
	reward.ReasonUnauthenticated:  {http.StatusUnauthorized, "Your session has expired. Please tap your hat again."},
	reward.ReasonInvalidReference: {http.StatusUnauthorized, "This tap could not be verified. Please tap your hat again."},
	reward.ReasonUnknownChip:      {http.StatusForbidden, "This hat is not authorized."},
	reward.ReasonNoActivePeriod:   {http.StatusBadRequest, "No active reward period"},
	reward.ReasonAlreadyClaimed:   {http.StatusBadRequest, "Reward already claimed"},
	reward.ReasonInvalidSignature: {http.StatusBadRequest, "The wallet signature is invalid."},
	reward.ReasonSignatureExpired: {http.StatusBadRequest, "The wallet signature has expired. Please sign again."},
	reward.ReasonInternalError:    {http.StatusInternalServerError, "An error occurred while processing your request"},
}

// respondWithOutcome maps a service error onto its status code and reason. Internal
// causes never reach the body.
func respondWithOutcome(w http.ResponseWriter, err error) {
	reason := reward.OutcomeOf(err)
	resp, ok := outcomeResponses[reason]
	if !ok {
		reason, resp = reward.ReasonInternalError, outcomeResponses[reward.ReasonInternalError]
	}
	respondJSON(w, resp.status, errorResponse{Error: resp.message, Reason: reason})
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
