package errors

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the JSON body rendered for client-facing errors
type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteHTTP renders err as a JSON error response. Structured errors map to
// their HTTP status and expose their type and details; anything else becomes
// an opaque 500 so internal causes never leak to clients.
func WriteHTTP(w http.ResponseWriter, err error) {
	resp := errorResponse{
		Error:   string(ErrorTypeInternal),
		Message: "internal server error",
	}
	status := http.StatusInternalServerError

	var structured *Error
	if As(err, &structured) {
		status = structured.HTTPStatusCode()
		resp.Error = string(structured.Type)
		resp.Message = structured.Message
		if structured.Type == ErrorTypeQuota {
			// Plan-ceiling denials always point at the upgrade path
			resp.Hint = "upgrade"
		}
		if len(structured.Details) > 0 {
			resp.Details = structured.Details
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
