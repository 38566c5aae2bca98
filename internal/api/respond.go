package api

import (
	"encoding/json"
	"net/http"
	"strings"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr writes err with the status its code maps to.
func writeErr(w http.ResponseWriter, err error) {
	de, ok := dcerrors.As(err)
	if !ok {
		de = dcerrors.InternalError("internal server error", err)
	}
	status := statusFor(de.Code)

	msg := de.Message
	if de.Code == dcerrors.ErrCodeInternal {
		// Unclassified failures keep their cause in the log only.
		msg = "Internal server error. Please retry or check service logs."
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:       de.Code,
		Message:    msg,
		Suggestion: de.Suggestion,
	}})
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case dcerrors.ErrCodeSessionActive, dcerrors.ErrCodeIngestActive:
		return http.StatusConflict
	case dcerrors.ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case dcerrors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case dcerrors.ErrCodeEmbeddingFailed, dcerrors.ErrCodeGenerationFailed:
		return http.StatusBadGateway
	case dcerrors.ErrCodeNetworkTimeout:
		return http.StatusGatewayTimeout
	case dcerrors.ErrCodeNetworkUnavailable:
		return http.StatusBadGateway
	}
	if strings.HasPrefix(code, "ERR_4") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
