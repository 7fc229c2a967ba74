// Package api provides the PiDogd HTTP API: robot control, behaviors and the camera.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal the response to JSON first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeRobotError maps supervisor and driver errors onto HTTP status codes.
func writeRobotError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, behavior.ErrBusy):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.Is(err, behavior.ErrNotSupported):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	default:
		slog.Error("Server."+op+": robot command failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(err.Error()))
	}
}

// errRobotNotInitialized is what robot routes report when the hardware never came up.
const errRobotNotInitialized = "robot not initialized"

func writeRobotNotInitialized(w http.ResponseWriter) {
	writeJSONResponse(w, http.StatusInternalServerError, models.Error(errRobotNotInitialized))
}

// allowMethods reports whether r uses one of methods, writing 405 otherwise.
func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	return false
}
