package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/BTreeMap/FlowPipe/internal/logx"
	"github.com/BTreeMap/FlowPipe/internal/models"
)

// Pre-marshaled fallback so an encoding failure still yields a JSON body.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse marshals response before touching the headers, so a
// marshal failure can still turn into a 500.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		logx.Error().Err(err).Msg("Server.writeJSONResponse: failed to marshal JSON response")
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		logx.Error().Err(writeErr).Msg("Server.writeJSONResponse: failed to write JSON response")
	}
}
