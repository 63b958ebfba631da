// Package common holds the HTTP response helpers shared by the REST and
// websocket handlers.
package common

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func RespondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Error encoding JSON response")
	}
}

func RespondWithError(w http.ResponseWriter, status int, message string) {
	RespondWithJSON(w, status, ErrorResponse{Error: message})
}

// RespondWithDomainError picks the status for err and logs server faults
func RespondWithDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatusFromError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logrus.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}
	RespondWithError(w, status, PublicMessage(err))
}
