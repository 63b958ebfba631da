package auth

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/sirupsen/logrus"
)

// Authenticator rejects requests without a valid token and stores the
// caller's profile in the context. It must run after Verifier.
func Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil || token == nil {
			msg := "Authorization token required"
			if err != nil && err != jwtauth.ErrNoTokenFound {
				msg = "Invalid token: " + err.Error()
			}
			unauthorized(w, msg)
			return
		}

		profile, err := ProfileFromClaims(claims)
		if err != nil {
			unauthorized(w, "Invalid token claims")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		logrus.WithError(err).Error("Error encoding JSON response")
	}
}
