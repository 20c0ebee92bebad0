package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/noor9026/slicebox/internal/models"
	"github.com/noor9026/slicebox/internal/services"
	"github.com/rs/zerolog/log"
)

type contextKey string

const boxKey contextKey = "box"

// BoxToken authenticates a peer box by its shared token, carried as a
// `token` query parameter or an Authorization bearer header, and puts the
// box on the request context.
func BoxToken(boxes *services.BoxService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					token = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if token == "" {
				http.Error(w, "Missing box token", http.StatusUnauthorized)
				return
			}

			box, err := boxes.BoxByToken(r.Context(), token)
			if err != nil {
				log.Error().Err(err).Msg("Box token lookup failed")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			if box == nil {
				log.Warn().Str("path", r.URL.Path).Msg("Unknown box token")
				http.Error(w, "Invalid box token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), boxKey, box)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetBox extracts the authenticated box from context
func GetBox(ctx context.Context) (*models.Box, bool) {
	box, ok := ctx.Value(boxKey).(*models.Box)
	return box, ok
}
