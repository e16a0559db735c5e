package middleware

import (
	"fmt"
	"net/http"

	"github.com/clipmint/clipmint-backend/api/responses"
	pkgerrors "github.com/clipmint/clipmint-backend/pkg/errors"
	"github.com/clipmint/clipmint-backend/pkg/logger"
)

// Recoverer turns a panicking handler into a logged internal error so a bad
// settlement request cannot take the process down.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("panic: %v", rec)
					ctx := r.Context()
					if logg != nil {
						ctx = logg.WithFields(ctx, map[string]any{
							"panic":  rec,
							"method": r.Method,
							"path":   r.URL.Path,
						})
						logg.Error(ctx, "handler panicked, request aborted", err)
					}
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "handler panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
