package handlers

import (
	"net/http"

	"github.com/bigkaa/phototimeline/internal/api/openapi"
)

// ServeOpenAPI обрабатывает GET /openapi.yaml.
func ServeOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Raw())
}
