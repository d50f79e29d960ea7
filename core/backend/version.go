package backend

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/itemsvc/core/logger"
)

var (
	// Version is the version of the current build, set with -ldflags "-X ...backend.Version=..."
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		data, _ := json.Marshal(map[string]string{"version": Version})
		w.Write(data)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// handleDescription serves the API description the backend was built from
func (b *Backend) handleDescription(router *mux.Router) {
	logger.Default().Debugln("  handle api description route: /openapi.yaml GET")
	router.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(b.rawSpec)
	}).Methods(http.MethodOptions, http.MethodGet)
}

// Description returns the API description of the backend
func (b *Backend) Description() []byte {
	return b.rawSpec
}
