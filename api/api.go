// Package api implements the Public API's HTTP façade (spec.md §4.H):
// GET /tile, GET /merged-tile and GET /health, wired via httprouter in the
// teacher's own idiom (see _examples/NebulousLabs-Sia/api/api.go).
package api

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"github.com/cccoolll/agent-lens/modules"
)

// Error is a type that is encoded as JSON and returned in an API response
// in the event of an error. Only the Message field is required.
type Error struct {
	Message string `json:"message"`
}

// Error implements the error interface for the Error type.
func (err Error) Error() string {
	return err.Message
}

// API wires a modules.TileServer to an http.Handler. No authentication is
// required: spec.md §1 places auth out of scope for the core.
type API struct {
	server modules.TileServer

	Handler http.Handler
}

// NewAPI builds an API exposing server's GetTile, GetMergedTile and Health
// operations over HTTP (/tile, /merged-tile and /health).
func NewAPI(server modules.TileServer) *API {
	api := &API{server: server}
	api.Handler = api.initAPI()
	return api
}

func (api *API) initAPI() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(api.unrecognizedCallHandler)

	router.GET("/tile", api.tileHandler)
	router.GET("/merged-tile", api.mergedTileHandler)
	router.GET("/health", api.healthHandler)

	return router
}

func (api *API) unrecognizedCallHandler(w http.ResponseWriter, req *http.Request) {
	writeError(w, Error{"404 - unrecognized endpoint"}, http.StatusNotFound)
}

// writeError writes err to the API caller as JSON.
func writeError(w http.ResponseWriter, err Error, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if json.NewEncoder(w).Encode(err) != nil {
		http.Error(w, "failed to encode error response", http.StatusInternalServerError)
	}
}

// writeJSON writes obj to the ResponseWriter as JSON with the given
// status code.
func writeJSON(w http.ResponseWriter, code int, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if json.NewEncoder(w).Encode(obj) != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

// writePNG writes data as an image/png response.
func writePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
