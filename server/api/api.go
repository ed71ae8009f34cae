package api

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/datascaled/hyperx-pilot/core"
	"github.com/datascaled/hyperx-pilot/memorywriter"

	"github.com/gorilla/mux"
)

// This package serves the bridge API. The actual logic of enumeration
// and device calls is in the core package; here we only convert request
// data and format replies.

type api struct {
	core    *core.Core
	version string
	logger  *memorywriter.MemoryWriter
}

func ServeAPI(r *mux.Router, c *core.Core, v string, l *memorywriter.MemoryWriter) error {
	api := &api{
		core:    c,
		version: v,
		logger:  l,
	}
	r.HandleFunc("/", api.Info)
	r.HandleFunc("/enumerate", api.Enumerate)
	r.HandleFunc("/listen", api.Listen)
	r.HandleFunc("/sidetone/get/{id}", api.GetSidetone)
	r.HandleFunc("/sidetone/set/{id}/{state}", api.SetSidetone)
	r.HandleFunc("/spatial/get/{id}", api.GetSpatial)
	r.HandleFunc("/spatial/set/{id}/{state}", api.SetSpatial)

	corsv, err := corsValidator()
	if err != nil {
		return err
	}
	r.Use(CORS(corsv))
	return nil
}

func (a *api) Info(w http.ResponseWriter, r *http.Request) {
	a.logger.Log("api - version " + a.version)

	type info struct {
		Version string `json:"version"`
	}
	err := json.NewEncoder(w).Encode(info{
		Version: a.version,
	})
	a.checkJSONError(w, err)
}

func (a *api) Enumerate(w http.ResponseWriter, r *http.Request) {
	e, err := a.core.Enumerate()
	if err != nil {
		a.respondError(w, err)
		return
	}
	err = json.NewEncoder(w).Encode(e)
	a.checkJSONError(w, err)
}

func (a *api) Listen(w http.ResponseWriter, r *http.Request) {
	var entries core.Descriptors

	err := json.NewDecoder(r.Body).Decode(&entries)
	defer func() {
		if errClose := r.Body.Close(); errClose != nil {
			// just log
			a.logger.Log("api - error on request close: " + errClose.Error())
		}
	}()

	if err != nil {
		a.respondError(w, err)
		return
	}

	res, err := a.core.Listen(r.Context(), entries)
	if err != nil {
		a.respondError(w, err)
		return
	}

	err = json.NewEncoder(w).Encode(res)
	a.checkJSONError(w, err)
}

type stateResult struct {
	Enabled bool `json:"enabled"`
}

func (a *api) GetSidetone(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	enabled, err := a.core.GetSidetone(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	err = json.NewEncoder(w).Encode(stateResult{Enabled: enabled})
	a.checkJSONError(w, err)
}

func (a *api) SetSidetone(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	enabled, ok := parseState(vars["state"])
	if !ok {
		http.Error(w, "state must be on or off", http.StatusBadRequest)
		return
	}
	if err := a.core.SetSidetone(r.Context(), vars["id"], enabled); err != nil {
		a.respondError(w, err)
		return
	}
	err := json.NewEncoder(w).Encode(struct{}{})
	a.checkJSONError(w, err)
}

func (a *api) GetSpatial(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	enabled, err := a.core.GetSpatial(r.Context(), id)
	if err != nil {
		a.respondError(w, err)
		return
	}
	err = json.NewEncoder(w).Encode(stateResult{Enabled: enabled})
	a.checkJSONError(w, err)
}

func (a *api) SetSpatial(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	enabled, ok := parseState(vars["state"])
	if !ok {
		http.Error(w, "state must be on or off", http.StatusBadRequest)
		return
	}
	if err := a.core.SetSpatial(r.Context(), vars["id"], enabled); err != nil {
		a.respondError(w, err)
		return
	}
	err := json.NewEncoder(w).Encode(struct{}{})
	a.checkJSONError(w, err)
}

func parseState(s string) (enabled, ok bool) {
	switch s {
	case "on":
		return true, true
	case "off":
		return false, true
	default:
		return false, false
	}
}

func corsValidator() (OriginValidator, error) {
	// Only the local UI may talk to the bridge: loopback origins plus
	// the tauri scheme the desktop shell uses, and no Origin header at
	// all for plain CLI callers.
	lregex, err := regexp.Compile(`^https?://(localhost|127\.0\.0\.1)(:[[:digit:]]{1,5})?$`)
	if err != nil {
		return nil, err
	}
	v := func(origin string) bool {
		if origin == "" {
			return true
		}
		if origin == "tauri://localhost" {
			return true
		}
		return lregex.MatchString(origin)
	}

	return v, nil
}

func (a *api) checkJSONError(w http.ResponseWriter, err error) {
	if err != nil {
		a.respondError(w, err)
	}
}

func (a *api) respondError(w http.ResponseWriter, err error) {
	type jsonError struct {
		Error string `json:"error"`
	}
	a.logger.Log("api - returning error: " + err.Error())
	w.WriteHeader(http.StatusBadRequest)

	// if even the encoder of the error errors, just log the error
	err = json.NewEncoder(w).Encode(jsonError{
		Error: err.Error(),
	})
	if err != nil {
		a.logger.Log("api - error while writing error: " + err.Error())
	}
}
