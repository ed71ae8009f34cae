package status

import (
	"encoding/json"
	"html/template"
	"net/http"

	"github.com/datascaled/hyperx-pilot/core"
	"github.com/datascaled/hyperx-pilot/memorywriter"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"
)

// This package serves the status page on /status/ and the detailed log
// at /status/log.gz.

type status struct {
	core             *core.Core
	version          string
	longMemoryWriter *memorywriter.MemoryWriter
}

const csrfkey = "x9w2hyperxpilot51w2qiw4fhrfyd84f"

func ServeStatusRedirect(r *mux.Router) {
	r.HandleFunc("/", redirect)
	r.Use(OriginCheck(map[string]string{
		"": "",
	}))
}

func redirect(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "http://127.0.0.1:21789/status/", http.StatusMovedPermanently)
}

func ServeStatus(r *mux.Router, c *core.Core, v string, dmw *memorywriter.MemoryWriter) {
	status := &status{
		core:             c,
		version:          v,
		longMemoryWriter: dmw,
	}
	r.Methods("GET").Path("/").HandlerFunc(status.statusPage)
	r.Methods("POST").Path("/log.gz").HandlerFunc(status.statusGzip)

	r.Use(csrf.Protect([]byte(csrfkey), csrf.Secure(false)))
	r.Use(OriginCheck(map[string]string{
		"/status/":       "",
		"/status/log.gz": "http://127.0.0.1:21789",
	}))
}

func (s *status) statusGzip(w http.ResponseWriter, r *http.Request) {
	s.longMemoryWriter.Log("status - building gzip")

	header := "hyperx-pilot " + s.version + "\nCurrent log:\n"
	gz, err := s.longMemoryWriter.Gzip(header)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	if _, err := w.Write(gz); err != nil {
		s.longMemoryWriter.Log("status - gzip write error: " + err.Error())
	}
}

var statusTemplate = template.Must(template.New("status").Parse(templateString))

func (s *status) statusPage(w http.ResponseWriter, r *http.Request) {
	s.longMemoryWriter.Log("status - building page")

	data := &statusTemplateData{
		Version:   s.version,
		CSRFField: csrf.TemplateField(r),
	}

	entries, err := s.core.Enumerate()
	if err != nil {
		data.IsError = true
		data.Error = err.Error()
	} else {
		for _, e := range entries {
			data.Devices = append(data.Devices, statusTemplateDevice{
				Label: e.Label,
				Model: e.Model.String(),
				ID:    e.ID,
			})
		}
		data.DeviceCount = len(entries)
	}

	if err := statusTemplate.Execute(w, data); err != nil {
		s.longMemoryWriter.Log("status - template error: " + err.Error())
	}
}

func respondError(w http.ResponseWriter, err error) {
	type jsonError struct {
		Error string `json:"error"`
	}
	w.WriteHeader(http.StatusBadRequest)
	// if even the encoder of the error errors, give up
	_ = json.NewEncoder(w).Encode(jsonError{Error: err.Error()})
}
