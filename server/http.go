package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/datascaled/hyperx-pilot/core"
	"github.com/datascaled/hyperx-pilot/memorywriter"
	"github.com/datascaled/hyperx-pilot/server/api"
	"github.com/datascaled/hyperx-pilot/server/status"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// The bridge listens on loopback only; the UI is the only intended
// caller and everything else is rejected by the CORS layer.
const bridgeAddr = "127.0.0.1:21789"

type Server struct {
	https  *http.Server
	writer io.Writer
}

func New(
	c *core.Core,
	stderrWriter io.Writer,
	longWriter *memorywriter.MemoryWriter,
	version string,
) (*Server, error) {
	longWriter.Log("server - starting")

	https := &http.Server{
		Addr: bridgeAddr,
	}

	allWriter := io.MultiWriter(stderrWriter, longWriter)
	s := &Server{
		https:  https,
		writer: allWriter,
	}

	r := mux.NewRouter()
	statusRouter := r.PathPrefix("/status").Subrouter()
	postRouter := r.Methods("POST").Subrouter()
	redirectRouter := r.Methods("GET").Path("/").Subrouter()

	status.ServeStatus(statusRouter, c, version, longWriter)
	if err := api.ServeAPI(postRouter, c, version, longWriter); err != nil {
		return nil, err
	}
	status.ServeStatusRedirect(redirectRouter)

	var h http.Handler = r
	// Log after the request is done, in the Apache format.
	h = handlers.LoggingHandler(allWriter, h)
	// Log when the request is received.
	h = s.logRequest(h)

	https.Handler = h

	longWriter.Log("server - created")
	return s, nil
}

func (s *Server) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		text := fmt.Sprintf("%s %s\n", r.Method, r.URL)
		_, err := s.writer.Write([]byte(text))
		if err != nil {
			// give up, just print on stdout
			fmt.Println(err)
		}
		handler.ServeHTTP(w, r)
	})
}

func (s *Server) Run() error {
	return s.https.ListenAndServe()
}

func (s *Server) Close() error {
	return s.https.Close()
}
