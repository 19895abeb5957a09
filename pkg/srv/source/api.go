/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// go-sdds API
//
// RESTful APIs to interact with the go-sdds source server
//
//	Schemes: http
//	Host: localhost:8004
//	BasePath: /api
//	Version: 1.0.0
//
//	Consumes:
//	- application/json
//
//	Produces:
//	- application/json
//
// swagger:meta
package source

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-openapi/loads"
	"github.com/go-openapi/runtime/middleware"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"jinr.ru/greenlab/go-sdds/pkg/config"
	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/srv/stream"
)

//go:embed swagger.json
var swaggerJSON []byte

type ApiServer struct {
	context.Context
	*config.Config
	*mux.Router
	source     *SourceServer
	metrics    *Metrics
	httpServer *http.Server
}

// recoveryLogger sends recovered handler panics to the error log
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	log.Error("%s", fmt.Sprint(v...))
}

func NewApiServer(ctx context.Context, cfg *config.Config, source *SourceServer) (*ApiServer, error) {
	log.Info("Initializing API server with address: %s port: %d", cfg.ApiConfig.Address, cfg.ApiConfig.Port)

	doc, err := loads.Analyzed(json.RawMessage(swaggerJSON), "")
	if err != nil {
		return nil, fmt.Errorf("load API document: %w", err)
	}
	log.Debug("API document loaded: swagger: %s", doc.Version())

	s := &ApiServer{
		Context: ctx,
		Config:  cfg,
		source:  source,
		metrics: NewMetrics(source),
	}
	s.configureRouter()
	return s, nil
}

func (s *ApiServer) Handler() http.Handler {
	logged := handlers.LoggingHandler(log.Writer(log.DebugLevel), s.Router)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(logged)
}

// Run serves the API until Shutdown is called
func (s *ApiServer) Run() error {
	addr := fmt.Sprintf("%s:%d", s.ApiConfig.Address, s.ApiConfig.Port)
	log.Info("Starting API server: address: %s", addr)
	s.httpServer = &http.Server{
		Handler: s.Handler(),
		Addr:    addr,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *ApiServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *ApiServer) configureRouter() {
	s.Router = mux.NewRouter()
	subRouter := s.Router.PathPrefix("/api").Subrouter()
	// swagger:operation GET /status status getStatus
	subRouter.HandleFunc("/status", s.handleStatus()).Methods("GET")
	subRouter.HandleFunc("/metadata", s.handleMetadataGet()).Methods("GET")
	subRouter.HandleFunc("/metadata", s.handleMetadataSet()).Methods("POST")
	subRouter.HandleFunc("/metadata", s.handleMetadataClear()).Methods("DELETE")
	subRouter.HandleFunc("/metadata/history", s.handleMetadataHistory()).Methods("GET")
	subRouter.HandleFunc("/settings", s.handleSettingsGet()).Methods("GET")
	subRouter.HandleFunc("/settings", s.handleSettingsSet()).Methods("POST")
	subRouter.HandleFunc("/attachment", s.handleAttachment()).Methods("GET")

	s.Router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	s.Router.HandleFunc("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(swaggerJSON)
	}).Methods("GET")
	s.Router.Handle("/docs", middleware.Redoc(middleware.RedocOpts{
		Path:    "docs",
		SpecURL: "/swagger.json",
		Title:   "go-sdds API",
	}, nil)).Methods("GET")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error while encoding response: %s", err)
	}
}

func (s *ApiServer) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling status request")
		writeJSON(w, s.source.Status())
	}
}

func (s *ApiServer) handleMetadataGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md := s.source.MetadataOverride()
		if md == nil {
			http.Error(w, "Metadata override is not set", http.StatusNotFound)
			return
		}
		writeJSON(w, md)
	}
}

func (s *ApiServer) handleMetadataSet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md := stream.StreamMetadata{}
		if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Debug("Handling metadata request: stream: %q keywords: %d", md.StreamID, len(md.Keywords))
		s.source.SetMetadataOverride(md)
	}
}

func (s *ApiServer) handleMetadataClear() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Handling metadata clear request")
		s.source.ClearMetadataOverride()
	}
}

func (s *ApiServer) handleMetadataHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := s.source.MetadataHistory()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		if records == nil {
			records = []MetadataRecord{}
		}
		writeJSON(w, records)
	}
}

func (s *ApiServer) handleSettingsGet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.source.Settings())
	}
}

func (s *ApiServer) handleSettingsSet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		update := SettingsUpdate{}
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.source.ApplySettings(update); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, s.source.Settings())
	}
}

func (s *ApiServer) handleAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.source.Attachment())
	}
}
