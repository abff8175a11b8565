// Copyright 2025 The netscale Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/netscale/netscale/common/process"
	"github.com/netscale/netscale/orchestrator/model"
)

// Controller is the command and query surface of the orchestrator.
type Controller interface {
	Status() *model.Status
	ActivateLoadBalancer() error
	DeactivateLoadBalancer() error
	AddInstance() error
	RemoveInstance(instanceID string) error
}

// Ack confirms that a command was queued. The outcome shows up in the status.
type Ack struct {
	Accepted   bool   `json:"accepted"`
	Command    string `json:"command"`
	InstanceID string `json:"instanceId,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewRouter(controller Controller) *mux.Router {
	h := &handler{
		controller: controller,
		log: slog.With(
			slog.String("component", "rest-api"),
		),
	}

	r := mux.NewRouter()
	r.HandleFunc("/status", h.status).Methods(http.MethodGet)
	r.HandleFunc("/balancer/activate", h.activate).Methods(http.MethodPost)
	r.HandleFunc("/balancer/deactivate", h.deactivate).Methods(http.MethodPost)
	r.HandleFunc("/controllers", h.addController).Methods(http.MethodPost)
	r.HandleFunc("/controllers/{id}", h.removeController).Methods(http.MethodDelete)
	return r
}

type handler struct {
	controller Controller
	log        *slog.Logger
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	status := h.controller.Status()
	if status == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "status not available yet"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *handler) activate(w http.ResponseWriter, _ *http.Request) {
	h.ack(w, Ack{Command: "activate-balancer"}, h.controller.ActivateLoadBalancer())
}

func (h *handler) deactivate(w http.ResponseWriter, _ *http.Request) {
	h.ack(w, Ack{Command: "deactivate-balancer"}, h.controller.DeactivateLoadBalancer())
}

func (h *handler) addController(w http.ResponseWriter, _ *http.Request) {
	h.ack(w, Ack{Command: "add-controller"}, h.controller.AddInstance())
}

func (h *handler) removeController(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.ack(w, Ack{Command: "remove-controller", InstanceID: id}, h.controller.RemoveInstance(id))
}

func (h *handler) ack(w http.ResponseWriter, ack Ack, err error) {
	switch {
	case err == nil:
		ack.Accepted = true
		writeJSON(w, http.StatusAccepted, ack)
	case errors.Is(err, model.ErrQueueFull), errors.Is(err, model.ErrClosed):
		h.log.Warn(
			"Command rejected",
			slog.String("command", ack.Command),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Server serves the REST API.
type Server struct {
	io.Closer

	server *http.Server
	port   int
}

func Start(bindAddress string, controller Controller) (*Server, error) {
	listener, err := net.Listen("tcp", bindAddress)
	if err != nil {
		return nil, err
	}

	s := &Server{
		server: &http.Server{
			Handler:           NewRouter(controller),
			ReadHeaderTimeout: time.Second,
		},
		port: listener.Addr().(*net.TCPAddr).Port,
	}

	slog.Info(fmt.Sprintf("Serving REST API at http://localhost:%d/status", s.port))

	go process.DoWithLabels(context.Background(), map[string]string{
		"netscale": "rest-api",
	}, func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(
				"Failed to serve REST API",
				slog.Any("error", err),
			)
		}
	})
	return s, nil
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
