// Package server exposes the messaging service over HTTP. Mutations are
// POST/DELETE endpoints that apply one transition each; queries are GET
// endpoints over the committed state. Callers are identified by an account
// reference carried in the request body (mutations) or the "as" query
// parameter (scoped queries); signature verification happens upstream of
// this service.
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/relves/hermod/pkg/service"
)

// Server routes messaging requests to the transition service.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
}

// New creates a server.
//
// Parameters:
//   - opts: Configuration options (WithService, WithLogger)
func New(opts ...Option) (*Server, error) {
	cfg := applyOptions(opts...)
	if cfg.Service == nil {
		return nil, errors.New("service is required")
	}
	return &Server{svc: cfg.Service, logger: cfg.Logger}, nil
}

// Router returns the HTTP routes.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	// Transitions
	mux.HandleFunc("POST /v1/messages", s.handleSendMessage)
	mux.HandleFunc("POST /v1/messages/{id}/read", s.handleReadMessage)
	mux.HandleFunc("DELETE /v1/messages/{id}", s.handleDeleteMessage)
	mux.HandleFunc("POST /v1/groups", s.handleCreateGroup)
	mux.HandleFunc("POST /v1/groups/{id}/members", s.handleAddMember)
	mux.HandleFunc("DELETE /v1/groups/{id}/members/{member}", s.handleRemoveMember)
	mux.HandleFunc("POST /v1/groups/{id}/messages", s.handleSendGroupMessage)
	mux.HandleFunc("DELETE /v1/group-messages/{id}", s.handleDeleteGroupMessage)

	// Queries
	mux.HandleFunc("GET /v1/messages/{id}", s.handleGetMessage)
	mux.HandleFunc("GET /v1/group-messages/{id}", s.handleGetGroupMessage)
	mux.HandleFunc("GET /v1/accounts/{account}/inbox", s.handleInbox)
	mux.HandleFunc("GET /v1/accounts/{account}/outbox", s.handleOutbox)
	mux.HandleFunc("GET /v1/accounts/{account}/groups", s.handleGroupsOf)
	mux.HandleFunc("GET /v1/groups/{id}", s.handleGetGroup)
	mux.HandleFunc("GET /v1/groups/{id}/messages", s.handleGroupMessages)
	mux.HandleFunc("GET /v1/height", s.handleHeight)
	mux.HandleFunc("GET /v1/audit/head", s.handleAuditHead)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	return mux
}
