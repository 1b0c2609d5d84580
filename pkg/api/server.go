// Package api provides the HTTP surface for the extraction pipeline: submit
// a program for analysis, stream its progress, and query the committed
// graph. Routing follows tarsy's pkg/api/server.go Server-struct-with-
// Set*-wiring shape, rebuilt on gin instead of echo (§6, SPEC_FULL DOMAIN
// STACK).
package api

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cobolgraph/extractor/pkg/config"
	"github.com/cobolgraph/extractor/pkg/database"
	"github.com/cobolgraph/extractor/pkg/llm"
	"github.com/cobolgraph/extractor/pkg/source"
)

// Server is the HTTP API server.
type Server struct {
	router        *gin.Engine
	httpServer    *http.Server
	cfg           config.Config
	db            *database.Client
	llmClient     llm.Client
	sourceFetcher source.Fetcher
}

// NewServer constructs a Server and registers all routes.
func NewServer(cfg config.Config, db *database.Client, llmClient llm.Client, sourceFetcher source.Fetcher) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), securityHeaders())
	r.MaxMultipartMemory = 2 << 20 // 2 MB, mirrors tarsy's server-wide body limit

	s := &Server{
		router:        r,
		cfg:           cfg,
		db:            db,
		llmClient:     llmClient,
		sourceFetcher: sourceFetcher,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	v1 := s.router.Group("/api/v1")
	v1.POST("/runs", s.submitRunHandler)

	v1.GET("/programs/:id", s.getProgramHandler)
	v1.GET("/programs/:id/structures", s.listStructuresHandler)
	v1.GET("/programs/:id/entities", s.listEntitiesHandler)
	v1.GET("/programs/:id/flow", s.getFlowHandler)
	v1.DELETE("/programs/:id", s.purgeProgramHandler)

	v1.GET("/search", s.searchHandler)
}

// Start starts the HTTP server on addr (non-blocking to the caller only in
// the sense that ListenAndServe blocks this goroutine; callers run it in its
// own goroutine, as cmd/extractor/main.go does).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.router}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
