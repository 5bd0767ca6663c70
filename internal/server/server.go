// Package server — HTTP-поверхность шлюза: chi-роутер, периметр X-API-Key
// и трансляция отказов ядра в статус-коды.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/amorce-labs/nexus-gateway/internal/infra"
	"github.com/amorce-labs/nexus-gateway/internal/router"
)

type Server struct {
	router *chi.Mux
	core   *router.Router
	logger *zap.Logger
	cfg    *infra.Config

	httpSrv *http.Server
}

// New собирает сервер со всеми маршрутами.
func New(cfg *infra.Config, core *router.Router, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		core:   core,
		logger: logger.Named("gateway-api"),
		cfg:    cfg,
	}

	s.routes()

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (X-API-Key до любого похода в Directory) ---
	auth := newAPIKeyAuth(s.cfg.Auth.APIKeyHashes, s.logger)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		// A2A-транзакции
		r.Post("/v1/a2a/transact", s.handleTransact)

		// MCP-мост: каталог и вызов инструментов. Каталог — тоже POST:
		// подпись строится по телу, GET подписывать нечего.
		r.Route("/v1/tools", func(r chi.Router) {
			r.Post("/list", s.handleToolsList)
			r.Post("/call", s.handleToolsCall)
		})
	})
}

// Handler отдает корневой роутер (используется в тестах с httptest).
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start блокируется до остановки листенера.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown мягко гасит сервер, давая in-flight запросам дорелеиться.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
