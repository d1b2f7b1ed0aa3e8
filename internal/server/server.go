package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/quill-blog/apiserver/config"
	"github.com/quill-blog/apiserver/internal/db"
	"github.com/quill-blog/apiserver/internal/handlers"
	"github.com/quill-blog/apiserver/internal/mailer"
	"github.com/quill-blog/apiserver/internal/services"
	"github.com/quill-blog/apiserver/internal/storage"
	"github.com/quill-blog/apiserver/internal/store"
	"github.com/quill-blog/apiserver/internal/tokens"
)

const linkExpiry = "10 minutes"

// Dependencies are the collaborators the router serves.
type Dependencies struct {
	Accounts *services.AccountService
	Posts    *services.PostService
	Sessions handlers.SessionVerifier
	DB       handlers.Pinger
	Logger   *slog.Logger
}

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	closers    []io.Closer
	logger     *slog.Logger
}

// New wires storage, mail, tokens and services from cfg and builds the
// router. The database must already be migrated.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	tokenService, err := tokens.NewService(cfg.Token)
	if err != nil {
		return nil, err
	}

	objects, err := storage.New(ctx, cfg.Media)
	if err != nil {
		return nil, fmt.Errorf("init media storage: %w", err)
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure media bucket: %w", err)
	}
	media := storage.NewMediaHost(objects, cfg.Media)

	sender, err := mailer.NewSender(ctx, cfg.Mail, logger)
	if err != nil {
		return nil, fmt.Errorf("init mail transport: %w", err)
	}
	var closers []io.Closer
	if closer, ok := sender.(io.Closer); ok {
		closers = append(closers, closer)
	}
	mail := mailer.New(sender, cfg.Mail.FrontendURL, linkExpiry)

	dbConn, err := db.Open(ctx, cfg.Database)
	if err != nil {
		closeAll(closers, logger)
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	postRepo := store.NewPostRepository(dbConn)

	var accountOpts []services.AccountOption
	var counter services.PostCountAdjuster = userRepo
	if cfg.Accounts.PostCountMode == config.PostCountDerived {
		accountOpts = append(accountOpts, services.WithPostCountsFrom(postRepo))
		counter = nil
	}

	accounts := services.NewAccountService(userRepo, media, tokenService, mail, logger, accountOpts...)
	posts := services.NewPostService(postRepo, counter, media, logger)

	router := NewRouter(Dependencies{
		Accounts: accounts,
		Posts:    posts,
		Sessions: tokenService,
		DB:       dbConn,
		Logger:   logger,
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server configured",
		"port", port,
		"media_backend", cfg.Media.Backend,
		"mail_transport", cfg.Mail.Transport,
		"post_count_mode", cfg.Accounts.PostCountMode,
	)

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		closers:    closers,
		logger:     logger,
	}, nil
}

// NewRouter mounts every route with the standard middleware stack.
func NewRouter(deps Dependencies) *chi.Mux {
	authMiddleware := handlers.RequireAuth(deps.Sessions)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger(deps.Logger),
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)
	router.NotFound(handlers.NotFound)
	router.MethodNotAllowed(handlers.MethodNotAllowed)

	if deps.DB != nil {
		router.Get("/healthz", handlers.Healthz(deps.DB))
	}
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, deps.Accounts, authMiddleware)
	})
	router.Route("/posts", func(r chi.Router) {
		handlers.PostRouter(r, deps.Posts, authMiddleware)
	})
	return router
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the database and mail
// transport.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	closeAll(s.closers, s.logger)
	if s.db != nil {
		if closeErr := s.db.Close(); closeErr != nil {
			s.logger.Error("failed to close database", "error", closeErr)
		}
	}
	return err
}

func closeAll(closers []io.Closer, logger *slog.Logger) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("failed to close resource", "error", err)
		}
	}
}
