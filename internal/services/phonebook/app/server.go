package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	platformgrpc "github.com/louisbranch/phonebook/internal/platform/grpc"
	"github.com/louisbranch/phonebook/internal/platform/timeouts"
	phonebookgraphql "github.com/louisbranch/phonebook/internal/services/phonebook/api/graphql/phonebook"
	"github.com/louisbranch/phonebook/internal/services/phonebook/auth"
	"github.com/louisbranch/phonebook/internal/services/phonebook/directory"
	"github.com/louisbranch/phonebook/internal/services/phonebook/eventbus"
	"github.com/louisbranch/phonebook/internal/services/phonebook/storage"
	phonebooksqlite "github.com/louisbranch/phonebook/internal/services/phonebook/storage/sqlite"
	"github.com/louisbranch/phonebook/internal/services/phonebook/transport"
)

// HealthServiceName is the gRPC health service reported for the directory.
const HealthServiceName = "phonebook.v1.Directory"

// Config holds the settings needed to start a phonebook server.
type Config struct {
	GRPCPort        int
	HTTPAddr        string
	DBPath          string
	SigningSecret   string
	FixedCredential string
}

// Server hosts the phonebook service.
type Server struct {
	listener     net.Listener
	grpcServer   *grpc.Server
	health       *health.Server
	store        *phonebooksqlite.Store
	bus          *eventbus.Bus[storage.Contact]
	httpListener net.Listener
	httpServer   *http.Server
}

// New creates a configured phonebook server bound to its listeners.
func New(cfg Config) (*Server, error) {
	store, err := openStore(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	authService, err := auth.NewService(auth.Config{
		SigningSecret:       cfg.SigningSecret,
		FixedTestCredential: cfg.FixedCredential,
	}, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure auth: %w", err)
	}

	bus := eventbus.New[storage.Contact]()
	schema, err := phonebookgraphql.NewSchema(phonebookgraphql.NewResolver(
		directory.NewService(store, authService, bus),
	))
	if err != nil {
		bus.Close()
		_ = store.Close()
		return nil, fmt.Errorf("parse graphql schema: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		bus.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on port %d: %w", cfg.GRPCPort, err)
	}
	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		_ = listener.Close()
		bus.Close()
		_ = store.Close()
		return nil, fmt.Errorf("listen on http addr %s: %w", cfg.HTTPAddr, err)
	}

	grpcServer, healthServer := platformgrpc.NewServer(HealthServiceName)
	return &Server{
		listener:     listener,
		grpcServer:   grpcServer,
		health:       healthServer,
		store:        store,
		bus:          bus,
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           transport.NewHandler(schema, authService),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
	}, nil
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// HTTPAddr returns the HTTP listener address.
func (s *Server) HTTPAddr() string {
	if s == nil || s.httpListener == nil {
		return ""
	}
	return s.httpListener.Addr().String()
}

// Run creates and serves a phonebook server until the context ends.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts both listeners and blocks until one fails or the context
// ends. Resources are released before it returns.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()
	defer s.bus.Close()

	log.Printf("phonebook: gRPC health listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()
	log.Printf("phonebook: HTTP listening at %v", s.httpListener.Addr())
	httpErr := make(chan error, 1)
	go func() {
		httpErr <- s.httpServer.Serve(s.httpListener)
	}()

	handleErr := func(err error) error {
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
	shutdownGRPC := func() {
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}
	shutdownHTTP := func() {
		// Subscription streams end first so hijacked connections drain.
		s.bus.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("phonebook: shutdown HTTP: %v", err)
		}
	}

	select {
	case <-ctx.Done():
		shutdownGRPC()
		shutdownHTTP()
		return handleErr(<-serveErr)
	case err := <-serveErr:
		shutdownHTTP()
		return handleErr(err)
	case err := <-httpErr:
		shutdownGRPC()
		if handled := handleErr(<-serveErr); handled != nil {
			return handled
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openStore(path string) (*phonebooksqlite.Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = filepath.Join("data", "phonebook.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := phonebooksqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open phonebook sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("phonebook: close store: %v", err)
	}
}
