// Package server owns the HTTP surface: the WebSocket upgrade endpoint and
// its middleware chain, health, and static serving of finished upload
// artifacts.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/manhdua1/chat-box-v2/internal/registry"
	"github.com/manhdua1/chat-box-v2/internal/router"
	"github.com/manhdua1/chat-box-v2/internal/server/middleware"
	"github.com/manhdua1/chat-box-v2/pkg/config"
	"github.com/manhdua1/chat-box-v2/pkg/transport"
)

type App struct {
	logger   *slog.Logger
	registry *registry.Registry
	router   *router.Router
	config   *config.Config
	wg       sync.WaitGroup
	http     *http.Server

	// live transports by connection id, for cycling and shutdown; the
	// registry only knows the send side.
	mu         sync.Mutex
	transports map[uuid.UUID]*transport.Connection

	ctx context.Context
}

func NewApp(rootCtx context.Context, logger *slog.Logger, cfg *config.Config, reg *registry.Registry, rt *router.Router) *App {
	app := &App{
		logger:     logger,
		registry:   reg,
		router:     rt,
		config:     cfg,
		transports: make(map[uuid.UUID]*transport.Connection),
		ctx:        rootCtx,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewConnectionLimiter(
				logger,
				reg.CountByIP,
				app.cycleOldestByIP,
				cfg.Server.ConnectionLimit,
			),
		),
	)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/uploads/", http.StripPrefix("/uploads/",
		http.FileServer(http.Dir(cfg.Upload.Dir))))

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.router.HandleMessage,
		nil,
		a.logger,
	)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		a.mu.Lock()
		delete(a.transports, id)
		a.mu.Unlock()
		a.router.HandleClose(id, err)
	})

	if _, err := a.registry.Register(conn.ID(), reqMeta.IP, conn); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}
	a.mu.Lock()
	a.transports[conn.ID()] = conn
	a.mu.Unlock()

	connLogger.Info("Connection established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

// cycleOldestByIP closes the address's longest-lived connection to make room
// for the incoming one.
func (a *App) cycleOldestByIP(ip string) {
	oldest, found := a.registry.OldestByIP(ip)
	if !found {
		return
	}
	a.mu.Lock()
	conn, ok := a.transports[oldest.ID]
	a.mu.Unlock()
	if ok {
		a.logger.Info("Cycling connection: closing oldest",
			slog.String("ip", ip),
			slog.String("connID", oldest.ID.String()),
		)
		conn.Close(errors.New("connection cycled by new connection"))
	}
}

// Shutdown is the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	a.mu.Lock()
	conns := make([]*transport.Connection, 0, len(a.transports))
	for _, conn := range a.transports {
		conns = append(conns, conn)
	}
	a.mu.Unlock()
	for _, conn := range conns {
		conn.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
