package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/protocol"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsReadTimeout    = 60 * time.Second
	wsPingInterval   = 30 * time.Second
	wsMaxMessageSize = 1 << 20
)

func runWSEngine(ctx context.Context, env *runtimeEnv, addr string) error {
	srv := newWSServer(env)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", srv.HandleWebSocket)
	mux.Handle("/metrics", env.metrics.Handler())

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	env.logger.Info("starting engine websocket server", zap.String("addr", addr))
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// wsServer serves the protocol to one WebSocket client at a time.
type wsServer struct {
	env      *runtimeEnv
	upgrader websocket.Upgrader
	busy     atomic.Bool
	logger   *zap.Logger
}

func newWSServer(env *runtimeEnv) *wsServer {
	return &wsServer{
		env:    env,
		logger: env.logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local renderers connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades the request and runs the connection until either
// side closes it.
func (s *wsServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.busy.CompareAndSwap(false, true) {
		http.Error(w, "another client is already connected", http.StatusConflict)
		return
	}
	defer s.busy.Store(false)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return
	}
	s.env.metrics.ConnectionOpened()
	defer s.env.metrics.ConnectionClosed()

	c := &wsConn{
		conn:   conn,
		send:   make(chan protocol.Event, 256),
		logger: s.logger,
	}
	b := newBridge(s.env, c.emit)
	stop := watchConfig(s.env, b)

	ctx, cancel := context.WithCancel(r.Context())
	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()

	b.Greet()
	c.readPump(ctx, b)

	stop()
	b.Close()
	cancel()
	c.wg.Wait()
	c.closeSend()
	<-done
}

type wsConn struct {
	conn   *websocket.Conn
	send   chan protocol.Event
	logger *zap.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) emit(ev protocol.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- ev:
	default:
		c.logger.Warn("dropping event due to full buffer", zap.String("type", string(ev.GetType())))
	}
}

func (c *wsConn) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsConn) readPump(ctx context.Context, b *bridge) {
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.wg.Add(1)
		go func(msg []byte) {
			defer c.wg.Done()
			if err := b.HandleLine(ctx, msg); err != nil {
				c.logger.Debug("websocket command error", zap.Error(err))
			}
		}(message)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := protocol.MarshalEvent(ev)
			if err != nil {
				c.logger.Warn("failed to marshal event", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
