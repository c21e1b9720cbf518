// Package socket provides the persistent connection transport over
// WebSocket. Each socket registers with the realtime registry on connect,
// carries calls into the service layer one at a time, and receives channel
// events pushed by the publisher. Disconnect tears channel membership down
// before the handler returns.
package socket

import (
	"context"
	"net/http"
	"sync"

	"github.com/artpar/plume/core/realtime"
	"github.com/artpar/plume/core/service"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Provider is the tag socket calls carry in their params.
const Provider = "socket"

// ConnGauge tracks the live connection count (metrics).
type ConnGauge interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Server upgrades HTTP requests and drives the per-connection loop.
type Server struct {
	app      *service.App
	reg      *realtime.Registry
	upgrader websocket.Upgrader
	gauge    ConnGauge
	logger   zerolog.Logger
}

// NewServer creates the socket transport. gauge may be nil.
func NewServer(app *service.App, reg *realtime.Registry, gauge ConnGauge, logger zerolog.Logger) *Server {
	return &Server{
		app: app,
		reg: reg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The service layer authenticates; the transport accepts any
			// origin like the REST endpoints do.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		gauge:  gauge,
		logger: logger,
	}
}

// ServeHTTP upgrades the request and runs the connection until the peer
// goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	wc := &wsConn{ws: ws}
	conn := s.reg.Connect(wc)

	if s.gauge != nil {
		s.gauge.ConnectionOpened()
	}
	s.logger.Debug().Str("connection", conn.ID()).Msg("socket connected")

	defer func() {
		// Membership teardown happens before the socket closes so no
		// concurrent publish can pick this connection up again.
		s.reg.Disconnect(conn)
		ws.Close()
		if s.gauge != nil {
			s.gauge.ConnectionClosed()
		}
		s.logger.Debug().Str("connection", conn.ID()).Msg("socket disconnected")
	}()

	s.readLoop(r.Context(), conn, wc)
}

// readLoop delivers one inbound call at a time for this connection;
// different connections' calls interleave freely.
func (s *Server) readLoop(ctx context.Context, conn *realtime.Connection, wc *wsConn) {
	for {
		var f frame
		if err := wc.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("connection", conn.ID()).Msg("socket read error")
			}
			return
		}

		if f.Type != frameCall {
			continue
		}

		s.dispatch(ctx, conn, wc, f)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *realtime.Connection, wc *wsConn, f frame) {
	params := service.Params{
		Provider:   Provider,
		Query:      parseQuery(f.Query),
		Identity:   conn.Identity(),
		Connection: conn,
	}

	result, err := s.app.Call(ctx, f.Service, service.Method(f.Method), f.Target, params, f.Data)
	if err != nil {
		s.reply(wc, frame{Type: frameError, ID: f.ID, Error: toWireError(err)})
		return
	}

	s.reply(wc, frame{Type: frameResult, ID: f.ID, Result: result})
}

func (s *Server) reply(wc *wsConn, f frame) {
	if err := wc.write(f); err != nil {
		s.logger.Debug().Err(err).Msg("socket reply failed")
	}
}

// wsConn serializes writes to one socket; reads stay on the read loop.
// It implements realtime.Emitter for channel fan-out.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) write(f frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

// Emit pushes a channel event down the socket.
func (c *wsConn) Emit(event string, payload any) error {
	return c.write(frame{Type: frameEvent, Event: event, Result: payload})
}

var _ realtime.Emitter = (*wsConn)(nil)
