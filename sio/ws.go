/* Copyright 2026 The CWMP Session Engine Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package sio

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// WebSocketServer serves the message protocol over WebSockets: each
// connection speaks JSON text messages in both directions.
type WebSocketServer struct {
	Service *Service

	Upgrader websocket.Upgrader
}

// NewWebSocketServer makes a WebSocketServer for the service.
func NewWebSocketServer(s *Service) *WebSocketServer {
	return &WebSocketServer{
		Service: s,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP implements http.Handler by upgrading the connection and
// pumping messages.
func (ws *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	for {
		_, bs, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read: %v", err)
			}
			return
		}
		outs, err := ws.Service.HandleLine(ctx, bs)
		if err != nil {
			if werr := conn.WriteJSON(map[string]string{"error": err.Error()}); werr != nil {
				return
			}
			continue
		}
		for _, out := range outs {
			if err := conn.WriteJSON(out); err != nil {
				return
			}
		}
	}
}

// ListenAndServe runs the WebSocket endpoint at path on addr, with
// the Prometheus metrics handler mounted at /metrics.
func (ws *WebSocketServer) ListenAndServe(ctx context.Context, addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, ws)
	mux.Handle("/metrics", MetricsHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	return srv.ListenAndServe()
}
