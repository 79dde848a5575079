// Package ws owns the websocket transport: connection upgrade, origin policy,
// and the per-connection read/write pumps feeding the broker.
package ws

import (
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mlevan/parley/internal/broker"
	"github.com/mlevan/parley/internal/config"
)

// Handler upgrades HTTP requests and hands the resulting connections to the
// broker.
type Handler struct {
	broker   *broker.Broker
	cfg      config.RelayConfig
	upgrader websocket.Upgrader
}

// New builds the websocket handler with the configured origin allow-list.
func New(b *broker.Broker, serverCfg config.ServerConfig, relayCfg config.RelayConfig) *Handler {
	allowAll, allowed := normalizeOrigins(serverCfg.AllowedOrigins)
	return &Handler{
		broker: b,
		cfg:    relayCfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowAll, allowed)
			},
		},
	}
}

// ServeHTTP upgrades the request and starts the connection's pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	client := newClient(conn, h.broker, h.cfg)
	h.broker.Connect(client)

	go client.writePump()
	go client.readPump()
}

func normalizeOrigins(origins []string) (allowAll bool, allowed map[string]struct{}) {
	allowed = make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			allowAll = true
			continue
		}
		if normalized, ok := normalizeOrigin(trimmed); ok {
			allowed[normalized] = struct{}{}
		} else {
			log.Printf("[ws] ignoring invalid origin in configuration: %q", origin)
		}
	}
	return allowAll, allowed
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func originAllowed(r *http.Request, allowAll bool, allowed map[string]struct{}) bool {
	if allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	if _, exists := allowed[normalized]; exists {
		return true
	}
	log.Printf("[ws] blocked connection from disallowed origin %q", r.Header.Get("Origin"))
	return false
}
