// Package api mounts the thin HTTP surface SPEC_FULL.md §6.5 says the core
// ships: the "/ws" live-stream upgrade (WsHub is a core module, so its
// upgrade path is in-scope, unlike session/ACL admin routing, which stays
// external), "/healthz", and "/metrics". Handler shape (struct + constructor
// + gin.HandlerFunc methods) is generalized from the teacher's
// pkg/oauth.Handler and pkg/composio.Handler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/eternisai/wa-bridge/internal/authn"
	"github.com/eternisai/wa-bridge/internal/bot"
	"github.com/eternisai/wa-bridge/internal/errors"
	"github.com/eternisai/wa-bridge/internal/logger"
	"github.com/eternisai/wa-bridge/internal/wshub"
)

// Server wires the core's HTTP handlers to one Bot instance.
type Server struct {
	log        *logger.Logger
	bot        *bot.Bot
	middleware *authn.Middleware
	upgrader   websocket.Upgrader

	// aclRefresh controls how often a live connection's ACL is re-resolved
	// and pushed via wshub.UpdateACL, approximating §4.6 step 2's "live ACL
	// subscription" over Rbac.Registry's short-TTL cache rather than a real
	// Firestore listener (no such push primitive exists on Registry).
	aclRefresh time.Duration
}

// NewServer wraps b with an auth middleware built from validator.
func NewServer(log *logger.Logger, b *bot.Bot, validator authn.Validator, aclRefresh time.Duration) *Server {
	return &Server{
		log:        log.WithComponent("api_server"),
		bot:        b,
		middleware: authn.NewMiddleware(validator),
		aclRefresh: aclRefresh,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts every handler on r.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.healthz)
	r.GET("/metrics", gin.WrapH(s.bot.Metrics.Handler()))
	r.GET("/ws", s.middleware.RequireAuth(), s.handleWS)
}

// healthz reports running session counts and the buffer/outbox gauges
// SPEC_FULL.md §6.5 asks the core to surface.
func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"runningSessions": len(s.bot.Supervisor.ListRunning("")),
		"bufferedChats":   s.bot.Buffer.Size(),
		"cachedMediaRefs": s.bot.Media.Size(),
		"activeWatchers":  s.bot.Outbox.ActiveCount(),
		"wsConnections":   s.bot.Hub.ConnectionCount(),
	})
}

// handleWS implements the §4.6/§6.4 upgrade sequence: resolve the caller's
// role and allowed labels, drop before upgrading on no access, then upgrade
// and register with WsHub.
func (s *Server) handleWS(c *gin.Context) {
	accountID, ok := authn.AccountID(c)
	if !ok || accountID == "" {
		errors.AbortWithUnauthorized(c, "no account id resolved from token", nil)
		return
	}
	if queryAccountID := c.Query("accountId"); queryAccountID != "" && queryAccountID != accountID {
		errors.AbortWithForbidden(c, errors.NewForbiddenError(errors.ReasonLabelNotOwned, "accountId query parameter does not match the authenticated tenant", nil))
		return
	}

	uid, _ := authn.UID(c)
	view := s.bot.Rbac.Resolve(c.Request.Context(), accountID, uid)
	if len(view.AllowedLabels) == 0 {
		errors.AbortWithForbidden(c, errors.NewForbiddenError(errors.ReasonAclEmpty, "no session labels are allowed for this caller", nil))
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err.Error())
		return
	}

	conn, err := s.bot.Hub.Register(accountID, view.AllowedLabels, ws)
	if err != nil {
		ws.Close()
		return
	}

	go s.readLoop(conn, ws, accountID, uid)
	if s.aclRefresh > 0 {
		go s.aclRefreshLoop(conn, accountID, uid)
	}
}

// readLoop consumes client-sent subscribe messages until the connection
// closes, then unregisters it from the hub (§4.6 step 3).
func (s *Server) readLoop(conn *wshub.Conn, ws *websocket.Conn, accountID, uid string) {
	defer s.bot.Hub.Unregister(conn.ID())

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg struct {
			Type    string      `json:"type"`
			Filters wshub.Filter `json:"filters"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "subscribe" {
			s.bot.Hub.SetFilter(conn.ID(), msg.Filters)
		}
	}
}

// aclRefreshLoop periodically re-resolves the caller's view and pushes any
// change through wshub.UpdateACL, which itself closes the connection with
// CloseACLEmpty if the refreshed view grants no labels.
func (s *Server) aclRefreshLoop(conn *wshub.Conn, accountID, uid string) {
	ticker := time.NewTicker(s.aclRefresh)
	defer ticker.Stop()

	for range ticker.C {
		s.bot.Rbac.Invalidate(accountID, uid)
		view := s.bot.Rbac.Resolve(context.Background(), accountID, uid)
		s.bot.Hub.UpdateACL(conn.ID(), view.AllowedLabels)
	}
}
