// Package handler exposes the session tracking operations to the browser over HTTP.
package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"cdr.dev/slog/v3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"club-manager/backend/internal/device"
	"club-manager/backend/internal/session/domain"
	"club-manager/backend/internal/session/hub"
	"club-manager/backend/internal/session/monitor"
	"club-manager/backend/internal/session/service"
)

// ClientCookie carries the client instance id. One id per browser profile.
const ClientCookie = "club_activity_client"

const clientCookieMaxAge = 365 * 24 * 60 * 60

type loginRequest struct {
	UserID   string `json:"user_id" binding:"omitempty,max=64"`
	UserName string `json:"user_name" binding:"required,username"`
}

type logoutRequest struct {
	UserName string `json:"user_name" binding:"omitempty,username"`
}

type signalRequest struct {
	Kind    string `json:"kind" binding:"required,activitykind"`
	Visible bool   `json:"visible"`
}

// SessionResponse is the JSON shape of a session returned to the client.
type SessionResponse struct {
	ID              int64      `json:"id"`
	SessionID       string     `json:"sessionId"`
	UserID          string     `json:"userId,omitempty"`
	UserName        string     `json:"userName"`
	DeviceType      string     `json:"deviceType"`
	LoginTime       time.Time  `json:"loginTime"`
	LogoutTime      *time.Time `json:"logoutTime"`
	DurationMinutes *int       `json:"durationMinutes"`
	PageViews       int        `json:"pageViews"`
	LastActivity    time.Time  `json:"lastActivity"`
}

// NewSessionResponse converts s; nil stays nil.
func NewSessionResponse(s *domain.Session) *SessionResponse {
	if s == nil {
		return nil
	}
	return &SessionResponse{
		ID:              s.ID,
		SessionID:       s.SessionID,
		UserID:          s.UserID,
		UserName:        s.UserName,
		DeviceType:      string(s.DeviceType),
		LoginTime:       s.LoginTime,
		LogoutTime:      s.LogoutTime,
		DurationMinutes: s.DurationMinutes,
		PageViews:       s.PageViews,
		LastActivity:    s.LastActivity,
	}
}

// Handler serves /api/activity. Tracking failures never reach the response: the session manager
// logs and swallows them, and a login that could not open a session answers {"session": null}.
type Handler struct {
	clients      *hub.Registry
	prober       *device.Prober
	logger       slog.Logger
	secureCookie bool
}

// New returns a Handler. secureCookie marks the client cookie Secure (HTTPS deployments).
func New(clients *hub.Registry, prober *device.Prober, logger slog.Logger, secureCookie bool) *Handler {
	RegisterValidators()
	return &Handler{
		clients:      clients,
		prober:       prober,
		logger:       logger.Named("activity_http"),
		secureCookie: secureCookie,
	}
}

// Register mounts the activity routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api/activity")
	g.POST("/login", h.Login)
	g.POST("/logout", h.Logout)
	g.POST("/page-view", h.PageView)
	g.POST("/signal", h.Signal)
	g.POST("/beacon", h.Beacon)
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_name is required"})
		return
	}
	client := h.client(c, true)
	if client == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}

	info := h.prober.Probe(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
	s := client.Login(c.Request.Context(), service.UserInfo{
		UserID:     strings.TrimSpace(req.UserID),
		UserName:   strings.TrimSpace(req.UserName),
		DeviceType: info.DeviceType,
		IPAddress:  info.IPAddress,
		UserAgent:  info.UserAgent,
	})
	c.JSON(http.StatusOK, gin.H{"session": NewSessionResponse(s)})
}

// Logout closes the client's session. The body is optional; a user_name lets a client the server no
// longer holds in memory (after a restart) close the session recorded in the correlation store.
func (h *Handler) Logout(c *gin.Context) {
	var req logoutRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_name"})
		return
	}
	id := cookieID(c)
	if id == "" {
		c.Status(http.StatusNoContent)
		return
	}
	if client, ok := h.clients.Lookup(id); ok {
		client.Logout(c.Request.Context())
	} else if name := strings.TrimSpace(req.UserName); name != "" {
		if client := h.clients.Get(id); client != nil {
			client.LogoutUser(c.Request.Context(), name)
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) PageView(c *gin.Context) {
	if client := h.client(c, false); client != nil {
		client.PageView(c.Request.Context())
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Signal(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown activity signal"})
		return
	}
	if client := h.client(c, false); client != nil {
		client.Signal(c.Request.Context(), monitor.Kind(req.Kind), req.Visible)
	}
	c.Status(http.StatusNoContent)
}

// Beacon is the unload handshake target for navigator.sendBeacon. It always answers 202.
func (h *Handler) Beacon(c *gin.Context) {
	if client := h.client(c, false); client != nil {
		client.Beacon()
	}
	c.Status(http.StatusAccepted)
}

// client resolves the cookie to a live client. With create, a missing or malformed cookie gets a
// fresh id; without it, unknown ids yield nil since there is no session to act on.
func (h *Handler) client(c *gin.Context, create bool) *hub.Client {
	id := cookieID(c)

	if !create {
		if id == "" {
			return nil
		}
		if cl, ok := h.clients.Lookup(id); ok {
			return cl
		}
		// After a restart the correlation store still knows the session; a fresh client resumes it
		// on the next login. Nothing to do until then.
		return nil
	}

	if id == "" {
		id = uuid.NewString()
		h.logger.Debug(c.Request.Context(), "new client instance", slog.F("client_id", id))
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(ClientCookie, id, clientCookieMaxAge, "/", "", h.secureCookie, true)
	return h.clients.Get(id)
}

// cookieID returns the client id from the cookie, or "" when it is missing or not a UUID.
func cookieID(c *gin.Context) string {
	id, err := c.Cookie(ClientCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(id); err != nil {
		return ""
	}
	return id
}
