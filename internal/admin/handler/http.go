// Package handler serves the operator API: activity statistics, cleanup jobs and operator tokens.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"club-manager/backend/internal/audit"
	auditdomain "club-manager/backend/internal/audit/domain"
	"club-manager/backend/internal/policy/engine"
	"club-manager/backend/internal/security"
	"club-manager/backend/internal/session/domain"
	sessionhandler "club-manager/backend/internal/session/handler"
	"club-manager/backend/internal/session/maintenance"
	"club-manager/backend/internal/session/stats"
)

const (
	defaultStatsDays = 7
	maxStatsDays     = 365
	defaultAuditRows = 50
	maxAuditRows     = 500
	claimsKey        = "operator_claims"
)

// StatsReader lists recent sessions; nil means the read failed.
type StatsReader interface {
	Sessions(ctx context.Context, days int) []*domain.Session
}

// Reconciler closes stale sessions.
type Reconciler interface {
	Run(ctx context.Context) maintenance.ReconcileResult
}

// Collapser removes duplicate open sessions.
type Collapser interface {
	Run(ctx context.Context) maintenance.CollapseResult
}

// AuditLister reads the operator audit trail.
type AuditLister interface {
	ListRecent(ctx context.Context, limit int) ([]*auditdomain.AuditLog, error)
}

// Deps holds the collaborators of the operator API.
type Deps struct {
	Stats        StatsReader
	Reconciler   Reconciler
	Collapser    Collapser
	Tokens       *security.OperatorTokens
	Hasher       *security.Hasher
	PasswordHash string
	Authz        engine.Evaluator
	// Audit records operator actions; nil disables recording.
	Audit audit.AuditLogger
	// AuditLog serves GET /activity/audit; nil leaves the route unmounted.
	AuditLog AuditLister
	Location *time.Location
	Logger   slog.Logger
}

// Handler serves /api/admin.
type Handler struct {
	deps   Deps
	logger slog.Logger

	// cleanupMu keeps cleanup runs from overlapping.
	cleanupMu sync.Mutex
}

func New(deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &Handler{deps: deps, logger: deps.Logger.Named("admin_http")}
}

// Register mounts the operator routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api/admin")
	g.POST("/token", h.IssueToken)

	activity := g.Group("/activity", h.authenticate)
	activity.GET("/stats", h.authorize(engine.ActionReadStats), h.Stats)
	activity.POST("/cleanup", h.authorize(engine.ActionRunCleanup), h.Cleanup)
	activity.POST("/cleanup/stale", h.authorize(engine.ActionRunCleanup), h.CleanupStale)
	activity.POST("/cleanup/duplicates", h.authorize(engine.ActionRunCleanup), h.CleanupDuplicates)
	if h.deps.AuditLog != nil {
		activity.GET("/audit", h.authorize(engine.ActionReadAudit), h.AuditTrail)
	}
}

// record writes an audit event for the current request. claims may be nil.
func (h *Handler) record(c *gin.Context, claims *security.OperatorClaims, action, outcome, metadata string) {
	if h.deps.Audit == nil {
		return
	}
	e := audit.Event{
		Action:   action,
		Resource: c.FullPath(),
		Outcome:  outcome,
		IP:       c.ClientIP(),
		Metadata: metadata,
	}
	if claims != nil {
		e.Operator, e.Role = claims.Subject, claims.Role
	}
	h.deps.Audit.LogEvent(c.Request.Context(), e)
}

func operatorClaims(c *gin.Context) *security.OperatorClaims {
	claims, _ := c.Value(claimsKey).(*security.OperatorClaims)
	return claims
}

type tokenRequest struct {
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"omitempty,oneof=operator viewer"`
	Subject  string `json:"subject" binding:"omitempty,max=64"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IssueToken exchanges the operator password for a bearer token.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
		return
	}
	ctx := c.Request.Context()
	if err := h.deps.Hasher.Compare(h.deps.PasswordHash, []byte(req.Password)); err != nil {
		if !errors.Is(err, security.ErrBadCredentials) {
			h.logger.Error(ctx, "operator password hash unusable", slog.Error(err))
		}
		h.record(c, nil, "token.issue", auditdomain.OutcomeDenied, "subject="+req.Subject)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	role := req.Role
	if role == "" {
		role = security.RoleOperator
	}
	subject := req.Subject
	if subject == "" {
		subject = "operator"
	}
	token, exp, err := h.deps.Tokens.Issue(subject, role)
	if err != nil {
		h.logger.Error(ctx, "issue operator token failed", slog.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue token"})
		return
	}
	h.logger.Info(ctx, "operator token issued", slog.F("subject", subject), slog.F("role", role))
	h.record(c, &security.OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
		Role:             role,
	}, "token.issue", auditdomain.OutcomeSuccess, "")
	c.JSON(http.StatusOK, tokenResponse{Token: token, Role: role, ExpiresAt: exp})
}

func (h *Handler) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
		return
	}
	claims, err := h.deps.Tokens.Validate(strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
		return
	}
	c.Set(claimsKey, claims)
	c.Next()
}

func (h *Handler) authorize(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := c.MustGet(claimsKey).(*security.OperatorClaims)
		ok, err := h.deps.Authz.Authorize(c.Request.Context(), engine.Request{
			Subject: claims.Subject,
			Role:    claims.Role,
			Action:  action,
		})
		if err != nil || !ok {
			h.record(c, claims, action, auditdomain.OutcomeDenied, "")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not allowed"})
			return
		}
		c.Next()
	}
}

type statsResponse struct {
	Days     int                               `json:"days"`
	Summary  stats.Summary                     `json:"summary"`
	Sessions []*sessionhandler.SessionResponse `json:"sessions"`
}

// Stats returns the sessions of the last N days (default 7) with their summary.
func (h *Handler) Stats(c *gin.Context) {
	days := defaultStatsDays
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxStatsDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("days must be between 1 and %d", maxStatsDays)})
			return
		}
		days = n
	}
	list := h.deps.Stats.Sessions(c.Request.Context(), days)
	if list == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "activity statistics unavailable"})
		return
	}
	out := make([]*sessionhandler.SessionResponse, len(list))
	for i, s := range list {
		out[i] = sessionhandler.NewSessionResponse(s)
	}
	c.JSON(http.StatusOK, statsResponse{
		Days:     days,
		Summary:  stats.Summarize(list, h.deps.Location),
		Sessions: out,
	})
}

type cleanupResponse struct {
	Success    bool                         `json:"success"`
	Message    string                       `json:"message"`
	Stale      *maintenance.ReconcileResult `json:"stale,omitempty"`
	Duplicates *maintenance.CollapseResult  `json:"duplicates,omitempty"`
}

// Cleanup closes stale sessions, then removes duplicates.
func (h *Handler) Cleanup(c *gin.Context) {
	h.runCleanup(c, true, true)
}

func (h *Handler) CleanupStale(c *gin.Context) {
	h.runCleanup(c, true, false)
}

func (h *Handler) CleanupDuplicates(c *gin.Context) {
	h.runCleanup(c, false, true)
}

func (h *Handler) runCleanup(c *gin.Context, stale, duplicates bool) {
	if !h.cleanupMu.TryLock() {
		c.JSON(http.StatusConflict, gin.H{"error": "cleanup already running"})
		return
	}
	defer h.cleanupMu.Unlock()

	ctx := c.Request.Context()
	resp := cleanupResponse{Success: true}
	var parts []string
	if stale {
		r := h.deps.Reconciler.Run(ctx)
		resp.Stale = &r
		resp.Success = resp.Success && r.Success
		parts = append(parts, fmt.Sprintf("closed %d stale sessions", r.Processed))
	}
	if duplicates {
		r := h.deps.Collapser.Run(ctx)
		resp.Duplicates = &r
		resp.Success = resp.Success && r.Success
		parts = append(parts, fmt.Sprintf("removed %d duplicate sessions", r.Deleted))
	}
	resp.Message = strings.Join(parts, ", ")
	if !resp.Success {
		resp.Message += " (with errors, see server log)"
	}
	h.logger.Info(ctx, "cleanup finished", slog.F("message", resp.Message), slog.F("success", resp.Success))
	outcome := auditdomain.OutcomeSuccess
	if !resp.Success {
		outcome = auditdomain.OutcomeFailure
	}
	h.record(c, operatorClaims(c), engine.ActionRunCleanup, outcome, resp.Message)
	c.JSON(http.StatusOK, resp)
}

// AuditTrail returns the most recent operator actions (limit defaults to 50).
func (h *Handler) AuditTrail(c *gin.Context) {
	limit := defaultAuditRows
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditRows {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 1 and %d", maxAuditRows)})
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	entries, err := h.deps.AuditLog.ListRecent(ctx, limit)
	if err != nil {
		h.logger.Error(ctx, "list audit logs failed", slog.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit trail unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
