package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/metrics"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/service"
	"github.com/weiawesome/wes-io-live/social-graph-engine/internal/store"
	pkglog "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/middleware"
	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/response"
)

const roleAdmin = "admin"

// Handler handles HTTP requests for the social graph engine.
type Handler struct {
	svc            service.SocialGraphService
	cache          store.CountStore
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler creates a new HTTP handler. cache may be nil.
func NewHandler(svc service.SocialGraphService, cache store.CountStore, authMiddleware *middleware.AuthMiddleware) *Handler {
	return &Handler{
		svc:            svc,
		cache:          cache,
		authMiddleware: authMiddleware,
	}
}

// RegisterRoutes registers all routes onto the Gin engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		users := api.Group("/users")
		{
			// The authenticated caller follows or unfollows :user_id.
			users.POST("/:user_id/follow", h.authMiddleware.RequireAuth(), h.Follow)
			users.DELETE("/:user_id/follow", h.authMiddleware.RequireAuth(), h.Unfollow)

			// Explicit actor; the caller must be the actor or an admin.
			users.PUT("/:user_id/following/:target_id", h.authMiddleware.RequireAuth(), h.FollowAs)
			users.DELETE("/:user_id/following/:target_id", h.authMiddleware.RequireAuth(), h.UnfollowAs)

			users.GET("/:user_id/counts", h.GetCounts)
		}

		api.POST("/following/status", h.authMiddleware.OptionalAuth(), h.GetFollowingStatus)

		admin := api.Group("/admin", h.authMiddleware.RequireAuth())
		{
			admin.POST("/accounts/:user_id/audit", h.AuditAccount)
		}
	}
}

// callerContext carries the authenticated caller into the engine.
func callerContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	if userID == "" {
		return ctx
	}
	return service.WithCaller(ctx, service.Caller{ID: userID, Admin: isAdmin(c)})
}

func isAdmin(c *gin.Context) bool {
	for _, role := range middleware.GetRoles(c) {
		if role == roleAdmin {
			return true
		}
	}
	return false
}

// Follow handles POST /api/v1/users/:user_id/follow.
func (h *Handler) Follow(c *gin.Context) {
	h.follow(c, middleware.GetUserID(c), c.Param("user_id"))
}

// Unfollow handles DELETE /api/v1/users/:user_id/follow.
func (h *Handler) Unfollow(c *gin.Context) {
	h.unfollow(c, middleware.GetUserID(c), c.Param("user_id"))
}

// FollowAs handles PUT /api/v1/users/:user_id/following/:target_id.
func (h *Handler) FollowAs(c *gin.Context) {
	h.follow(c, c.Param("user_id"), c.Param("target_id"))
}

// UnfollowAs handles DELETE /api/v1/users/:user_id/following/:target_id.
func (h *Handler) UnfollowAs(c *gin.Context) {
	h.unfollow(c, c.Param("user_id"), c.Param("target_id"))
}

func (h *Handler) follow(c *gin.Context, actorID, targetID string) {
	ctx := callerContext(c)

	res, err := h.svc.Follow(ctx, actorID, targetID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.invalidate(ctx, res)

	if res.Outcome == service.OutcomeFollowed {
		response.Created(c, res)
		return
	}
	response.Success(c, res)
}

func (h *Handler) unfollow(c *gin.Context, actorID, targetID string) {
	ctx := callerContext(c)

	res, err := h.svc.Unfollow(ctx, actorID, targetID)
	if err != nil {
		writeError(c, err)
		return
	}
	h.invalidate(ctx, res)
	response.Success(c, res)
}

// invalidate drops cached counters of both accounts after a committed change.
func (h *Handler) invalidate(ctx context.Context, res *service.Result) {
	if h.cache == nil || !res.Outcome.Changed() {
		return
	}
	if err := h.cache.Invalidate(ctx, res.Actor, res.Target); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Msg("failed to invalidate cached counts")
	}
}

// GetCounts handles GET /api/v1/users/:user_id/counts.
func (h *Handler) GetCounts(c *gin.Context) {
	ctx := c.Request.Context()
	l := pkglog.Ctx(ctx)
	userID := c.Param("user_id")

	if h.cache != nil {
		if err := h.cache.RecordAccess(ctx, userID); err != nil {
			l.Warn().Err(err).Str("account_id", userID).Msg("failed to record hot key access")
		}
		counts, found, err := h.cache.GetCounts(ctx, userID)
		if err != nil {
			l.Warn().Err(err).Str("account_id", userID).Msg("redis get counts failed, falling back to store")
		}
		if found {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			response.Success(c, counts)
			return
		}
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	counts, err := h.svc.GetCounts(ctx, userID)
	if err != nil {
		writeError(c, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.SetCounts(ctx, counts); err != nil {
			l.Warn().Err(err).Str("account_id", userID).Msg("failed to cache counts")
		}
	}
	response.Success(c, counts)
}

// followingStatusRequest is the request body for POST /following/status.
type followingStatusRequest struct {
	TargetIDs []string `json:"target_ids" binding:"required"`
}

// GetFollowingStatus handles POST /api/v1/following/status. Anonymous
// callers receive false for every target.
func (h *Handler) GetFollowingStatus(c *gin.Context) {
	ctx := c.Request.Context()
	l := pkglog.Ctx(ctx)

	var req followingStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		l.Warn().Err(err).Msg("invalid following status request")
		response.BadRequest(c, err.Error())
		return
	}

	results, err := h.svc.GetFollowingStatus(ctx, middleware.GetUserID(c), req.TargetIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	response.Success(c, gin.H{"results": results})
}

// AuditAccount handles POST /api/v1/admin/accounts/:user_id/audit?repair=true.
func (h *Handler) AuditAccount(c *gin.Context) {
	if !isAdmin(c) {
		response.Forbidden(c, "admin role required")
		return
	}
	repair, _ := strconv.ParseBool(c.DefaultQuery("repair", "false"))

	report, err := h.svc.AuditAccount(callerContext(c), c.Param("user_id"), repair)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, report)
}

// writeError maps the engine's error taxonomy onto HTTP.
func writeError(c *gin.Context, err error) {
	l := pkglog.Ctx(c.Request.Context())

	switch service.KindOf(err) {
	case service.KindInvalidRequest:
		response.BadRequest(c, err.Error())
	case service.KindNotFound:
		response.NotFound(c, err.Error())
	case service.KindUnauthorized:
		response.Forbidden(c, err.Error())
	case service.KindTransient:
		response.Unavailable(c, "temporarily unavailable, retry later")
	case service.KindInvariant:
		response.InvariantViolation(c, err.Error())
	default:
		l.Error().Err(err).Msg("unhandled engine error")
		response.InternalError(c, "internal error")
	}
}
