// Package missions provides REST API handlers for household sessions:
// login, missions, parent reviews, the reward shop and the leaderboard.
package missions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aimd54/homeschool-missions/internal/catalog"
	"github.com/aimd54/homeschool-missions/internal/models"
	"github.com/aimd54/homeschool-missions/internal/service/leaderboard"
	"github.com/aimd54/homeschool-missions/internal/service/session"
	"github.com/aimd54/homeschool-missions/pkg/logger"
)

// SessionManager interface for session operations.
type SessionManager interface {
	Create() (string, session.View)
	Do(id string, fn func(*session.Machine) error) error
	Delete(id string) error
	Len() int
}

// LeaderboardService interface for leaderboard operations.
type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, metric string, limit int) ([]leaderboard.Entry, error)
	GetUserStats(ctx context.Context, userID string) (*leaderboard.UserStats, error)
}

// Handler handles mission API requests.
type Handler struct {
	sessions           SessionManager
	leaderboardService LeaderboardService
	backend            string
	remoteEnabled      bool
	reviewWorkflow     bool
	log                *logger.Logger
}

// Options describes the storage and feature settings reported to clients.
type Options struct {
	Backend        string
	RemoteEnabled  bool
	ReviewWorkflow bool
}

// NewHandler creates a new mission handler.
func NewHandler(sessions *session.Manager, leaderboardService *leaderboard.Service, opts Options, log *logger.Logger) *Handler {
	return NewHandlerWithInterfaces(sessions, leaderboardService, opts, log)
}

// NewHandlerWithInterfaces creates a new mission handler with interface dependencies (useful for testing).
func NewHandlerWithInterfaces(sessions SessionManager, leaderboardService LeaderboardService, opts Options, log *logger.Logger) *Handler {
	return &Handler{
		sessions:           sessions,
		leaderboardService: leaderboardService,
		backend:            opts.Backend,
		remoteEnabled:      opts.RemoteEnabled,
		reviewWorkflow:     opts.ReviewWorkflow,
		log:                log,
	}
}

// RegisterRoutes mounts the handlers on an /api/v1 group.
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/catalog", h.GetCatalog)
	api.GET("/leaderboard", h.GetLeaderboard)
	api.GET("/users/:user/stats", h.GetUserStats)

	sessions := api.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.GET("/:id", h.GetSession)
		sessions.DELETE("/:id", h.DeleteSession)
		sessions.POST("/:id/select", h.SelectUser)
		sessions.POST("/:id/digits", h.EnterDigit)
		sessions.POST("/:id/backspace", h.Backspace)
		sessions.POST("/:id/pin", h.SubmitPin)
		sessions.POST("/:id/refresh", h.Refresh)
		sessions.POST("/:id/missions/:mission/complete", h.CompleteMission)
		sessions.POST("/:id/reviews/:mission", h.ReviewDecision)
		sessions.POST("/:id/rewards/:reward/purchase", h.PurchaseReward)
		sessions.POST("/:id/logout", h.Logout)
		sessions.POST("/:id/sound", h.ToggleSound)
	}
}

type selectRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type digitRequest struct {
	Digit string `json:"digit" binding:"required"`
}

type reviewRequest struct {
	Status string `json:"status" binding:"required"`
}

// Health reports liveness with the active storage backend.
// GET /health.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"backend":  h.backend,
		"sessions": h.sessions.Len(),
	})
}

// GetCatalog returns users (without PINs), missions and rewards.
// GET /api/v1/catalog.
func (h *Handler) GetCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"users":           catalog.Users(),
		"missions":        catalog.Missions(),
		"rewards":         catalog.Rewards(),
		"remote_enabled":  h.remoteEnabled,
		"review_workflow": h.reviewWorkflow,
	})
}

// CreateSession opens a new session.
// POST /api/v1/sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	id, view := h.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{
		"session_id": id,
		"snapshot":   view,
	})
}

// GetSession returns the session snapshot.
// GET /api/v1/sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	var view session.View
	err := h.sessions.Do(c.Param("id"), func(m *session.Machine) error {
		view = m.Snapshot()
		return nil
	})
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": view})
}

// DeleteSession logs out and closes a session.
// DELETE /api/v1/sessions/:id.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SelectUser picks the member whose PIN will be entered.
// POST /api/v1/sessions/:id/select {"user_id": "student1"}.
func (h *Handler) SelectUser(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "user_id is required")
		return
	}
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.SelectUser(req.UserID)
	})
}

// EnterDigit appends one PIN digit.
// POST /api/v1/sessions/:id/digits {"digit": "1"}.
func (h *Handler) EnterDigit(c *gin.Context) {
	var req digitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "digit is required")
		return
	}
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.EnterDigit(req.Digit)
	})
}

// Backspace removes the last PIN digit.
// POST /api/v1/sessions/:id/backspace.
func (h *Handler) Backspace(c *gin.Context) {
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.Backspace()
	})
}

// SubmitPin checks the PIN and hydrates the profile.
// POST /api/v1/sessions/:id/pin.
func (h *Handler) SubmitPin(c *gin.Context) {
	ctx := c.Request.Context()
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.SubmitPin(ctx)
	})
}

// Refresh reloads the profile from storage.
// POST /api/v1/sessions/:id/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	ctx := c.Request.Context()
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.Refresh(ctx)
	})
}

// CompleteMission credits a mission.
// POST /api/v1/sessions/:id/missions/:mission/complete.
func (h *Handler) CompleteMission(c *gin.Context) {
	mission := c.Param("mission")
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.CompleteMission(mission)
	})
}

// ReviewDecision records a parent decision on a submitted mission.
// POST /api/v1/sessions/:id/reviews/:mission {"status": "approved"}.
func (h *Handler) ReviewDecision(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "status is required")
		return
	}
	mission := c.Param("mission")
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.ReviewDecision(mission, models.ReviewStatus(req.Status))
	})
}

// PurchaseReward spends points on a reward.
// POST /api/v1/sessions/:id/rewards/:reward/purchase.
func (h *Handler) PurchaseReward(c *gin.Context) {
	reward := c.Param("reward")
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.PurchaseReward(reward)
	})
}

// Logout returns the session to user selection.
// POST /api/v1/sessions/:id/logout.
func (h *Handler) Logout(c *gin.Context) {
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.Logout(), nil
	})
}

// ToggleSound flips sound cues.
// POST /api/v1/sessions/:id/sound.
func (h *Handler) ToggleSound(c *gin.Context) {
	h.intent(c, func(m *session.Machine) (session.Outcome, error) {
		return m.ToggleSound(), nil
	})
}

// GetLeaderboard returns the household leaderboard.
// GET /api/v1/leaderboard?metric=points&limit=10.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	metric := c.DefaultQuery("metric", leaderboard.MetricPoints)
	limit, err := h.parseLimit(c, 10)
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if !leaderboard.ValidMetric(metric) {
		h.errorResponse(c, http.StatusBadRequest,
			fmt.Sprintf("invalid metric: %s (valid: points, streak, completed_missions)", metric))
		return
	}

	entries, err := h.leaderboardService.GetLeaderboard(c.Request.Context(), metric, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to get leaderboard")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve leaderboard")
		return
	}

	h.log.Debug().
		Str("metric", metric).
		Int("limit", limit).
		Int("entries", len(entries)).
		Msg("Retrieved leaderboard")

	c.JSON(http.StatusOK, gin.H{
		"leaderboard":   entries,
		"metric":        metric,
		"total_entries": len(entries),
		"generated_at":  time.Now().UTC(),
	})
}

// GetUserStats returns progress statistics for one member.
// GET /api/v1/users/:user/stats.
func (h *Handler) GetUserStats(c *gin.Context) {
	userID := c.Param("user")
	if _, ok := catalog.UserByID(userID); !ok {
		h.errorResponse(c, http.StatusNotFound, fmt.Sprintf("unknown user: %s", userID))
		return
	}

	stats, err := h.leaderboardService.GetUserStats(c.Request.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to get user stats")
		h.errorResponse(c, http.StatusInternalServerError, "Failed to retrieve user statistics")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"stats":        stats,
		"generated_at": time.Now().UTC(),
	})
}

// Helper functions

// intent runs fn on the session's machine and replies with the outcome and a fresh snapshot.
func (h *Handler) intent(c *gin.Context, fn func(*session.Machine) (session.Outcome, error)) {
	var (
		out  session.Outcome
		view session.View
	)
	err := h.sessions.Do(c.Param("id"), func(m *session.Machine) error {
		var err error
		if out, err = fn(m); err != nil {
			return err
		}
		view = m.Snapshot()
		return nil
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome":  out,
		"snapshot": view,
	})
}

// handleError maps session errors onto HTTP statuses.
func (h *Handler) handleError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		h.errorResponse(c, status, "Internal server error")
		return
	}
	h.log.Debug().Err(err).Str("path", c.FullPath()).Int("status", status).Msg("Request rejected")
	h.errorResponse(c, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrUnknownUser),
		errors.Is(err, session.ErrUnknownMission),
		errors.Is(err, session.ErrUnknownReward):
		return http.StatusNotFound
	case errors.Is(err, session.ErrWrongState),
		errors.Is(err, session.ErrProfileNotLoaded),
		errors.Is(err, session.ErrReviewWorkflowDisabled):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidDigit),
		errors.Is(err, session.ErrPinIncomplete),
		errors.Is(err, session.ErrInvalidStatus):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseLimit extracts and validates the limit query parameter.
func (h *Handler) parseLimit(c *gin.Context, defaultLimit int) (int, error) {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, fmt.Errorf("invalid limit parameter: %s", limitStr)
	}

	if limit < 1 {
		return 0, fmt.Errorf("limit must be greater than 0")
	}

	if limit > 100 {
		return 0, fmt.Errorf("limit cannot exceed 100")
	}

	return limit, nil
}

// errorResponse sends a standardized error response.
func (h *Handler) errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
