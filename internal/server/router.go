package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/internal/attendance"
	"github.com/MarcoPoloResearchLab/cadence/internal/milestone"
	"github.com/MarcoPoloResearchLab/cadence/internal/roster"
	"github.com/MarcoPoloResearchLab/cadence/internal/streak"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "cadence_user_id"

var (
	errMissingRosterService = errors.New("roster service dependency required")
	errMissingRecorder      = errors.New("recorder dependency required")
	errMissingQueries       = errors.New("query layer dependency required")
	errMissingStreakEngine  = errors.New("streak engine dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager signs and validates the admin bearer tokens.
type TokenManager interface {
	Issue(subject string) (string, int64, error)
	Validate(token string) (string, error)
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	Roster      *roster.Service
	Recorder    *attendance.Recorder
	Queries     *attendance.Queries
	Backfill    *attendance.Backfill
	Streaks     *streak.Engine
	Milestones  *milestone.Detector
	Tokens      TokenManager
	Notifier    Notifier
	TriggerWord string
	Logger      *zap.Logger
	Clock       func() time.Time
}

// NewHTTPHandler assembles the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Roster == nil {
		return nil, errMissingRosterService
	}
	if deps.Recorder == nil {
		return nil, errMissingRecorder
	}
	if deps.Queries == nil {
		return nil, errMissingQueries
	}
	if deps.Streaks == nil {
		return nil, errMissingStreakEngine
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		roster:      deps.Roster,
		recorder:    deps.Recorder,
		queries:     deps.Queries,
		backfill:    deps.Backfill,
		streaks:     deps.Streaks,
		milestones:  deps.Milestones,
		tokens:      deps.Tokens,
		notifier:    notifier,
		triggerWord: deps.TriggerWord,
		logger:      logger,
		clock:       clock,
	}

	router.POST("/auth/token", handler.handleIssueToken)
	router.POST("/ingest/message", handler.handleIngestMessage)
	router.POST("/ingest/reaction", handler.handleIngestReaction)
	router.GET("/stats", handler.handleStats)
	router.GET("/streaks", handler.handleStreaks)
	router.GET("/leaderboards/:kind", handler.handleLeaderboard)
	router.PUT("/users/timezone", handler.handleSetUserTimezone)

	admin := router.Group("/admin")
	admin.Use(handler.authorizeRequest)
	admin.POST("/channels", handler.handleRegisterChannel)
	admin.PATCH("/channels/:id", handler.handleUpdateChannel)
	admin.POST("/channels/:id/backfill", handler.handleBackfillChannel)
	admin.POST("/admins", handler.handleAddAdmin)
	admin.POST("/untracked", handler.handleUntrackUser)

	return router, nil
}

type httpHandler struct {
	roster      *roster.Service
	recorder    *attendance.Recorder
	queries     *attendance.Queries
	backfill    *attendance.Backfill
	streaks     *streak.Engine
	milestones  *milestone.Detector
	tokens      TokenManager
	notifier    Notifier
	triggerWord string
	logger      *zap.Logger
	clock       func() time.Time
}

type tokenRequestPayload struct {
	UserExternalID string `json:"user_external_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleIssueToken(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserExternalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	authorized, err := h.roster.IsAuthorized(c.Request.Context(), request.UserExternalID)
	if err != nil {
		h.logger.Error("authorization lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authorization_failed"})
		return
	}
	if !authorized {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	token, expiresIn, err := h.tokens.Issue(request.UserExternalID)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type ingestMessagePayload struct {
	ChannelExternalID string `json:"channel_external_id"`
	UserExternalID    string `json:"user_external_id"`
	MessageExternalID string `json:"message_external_id"`
	Content           string `json:"content"`
	OccurredAt        string `json:"occurred_at"`
}

type notificationPayload struct {
	ID                 string   `json:"id"`
	Scope              string   `json:"scope"`
	SubjectExternalID  string   `json:"subject_external_id,omitempty"`
	CountReached       int64    `json:"count_reached"`
	StreakReached      int      `json:"streak_reached"`
	Message            string   `json:"message"`
	Broadcast          bool     `json:"broadcast"`
	ChannelExternalIDs []string `json:"channel_external_ids,omitempty"`
}

type ingestMessageResponse struct {
	Recorded       bool                 `json:"recorded"`
	Category       string               `json:"category,omitempty"`
	Day            string               `json:"day,omitempty"`
	RoleExternalID string               `json:"role_external_id,omitempty"`
	Notification   *notificationPayload `json:"notification,omitempty"`
}

func (h *httpHandler) handleIngestMessage(c *gin.Context) {
	var request ingestMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.ChannelExternalID) == "" ||
		strings.TrimSpace(request.UserExternalID) == "" ||
		strings.TrimSpace(request.MessageExternalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	occurredAt, err := time.Parse(time.RFC3339Nano, request.OccurredAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp"})
		return
	}

	if !attendance.HasTrigger(request.Content, h.triggerWord) {
		c.JSON(http.StatusOK, ingestMessageResponse{Recorded: false})
		return
	}

	result, err := h.recorder.Record(c.Request.Context(), attendance.RecordRequest{
		ChannelExternalID: request.ChannelExternalID,
		UserExternalID:    request.UserExternalID,
		EventExternalID:   request.MessageExternalID,
		OccurredAt:        occurredAt,
	})
	if err != nil {
		h.logger.Error("failed to record event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record_failed"})
		return
	}
	if !result.Recorded {
		c.JSON(http.StatusOK, ingestMessageResponse{Recorded: false})
		return
	}

	response := ingestMessageResponse{
		Recorded: true,
		Category: string(result.Category),
		Day:      result.Day.String(),
	}
	if result.Category == attendance.CategorySuccess {
		response.RoleExternalID = result.Channel.RoleExternalID
		response.Notification = h.checkMilestone(c.Request.Context(), result)
	}
	c.JSON(http.StatusOK, response)
}

// checkMilestone is best effort: a detection or delivery failure is
// logged and never fails the ingest request that triggered it.
func (h *httpHandler) checkMilestone(ctx context.Context, result attendance.RecordResult) *notificationPayload {
	if h.milestones == nil {
		return nil
	}

	userCount, err := h.queries.SuccessCount(ctx, attendance.Filter{UserID: result.User.ID})
	if err != nil {
		h.logger.Warn("milestone count lookup failed", zap.Error(err))
		return nil
	}
	channelCount, err := h.queries.SuccessCount(ctx, attendance.Filter{ChannelID: result.Channel.ID})
	if err != nil {
		h.logger.Warn("milestone count lookup failed", zap.Error(err))
		return nil
	}
	globalCount, err := h.queries.SuccessCount(ctx, attendance.Filter{})
	if err != nil {
		h.logger.Warn("milestone count lookup failed", zap.Error(err))
		return nil
	}

	now := h.clock().In(result.Channel.Location())
	userState, err := h.streaks.Current(ctx, streak.UserScope(result.User.ID), now)
	if err != nil {
		h.logger.Warn("milestone streak lookup failed", zap.Error(err))
		return nil
	}
	channelState, err := h.streaks.Current(ctx, streak.ChannelScope(result.Channel.ID), now)
	if err != nil {
		h.logger.Warn("milestone streak lookup failed", zap.Error(err))
		return nil
	}
	globalState, err := h.streaks.Current(ctx, streak.GlobalScope(), now)
	if err != nil {
		h.logger.Warn("milestone streak lookup failed", zap.Error(err))
		return nil
	}

	channels, err := h.roster.ListChannels(ctx)
	if err != nil {
		h.logger.Warn("milestone channel listing failed", zap.Error(err))
		return nil
	}
	broadcastTargets := make([]string, 0, len(channels))
	for _, channel := range channels {
		broadcastTargets = append(broadcastTargets, channel.ExternalID)
	}

	notification, err := h.milestones.Check(milestone.CheckInput{
		Day: result.Day,
		User: milestone.ScopeTotals{
			ID:           result.User.ID,
			ExternalID:   result.User.ExternalID,
			SuccessCount: userCount,
			Streak:       userState.CurrentStreak,
		},
		Channel: milestone.ScopeTotals{
			ID:           result.Channel.ID,
			ExternalID:   result.Channel.ExternalID,
			SuccessCount: channelCount,
			Streak:       channelState.CurrentStreak,
		},
		Global: milestone.ScopeTotals{
			ID:           1,
			SuccessCount: globalCount,
			Streak:       globalState.CurrentStreak,
		},
		BroadcastChannelExternalIDs: broadcastTargets,
	})
	if err != nil {
		h.logger.Warn("milestone check failed", zap.Error(err))
		return nil
	}
	if notification == nil {
		return nil
	}

	if err := h.notifier.Notify(ctx, notification); err != nil {
		h.logger.Warn("milestone delivery failed", zap.Error(err))
	}
	return &notificationPayload{
		ID:                 notification.ID,
		Scope:              string(notification.Scope),
		SubjectExternalID:  notification.SubjectExternalID,
		CountReached:       notification.CountReached,
		StreakReached:      notification.StreakReached,
		Message:            notification.Message,
		Broadcast:          notification.Broadcast,
		ChannelExternalIDs: notification.ChannelExternalIDs,
	}
}

type ingestReactionPayload struct {
	ChannelExternalID string `json:"channel_external_id"`
	EventExternalID   string `json:"event_external_id"`
	UserExternalID    string `json:"user_external_id"`
	Action            string `json:"action"`
}

func (h *httpHandler) handleIngestReaction(c *gin.Context) {
	var request ingestReactionPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.ChannelExternalID) == "" ||
		strings.TrimSpace(request.EventExternalID) == "" ||
		strings.TrimSpace(request.UserExternalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var applied bool
	var err error
	switch strings.ToLower(strings.TrimSpace(request.Action)) {
	case "", "add":
		applied, err = h.recorder.AddReaction(c.Request.Context(),
			request.ChannelExternalID, request.EventExternalID, request.UserExternalID)
	case "remove":
		applied, err = h.recorder.RemoveReaction(c.Request.Context(),
			request.ChannelExternalID, request.EventExternalID, request.UserExternalID)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_action"})
		return
	}
	if err != nil {
		h.logger.Error("failed to apply reaction", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reaction_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": applied})
}

// resolveFilter turns the optional channel and user query parameters
// into a storage filter. A named but unknown channel is an error; an
// unknown user simply matches nothing.
func (h *httpHandler) resolveFilter(c *gin.Context) (attendance.Filter, roster.Channel, bool) {
	var filter attendance.Filter
	var channel roster.Channel

	if externalID := c.Query("channel"); externalID != "" {
		found, err := h.roster.ChannelByExternalID(c.Request.Context(), externalID)
		if errors.Is(err, roster.ErrChannelNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "channel_not_found"})
			return filter, channel, false
		}
		if err != nil {
			h.logger.Error("channel lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
			return filter, channel, false
		}
		channel = found
		filter.ChannelID = found.ID
	}

	if externalID := c.Query("user"); externalID != "" {
		user, found, err := h.roster.UserByExternalID(c.Request.Context(), externalID)
		if err != nil {
			h.logger.Error("user lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
			return filter, channel, false
		}
		if !found {
			// No rows can match a user the service never saw.
			filter.UserID = ^uint(0)
		} else {
			filter.UserID = user.ID
		}
	}
	return filter, channel, true
}

type statsResponsePayload struct {
	Counts        map[string]int64      `json:"counts"`
	DistinctUsers int64                 `json:"distinct_users"`
	Reactions     reactionTotalsPayload `json:"reactions"`
	Delay         delayStatsPayload     `json:"delay"`
}

type reactionTotalsPayload struct {
	Received int64 `json:"received"`
	Given    int64 `json:"given"`
}

type delayStatsPayload struct {
	Min     float64 `json:"min_seconds"`
	Avg     float64 `json:"avg_seconds"`
	Max     float64 `json:"max_seconds"`
	Last    float64 `json:"last_seconds"`
	Samples int     `json:"samples"`
}

func (h *httpHandler) handleStats(c *gin.Context) {
	filter, _, ok := h.resolveFilter(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	counts, err := h.queries.CategoryCounts(ctx, filter)
	if err != nil {
		h.logger.Error("stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	distinctUsers, err := h.queries.DistinctSuccessUsers(ctx, filter)
	if err != nil {
		h.logger.Error("stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	received, given, err := h.queries.ReactionTotals(ctx, filter)
	if err != nil {
		h.logger.Error("stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	delay, err := h.queries.DelayStatsFor(ctx, filter)
	if err != nil {
		h.logger.Error("stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}

	countsByName := make(map[string]int64, len(counts))
	for category, total := range counts {
		countsByName[string(category)] = total
	}
	c.JSON(http.StatusOK, statsResponsePayload{
		Counts:        countsByName,
		DistinctUsers: distinctUsers,
		Reactions:     reactionTotalsPayload{Received: received, Given: given},
		Delay: delayStatsPayload{
			Min:     delay.Min,
			Avg:     delay.Avg,
			Max:     delay.Max,
			Last:    delay.Last,
			Samples: delay.Samples,
		},
	})
}

type streakStatePayload struct {
	Current        int    `json:"current"`
	Max            int    `json:"max"`
	LastSuccessDay string `json:"last_success_day,omitempty"`
}

func streakStateFrom(state streak.State) streakStatePayload {
	payload := streakStatePayload{Current: state.CurrentStreak, Max: state.MaxStreak}
	if !state.LastSuccessDay.IsZero() {
		payload.LastSuccessDay = state.LastSuccessDay.String()
	}
	return payload
}

func (h *httpHandler) handleStreaks(c *gin.Context) {
	filter, channel, ok := h.resolveFilter(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	location := time.UTC
	if filter.ChannelID != 0 {
		location = channel.Location()
	}
	now := h.clock().In(location)

	response := gin.H{}
	if filter.UserID != 0 {
		state, err := h.streaks.Current(ctx, streak.UserScope(filter.UserID), now)
		if err != nil {
			h.logger.Error("streak read failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaks_failed"})
			return
		}
		response["user"] = streakStateFrom(state)
	}
	if filter.ChannelID != 0 {
		state, err := h.streaks.Current(ctx, streak.ChannelScope(filter.ChannelID), now)
		if err != nil {
			h.logger.Error("streak read failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaks_failed"})
			return
		}
		response["channel"] = streakStateFrom(state)
	}
	globalState, err := h.streaks.Current(ctx, streak.GlobalScope(), now)
	if err != nil {
		h.logger.Error("streak read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaks_failed"})
		return
	}
	response["global"] = streakStateFrom(globalState)

	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	filter, _, ok := h.resolveFilter(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	page := 1
	if raw := c.Query("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_page"})
			return
		}
		page = parsed
	}

	kind := c.Param("kind")
	var entries any
	var err error
	switch kind {
	case "success":
		var rows []attendance.CountRow
		rows, err = h.queries.SuccessLeaderboard(ctx, filter.ChannelID)
		entries = attendance.Paginate(rows, page)
	case "reactions":
		var rows []attendance.CountRow
		rows, err = h.queries.ReactionLeaderboard(ctx, filter.ChannelID)
		entries = attendance.Paginate(rows, page)
	case "streak_current", "streak_max":
		var rows []attendance.StreakRow
		rows, err = h.queries.StreakLeaderboard(ctx, filter.ChannelID, kind == "streak_current")
		entries = attendance.Paginate(rows, page)
	case "delay_best", "delay_worst", "delay_avg":
		mode := attendance.DelayBest
		if kind == "delay_worst" {
			mode = attendance.DelayWorst
		} else if kind == "delay_avg" {
			mode = attendance.DelayAverage
		}
		var rows []attendance.DelayRow
		rows, err = h.queries.DelayLeaderboard(ctx, filter.ChannelID, mode)
		entries = attendance.Paginate(rows, page)
	case "days":
		var rows []attendance.DayCount
		rows, err = h.queries.TopDays(ctx, filter.ChannelID, page*attendance.PageSize)
		entries = attendance.Paginate(rows, page)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_leaderboard"})
		return
	}
	if err != nil {
		h.logger.Error("leaderboard query failed", zap.String("kind", kind), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "leaderboard_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"kind": kind, "page": page, "entries": entries})
}

type userTimezonePayload struct {
	UserExternalID string `json:"user_external_id"`
	Timezone       string `json:"timezone"`
}

func (h *httpHandler) handleSetUserTimezone(c *gin.Context) {
	var request userTimezonePayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.UserExternalID) == "" ||
		strings.TrimSpace(request.Timezone) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	user, err := h.roster.SetUserTimezone(c.Request.Context(), request.UserExternalID, request.Timezone)
	if errors.Is(err, roster.ErrInvalidTimezone) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timezone"})
		return
	}
	if err != nil {
		h.logger.Error("failed to set user timezone", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "timezone_update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_external_id": user.ExternalID, "timezone": user.Timezone})
}

type registerChannelPayload struct {
	ExternalID     string `json:"external_id"`
	Timezone       string `json:"timezone"`
	Language       string `json:"language"`
	RoleExternalID string `json:"role_external_id"`
}

func (h *httpHandler) handleRegisterChannel(c *gin.Context) {
	var request registerChannelPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ExternalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	channel, err := h.roster.RegisterChannel(c.Request.Context(),
		request.ExternalID, request.Timezone, request.Language, request.RoleExternalID)
	switch {
	case errors.Is(err, roster.ErrChannelExists):
		c.JSON(http.StatusConflict, gin.H{"error": "channel_exists"})
		return
	case errors.Is(err, roster.ErrInvalidTimezone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timezone"})
		return
	case errors.Is(err, roster.ErrInvalidLanguage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_language"})
		return
	case err != nil:
		h.logger.Error("failed to register channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register_failed"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"external_id":      channel.ExternalID,
		"timezone":         channel.Timezone,
		"language":         channel.Language,
		"role_external_id": channel.RoleExternalID,
	})
}

type updateChannelPayload struct {
	Timezone       *string `json:"timezone"`
	Language       *string `json:"language"`
	RoleExternalID *string `json:"role_external_id"`
}

func (h *httpHandler) handleUpdateChannel(c *gin.Context) {
	externalID := c.Param("id")
	var request updateChannelPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Timezone == nil && request.Language == nil && request.RoleExternalID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no_updates"})
		return
	}

	ctx := c.Request.Context()
	var err error
	if request.Timezone != nil {
		err = h.roster.UpdateChannelTimezone(ctx, externalID, *request.Timezone)
	}
	if err == nil && request.Language != nil {
		err = h.roster.UpdateChannelLanguage(ctx, externalID, *request.Language)
	}
	if err == nil && request.RoleExternalID != nil {
		err = h.roster.UpdateChannelRole(ctx, externalID, *request.RoleExternalID)
	}

	switch {
	case errors.Is(err, roster.ErrChannelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "channel_not_found"})
		return
	case errors.Is(err, roster.ErrInvalidTimezone):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timezone"})
		return
	case errors.Is(err, roster.ErrInvalidLanguage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_language"})
		return
	case err != nil:
		h.logger.Error("failed to update channel", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

type backfillEntryPayload struct {
	EventExternalID string `json:"event_external_id"`
	UserExternalID  string `json:"user_external_id"`
	Content         string `json:"content"`
	OccurredAt      string `json:"occurred_at"`
}

type backfillRequestPayload struct {
	From    string                 `json:"from"`
	Entries []backfillEntryPayload `json:"entries"`
}

func (h *httpHandler) handleBackfillChannel(c *gin.Context) {
	if h.backfill == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "backfill_unavailable"})
		return
	}

	var request backfillRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var from time.Time
	if request.From != "" {
		parsed, err := time.Parse(time.RFC3339Nano, request.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp"})
			return
		}
		from = parsed
	}

	entries := make([]attendance.HistoryEntry, 0, len(request.Entries))
	for _, entry := range request.Entries {
		occurredAt, err := time.Parse(time.RFC3339Nano, entry.OccurredAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_timestamp"})
			return
		}
		entries = append(entries, attendance.HistoryEntry{
			EventExternalID: entry.EventExternalID,
			UserExternalID:  entry.UserExternalID,
			OccurredAt:      occurredAt,
			Content:         entry.Content,
		})
	}

	summary, err := h.backfill.IngestHistory(c.Request.Context(), attendance.HistoryRequest{
		ChannelExternalID: c.Param("id"),
		Entries:           entries,
		From:              from,
	})
	if err != nil {
		h.logger.Error("backfill failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "backfill_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"scanned":        summary.Scanned,
		"stored":         summary.Stored,
		"skipped":        summary.Skipped,
		"by_category":    summary.ByCategory,
		"affected_users": summary.AffectedUsers,
		"channel_streak": streakStateFrom(summary.ChannelState),
		"global_streak":  streakStateFrom(summary.GlobalState),
	})
}

type userActionPayload struct {
	UserExternalID string `json:"user_external_id"`
}

func (h *httpHandler) handleAddAdmin(c *gin.Context) {
	subject := c.GetString(userIDContextKey)
	if !h.roster.IsOwner(subject) {
		c.JSON(http.StatusForbidden, gin.H{"error": "owner_only"})
		return
	}

	var request userActionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserExternalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	added, err := h.roster.AddAdmin(c.Request.Context(), request.UserExternalID)
	if err != nil {
		h.logger.Error("failed to add admin", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "admin_add_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *httpHandler) handleUntrackUser(c *gin.Context) {
	var request userActionPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserExternalID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.roster.UntrackUser(c.Request.Context(), request.UserExternalID); err != nil {
		h.logger.Error("failed to untrack user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "untrack_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"untracked": true})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
