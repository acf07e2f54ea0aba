package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chatwarden/warden/automod/actor"
	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/event"
	"github.com/chatwarden/warden/automod/orchestrator"
	"github.com/chatwarden/warden/automod/store"
	"github.com/chatwarden/warden/models"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

// Body of every moderation request. Which fields are used depends on the verb.
type ActionRequest struct {
	Reason   string `json:"reason"`
	UserName string `json:"userName,omitempty"`
	// chat the action originated from; for restrict, the only chat restricted (omit for all chats)
	ChatID    int64  `json:"chatId,omitempty"`
	MessageID *int64 `json:"messageId,omitempty"`
	// Go duration string, eg "24h"; required for tempban, optional for restrict and trust
	Duration     string `json:"duration,omitempty"`
	RestoreTrust bool   `json:"restoreTrust,omitempty"`
	// author and text of a message the bot never observed, for marking it as spam
	UserID int64  `json:"userId,omitempty"`
	Text   string `json:"text,omitempty"`
	// web operator on whose behalf the request is made
	OperatorID    string `json:"operatorId,omitempty"`
	OperatorEmail string `json:"operatorEmail,omitempty"`
}

func (r *ActionRequest) actor() actor.Actor {
	if r.OperatorID != "" {
		return actor.WebUser(r.OperatorID, r.OperatorEmail)
	}
	return actor.System("admin-api")
}

func (r *ActionRequest) duration() (time.Duration, error) {
	if r.Duration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Duration)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", r.Duration, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", r.Duration)
	}
	return d, nil
}

type ChatView struct {
	ChatID      int64               `json:"chatId"`
	Title       string              `json:"title"`
	Type        string              `json:"type"`
	Active      bool                `json:"active"`
	Health      models.HealthStatus `json:"health"`
	CanEnforce  bool                `json:"canEnforce"`
	HealthError string              `json:"healthError,omitempty"`
	CheckedAt   *time.Time          `json:"checkedAt,omitempty"`
}

func (s *Server) newAPI(adminToken string, reg prometheus.Registerer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("warden"))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "warden",
		Registerer: reg,
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.HTTPErrorHandler = s.errorHandler
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		HSTSMaxAge:         31536000, // 365 days
	}))

	e.GET("/_health", s.HandleHealthCheck)

	api := e.Group("/api", bearerAuth(adminToken))
	api.GET("/chats", s.HandleListChats)
	api.GET("/reports", s.HandleListReports)
	api.POST("/reports/:id/resolve", s.HandleResolveReport)
	api.GET("/audit", s.HandleListAudit)
	api.GET("/config/:chat", s.HandleGetConfig)
	api.PUT("/config/:chat", s.HandlePutConfig)
	api.GET("/users/:id/actions", s.HandleListActions)
	api.POST("/users/:id/ban", s.HandleBan)
	api.POST("/users/:id/tempban", s.HandleTempBan)
	api.POST("/users/:id/unban", s.HandleUnban)
	api.POST("/users/:id/warn", s.HandleWarn)
	api.POST("/users/:id/trust", s.HandleTrust)
	api.POST("/users/:id/untrust", s.HandleUntrust)
	api.POST("/users/:id/restrict", s.HandleRestrict)
	api.POST("/messages/:chat/:msg/delete", s.HandleDeleteMessage)
	api.POST("/messages/:chat/:msg/spam", s.HandleMarkSpam)
	return e
}

func bearerAuth(token string) echo.MiddlewareFunc {
	expected := []byte("Bearer " + token)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := []byte(c.Request().Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing admin token")
			}
			return next(c)
		}
	}
}

func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	errorMessage := "internal error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		s.logger.Warn("warden-http-internal-error", "err", err)
	}
	if !c.Response().Committed {
		_ = c.JSON(code, GenericStatus{Status: "error", Daemon: "warden", Message: errorMessage})
	}
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	if err := s.store.Ping(c.Request().Context()); err != nil {
		slog.Error("database health check failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, GenericStatus{Status: "error", Daemon: "warden", Message: "database unreachable"})
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden", Version: versioninfo.Short()})
}

func pathInt(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid %s: %q", name, c.Param(name)))
	}
	return v, nil
}

func queryLimit(c echo.Context) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}

// Parses the target user id and the request body. Platform system accounts are rejected here; the orchestrator would refuse them anyway.
func bindUserAction(c echo.Context) (int64, *ActionRequest, error) {
	userID, err := pathInt(c, "id")
	if err != nil {
		return 0, nil, err
	}
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return 0, nil, echo.NewHTTPError(http.StatusBadRequest, "reason is required")
	}
	if event.IsSystemAccount(userID) {
		return 0, nil, echo.NewHTTPError(http.StatusUnprocessableEntity, orchestrator.ErrSystemAccount.Error())
	}
	return userID, &req, nil
}

// Expected failures are reported in the body with status 200; callers check "success".
func actionResponse(c echo.Context, verb string, success bool, res any) error {
	apiActions.WithLabelValues(verb, strconv.FormatBool(success)).Inc()
	return c.JSON(http.StatusOK, res)
}

func (s *Server) HandleBan(c echo.Context) error {
	userID, req, err := bindUserAction(c)
	if err != nil {
		return err
	}
	res := s.orch.Ban(c.Request().Context(), orchestrator.BanRequest{
		UserID:    userID,
		UserName:  req.UserName,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Actor:     req.actor(),
		Reason:    req.Reason,
	})
	return actionResponse(c, "ban", res.Success, res)
}

func (s *Server) HandleTempBan(c echo.Context) error {
	userID, req, err := bindUserAction(c)
	if err != nil {
		return err
	}
	d, err := req.duration()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if d == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration is required")
	}
	res := s.orch.TempBan(c.Request().Context(), orchestrator.BanRequest{
		UserID:    userID,
		UserName:  req.UserName,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Actor:     req.actor(),
		Reason:    req.Reason,
	}, d)
	return actionResponse(c, "tempban", res.Success, res)
}

func (s *Server) HandleUnban(c echo.Context) error {
	userID, req, err := bindUserAction(c)
	if err != nil {
		return err
	}
	res := s.orch.Unban(c.Request().Context(), userID, req.actor(), req.Reason, req.RestoreTrust)
	return actionResponse(c, "unban", res.Success, res)
}

func (s *Server) HandleWarn(c echo.Context) error {
	userID, req, err := bindUserAction(c)
	if err != nil {
		return err
	}
	res := s.orch.Warn(c.Request().Context(), orchestrator.WarnRequest{
		UserID:    userID,
		UserName:  req.UserName,
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Actor:     req.actor(),
		Reason:    req.Reason,
	})
	return actionResponse(c, "warn", res.Success, res)
}

func (s *Server) HandleTrust(c echo.Context) error {
	userID, req, err := bindUserAction(c)
	if err != nil {
		return err
	}
	d, err := req.duration()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var expiresAt *time.Time
	if d > 0 {
		t := time.Now().Add(d)
		expiresAt = &t
	}
	res := s.orch.Trust(c.Request().Context(), userID, req.actor(), req.Reason, expiresAt)
	return actionResponse(c, "trust", res.Success, res)
}

func (s *Server) HandleUntrust(c echo.Context) error {
	userID, req, err := bindUserAction(c)
	if err != nil {
		return err
	}
	res := s.orch.Untrust(c.Request().Context(), userID, req.actor(), req.Reason)
	return actionResponse(c, "untrust", res.Success, res)
}

func (s *Server) HandleRestrict(c echo.Context) error {
	userID, req, err := bindUserAction(c)
	if err != nil {
		return err
	}
	d, err := req.duration()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var until time.Time
	if d > 0 {
		until = time.Now().Add(d)
	}
	var chatID *int64
	if req.ChatID != 0 {
		chatID = &req.ChatID
	}
	res := s.orch.Restrict(c.Request().Context(), userID, chatID, req.actor(), req.Reason, until)
	return actionResponse(c, "restrict", res.Success, res)
}

func (s *Server) HandleDeleteMessage(c echo.Context) error {
	chatID, err := pathInt(c, "chat")
	if err != nil {
		return err
	}
	msgID, err := pathInt(c, "msg")
	if err != nil {
		return err
	}
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res := s.orch.DeleteMessage(c.Request().Context(), chatID, msgID, req.actor(), req.Reason)
	return actionResponse(c, "delete", res.Success, res)
}

// Marks a previously observed message as spam: deletes it, bans its author, and adds it to the training corpus.
func (s *Server) HandleMarkSpam(c echo.Context) error {
	ctx := c.Request().Context()
	chatID, err := pathInt(c, "chat")
	if err != nil {
		return err
	}
	msgID, err := pathInt(c, "msg")
	if err != nil {
		return err
	}
	var req ActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		req.Reason = "marked as spam"
	}

	var msg event.Message
	row, err := s.store.GetMessage(ctx, chatID, msgID)
	switch {
	case err == nil:
		msg = event.Message{
			ChatID:    row.ChatID,
			MessageID: row.MessageID,
			UserID:    row.UserID,
			UserName:  row.UserName,
			Text:      row.Text,
			SentAt:    row.SentAt,
		}
	case errors.Is(err, store.ErrNotFound):
		// never observed: the caller must supply the author; the orchestrator backfills the row
		if req.UserID == 0 {
			return echo.NewHTTPError(http.StatusNotFound, "message not found; supply userId and text to backfill it")
		}
		msg = event.Message{
			ChatID:    chatID,
			MessageID: msgID,
			UserID:    req.UserID,
			UserName:  req.UserName,
			Text:      req.Text,
			SentAt:    time.Now(),
		}
	default:
		return fmt.Errorf("loading message: %w", err)
	}
	if event.IsSystemAccount(msg.UserID) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, orchestrator.ErrSystemAccount.Error())
	}
	res := s.orch.MarkAsSpamAndBan(ctx, msg, req.actor(), req.Reason)
	return actionResponse(c, "spam_ban", res.Success, res)
}

func (s *Server) HandleListChats(c echo.Context) error {
	chats, err := s.store.ListChats(c.Request().Context())
	if err != nil {
		return fmt.Errorf("listing chats: %w", err)
	}
	out := make([]ChatView, 0, len(chats))
	for _, chat := range chats {
		v := ChatView{
			ChatID: chat.ChatID,
			Title:  chat.Title,
			Type:   chat.ChatType,
			Active: chat.IsActive,
			Health: chat.HealthStatus,
		}
		if h, ok := s.health.Get(chat.ChatID); ok {
			v.Health = h.Status
			v.CanEnforce = h.CanEnforce()
			v.HealthError = h.Error
			checked := h.CheckedAt
			v.CheckedAt = &checked
		}
		out = append(out, v)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) HandleListReports(c echo.Context) error {
	status := c.QueryParam("status")
	if status == "" {
		status = models.ReportPending
	}
	if status == "all" {
		status = ""
	}
	reports, err := s.store.ListReports(c.Request().Context(), status, queryLimit(c))
	if err != nil {
		return fmt.Errorf("listing reports: %w", err)
	}
	return c.JSON(http.StatusOK, reports)
}

func (s *Server) HandleResolveReport(c echo.Context) error {
	id, err := pathInt(c, "id")
	if err != nil {
		return err
	}
	err = s.store.ResolveReport(c.Request().Context(), uint64(id))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	} else if err != nil {
		return fmt.Errorf("resolving report: %w", err)
	}
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden"})
}

func (s *Server) HandleListAudit(c echo.Context) error {
	entries, err := s.store.ListAudit(c.Request().Context(), queryLimit(c))
	if err != nil {
		return fmt.Errorf("listing audit log: %w", err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) HandleListActions(c echo.Context) error {
	userID, err := pathInt(c, "id")
	if err != nil {
		return err
	}
	recs, err := s.store.ListActions(c.Request().Context(), userID, queryLimit(c))
	if err != nil {
		return fmt.Errorf("listing actions: %w", err)
	}
	return c.JSON(http.StatusOK, recs)
}

func (s *Server) HandleGetConfig(c echo.Context) error {
	chatID, err := pathInt(c, "chat")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.config.Load(c.Request().Context(), chatID))
}

func (s *Server) HandlePutConfig(c echo.Context) error {
	chatID, err := pathInt(c, "chat")
	if err != nil {
		return err
	}
	var cfg config.ModerationConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid configuration document")
	}
	if err := cfg.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.config.Save(c.Request().Context(), chatID, cfg); err != nil {
		return fmt.Errorf("saving configuration: %w", err)
	}
	return c.JSON(http.StatusOK, s.config.Load(c.Request().Context(), chatID))
}
