// Package handler exposes verification links, request queries and manual
// judgements over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mssola/useragent"

	"registrar/internal/chain"
	"registrar/internal/challenge"
	"registrar/internal/judgement/models"
	"registrar/internal/judgement/service"
	"registrar/internal/platform/middleware"
	id "registrar/pkg/domain"
	dErrors "registrar/pkg/domain-errors"
	"registrar/pkg/platform/httputil"
	"registrar/pkg/requestcontext"
)

type Service interface {
	Find(ctx context.Context, requestID id.RequestID) (*models.JudgementRequest, error)
	Complete(ctx context.Context, requestID id.RequestID, ch models.Channel, presentedNonce string) (service.Result, error)
	Latest(ctx context.Context, account string) (*models.JudgementRequest, error)
}

type TokenParser interface {
	Parse(token string) (*challenge.Challenge, error)
}

type Judge interface {
	Provide(ctx context.Context, target string, judgement chain.Judgement) (chain.Receipt, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	service Service
	tokens  TokenParser
	judge   Judge
	logger  *slog.Logger

	chainName     string
	adminUser     string
	adminPassHash string
	health        map[string]HealthCheck
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithAdmin enables POST /admin/judgement behind basic auth.
func WithAdmin(judge Judge, username, passwordHash string) Option {
	return func(h *Handler) {
		h.judge = judge
		h.adminUser = username
		h.adminPassHash = passwordHash
	}
}

func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.health[name] = check
	}
}

func WithChainName(name string) Option {
	return func(h *Handler) {
		h.chainName = name
	}
}

func New(svc Service, tokens TokenParser, opts ...Option) *Handler {
	h := &Handler{
		service: svc,
		tokens:  tokens,
		logger:  slog.Default(),
		health:  make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recover(h.logger))
		r.Use(middleware.RequestContext)
		r.Use(middleware.Logger(h.logger))

		r.Get("/", h.handleHealth)
		r.Get("/health", h.handleHealth)
		r.Get("/verify/{channel}", h.handleLanding)
		r.Get("/verification/{channel}", h.handleComplete)
		r.Post("/verification/{channel}", h.handleComplete)
		r.Get("/query", h.handleQuery)

		if h.judge != nil {
			r.With(middleware.RequireAdmin(h.adminUser, h.adminPassHash, h.logger)).
				Post("/admin/judgement", h.handleProvideJudgement)
		}
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.health))
	status := http.StatusOK
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

// LandingResponse describes the request behind a verification link so the
// page can ask the user to confirm.
type LandingResponse struct {
	Account         string `json:"account"`
	Chain           string `json:"chain,omitempty"`
	Channel         string `json:"channel"`
	Target          string `json:"target"`
	Display         string `json:"display,omitempty"`
	Status          string `json:"status"`
	ChannelStatus   string `json:"channel_status,omitempty"`
	ConfirmationURL string `json:"confirmation_url"`
}

func (h *Handler) handleLanding(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")
	ch, err := h.challengeFor(r, token)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := h.service.Find(ctx, ch.RequestID)
	if err != nil {
		h.logError(ctx, "load request for landing", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LandingResponse{
		Account:         req.Account,
		Chain:           h.chainName,
		Channel:         string(ch.Channel),
		Target:          req.Target(ch.Channel),
		Display:         req.Display,
		Status:          string(req.Status),
		ChannelStatus:   string(req.StatusOf(ch.Channel)),
		ConfirmationURL: "/verification/" + string(ch.Channel) + "?token=" + url.QueryEscape(token),
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if ua := requestcontext.UserAgent(ctx); isLinkPreview(ua) {
		h.logger.InfoContext(ctx, "ignoring link preview request", "user_agent", ua)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ch, err := h.challengeFor(r, r.URL.Query().Get("token"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.Complete(ctx, ch.RequestID, ch.Channel, ch.Nonce)
	if err != nil {
		h.logError(ctx, "complete channel", err)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == service.OutcomeRejected {
		status = http.StatusConflict
	}
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	account := strings.TrimSpace(r.URL.Query().Get("account"))
	if account == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "account is required"))
		return
	}
	req, err := h.service.Latest(ctx, account)
	if err != nil {
		h.logError(ctx, "query latest request", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query request"))
		return
	}
	if req == nil {
		httputil.WriteJSON(w, http.StatusOK, struct{}{})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

// ProvideJudgementRequest is the body of POST /admin/judgement.
type ProvideJudgementRequest struct {
	Target    string `json:"target"`
	Judgement string `json:"judgement"`
}

type ProvideJudgementResponse struct {
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash"`
	BlockHash string `json:"block_hash,omitempty"`
}

func (h *Handler) handleProvideJudgement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := httputil.DecodeJSON[ProvideJudgementRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	judgement, err := chain.ParseJudgement(req.Judgement)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "unsupported judgement"))
		return
	}
	receipt, err := h.judge.Provide(ctx, strings.TrimSpace(req.Target), judgement)
	if err != nil {
		h.logError(ctx, "manual judgement", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProvideJudgementResponse{
		Status:    "success",
		TxHash:    receipt.TxHash,
		BlockHash: receipt.BlockHash,
	})
}

// challengeFor validates the token and checks it was issued for the channel
// in the path.
func (h *Handler) challengeFor(r *http.Request, token string) (*challenge.Challenge, error) {
	if token == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "token is required")
	}
	pathChannel, err := models.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "unknown channel")
	}
	ch, err := h.tokens.Parse(token)
	if err != nil {
		h.logger.InfoContext(r.Context(), "rejected verification token",
			"request_id", requestcontext.RequestID(r.Context()),
			"error", err,
		)
		return nil, err
	}
	if ch.Channel != pathChannel {
		return nil, dErrors.New(dErrors.CodeBadRequest, "token was issued for another channel")
	}
	return ch, nil
}

func (h *Handler) logError(ctx context.Context, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
}

// isLinkPreview reports crawlers and chat homeservers unfurling the link, so
// previews do not consume the challenge.
func isLinkPreview(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	if strings.Contains(strings.ToLower(userAgent), "synapse") {
		return true
	}
	return useragent.New(userAgent).Bot()
}
