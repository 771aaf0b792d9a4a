package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/unipost/unipost/internal/auth"
	"github.com/unipost/unipost/internal/metrics"
	"github.com/unipost/unipost/internal/pipeline"
	"github.com/unipost/unipost/internal/search"
	"github.com/unipost/unipost/internal/session"
	"github.com/unipost/unipost/internal/store"
)

// Generator runs the post generation pipeline
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// PostStore is the persistence surface the API needs
type PostStore interface {
	GetPost(ctx context.Context, id string) (*store.Post, error)
	ListPosts(ctx context.Context, createdBy string, limit int) ([]store.Post, error)
	SetApproval(ctx context.Context, id string, approved bool) error
	GetStats(ctx context.Context) (*store.Stats, error)
}

// Sessions is the session surface the API needs
type Sessions interface {
	CreateSession(ctx context.Context, userID string, metadata map[string]string) (*session.Session, error)
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	RecordGeneration(ctx context.Context, sessionID string, ref session.PostRef) error
}

// Notifier pushes approval decisions downstream
type Notifier interface {
	Enabled() bool
	NotifyApproval(ctx context.Context, postID string, approved bool) error
}

// Handler serves the post generation API
type Handler struct {
	generator Generator
	posts     PostStore
	sessions  Sessions
	notifier  Notifier
	logger    *zap.Logger
}

func NewHandler(generator Generator, posts PostStore, sessions Sessions, notifier Notifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	return &Handler{
		generator: generator,
		posts:     posts,
		sessions:  sessions,
		notifier:  notifier,
		logger:    logger,
	}
}

type generateRequest struct {
	Topic     string `json:"topic"`
	Platform  string `json:"platform"`
	Model     string `json:"model,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// postView augments the stored post with the derived approval status
type postView struct {
	*store.Post
	Status string `json:"status"`
}

func viewOf(p *store.Post) postView {
	return postView{Post: p, Status: p.Status()}
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req generateRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	result, err := h.generator.Generate(r.Context(), pipeline.Request{
		Topic:    req.Topic,
		Platform: req.Platform,
		Model:    req.Model,
		UserID:   userCtx.UserID,
	})
	switch {
	case errors.Is(err, pipeline.ErrEmptyTopic):
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	case errors.Is(err, search.ErrNoContext):
		writeError(w, http.StatusUnprocessableEntity, "no context found for topic")
		return
	case err != nil:
		h.logger.Error("Generation failed", zap.Error(err), zap.String("user", userCtx.UserID))
		writeError(w, http.StatusBadGateway, "generation failed")
		return
	}

	if h.sessions != nil && req.SessionID != "" {
		ref := session.PostRef{
			PostID:    result.Post.ID,
			Topic:     result.Post.Description,
			Platform:  result.Post.Platform,
			CreatedAt: result.Post.CreatedAt,
		}
		if err := h.sessions.RecordGeneration(r.Context(), req.SessionID, ref); err != nil {
			h.logger.Warn("Failed to record generation in session",
				zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"post":             viewOf(result.Post),
		"context":          result.ContextDocs,
		"search_cache_hit": result.FromCache,
	})
}

func (h *Handler) handleListPosts(w http.ResponseWriter, r *http.Request) {
	userCtx, _ := auth.GetUserContext(r.Context())

	createdBy := ""
	if r.URL.Query().Get("mine") == "true" && userCtx != nil {
		createdBy = userCtx.UserID
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}

	posts, err := h.posts.ListPosts(r.Context(), createdBy, limit)
	if err != nil {
		h.logger.Error("Failed to list posts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list posts")
		return
	}

	views := make([]postView, len(posts))
	for i := range posts {
		views[i] = viewOf(&posts[i])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"posts": views})
}

func (h *Handler) handleGetPost(w http.ResponseWriter, r *http.Request) {
	p, err := h.posts.GetPost(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get post")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *Handler) handleDeny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, approved bool) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok || !userCtx.HasScope(auth.ScopePostsApprove) {
		writeError(w, http.StatusForbidden, "approval requires editor role")
		return
	}

	id := r.PathValue("id")
	if err := h.posts.SetApproval(r.Context(), id, approved); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		h.logger.Error("Failed to set approval", zap.Error(err), zap.String("post_id", id))
		writeError(w, http.StatusInternalServerError, "failed to record decision")
		return
	}

	decision := "approved"
	if !approved {
		decision = "denied"
	}
	metrics.ApprovalDecisions.WithLabelValues(decision).Inc()
	h.logger.Info("Approval decision recorded",
		zap.String("post_id", id),
		zap.String("decision", decision),
		zap.String("decided_by", userCtx.UserID),
	)

	// Webhook delivery retries for minutes; do not hold the request.
	if h.notifier != nil && h.notifier.Enabled() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if err := h.notifier.NotifyApproval(ctx, id, approved); err != nil {
				h.logger.Error("Webhook notification failed", zap.String("post_id", id), zap.Error(err))
			}
		}()
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": decision})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok || !userCtx.HasScope(auth.ScopeStatsRead) {
		writeError(w, http.StatusForbidden, "statistics require admin role")
		return
	}

	stats, err := h.posts.GetStats(r.Context())
	if err != nil {
		h.logger.Error("Failed to get statistics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}

	sess, err := h.sessions.CreateSession(r.Context(), userCtx.UserID, nil)
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userCtx, ok := auth.GetUserContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions unavailable")
		return
	}

	sess, err := h.sessions.GetSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionExpired) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}
	// Sessions are private to their owner.
	if sess.UserID != userCtx.UserID && userCtx.Role != auth.RoleAdmin {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
