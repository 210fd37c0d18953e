// forum/handlers.go
package forum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexedwards/scs/v2"
	"go.uber.org/zap"

	"github.com/rexlx/marconilink/notify"
	"github.com/rexlx/marconilink/storage"
)

// DefaultMaxUpload caps attachment size when no limit is configured.
const DefaultMaxUpload = 50 << 20

type Handlers struct {
	db      *Database
	inbox   *notify.Inbox
	bucket  storage.Bucket
	signer  *storage.Signer
	Session *scs.SessionManager
	logger  *zap.Logger

	maxUpload    int64
	adminKeyHash string
	now          func() time.Time
}

// HandlerOptions carry the HTTP-only settings.
type HandlerOptions struct {
	MaxUploadBytes int64
	AdminKeyHash   string
}

// NewHandlers wires the REST surface. A nil session manager gets an
// in-memory one.
func NewHandlers(db *Database, inbox *notify.Inbox, bucket storage.Bucket, signer *storage.Signer, session *scs.SessionManager, logger *zap.Logger, opts HandlerOptions) *Handlers {
	if session == nil {
		session = scs.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUpload
	}
	return &Handlers{
		db:           db,
		inbox:        inbox,
		bucket:       bucket,
		signer:       signer,
		Session:      session,
		logger:       logger.Named("forum"),
		maxUpload:    opts.MaxUploadBytes,
		adminKeyHash: opts.AdminKeyHash,
		now:          time.Now,
	}
}

func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("POST /visit", h.trackVisit)
	mux.HandleFunc("GET /stats", h.stats)
	mux.HandleFunc("GET /leaderboard", h.leaderboard)
	mux.HandleFunc("GET /me", h.me)

	mux.HandleFunc("GET /user/profile/{userId}", h.getProfile)
	mux.HandleFunc("POST /user/profile", h.updateProfile)

	mux.HandleFunc("POST /posts", h.createPost)
	mux.HandleFunc("GET /posts/{userId}", h.listPosts)
	mux.HandleFunc("PUT /posts/{postId}", h.updatePost)
	mux.HandleFunc("DELETE /posts/{postId}", h.deletePost)
	mux.HandleFunc("POST /posts/{postId}/like", h.toggleLike)
	mux.HandleFunc("GET /posts/{postId}/comments", h.listComments)
	mux.HandleFunc("POST /posts/{postId}/comment", h.addComment)
	mux.HandleFunc("DELETE /posts/{postId}/comment/{commentId}", h.deleteComment)

	mux.HandleFunc("POST /upload", h.upload)
	mux.HandleFunc("GET /files/{name}", h.serveFile)

	mux.HandleFunc("POST /notifications/subscribe", h.subscribe)
	mux.HandleFunc("DELETE /notifications/subscribe", h.unsubscribe)
	mux.HandleFunc("GET /notifications/{userId}", h.listNotifications)
	mux.HandleFunc("POST /notifications/{userId}/read", h.markRead)
	mux.HandleFunc("POST /admin/broadcast", h.broadcast)
}

// Handler returns the routes wrapped with session loading.
func (h *Handlers) Handler() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return h.Session.LoadAndSave(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON tolerates an empty body.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// fail maps repository errors to statuses. Anything unexpected is logged and
// reported with the generic message.
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrPostNotFound), errors.Is(err, ErrCommentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrExists):
		writeError(w, http.StatusConflict, "File already exists")
	default:
		h.logger.Error(msg, zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msg)
	}
}

// identity prefers the user id sent by the client and falls back to the one
// kept in the session.
func (h *Handlers) identity(r *http.Request, claimed string) string {
	if claimed = strings.TrimSpace(claimed); claimed != "" {
		return claimed
	}
	return h.Session.GetString(r.Context(), sessionUserKey)
}

type userRequest struct {
	UserID string `json:"userId"`
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := h.Session.GetString(ctx, sessionUserKey)
	if id == "" {
		id = NewUserID()
		h.Session.Put(ctx, sessionUserKey, id)
	}
	profile, err := h.db.EnsureProfile(ctx, id)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "profile": profile})
}

// --- Visit and Stats Handlers ---

func (h *Handlers) trackVisit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		Date   string `json:"date"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.db.TrackVisit(r.Context(), req.Date, h.identity(r, req.UserID)); err != nil {
		h.fail(w, r, err, "Failed to track visit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) stats(w http.ResponseWriter, r *http.Request) {
	s, err := h.db.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.db.Leaderboard(r.Context(), DefaultLeaderboardSize)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch leaderboard")
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// --- Profile Handlers ---

func (h *Handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.db.EnsureProfile(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.fail(w, r, err, "Failed to fetch profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in ProfileInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	in.UserID = h.identity(r, in.UserID)
	p, err := h.db.SaveProfile(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// --- Post Handlers ---

func (h *Handlers) createPost(w http.ResponseWriter, r *http.Request) {
	var in PostInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	in.UserID = h.identity(r, in.UserID)
	post, err := h.db.CreatePost(r.Context(), in)
	if err != nil {
		h.fail(w, r, err, "Failed to create post")
		return
	}
	post.Content = decodeContent(post.Content)
	writeJSON(w, http.StatusOK, post)
}

// listPosts serves the feed. Pagination details go in headers so the body
// stays a plain array.
func (h *Handlers) listPosts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("pageSize"))
	q := FeedQuery{
		Type:     query.Get("type"),
		Search:   query.Get("q"),
		Page:     page,
		PageSize: pageSize,
	}

	posts, pd, err := h.db.Feed(r.Context(), r.PathValue("userId"), q)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch posts")
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(pd.TotalItems))
	w.Header().Set("X-Page", strconv.Itoa(pd.CurrentPage))
	w.Header().Set("X-Total-Pages", strconv.Itoa(pd.TotalPages))
	if pd.HasNext {
		w.Header().Set("X-Next-Page", strconv.Itoa(pd.NextPage))
	}
	if pd.HasPrev {
		w.Header().Set("X-Prev-Page", strconv.Itoa(pd.PrevPage))
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *Handlers) updatePost(w http.ResponseWriter, r *http.Request) {
	var in PostUpdate
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	in.UserID = h.identity(r, in.UserID)
	post, err := h.db.UpdatePost(r.Context(), r.PathValue("postId"), in)
	if err != nil {
		h.fail(w, r, err, "Failed to update post")
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handlers) deletePost(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := h.db.DeletePost(r.Context(), r.PathValue("postId"), h.identity(r, req.UserID)); err != nil {
		h.fail(w, r, err, "Failed to delete post")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) toggleLike(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	liked, likes, err := h.db.ToggleLike(r.Context(), r.PathValue("postId"), h.identity(r, req.UserID))
	if err != nil {
		h.fail(w, r, err, "Failed to toggle like")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"liked": liked, "likes": likes})
}

// --- Comment Handlers ---

func (h *Handlers) listComments(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("order") == "raw"
	comments, err := h.db.DisplayComments(r.Context(), r.PathValue("postId"), raw)
	if err != nil {
		h.fail(w, r, err, "Failed to fetch comments")
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handlers) addComment(w http.ResponseWriter, r *http.Request) {
	var in CommentInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	in.UserID = h.identity(r, in.UserID)
	c, err := h.db.AddComment(r.Context(), r.PathValue("postId"), in)
	if err != nil {
		h.fail(w, r, err, "Failed to add comment")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handlers) deleteComment(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	err := h.db.DeleteComment(r.Context(), r.PathValue("postId"), r.PathValue("commentId"), h.identity(r, req.UserID))
	if err != nil {
		h.fail(w, r, err, "Failed to delete comment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- Attachment Handlers ---

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	obj, err := h.store(r.Context(), storage.SanitizeName(header.Filename), contentType, file)
	if err != nil {
		h.fail(w, r, err, "Failed to upload file")
		return
	}
	url, err := h.signer.URL(obj.Name)
	if err != nil {
		h.fail(w, r, err, "Failed to upload file")
		return
	}
	writeJSON(w, http.StatusOK, Attachment{
		Name: header.Filename,
		URL:  url,
		Type: contentType,
		Size: obj.Size,
	})
}

// uploadNameAttempts bounds the retries when two uploads of the same file
// land in the same millisecond.
const uploadNameAttempts = 5

// store saves an upload under a timestamped name. Put refuses to overwrite
// before reading anything, so the same reader can be offered again.
func (h *Handlers) store(ctx context.Context, base, contentType string, r io.Reader) (storage.Object, error) {
	stamp := h.now().UnixMilli()
	var (
		obj storage.Object
		err error
	)
	for attempt := range uploadNameAttempts {
		name := fmt.Sprintf("%d_%s", stamp, base)
		if attempt > 0 {
			name = fmt.Sprintf("%d-%d_%s", stamp, attempt, base)
		}
		obj, err = h.bucket.Put(ctx, name, contentType, r)
		if !errors.Is(err, storage.ErrExists) {
			break
		}
	}
	return obj, err
}

func (h *Handlers) serveFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.signer.Verify(r.URL.Query().Get("token"), name); err != nil {
		h.logger.Debug("rejected file token", zap.String("name", name), zap.Error(err))
		writeError(w, http.StatusForbidden, "Invalid or expired link")
		return
	}
	rc, obj, err := h.bucket.Open(r.Context(), name)
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	if err != nil {
		h.fail(w, r, err, "Failed to read file")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("file copy interrupted", zap.String("name", name), zap.Error(err))
	}
}

// --- Notification Handlers ---

func (h *Handlers) subscribe(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	userID := h.identity(r, req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := h.inbox.Subscribe(r.Context(), userID); err != nil {
		h.fail(w, r, err, "Failed to subscribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) unsubscribe(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	userID := h.identity(r, req.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err := h.inbox.Unsubscribe(r.Context(), userID); err != nil {
		h.fail(w, r, err, "Failed to unsubscribe")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) listNotifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.inbox.List(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.fail(w, r, err, "Failed to fetch notifications")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handlers) markRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.inbox.MarkRead(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.fail(w, r, err, "Failed to update notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// broadcast needs "Authorization: Bearer <admin API key>".
func (h *Handlers) broadcast(w http.ResponseWriter, r *http.Request) {
	key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing API key")
		return
	}
	match, err := APIKeyMatches(h.adminKeyHash, strings.TrimSpace(key))
	if err != nil {
		h.logger.Error("api key check failed", zap.Error(err))
	}
	if !match {
		writeError(w, http.StatusUnauthorized, "Invalid API key")
		return
	}

	var req struct {
		Title              string `json:"title"`
		Body               string `json:"body"`
		Link               string `json:"link"`
		RequireInteraction bool   `json:"requireInteraction"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if isBlank(req.Title) {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	n, err := h.inbox.Broadcast(r.Context(), notify.Notification{
		From:               "admin",
		Title:              req.Title,
		Message:            req.Body,
		Link:               req.Link,
		RequireInteraction: req.RequireInteraction,
	})
	if err != nil {
		h.fail(w, r, err, "Failed to broadcast")
		return
	}
	h.logger.Info("broadcast delivered", zap.String("title", req.Title), zap.Int("recipients", n))
	writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}
