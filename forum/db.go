// forum/db.go
package forum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rexlx/marconilink/kv"
)

const (
	postsListKey = "posts:list"

	DefaultLeaderboardSize = 20
)

func userKey(id string) string             { return "user:" + id }
func postKey(id string) string             { return "post:" + id }
func commentsKey(postID string) string     { return "comments:" + postID }
func likeKey(postID, userID string) string { return "like:" + postID + ":" + userID }
func likePrefix(postID string) string      { return "like:" + postID + ":" }
func visitKey(date, userID string) string  { return "visit:" + date + ":" + userID }
func visitPrefix(date string) string       { return "visit:" + date + ":" }

// Options configure a Database.
type Options struct {
	AdminCode      string
	SuperAdminCode string
	Now            func() time.Time
}

// Database is the forum repository. Every record is a JSON value in the
// key-value store; there are no transactions, so concurrent writers in
// different processes follow last-write-wins.
type Database struct {
	store          kv.Store
	locks          *keyLocks
	adminCode      string
	superAdminCode string
	now            func() time.Time
}

func NewDatabase(store kv.Store, opts Options) *Database {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Database{
		store:          store,
		locks:          newKeyLocks(),
		adminCode:      opts.AdminCode,
		superAdminCode: opts.SuperAdminCode,
		now:            opts.Now,
	}
}

func (d *Database) timestamp() time.Time {
	return d.now().UTC()
}

func (d *Database) today() string {
	return d.timestamp().Format(time.DateOnly)
}

// getJSON decodes key into v and reports whether it existed.
func (d *Database) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := d.store.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func (d *Database) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return d.store.Set(ctx, key, raw)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// --- Profile Functions ---

// GetProfile returns nil, nil when the user has no profile yet.
func (d *Database) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	ok, err := d.getJSON(ctx, userKey(userID), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// EnsureProfile returns the stored profile, creating an empty one first if
// needed.
func (d *Database) EnsureProfile(ctx context.Context, userID string) (*Profile, error) {
	if isBlank(userID) {
		return nil, invalid("userId is required")
	}
	unlock := d.locks.lock(userKey(userID))
	defer unlock()

	p, err := d.GetProfile(ctx, userID)
	if err != nil || p != nil {
		return p, err
	}
	now := d.timestamp()
	p = &Profile{UserID: userID, Codes: []string{}, CreatedAt: &now}
	if err := d.setJSON(ctx, userKey(userID), p); err != nil {
		return nil, err
	}
	return p, nil
}

// ProfileInput is the body of a profile update.
type ProfileInput struct {
	UserID      string   `json:"userId"`
	Name        string   `json:"name"`
	Surname     string   `json:"surname"`
	AvatarIndex *int     `json:"avatarIndex"`
	Codes       []string `json:"codes"`
}

// SaveProfile replaces the user's profile. Codes are trimmed, upper-cased
// and deduplicated.
func (d *Database) SaveProfile(ctx context.Context, in ProfileInput) (*Profile, error) {
	if isBlank(in.UserID) {
		return nil, invalid("userId is required")
	}
	unlock := d.locks.lock(userKey(in.UserID))
	defer unlock()

	old, err := d.GetProfile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	now := d.timestamp()
	p := &Profile{
		UserID:    in.UserID,
		Name:      strings.TrimSpace(in.Name),
		Surname:   strings.TrimSpace(in.Surname),
		Codes:     normalizeCodes(in.Codes),
		UpdatedAt: &now,
	}
	if in.AvatarIndex != nil {
		p.AvatarIndex = *in.AvatarIndex
	}
	if old != nil {
		p.CreatedAt = old.CreatedAt
	}
	if err := d.setJSON(ctx, userKey(in.UserID), p); err != nil {
		return nil, err
	}
	return p, nil
}

func normalizeCodes(codes []string) []string {
	out := make([]string, 0, len(codes))
	seen := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func (d *Database) isAdmin(p *Profile) bool {
	return p.HasCode(d.adminCode)
}

func (d *Database) isSuperAdmin(p *Profile) bool {
	return p.HasCode(d.superAdminCode)
}

// profileCache memoizes profile lookups for the duration of one request.
type profileCache struct {
	db       *Database
	profiles map[string]*Profile
}

func (d *Database) newProfileCache() *profileCache {
	return &profileCache{db: d, profiles: make(map[string]*Profile)}
}

func (c *profileCache) get(ctx context.Context, userID string) (*Profile, error) {
	if p, ok := c.profiles[userID]; ok {
		return p, nil
	}
	p, err := c.db.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.profiles[userID] = p
	return p, nil
}

// --- Post Functions ---

// PostInput is the body of a post creation request.
type PostInput struct {
	UserID          string       `json:"userId"`
	Type            string       `json:"type"`
	Title           string       `json:"title"`
	Content         string       `json:"content"`
	Materia         string       `json:"materia"`
	Attachments     []Attachment `json:"attachments"`
	CodiceCategoria string       `json:"codiceCategoria"`
	IsAdmin         bool         `json:"isAdmin"`
	EventDate       string       `json:"eventDate"`
	EventTime       string       `json:"eventTime"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (d *Database) CreatePost(ctx context.Context, in PostInput) (*Post, error) {
	if isBlank(in.UserID) {
		return nil, invalid("userId è obbligatorio")
	}
	if isBlank(in.Type) {
		return nil, invalid("Il tipo di post è obbligatorio")
	}
	if !postTypes[in.Type] {
		return nil, invalid(fmt.Sprintf("Tipo di post sconosciuto: %s", in.Type))
	}
	if isBlank(in.Title) {
		return nil, invalid("Il titolo è obbligatorio")
	}

	profile, err := d.GetProfile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if adminOnly(in.Type) && in.IsAdmin && !d.isAdmin(profile) {
		return nil, failure(ErrForbidden, "Non hai i permessi per creare questo tipo di contenuto")
	}

	role := RoleStudent
	if in.IsAdmin && d.isAdmin(profile) {
		role = RoleAdmin
	}
	materia := strings.TrimSpace(in.Materia)
	if materia == "" {
		materia = DefaultMateria
	}
	attachments := in.Attachments
	if attachments == nil {
		attachments = []Attachment{}
	}
	var code *string
	if c := optional(in.CodiceCategoria); c != nil {
		upper := strings.ToUpper(*c)
		code = &upper
	}

	now := d.timestamp()
	post := &Post{
		ID:      newID("post", now),
		Type:    in.Type,
		Title:   in.Title,
		Content: encodeContent(in.Content),
		Materia: materia,
		Author: Author{
			ID:     in.UserID,
			Name:   profile.DisplayName(),
			Avatar: avatarFor(in.UserID, profile),
			Role:   role,
		},
		Timestamp:       now,
		Attachments:     attachments,
		CodiceCategoria: code,
		EventDate:       optional(in.EventDate),
		EventTime:       optional(in.EventTime),
		CreatedAt:       now,
	}
	if err := d.setJSON(ctx, postKey(post.ID), post); err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}

	unlock := d.locks.lock(postsListKey)
	defer unlock()
	ids, err := d.postIDs(ctx)
	if err != nil {
		return nil, err
	}
	ids = append([]string{post.ID}, ids...)
	if err := d.setJSON(ctx, postsListKey, ids); err != nil {
		return nil, fmt.Errorf("failed to update posts list: %w", err)
	}
	return post, nil
}

// GetPost returns nil, nil for a missing post.
func (d *Database) GetPost(ctx context.Context, id string) (*Post, error) {
	var p Post
	ok, err := d.getJSON(ctx, postKey(id), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// postIDs returns the posts list, newest first. IDs may dangle.
func (d *Database) postIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if _, err := d.getJSON(ctx, postsListKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// posts loads every post in list order, skipping dangling IDs.
func (d *Database) posts(ctx context.Context) ([]Post, int, error) {
	ids, err := d.postIDs(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Post, 0, len(ids))
	for _, id := range ids {
		p, err := d.GetPost(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if p != nil {
			out = append(out, *p)
		}
	}
	return out, len(ids), nil
}

func (d *Database) canModify(ctx context.Context, post *Post, userID string) error {
	if isBlank(userID) {
		return ErrForbidden
	}
	if post.Author.ID == userID {
		return nil
	}
	profile, err := d.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if d.isAdmin(profile) {
		return nil
	}
	return ErrForbidden
}

// PostUpdate is the body of a post edit.
type PostUpdate struct {
	UserID  string `json:"userId"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Materia string `json:"materia"`
}

// UpdatePost lets the author or an admin change title, description and
// subject. The returned post has its description decoded.
func (d *Database) UpdatePost(ctx context.Context, postID string, in PostUpdate) (*Post, error) {
	unlock := d.locks.lock(postKey(postID))
	defer unlock()

	post, err := d.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	if err := d.canModify(ctx, post, in.UserID); err != nil {
		return nil, err
	}
	if isBlank(in.Title) {
		return nil, invalid("Il titolo è obbligatorio")
	}

	now := d.timestamp()
	post.Title = in.Title
	post.Content = encodeContent(in.Content)
	if m := strings.TrimSpace(in.Materia); m != "" {
		post.Materia = m
	}
	post.UpdatedAt = &now
	if err := d.setJSON(ctx, postKey(postID), post); err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}
	post.Content = decodeContent(post.Content)
	return post, nil
}

// DeletePost removes the post, its list entry, its comments and its likes.
func (d *Database) DeletePost(ctx context.Context, postID, userID string) error {
	unlockPost := d.locks.lock(postKey(postID))
	defer unlockPost()

	post, err := d.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return ErrPostNotFound
	}
	if err := d.canModify(ctx, post, userID); err != nil {
		return err
	}
	if err := d.store.Delete(ctx, postKey(postID)); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}

	unlockList := d.locks.lock(postsListKey)
	ids, err := d.postIDs(ctx)
	if err == nil {
		kept := ids[:0]
		for _, id := range ids {
			if id != postID {
				kept = append(kept, id)
			}
		}
		err = d.setJSON(ctx, postsListKey, kept)
	}
	unlockList()
	if err != nil {
		return fmt.Errorf("failed to update posts list: %w", err)
	}

	if err := d.store.Delete(ctx, commentsKey(postID)); err != nil {
		return fmt.Errorf("failed to delete comments: %w", err)
	}
	if _, err := d.store.DeleteByPrefix(ctx, likePrefix(postID)); err != nil {
		return fmt.Errorf("failed to delete likes: %w", err)
	}
	return nil
}

// --- Like Functions ---

func (d *Database) IsLiked(ctx context.Context, postID, userID string) (bool, error) {
	var liked bool
	ok, err := d.getJSON(ctx, likeKey(postID, userID), &liked)
	return ok && liked, err
}

// ToggleLike flips the user's like on a post and returns the new state and
// count. The count never drops below zero.
func (d *Database) ToggleLike(ctx context.Context, postID, userID string) (bool, int, error) {
	if isBlank(userID) {
		return false, 0, invalid("userId is required")
	}
	unlock := d.locks.lock(postKey(postID))
	defer unlock()

	post, err := d.GetPost(ctx, postID)
	if err != nil {
		return false, 0, err
	}
	if post == nil {
		return false, 0, ErrPostNotFound
	}
	liked, err := d.IsLiked(ctx, postID, userID)
	if err != nil {
		return false, 0, err
	}
	if liked {
		if err := d.store.Delete(ctx, likeKey(postID, userID)); err != nil {
			return false, 0, err
		}
		post.Likes = max(0, post.Likes-1)
	} else {
		if err := d.setJSON(ctx, likeKey(postID, userID), true); err != nil {
			return false, 0, err
		}
		post.Likes++
	}
	if err := d.setJSON(ctx, postKey(postID), post); err != nil {
		return false, 0, fmt.Errorf("failed to save post: %w", err)
	}
	return !liked, post.Likes, nil
}

// --- Comment Functions ---

// Comments returns the stored comments of a post in insertion order.
func (d *Database) Comments(ctx context.Context, postID string) ([]Comment, error) {
	var comments []Comment
	if _, err := d.getJSON(ctx, commentsKey(postID), &comments); err != nil {
		return nil, err
	}
	if comments == nil {
		comments = []Comment{}
	}
	return comments, nil
}

// DisplayComments returns the comments with each commenter's current name
// and avatar, threaded unless raw is set.
func (d *Database) DisplayComments(ctx context.Context, postID string, raw bool) ([]ThreadedComment, error) {
	comments, err := d.Comments(ctx, postID)
	if err != nil {
		return nil, err
	}
	cache := d.newProfileCache()
	for i := range comments {
		p, err := cache.get(ctx, comments[i].UserID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			comments[i].UserAvatar = avatarFor(comments[i].UserID, p)
			if name := p.DisplayName(); name != AnonymousName {
				comments[i].UserName = name
			}
		}
	}
	if raw {
		out := make([]ThreadedComment, len(comments))
		for i, c := range comments {
			out[i] = ThreadedComment{Comment: c}
		}
		return out, nil
	}
	return ThreadComments(comments), nil
}

// CommentInput is the body of a new comment.
type CommentInput struct {
	UserID          string `json:"userId"`
	Content         string `json:"content"`
	ReplyTo         string `json:"replyTo"`
	ReplyToUserName string `json:"replyToUserName"`
}

func (d *Database) AddComment(ctx context.Context, postID string, in CommentInput) (*Comment, error) {
	if isBlank(in.UserID) || isBlank(in.Content) {
		return nil, invalid("userId and content are required")
	}
	unlock := d.locks.lock(postKey(postID))
	defer unlock()

	post, err := d.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, ErrPostNotFound
	}
	comments, err := d.Comments(ctx, postID)
	if err != nil {
		return nil, err
	}

	replyTo := optional(in.ReplyTo)
	replyToName := optional(in.ReplyToUserName)
	if replyTo != nil {
		parent := findComment(comments, *replyTo)
		if parent == nil {
			return nil, failure(ErrCommentNotFound, "Reply target not found")
		}
		if replyToName == nil {
			name := parent.UserName
			replyToName = &name
		}
	}

	profile, err := d.GetProfile(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	now := d.timestamp()
	c := Comment{
		ID:              newID("comment", now),
		UserID:          in.UserID,
		UserName:        profile.DisplayName(),
		UserAvatar:      avatarFor(in.UserID, profile),
		Content:         in.Content,
		Timestamp:       now,
		ReplyTo:         replyTo,
		ReplyToUserName: replyToName,
	}
	comments = append(comments, c)
	if err := d.setJSON(ctx, commentsKey(postID), comments); err != nil {
		return nil, fmt.Errorf("failed to save comments: %w", err)
	}
	post.Comments = len(comments)
	if err := d.setJSON(ctx, postKey(postID), post); err != nil {
		return nil, fmt.Errorf("failed to save post: %w", err)
	}
	return &c, nil
}

func findComment(comments []Comment, id string) *Comment {
	for i := range comments {
		if comments[i].ID == id {
			return &comments[i]
		}
	}
	return nil
}

// DeleteComment removes one comment. Only its author may delete it; replies
// to it stay in place.
func (d *Database) DeleteComment(ctx context.Context, postID, commentID, userID string) error {
	unlock := d.locks.lock(postKey(postID))
	defer unlock()

	comments, err := d.Comments(ctx, postID)
	if err != nil {
		return err
	}
	c := findComment(comments, commentID)
	if c == nil {
		return ErrCommentNotFound
	}
	if isBlank(userID) || c.UserID != userID {
		return ErrForbidden
	}
	kept := make([]Comment, 0, len(comments)-1)
	for _, other := range comments {
		if other.ID != commentID {
			kept = append(kept, other)
		}
	}
	if err := d.setJSON(ctx, commentsKey(postID), kept); err != nil {
		return fmt.Errorf("failed to save comments: %w", err)
	}

	post, err := d.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post != nil {
		post.Comments = len(kept)
		if err := d.setJSON(ctx, postKey(postID), post); err != nil {
			return fmt.Errorf("failed to save post: %w", err)
		}
	}
	return nil
}

// --- Visit and Stats Functions ---

// TrackVisit records that userID opened the app on date (YYYY-MM-DD). An
// empty date means today.
func (d *Database) TrackVisit(ctx context.Context, date, userID string) error {
	if isBlank(userID) {
		return invalid("userId is required")
	}
	if date == "" {
		date = d.today()
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		return invalid("date must be YYYY-MM-DD")
	}
	return d.setJSON(ctx, visitKey(date, userID), true)
}

func (d *Database) Stats(ctx context.Context) (*Stats, error) {
	visits, err := d.store.List(ctx, visitPrefix(d.today()))
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	posts, total, err := d.posts(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{TodayVisits: len(visits), TotalPosts: total}
	for _, p := range posts {
		switch p.Type {
		case TypeNotes:
			s.TotalNotes++
		case TypeRequests:
			s.TotalRichieste++
		}
	}
	return s, nil
}

// Leaderboard ranks authors by number of posts, announcements and
// communications excluded. Ties keep the order authors first appear in the
// newest-first posts list.
func (d *Database) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	posts, _, err := d.posts(ctx)
	if err != nil {
		return nil, err
	}
	return d.rank(ctx, posts, limit)
}

func (d *Database) rank(ctx context.Context, posts []Post, limit int) ([]LeaderboardEntry, error) {
	index := make(map[string]int)
	entries := []LeaderboardEntry{}
	for _, p := range posts {
		if p.Type == TypeAnnouncements || p.Type == TypeCommunications {
			continue
		}
		if i, ok := index[p.Author.ID]; ok {
			entries[i].PostCount++
			continue
		}
		index[p.Author.ID] = len(entries)
		entries = append(entries, LeaderboardEntry{
			UserID:    p.Author.ID,
			Name:      p.Author.Name,
			Avatar:    p.Author.Avatar,
			PostCount: 1,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].PostCount > entries[j].PostCount })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	cache := d.newProfileCache()
	for i := range entries {
		p, err := cache.get(ctx, entries[i].UserID)
		if err != nil {
			return nil, err
		}
		if p != nil {
			entries[i].Avatar = avatarFor(entries[i].UserID, p)
			if name := p.DisplayName(); name != AnonymousName {
				entries[i].Name = name
			}
		}
	}
	return entries, nil
}
