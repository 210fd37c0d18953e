package forum

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedIDs(posts []FeedPost) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}

func TestFeed_Visibility(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustProfile(t, db, "inClass", "Ada", "L", 0, "3A")
	mustProfile(t, db, "other", "Bob", "M", 0, "4B")
	mustProfile(t, db, "root", "Super", "Admin", 0, "SUPERADMIN2024")

	open := mustPost(t, db, PostInput{UserID: "inClass"})
	classOnly := mustPost(t, db, PostInput{UserID: "inClass", CodiceCategoria: "3a"})

	tests := []struct {
		viewer string
		want   []string
	}{
		{"inClass", []string{classOnly.ID, open.ID}},
		{"other", []string{open.ID}},
		{"", []string{open.ID}},
		{"root", []string{classOnly.ID, open.ID}},
	}
	for _, tt := range tests {
		t.Run("viewer "+tt.viewer, func(t *testing.T) {
			posts, _, err := db.Feed(ctx, tt.viewer, FeedQuery{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, feedIDs(posts))
		})
	}
}

func TestFeed_Decorations(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	post := mustPost(t, db, PostInput{UserID: "u1", Content: ""})
	_, _, err := db.ToggleLike(ctx, post.ID, "u2")
	require.NoError(t, err)
	_, err = db.AddComment(ctx, post.ID, CommentInput{UserID: "u2", Content: "uno"})
	require.NoError(t, err)
	_, err = db.AddComment(ctx, post.ID, CommentInput{UserID: "u3", Content: "due"})
	require.NoError(t, err)

	// renamed after posting
	mustProfile(t, db, "u1", "Ada", "Lovelace", 5)

	posts, _, err := db.Feed(ctx, "u2", FeedQuery{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	p := posts[0]
	assert.True(t, p.IsLiked)
	assert.Equal(t, 1, p.Likes)
	assert.Equal(t, 2, p.Comments)
	assert.Equal(t, "", p.Content)
	assert.Equal(t, "Ada Lovelace", p.Author.Name)
	assert.Equal(t, AvatarURLs[5], p.Author.Avatar)

	posts, _, err = db.Feed(ctx, "u3", FeedQuery{})
	require.NoError(t, err)
	assert.False(t, posts[0].IsLiked)
}

func TestFeed_AuthorWithoutProfile(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	post := mustPost(t, db, PostInput{UserID: "user_1714986000123_abc123def"})
	assert.Equal(t, FallbackAvatar(post.Author.ID), post.Author.Avatar)
	assert.Equal(t, AnonymousName, post.Author.Name)

	posts, _, err := db.Feed(ctx, "u2", FeedQuery{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, AvatarURLs[26], posts[0].Author.Avatar)
}

func TestFeed_Filters(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	mustProfile(t, db, "u2", "Carla", "Neri", 0)

	notes := mustPost(t, db, PostInput{UserID: "u1", Type: TypeNotes, Title: "Derivate", Materia: "Matematica"})
	req := mustPost(t, db, PostInput{UserID: "u1", Type: TypeRequests, Title: "Aiuto compiti", Content: "integrali per domani"})
	proj := mustPost(t, db, PostInput{UserID: "u2", Type: TypeProjects, Title: "Robot"})

	tests := []struct {
		name string
		q    FeedQuery
		want []string
	}{
		{"everything", FeedQuery{}, []string{proj.ID, req.ID, notes.ID}},
		{"all hides requests", FeedQuery{Type: "all"}, []string{proj.ID, notes.ID}},
		{"single type", FeedQuery{Type: TypeRequests}, []string{req.ID}},
		{"search title", FeedQuery{Search: "robot"}, []string{proj.ID}},
		{"search content", FeedQuery{Search: "INTEGRALI"}, []string{req.ID}},
		{"search materia", FeedQuery{Search: "matem"}, []string{notes.ID}},
		{"search author", FeedQuery{Search: "carla"}, []string{proj.ID}},
		{"type and search", FeedQuery{Type: "all", Search: "aiuto"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, pd, err := db.Feed(ctx, "u1", tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, feedIDs(posts))
			assert.Equal(t, len(tt.want), pd.TotalItems)
		})
	}
}

func TestFeed_Pagination(t *testing.T) {
	ctx := context.Background()
	db, _ := newTestDB(t)
	var ids []string
	for range 5 {
		p := mustPost(t, db, PostInput{UserID: "u1"})
		ids = append([]string{p.ID}, ids...)
	}

	posts, pd, err := db.Feed(ctx, "u1", FeedQuery{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, ids[:2], feedIDs(posts))
	assert.Equal(t, PaginationData{CurrentPage: 1, TotalPages: 3, TotalItems: 5, NextPage: 2, PrevPage: 0, HasNext: true}, pd)

	posts, pd, err = db.Feed(ctx, "u1", FeedQuery{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, ids[4:], feedIDs(posts))
	assert.False(t, pd.HasNext)
	assert.True(t, pd.HasPrev)

	posts, _, err = db.Feed(ctx, "u1", FeedQuery{Page: 9, PageSize: 2})
	require.NoError(t, err)
	assert.Empty(t, posts)

	posts, pd, err = db.Feed(ctx, "u1", FeedQuery{Page: 1})
	require.NoError(t, err)
	assert.Len(t, posts, 5)
	assert.Equal(t, 1, pd.TotalPages)

	posts, pd, err = db.Feed(ctx, "u1", FeedQuery{Page: 3, PageSize: math.MaxInt/2 + 1})
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Equal(t, 1, pd.TotalPages)

	posts, pd, err = db.Feed(ctx, "u1", FeedQuery{Page: math.MaxInt, PageSize: math.MaxInt})
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Zero(t, pd.NextPage)
	assert.Equal(t, math.MaxInt-1, pd.PrevPage)
}

func TestFeed_SkipsDanglingIDs(t *testing.T) {
	ctx := context.Background()
	db, store := newTestDB(t)
	gone := mustPost(t, db, PostInput{UserID: "u1"})
	kept := mustPost(t, db, PostInput{UserID: "u1"})
	require.NoError(t, store.Delete(ctx, postKey(gone.ID)))

	posts, _, err := db.Feed(ctx, "u1", FeedQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, feedIDs(posts))
}
