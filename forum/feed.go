package forum

import (
	"context"
	"strings"
)

// PageSize is the default page length when a page is requested.
const PageSize = 50

// MaxPageSize caps the page length a client may ask for.
const MaxPageSize = PageSize * 10

// FeedQuery narrows a feed. The zero value returns every visible post.
type FeedQuery struct {
	// Type "all" hides requests; any other non-empty value keeps only that
	// type.
	Type     string
	Search   string
	Page     int
	PageSize int
}

// PaginationData describes where a page sits in the whole feed.
type PaginationData struct {
	CurrentPage int
	TotalPages  int
	TotalItems  int
	NextPage    int
	PrevPage    int
	HasNext     bool
	HasPrev     bool
}

// Feed returns the posts userID may see, newest first, each with the
// author's current name and avatar, the viewer's like flag and the live
// comment count. Users holding the super-admin code see everything; others
// see posts without a category code or whose code they hold.
func (d *Database) Feed(ctx context.Context, userID string, q FeedQuery) ([]FeedPost, PaginationData, error) {
	cache := d.newProfileCache()
	viewer, err := cache.get(ctx, userID)
	if err != nil {
		return nil, PaginationData{}, err
	}
	superAdmin := d.isSuperAdmin(viewer)

	posts, _, err := d.posts(ctx)
	if err != nil {
		return nil, PaginationData{}, err
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	feed := make([]FeedPost, 0, len(posts))
	for _, post := range posts {
		if !superAdmin && post.CodiceCategoria != nil && !viewer.HasCode(*post.CodiceCategoria) {
			continue
		}
		if !matchesType(post.Type, q.Type) {
			continue
		}

		author, err := cache.get(ctx, post.Author.ID)
		if err != nil {
			return nil, PaginationData{}, err
		}
		if author != nil {
			post.Author.Avatar = avatarFor(post.Author.ID, author)
			if name := author.DisplayName(); name != AnonymousName {
				post.Author.Name = name
			}
		}
		post.Content = decodeContent(post.Content)
		if search != "" && !matchesSearch(&post, search) {
			continue
		}

		liked := false
		if userID != "" {
			if liked, err = d.IsLiked(ctx, post.ID, userID); err != nil {
				return nil, PaginationData{}, err
			}
		}
		comments, err := d.Comments(ctx, post.ID)
		if err != nil {
			return nil, PaginationData{}, err
		}
		post.Comments = len(comments)
		feed = append(feed, FeedPost{Post: post, IsLiked: liked})
	}
	return paginate(feed, q.Page, q.PageSize)
}

func matchesType(postType, filter string) bool {
	switch filter {
	case "":
		return true
	case "all":
		return postType != TypeRequests
	default:
		return postType == filter
	}
}

func matchesSearch(p *Post, query string) bool {
	for _, field := range []string{p.Title, p.Content, p.Author.Name, p.Materia} {
		if strings.Contains(strings.ToLower(field), query) {
			return true
		}
	}
	return false
}

func paginate(feed []FeedPost, page, size int) ([]FeedPost, PaginationData, error) {
	total := len(feed)
	if page < 1 {
		return feed, PaginationData{CurrentPage: 1, TotalPages: 1, TotalItems: total}, nil
	}
	if size < 1 {
		size = PageSize
	}
	size = min(size, MaxPageSize)
	totalPages := (total + size - 1) / size
	pd := PaginationData{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalItems:  total,
		PrevPage:    page - 1,
		HasNext:     page < totalPages,
		HasPrev:     page > 1,
	}
	if pd.HasNext {
		pd.NextPage = page + 1
	}
	// page is client input; compare before multiplying.
	if page > totalPages {
		return []FeedPost{}, pd, nil
	}
	start := (page - 1) * size
	end := min(start+size, total)
	return feed[start:end], pd, nil
}
