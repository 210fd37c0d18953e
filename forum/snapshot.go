package forum

import (
	"context"

	"github.com/rexlx/marconilink/notify"
)

// Snapshot gathers what the notification listener compares between two
// checks for userID: rank, likes received, the newest admin announcement and
// communication, comments on the user's own posts and the feed size.
func (d *Database) Snapshot(ctx context.Context, userID string) (notify.Snapshot, string, error) {
	var snap notify.Snapshot

	profile, err := d.GetProfile(ctx, userID)
	if err != nil {
		return snap, "", err
	}
	feed, _, err := d.Feed(ctx, userID, FeedQuery{})
	if err != nil {
		return snap, "", err
	}
	snap.PostCount = len(feed)

	board, err := d.Leaderboard(ctx, DefaultLeaderboardSize)
	if err != nil {
		return snap, "", err
	}
	for i, e := range board {
		if e.UserID == userID {
			snap.Position = i + 1
			break
		}
	}

	for _, p := range feed {
		if p.Author.Role == RoleAdmin {
			switch {
			case p.Type == TypeAnnouncements && snap.LatestAnnouncement == nil:
				snap.LatestAnnouncement = &notify.PostRef{ID: p.ID, Title: p.Title}
			case p.Type == TypeCommunications && snap.LatestCommunication == nil:
				snap.LatestCommunication = &notify.PostRef{ID: p.ID, Title: p.Title}
			}
		}
		if p.Author.ID != userID {
			continue
		}
		snap.TotalLikes += p.Likes
		own := notify.OwnPost{ID: p.ID, Type: p.Type, Title: p.Title, Comments: p.Comments}
		if p.Comments > 0 {
			comments, err := d.Comments(ctx, p.ID)
			if err != nil {
				return snap, "", err
			}
			for i := len(comments) - 1; i >= 0; i-- {
				if comments[i].UserID != userID {
					own.LastCommenter = comments[i].UserName
					break
				}
			}
		}
		snap.OwnPosts = append(snap.OwnPosts, own)
	}

	name := AnonymousName
	if profile != nil && profile.Name != "" {
		name = profile.Name
	}
	return snap, name, nil
}
