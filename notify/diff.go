// Package notify turns periodic snapshots of a user's view of the community
// into notifications: leaderboard moves, new likes, new announcements and
// communications, new comments on the user's posts and new posts overall.
package notify

import (
	"fmt"
	"time"
)

// Tags group notifications of the same kind so clients can collapse them.
const (
	TagLeaderboardUp    = "leaderboard-up"
	TagLeaderboardDown  = "leaderboard-down"
	TagNewLikes         = "new-likes"
	TagNewAnnouncement  = "new-announcement"
	TagNewCommunication = "new-communication"
	TagNewComment       = "new-comment"
	TagNewPosts         = "new-posts"
	TagBroadcast        = "broadcast"
)

// Notification is one inbox item.
type Notification struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	From               string     `json:"from,omitempty"`
	Title              string     `json:"title"`
	Message            string     `json:"message"`
	Tag                string     `json:"tag"`
	Link               string     `json:"link,omitempty"`
	RequireInteraction bool       `json:"requireInteraction,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	ReadAt             *time.Time `json:"readAt,omitempty"`
}

// PostRef points at the newest post of a kind.
type PostRef struct {
	ID    string
	Title string
}

// OwnPost is one of the user's posts as seen in a snapshot.
type OwnPost struct {
	ID            string
	Type          string
	Title         string
	Comments      int
	LastCommenter string
}

// Snapshot is what the user can see right now.
type Snapshot struct {
	// Position is the 1-based leaderboard rank; 0 when not ranked.
	Position            int
	TotalLikes          int
	LatestAnnouncement  *PostRef
	LatestCommunication *PostRef
	OwnPosts            []OwnPost
	PostCount           int
}

// State is what was seen last time. Zero values mean "never seen".
type State struct {
	UserPosition        int            `json:"userPosition"`
	UserLikes           int            `json:"userLikes"`
	LastAnnouncementID  string         `json:"lastAnnouncementId,omitempty"`
	LastCommunicationID string         `json:"lastCommunicationId,omitempty"`
	UserPostComments    map[string]int `json:"userPostComments"`
	PostCount           int            `json:"postCount"`
}

var typeLabels = map[string]string{
	"appunti":       "appunti",
	"video":         "video",
	"progetti":      "progetto",
	"annunci":       "annuncio",
	"comunicazioni": "comunicazione",
	"richieste":     "richiesta",
	"eventi":        "evento",
}

// Diff compares the previous state with a fresh snapshot and returns the
// notifications to deliver together with the state to persist. A counter that
// was never observed (zero) only primes the state and never notifies.
func Diff(prev State, snap Snapshot, userName string) ([]Notification, State) {
	var out []Notification
	next := State{
		UserPosition:        snap.Position,
		UserLikes:           snap.TotalLikes,
		LastAnnouncementID:  prev.LastAnnouncementID,
		LastCommunicationID: prev.LastCommunicationID,
		UserPostComments:    make(map[string]int, len(snap.OwnPosts)),
		PostCount:           snap.PostCount,
	}

	if n, ok := leaderboardChange(prev.UserPosition, snap.Position, userName); ok {
		out = append(out, n)
	}
	if n, ok := newLikes(prev.UserLikes, snap.TotalLikes, userName); ok {
		out = append(out, n)
	}

	if a := snap.LatestAnnouncement; a != nil {
		if prev.LastAnnouncementID != "" && a.ID != prev.LastAnnouncementID {
			out = append(out, Notification{
				Title:              "📢 Nuovo Annuncio!",
				Message:            a.Title,
				Tag:                TagNewAnnouncement,
				RequireInteraction: true,
			})
		}
		next.LastAnnouncementID = a.ID
	}
	if c := snap.LatestCommunication; c != nil {
		if prev.LastCommunicationID != "" && c.ID != prev.LastCommunicationID {
			out = append(out, Notification{
				Title:              "📋 Nuova Comunicazione!",
				Message:            c.Title,
				Tag:                TagNewCommunication,
				RequireInteraction: true,
			})
		}
		next.LastCommunicationID = c.ID
	}

	for _, p := range snap.OwnPosts {
		old := prev.UserPostComments[p.ID]
		if old > 0 && p.Comments > old {
			out = append(out, newComment(p))
		}
		next.UserPostComments[p.ID] = p.Comments
	}

	if prev.PostCount > 0 && snap.PostCount > prev.PostCount {
		n := snap.PostCount - prev.PostCount
		out = append(out, Notification{
			Title:   fmt.Sprintf("🆕 %d nuov%s post!", n, plural(n, "o", "i")),
			Message: "Controlla le ultime novità della community",
			Tag:     TagNewPosts,
		})
	}
	return out, next
}

func leaderboardChange(oldPos, newPos int, userName string) (Notification, bool) {
	if oldPos == 0 || newPos == 0 {
		return Notification{}, false
	}
	switch {
	case newPos < oldPos:
		emoji := "🎉"
		switch newPos {
		case 1:
			emoji = "🏆"
		case 2:
			emoji = "🥈"
		case 3:
			emoji = "🥉"
		}
		return Notification{
			Title:   fmt.Sprintf("%s Grande, %s!", emoji, userName),
			Message: fmt.Sprintf("Sei arrivato al %d° posto nella classifica!", newPos),
			Tag:     TagLeaderboardUp,
		}, true
	case newPos > oldPos:
		return Notification{
			Title:   fmt.Sprintf("📉 %s, sei sceso alla posizione %d", userName, newPos),
			Message: "Cavolo! Continua a contribuire per risalire! 💪",
			Tag:     TagLeaderboardDown,
		}, true
	}
	return Notification{}, false
}

func newLikes(oldLikes, likes int, userName string) (Notification, bool) {
	if oldLikes == 0 {
		return Notification{}, false
	}
	diff := likes - oldLikes
	if diff <= 0 {
		return Notification{}, false
	}
	emoji := "👍"
	switch {
	case diff >= 5:
		emoji = "🔥"
	case diff >= 3:
		emoji = "❤️"
	}
	return Notification{
		Title:   fmt.Sprintf("%s Nuovi like, %s!", emoji, userName),
		Message: fmt.Sprintf("Hai ricevuto %d nuov%s like sui tuoi post!", diff, plural(diff, "o", "i")),
		Tag:     TagNewLikes,
	}, true
}

func newComment(p OwnPost) Notification {
	who := p.LastCommenter
	if who == "" {
		who = "Un utente"
	}
	label, ok := typeLabels[p.Type]
	if !ok {
		label = p.Type
	}
	return Notification{
		Title:   "💬 Nuovo commento da " + who,
		Message: fmt.Sprintf("Ha commentato sotto i tuoi %s: \"%s\"", label, p.Title),
		Tag:     TagNewComment,
		Link:    "/posts/" + p.ID,
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
