// forum/models.go
package forum

import (
	"time"
)

// Post types as sent by the client.
const (
	TypeNotes          = "appunti"
	TypeRequests       = "richieste"
	TypeProjects       = "progetti"
	TypeAnnouncements  = "annunci"
	TypeCommunications = "comunicazioni"
	TypeEvents         = "eventi"
	TypeVideo          = "video"
)

var postTypes = map[string]bool{
	TypeNotes:          true,
	TypeRequests:       true,
	TypeProjects:       true,
	TypeAnnouncements:  true,
	TypeCommunications: true,
	TypeEvents:         true,
	TypeVideo:          true,
}

// adminOnly types need the admin code when posted as admin.
func adminOnly(t string) bool {
	return t == TypeAnnouncements || t == TypeCommunications || t == TypeEvents
}

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"

	DefaultMateria = "Generale"
	AnonymousName  = "Utente"

	// EmptyDescription is stored in place of a blank post description and
	// rendered back as "".
	EmptyDescription = "__EMPTY_DESCRIPTION__"
)

func encodeContent(s string) string {
	if isBlank(s) {
		return EmptyDescription
	}
	return s
}

func decodeContent(s string) string {
	if s == EmptyDescription {
		return ""
	}
	return s
}

// Profile is stored under user:<userId>.
type Profile struct {
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Surname     string     `json:"surname"`
	AvatarIndex int        `json:"avatarIndex"`
	Codes       []string   `json:"codes"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// DisplayName is "Name Surname" when both are set.
func (p *Profile) DisplayName() string {
	if p == nil || p.Name == "" || p.Surname == "" {
		return AnonymousName
	}
	return p.Name + " " + p.Surname
}

func (p *Profile) HasCode(code string) bool {
	if p == nil || code == "" {
		return false
	}
	for _, c := range p.Codes {
		if c == code {
			return true
		}
	}
	return false
}

type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Role   string `json:"role"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Post is stored under post:<postId>. Content may hold EmptyDescription.
type Post struct {
	ID              string       `json:"id"`
	Type            string       `json:"type"`
	Title           string       `json:"title"`
	Content         string       `json:"content"`
	Materia         string       `json:"materia"`
	Author          Author       `json:"author"`
	Timestamp       time.Time    `json:"timestamp"`
	Likes           int          `json:"likes"`
	Comments        int          `json:"comments"`
	Attachments     []Attachment `json:"attachments"`
	CodiceCategoria *string      `json:"codiceCategoria"`
	EventDate       *string      `json:"eventDate"`
	EventTime       *string      `json:"eventTime"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       *time.Time   `json:"updatedAt,omitempty"`
}

// FeedPost is a post as seen by one user.
type FeedPost struct {
	Post
	IsLiked bool `json:"isLiked"`
}

// Comment is an element of the comments:<postId> list.
type Comment struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	UserAvatar      string    `json:"userAvatar"`
	Content         string    `json:"content"`
	Timestamp       time.Time `json:"timestamp"`
	ReplyTo         *string   `json:"replyTo"`
	ReplyToUserName *string   `json:"replyToUserName"`
}

// ThreadedComment carries the indentation depth of a comment in its thread.
type ThreadedComment struct {
	Comment
	Depth int `json:"depth"`
}

type Stats struct {
	TodayVisits    int `json:"todayVisits"`
	TotalNotes     int `json:"totalNotes"`
	TotalRichieste int `json:"totalRichieste"`
	TotalPosts     int `json:"totalPosts"`
}

type LeaderboardEntry struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	PostCount int    `json:"postCount"`
}
