package forum

import (
	"fmt"
	"unicode/utf16"
)

var avatarStyles = []string{"avataaars", "avataaars", "bottts", "lorelei", "micah", "personas", "pixel-art"}

// AvatarURLs is the fixed avatar table profiles pick from by index.
var AvatarURLs = func() []string {
	urls := make([]string, 30)
	for i := range urls {
		// user1 and user2 are both avataaars, after that the styles rotate.
		style := avatarStyles[0]
		if i >= 1 {
			style = avatarStyles[1+(i-1)%6]
		}
		urls[i] = fmt.Sprintf("https://api.dicebear.com/7.x/%s/svg?seed=user%d", style, i+1)
	}
	return urls
}()

// FallbackAvatar picks a stable avatar for a user without a usable avatar
// index. The hash follows the web client's, which shifts in 32 bits but
// keeps the running sum unbounded.
func FallbackAvatar(userID string) string {
	var acc int64
	for _, c := range utf16.Encode([]rune(userID)) {
		acc = int64(c) + int64(int32(acc)<<5) - acc
	}
	if acc < 0 {
		acc = -acc
	}
	return AvatarURLs[acc%int64(len(AvatarURLs))]
}

func avatarFor(userID string, p *Profile) string {
	if p != nil && p.AvatarIndex >= 0 && p.AvatarIndex < len(AvatarURLs) {
		return AvatarURLs[p.AvatarIndex]
	}
	return FallbackAvatar(userID)
}
