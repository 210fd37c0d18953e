package forum

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const sessionUserKey = "userId"

// newID builds ids of the form <prefix>_<unix millis>_<9 random chars>.
func newID(prefix string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, now.UnixMilli(), suffix)
}

// NewUserID mints an anonymous user id for a browser that has none yet.
func NewUserID() string {
	return newID("user", time.Now())
}

// GenerateAPIKey returns a random admin API key together with the bcrypt
// hash to put in the configuration.
func GenerateAPIKey() (key string, hash string, err error) {
	thatThing := make([]byte, 32)
	if _, err := rand.Read(thatThing); err != nil {
		return "", "", err
	}
	hashed := sha256.Sum256(thatThing)
	key = base64.RawURLEncoding.EncodeToString(hashed[:])
	h, err := bcrypt.GenerateFromPassword([]byte(key), 12)
	if err != nil {
		return "", "", err
	}
	return key, string(h), nil
}

// APIKeyMatches compares a presented key with the configured hash.
func APIKeyMatches(hash, input string) (bool, error) {
	if hash == "" || input == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(input))
	if err != nil {
		switch {
		case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
			return false, nil
		default:
			return false, err
		}
	}
	return true, nil
}
