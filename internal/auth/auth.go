package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strings"

	"updown-game/internal/models"
)

// ErrUnauthenticated covers every verification failure: missing fields,
// unparseable init data, or a bad signature. Callers must not distinguish.
var ErrUnauthenticated = errors.New("invalid init data")

// AuthService verifies Telegram Mini App init data
type AuthService struct {
	botToken string
}

// NewAuthService creates a new auth service
func NewAuthService(botToken string) *AuthService {
	return &AuthService{botToken: botToken}
}

// VerifyInitData checks the HMAC signature of raw Mini App init data and
// returns the embedded user identity. The signature is HMAC-SHA256 of the
// sorted key=value check string under a key derived from the bot token
// ("WebAppData" domain separation, per the Telegram Web App scheme).
func (s *AuthService) VerifyInitData(raw string) (*models.AuthUser, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	suppliedHash := values.Get("hash")
	if suppliedHash == "" {
		return nil, ErrUnauthenticated
	}
	values.Del("hash")

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	checkString := strings.Join(pairs, "\n")

	mac := hmac.New(sha256.New, []byte(s.botToken))
	mac.Write([]byte("WebAppData"))
	secretKey := mac.Sum(nil)

	mac = hmac.New(sha256.New, secretKey)
	mac.Write([]byte(checkString))
	computedHash := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computedHash), []byte(suppliedHash)) {
		return nil, ErrUnauthenticated
	}

	var user struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		PhotoURL  string `json:"photo_url"`
	}
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return nil, ErrUnauthenticated
	}
	if user.ID == 0 {
		return nil, ErrUnauthenticated
	}

	return &models.AuthUser{
		ID:           user.ID,
		Username:     user.Username,
		FirstName:    user.FirstName,
		ProfilePhoto: user.PhotoURL,
	}, nil
}

// SignInitData produces init data signed with the given bot token. Used in
// tests to build valid sessions without a real Telegram client.
func SignInitData(params map[string]string, botToken string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	checkString := strings.Join(pairs, "\n")

	mac := hmac.New(sha256.New, []byte(botToken))
	mac.Write([]byte("WebAppData"))
	secretKey := mac.Sum(nil)

	mac = hmac.New(sha256.New, secretKey)
	mac.Write([]byte(checkString))
	hash := hex.EncodeToString(mac.Sum(nil))

	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}
	query.Set("hash", hash)
	return query.Encode()
}
