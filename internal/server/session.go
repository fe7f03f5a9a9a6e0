package server

import (
	"net/http"

	"github.com/gorilla/securecookie"
)

const SessionCookieName = "nos_sess"

// Session is the part of the dashboard session the wizard reads.
type Session struct {
	UserID string
	Roles  []string
	TwoFA  bool
}

// SessionCodec decodes the dashboard session cookie. A nil codec treats
// every request as signed out.
type SessionCodec struct {
	sc *securecookie.SecureCookie
}

// NewSessionCodec returns nil when no hash key is configured.
func NewSessionCodec(hashKey, blockKey []byte) *SessionCodec {
	if len(hashKey) == 0 {
		return nil
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(86400 * 30)
	return &SessionCodec{sc: sc}
}

func (c *SessionCodec) Encode(s Session) (*http.Cookie, error) {
	val, err := c.sc.Encode(SessionCookieName, s)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    val,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   true,
	}, nil
}

func (c *SessionCodec) DecodeFromRequest(r *http.Request) (Session, bool) {
	if c == nil {
		return Session{}, false
	}
	ck, err := r.Cookie(SessionCookieName)
	if err != nil {
		return Session{}, false
	}
	var s Session
	if err := c.sc.Decode(SessionCookieName, ck.Value, &s); err != nil {
		return Session{}, false
	}
	return s, s.UserID != ""
}
