// Package session persists the authenticated portal session (cookies
// plus metadata) across collector runs so a login and captcha solve is
// only needed when the portal actually expires the session.
package session

import (
	"encoding/json"
	"net/http"
	"time"
)

// Cookie is the serialized form of a browser cookie. the fields mirror
// what the browser driver hands back so a stored session restores
// byte-for-byte across process restarts.
type Cookie struct {
	Name    string     `json:"name"`
	Value   string     `json:"value"`
	Domain  string     `json:"domain,omitempty"`
	Path    string     `json:"path,omitempty"`
	Secure  bool       `json:"secure,omitempty"`
	Expires *time.Time `json:"expires,omitempty"`
}

type Session struct {
	Cookies   []Cookie  `json:"cookies"`
	CreatedAt time.Time `json:"created_at"`
	// optional expiry hint reported by the portal, most cookies carry
	// none and the age ceiling applies instead
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (s *Session) HTTPCookies() []*http.Cookie {
	out := make([]*http.Cookie, len(s.Cookies))
	for i, c := range s.Cookies {
		hc := &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		}
		if c.Expires != nil {
			hc.Expires = *c.Expires
		}
		out[i] = hc
	}
	return out
}

func FromHTTPCookies(cookies []*http.Cookie, now time.Time) *Session {
	s := &Session{CreatedAt: now}
	for _, hc := range cookies {
		c := Cookie{
			Name:   hc.Name,
			Value:  hc.Value,
			Domain: hc.Domain,
			Path:   hc.Path,
			Secure: hc.Secure,
		}
		if !hc.Expires.IsZero() {
			expires := hc.Expires
			c.Expires = &expires
		}
		s.Cookies = append(s.Cookies, c)
	}
	return s
}

func (s *Session) marshal() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
