package handler

import (
	"net/http"
	"time"

	"gamepulse/internal/middleware"
)

// CookiePolicy holds the refresh cookie attributes. Production serves the
// dashboard cross-site, which needs SameSite=None and therefore Secure.
type CookiePolicy struct {
	Production bool
	TTL        time.Duration
}

func (p CookiePolicy) base() *http.Cookie {
	c := &http.Cookie{
		Name:     middleware.RefreshCookieName,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if p.Production {
		c.SameSite = http.SameSiteNoneMode
		c.Secure = true
	}
	return c
}

func (p CookiePolicy) set(w http.ResponseWriter, token string) {
	c := p.base()
	c.Value = token
	c.MaxAge = int(p.TTL / time.Second)
	c.Expires = time.Now().Add(p.TTL)
	http.SetCookie(w, c)
}

func (p CookiePolicy) clear(w http.ResponseWriter) {
	c := p.base()
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func refreshCookie(r *http.Request) string {
	c, err := r.Cookie(middleware.RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
