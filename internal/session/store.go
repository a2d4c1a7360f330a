// Package session implements the guest-side schedule state: a TTL cache of
// schedule collections keyed by an opaque cookie-borne session id, plus the
// Gin middleware that issues and propagates that cookie.
//
// Guests never touch the database. Their collections live only here and
// evaporate when the TTL lapses; authenticated users bypass this package
// entirely and persist through the repo layer.
package session

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/kronoshq/kronos-backend/internal/schedule"
)

// CookieName is the session cookie issued to guests.
const CookieName = "kronos_session"

// ContextKey is the gin context key under which the middleware stores the
// session id.
const ContextKey = "session_id"

// Store is a TTL-bound in-memory map of guest schedule collections. Every
// read or write refreshes the entry's lifetime, so an active guest never
// loses state mid-session.
type Store struct {
	ttl   time.Duration
	cache *gocache.Cache
}

// NewStore builds a Store whose entries expire ttl after their last touch.
func NewStore(ttl time.Duration) *Store {
	return &Store{
		ttl:   ttl,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Get returns the collection for id, refreshing its TTL. The boolean is
// false when the session is unknown or already expired.
func (s *Store) Get(id string) (*schedule.Collection, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	col := v.(*schedule.Collection)
	s.cache.Set(id, col, s.ttl)
	return col, true
}

// GetOrCreate returns the collection for id, creating an empty one when
// the session is new or expired.
func (s *Store) GetOrCreate(id string) *schedule.Collection {
	if col, ok := s.Get(id); ok {
		return col
	}
	col := schedule.NewCollection()
	s.cache.Set(id, col, s.ttl)
	return col
}

// Put stores col under id with a fresh TTL.
func (s *Store) Put(id string, col *schedule.Collection) {
	s.cache.Set(id, col, s.ttl)
}

// Delete drops the session state for id.
func (s *Store) Delete(id string) {
	s.cache.Delete(id)
}

// Len reports the number of live sessions. Expired-but-unswept entries do
// not count.
func (s *Store) Len() int {
	return s.cache.ItemCount()
}

// CookieOptions configures the session cookie emitted by Middleware.
//
// Secure must be true whenever the API is served over HTTPS; MaxAge should
// match (or exceed) the store TTL so the browser does not outlive the
// server-side state.
type CookieOptions struct {
	MaxAge time.Duration
	Secure bool
	Domain string
}

// Middleware returns a Gin middleware that guarantees every request has a
// session id: it reads the existing cookie when present, mints a fresh
// uuid otherwise, re-issues the cookie to slide its expiry, and exposes
// the id via the gin context under ContextKey.
func Middleware(opts CookieOptions) gin.HandlerFunc {
	maxAge := int(opts.MaxAge / time.Second)
	if maxAge <= 0 {
		maxAge = int((24 * time.Hour) / time.Second)
	}
	return func(c *gin.Context) {
		id, err := c.Cookie(CookieName)
		if err != nil || id == "" {
			id = uuid.NewString()
		}
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(CookieName, id, maxAge, "/", opts.Domain, opts.Secure, true)
		c.Set(ContextKey, id)
		c.Next()
	}
}

// ID extracts the session id placed by Middleware, or "" when the
// middleware did not run.
func ID(c *gin.Context) string {
	if v, ok := c.Get(ContextKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
