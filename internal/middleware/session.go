package middleware

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const SessionCookieName = "session_token"

const sessionLocalKey = "sessionToken"

// Session issues and verifies anonymous session cookies. The cookie value is
// an HMAC-signed JWT wrapping a random session id, so clients cannot pick or
// forge ids to read each other's jobs.
type Session struct {
	secret []byte
	ttl    time.Duration
	secure bool
}

func NewSession(secret string, ttl time.Duration, secure bool) *Session {
	return &Session{secret: []byte(secret), ttl: ttl, secure: secure}
}

// Handler resolves the caller's session id, minting a fresh cookie when the
// request carries none or an invalid one.
func (s *Session) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		sid, err := s.parse(c.Cookies(SessionCookieName))
		if err != nil || sid == "" {
			sid = uuid.New().String()
			signed, signErr := s.sign(sid)
			if signErr != nil {
				log.Printf("Failed to sign session token: %v", signErr)
				return fiber.ErrInternalServerError
			}
			c.Cookie(&fiber.Cookie{
				Name:     SessionCookieName,
				Value:    signed,
				MaxAge:   int(s.ttl.Seconds()),
				HTTPOnly: true,
				Secure:   s.secure,
				SameSite: fiber.CookieSameSiteStrictMode,
			})
		}
		c.Locals(sessionLocalKey, sid)
		return c.Next()
	}
}

// SessionToken returns the session id resolved by the Session middleware.
func SessionToken(c *fiber.Ctx) string {
	if sid, ok := c.Locals(sessionLocalKey).(string); ok {
		return sid
	}
	return ""
}

func (s *Session) sign(sid string) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	})
	return token.SignedString(s.secret)
}

func (s *Session) parse(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return "", err
	}
	return claims.Subject, nil
}
