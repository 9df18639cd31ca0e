package auth

import (
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"
)

const (
	cookieName = "teesched_session"
	maxAge     = 14 * 24 * time.Hour
)

// Sessions authenticates the single operator against a bcrypt hash from
// configuration and issues securecookie sessions. There is no user table;
// one engine instance has one operator.
type Sessions struct {
	sc           *securecookie.SecureCookie
	passwordHash string
}

func NewSessions(hashKey, blockKey []byte, passwordHash string) *Sessions {
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(maxAge.Seconds()))
	return &Sessions{sc: sc, passwordHash: passwordHash}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func (s *Sessions) Check(password string) bool {
	if s.passwordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)) == nil
}

func (s *Sessions) SetSession(w http.ResponseWriter, r *http.Request) error {
	encoded, err := s.sc.Encode(cookieName, map[string]any{"op": true, "iat": time.Now().Unix()})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(maxAge.Seconds()),
	})
	return nil
}

func (s *Sessions) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Sessions) Authenticated(r *http.Request) bool {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return false
	}
	val := map[string]any{}
	if err := s.sc.Decode(cookieName, c.Value, &val); err != nil {
		return false
	}
	op, ok := val["op"].(bool)
	return ok && op
}

func (s *Sessions) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Authenticated(r) {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
