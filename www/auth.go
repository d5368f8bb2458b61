package www

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName = "fieldgate_session"
	// Long enough to cover a multi-day commissioning visit.
	sessionMaxAge = 7 * 24 * 60 * 60
)

// sessionStore holds technician login state in signed cookies. A unit
// has no TLS terminator of its own, so sessions are bench-network trust,
// not internet trust.
type sessionStore struct {
	cookies *sessions.CookieStore
}

func newSessionStore(secret string) *sessionStore {
	key, _ := base64.StdEncoding.DecodeString(secret)
	if len(key) < 32 {
		// No usable configured secret: generate one. Sessions then
		// reset on every reboot, which a bench unit tolerates.
		key = make([]byte, 32)
		rand.Read(key)
	}
	cs := sessions.NewCookieStore(key)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &sessionStore{cookies: cs}
}

func (s *sessionStore) get(r *http.Request) *sessions.Session {
	sess, _ := s.cookies.Get(r, sessionName)
	return sess
}

func (s *sessionStore) getUser(r *http.Request) (string, bool) {
	username, ok := s.get(r).Values["username"].(string)
	return username, ok
}

func (s *sessionStore) setUser(w http.ResponseWriter, r *http.Request, username string) {
	sess := s.get(r)
	sess.Values["username"] = username
	sess.Save(r, w)
}

func (s *sessionStore) clear(w http.ResponseWriter, r *http.Request) {
	sess := s.get(r)
	delete(sess.Values, "username")
	sess.Options.MaxAge = -1
	sess.Save(r, w)
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}
