package auth

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"attendtrack/internal/clock"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrNoSession means the caller is not authenticated.
	ErrNoSession = errors.New("no session")
)

// SessionKeyPrefix prefixes persisted session entries.
const SessionKeyPrefix = "attendance_user:"

// KV persists session entries.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Credential is a user with a bcrypt password hash.
type Credential struct {
	User User
	Hash []byte
}

// DemoCredentials returns the built-in accounts. Each password equals the
// username.
func DemoCredentials(cost int) ([]Credential, error) {
	users := []User{
		{ID: "1", Username: "admin", Email: "admin@school.edu", Role: RoleAdmin,
			FullName: "System Administrator", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "2", Username: "instructor", Email: "instructor@school.edu", Role: RoleInstructor,
			FullName: "John Smith", CreatedAt: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{ID: "3", Username: "student", Email: "student@school.edu", Role: RoleStudent,
			FullName: "Jane Doe", CreatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	out := make([]Credential, 0, len(users))
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Username), cost)
		if err != nil {
			return nil, errors.Wrapf(err, "hash password for %s", u.Username)
		}
		out = append(out, Credential{User: u, Hash: hash})
	}
	return out, nil
}

// Session is a successful login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// SessionOptions configures token signing.
type SessionOptions struct {
	Issuer     string
	SigningKey string
	TTL        time.Duration
}

// Sessions authenticates users against a fixed credential list and keeps
// the logged-in user in a key/value store.
type Sessions struct {
	creds []Credential
	kv    KV
	opts  SessionOptions
	clock clock.Clock
	log   *logrus.Entry
}

// NewSessions creates a session store.
func NewSessions(creds []Credential, kv KV, opts SessionOptions, clk clock.Clock, log *logrus.Entry) *Sessions {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	return &Sessions{creds: creds, kv: kv, opts: opts, clock: clk, log: log}
}

// Login checks the credentials and opens a session.
func (s *Sessions) Login(ctx context.Context, username, password string) (Session, error) {
	cred, ok := s.find(username)
	if !ok || bcrypt.CompareHashAndPassword(cred.Hash, []byte(password)) != nil {
		s.log.WithField("username", username).Info("login rejected")
		return Session{}, ErrInvalidCredentials
	}

	sid := uuid.NewString()
	token, exp, err := Issue(sid, cred.User, s.opts.Issuer, s.opts.SigningKey, s.clock.Now(), s.opts.TTL)
	if err != nil {
		return Session{}, err
	}
	data, err := json.Marshal(cred.User)
	if err != nil {
		return Session{}, errors.Wrap(err, "encode session user")
	}
	if err := s.kv.Set(ctx, SessionKeyPrefix+sid, string(data), s.opts.TTL); err != nil {
		return Session{}, errors.Wrap(err, "persist session")
	}

	s.log.WithFields(logrus.Fields{"username": cred.User.Username, "role": cred.User.Role}).Info("login")
	return Session{Token: token, ExpiresAt: exp, User: cred.User}, nil
}

// Restore resolves a token to its user. Every failure, including store
// errors, is reported as ErrNoSession. Entries that do not decode are
// removed.
func (s *Sessions) Restore(ctx context.Context, token string) (User, error) {
	claims, err := Parse(token, s.opts.SigningKey, s.opts.Issuer, s.clock.Now)
	if err != nil {
		return User{}, ErrNoSession
	}
	key := SessionKeyPrefix + claims.ID
	raw, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).Warn("session lookup failed")
		return User{}, ErrNoSession
	}
	if !ok {
		return User{}, ErrNoSession
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.Username == "" {
		s.log.WithField("session", claims.ID).Warn("discarding corrupt session entry")
		if err := s.kv.Delete(ctx, key); err != nil {
			s.log.WithError(err).Warn("delete corrupt session")
		}
		return User{}, ErrNoSession
	}
	return user, nil
}

// Logout ends the session named by token. Unknown tokens are ignored.
func (s *Sessions) Logout(ctx context.Context, token string) error {
	claims, err := Parse(token, s.opts.SigningKey, s.opts.Issuer, s.clock.Now)
	if err != nil {
		return nil
	}
	return errors.Wrap(s.kv.Delete(ctx, SessionKeyPrefix+claims.ID), "delete session")
}

func (s *Sessions) find(username string) (Credential, bool) {
	for _, c := range s.creds {
		if strings.EqualFold(c.User.Username, strings.TrimSpace(username)) {
			return c, true
		}
	}
	return Credential{}, false
}
