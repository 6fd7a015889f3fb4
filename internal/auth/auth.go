// Package auth owns accounts, password sign-in and session tokens.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"senteros-chat/internal/db"
	"senteros-chat/internal/kv"
	"senteros-chat/internal/models"
)

// DefaultSessionTTL is how long a sign-in stays valid
const DefaultSessionTTL = 30 * 24 * time.Hour

const minPasswordRunes = 6

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email is already registered")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	// ErrUnauthenticated is returned for unknown or expired tokens
	ErrUnauthenticated = db.ErrNotAuthenticated
)

// Session is an issued sign-in
type Session struct {
	Token     string       `json:"access_token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// Service signs users in and out
type Service struct {
	db   *db.DB
	kv   *kv.Store
	ttl  time.Duration
	cost int
	now  func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithBcryptCost sets the hashing cost
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the auth service. kvStore may be nil, in which case
// profiles are not mirrored for prompt building.
func NewService(database *db.DB, kvStore *kv.Store, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	s := &Service{
		db:   database,
		kv:   kvStore,
		ttl:  ttl,
		cost: bcrypt.DefaultCost,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// SignUp creates an account and signs it in
func (s *Service) SignUp(email, password, username string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(password) < minPasswordRunes {
		return nil, ErrWeakPassword
	}

	log.Printf("[Auth] SignUp started email=%s", email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.db.CreateUser(email, string(hash), models.Profile{Username: strings.TrimSpace(username)})
	if errors.Is(err, db.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		log.Printf("[Auth] SignUp failed email=%s err=%v", email, err)
		return nil, err
	}

	s.mirrorProfile(user.ID, user.Profile)
	return s.issue(user)
}

// SignIn checks the password and issues a session
func (s *Service) SignIn(email, password string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, hash, err := s.db.GetUserByEmail(email)
	if errors.Is(err, sql.ErrNoRows) {
		log.Printf("[Auth] SignIn failed: unknown email=%s", email)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		log.Printf("[Auth] SignIn failed: wrong password user_id=%s", user.ID)
		return nil, ErrInvalidCredentials
	}

	s.mirrorProfile(user.ID, user.Profile)
	return s.issue(user)
}

func (s *Service) issue(user *models.User) (*Session, error) {
	session := &Session{
		Token:     uuid.NewString(),
		ExpiresAt: s.now().Add(s.ttl).UTC(),
		User:      user,
	}
	if err := s.db.CreateSession(session.Token, user.ID, session.ExpiresAt); err != nil {
		log.Printf("[Auth] Failed to store session user_id=%s err=%v", user.ID, err)
		return nil, err
	}
	log.Printf("[Auth] Session issued user_id=%s expires_at=%s", user.ID, session.ExpiresAt.Format(time.RFC3339))
	return session, nil
}

// SignOut invalidates a token. Unknown tokens are ignored.
func (s *Service) SignOut(token string) error {
	return s.db.DeleteSession(token)
}

// UserForToken resolves a session token
func (s *Service) UserForToken(token string) (*models.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	user, err := s.db.GetSessionUser(token, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnauthenticated
	}
	return user, err
}

// UpdateProfile writes the profile and mirrors it for prompt building
func (s *Service) UpdateProfile(userID string, profile models.Profile) (*models.User, error) {
	profile.Username = strings.TrimSpace(profile.Username)
	profile.Bio = strings.TrimSpace(profile.Bio)

	if err := s.db.UpdateProfile(userID, profile); err != nil {
		log.Printf("[Auth] UpdateProfile failed user_id=%s err=%v", userID, err)
		return nil, err
	}
	s.mirrorProfile(userID, profile)
	return s.db.GetUser(userID)
}

// PurgeExpired deletes expired sessions
func (s *Service) PurgeExpired() (int64, error) {
	n, err := s.db.DeleteExpiredSessions(s.now())
	if err == nil && n > 0 {
		log.Printf("[Auth] Purged expired sessions count=%d", n)
	}
	return n, err
}

// mirrorProfile copies profile fields into the key-value store. Failures are logged only.
func (s *Service) mirrorProfile(userID string, profile models.Profile) {
	if s.kv == nil {
		return
	}
	fields := []struct{ key, value string }{
		{kv.KeyUsername, profile.Username},
		{kv.KeyBio, profile.Bio},
		{kv.KeyLocale, profile.Locale},
		{kv.KeyTheme, profile.Theme},
	}
	for _, f := range fields {
		var err error
		if f.value == "" {
			if f.key == kv.KeyLocale || f.key == kv.KeyTheme {
				// Keep settings chosen before the profile had them
				continue
			}
			err = s.kv.Delete(userID, f.key)
		} else {
			err = s.kv.Set(userID, f.key, f.value)
		}
		if err != nil {
			log.Printf("[Auth] Failed to mirror profile user_id=%s key=%s err=%v", userID, f.key, err)
		}
	}
}
