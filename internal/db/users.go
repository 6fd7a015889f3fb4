package db

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"senteros-chat/internal/models"
)

// CreateUser inserts an account. A taken email returns ErrDuplicate.
func (d *DB) CreateUser(email, passwordHash string, profile models.Profile) (*models.User, error) {
	metadata, err := json.Marshal(profile)
	if err != nil {
		return nil, err
	}

	return WithLockResult(d, func() (*models.User, error) {
		log.Printf("[DB] CreateUser started email=%s", email)

		user := &models.User{
			ID:        uuid.New().String(),
			Email:     email,
			Profile:   profile,
			CreatedAt: d.now(),
		}
		_, err := d.db.Exec(
			`INSERT INTO users (id, email, password_hash, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
			user.ID, user.Email, passwordHash, string(metadata), user.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				log.Printf("[DB] CreateUser failed: email taken email=%s", email)
				return nil, ErrDuplicate
			}
			log.Printf("[DB] CreateUser failed: exec error err=%v", err)
			return nil, err
		}

		log.Printf("[DB] CreateUser completed user_id=%s", user.ID)
		return user, nil
	})
}

// GetUserByEmail returns the user and its password hash
func (d *DB) GetUserByEmail(email string) (*models.User, string, error) {
	type found struct {
		user *models.User
		hash string
	}
	result, err := WithLockResult(d, func() (found, error) {
		row := d.db.QueryRow(
			`SELECT id, email, password_hash, metadata, created_at FROM users WHERE email = ?`,
			email,
		)
		user, hash, err := scanUser(row)
		return found{user: user, hash: hash}, err
	})
	if err != nil {
		return nil, "", err
	}
	return result.user, result.hash, nil
}

// GetUser retrieves a user by ID
func (d *DB) GetUser(id string) (*models.User, error) {
	return WithLockResult(d, func() (*models.User, error) {
		row := d.db.QueryRow(
			`SELECT id, email, password_hash, metadata, created_at FROM users WHERE id = ?`,
			id,
		)
		user, _, err := scanUser(row)
		return user, err
	})
}

// UpdateProfile replaces the user's metadata
func (d *DB) UpdateProfile(id string, profile models.Profile) error {
	metadata, err := json.Marshal(profile)
	if err != nil {
		return err
	}

	return d.WithLock(func() error {
		result, err := d.db.Exec(`UPDATE users SET metadata = ? WHERE id = ?`, string(metadata), id)
		if err != nil {
			log.Printf("[DB] UpdateProfile failed: exec error err=%v", err)
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return sql.ErrNoRows
		}
		log.Printf("[DB] UpdateProfile completed user_id=%s", id)
		return nil
	})
}

// CreateSession stores a session token for a user
func (d *DB) CreateSession(token, userID string, expiresAt time.Time) error {
	return d.WithLock(func() error {
		_, err := d.db.Exec(
			`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			token, userID, d.now(), expiresAt.UTC(),
		)
		return err
	})
}

// GetSessionUser resolves a token that has not expired at now
func (d *DB) GetSessionUser(token string, now time.Time) (*models.User, error) {
	return WithLockResult(d, func() (*models.User, error) {
		row := d.db.QueryRow(
			`SELECT u.id, u.email, u.password_hash, u.metadata, u.created_at
			FROM sessions s
			INNER JOIN users u ON u.id = s.user_id
			WHERE s.token = ? AND s.expires_at > ?`,
			token, now.UTC(),
		)
		user, _, err := scanUser(row)
		return user, err
	})
}

// DeleteSession removes a session token
func (d *DB) DeleteSession(token string) error {
	return d.WithLock(func() error {
		_, err := d.db.Exec(`DELETE FROM sessions WHERE token = ?`, token)
		return err
	})
}

// DeleteExpiredSessions removes sessions that expired before now
func (d *DB) DeleteExpiredSessions(now time.Time) (int64, error) {
	return WithLockResult(d, func() (int64, error) {
		result, err := d.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now.UTC())
		if err != nil {
			return 0, err
		}
		return result.RowsAffected()
	})
}

func scanUser(row *sql.Row) (*models.User, string, error) {
	var user models.User
	var hash, metadata string
	if err := row.Scan(&user.ID, &user.Email, &hash, &metadata, &user.CreatedAt); err != nil {
		return nil, "", err
	}
	// Legacy rows may carry an empty or malformed bag
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &user.Profile); err != nil {
			log.Printf("[DB] Ignoring unreadable metadata user_id=%s err=%v", user.ID, err)
		}
	}
	return &user, hash, nil
}
