package db

import (
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"

	"senteros-chat/internal/models"
)

// CreateConversation creates a conversation together with its first turn
func (d *DB) CreateConversation(owner, title string, firstTurn models.Turn) (*models.Conversation, *models.Turn, error) {
	if owner == "" {
		log.Printf("[DB] CreateConversation failed: no owner")
		return nil, nil, ErrNotAuthenticated
	}

	type created struct {
		conv *models.Conversation
		turn *models.Turn
	}

	result, err := WithLockResult(d, func() (created, error) {
		log.Printf("[DB] CreateConversation started owner=%s title=%q", owner, title)

		now := d.now()
		conv := &models.Conversation{
			ID:        uuid.New().String(),
			Owner:     owner,
			Title:     title,
			CreatedAt: now,
			UpdatedAt: now,
		}

		var turn *models.Turn
		err := d.withTx(func(tx *sql.Tx) error {
			_, err := tx.Exec(
				`INSERT INTO conversations (id, owner, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
				conv.ID, conv.Owner, conv.Title, conv.CreatedAt, conv.UpdatedAt,
			)
			if err != nil {
				return err
			}
			turn, err = insertTurn(tx, conv.ID, firstTurn, now)
			return err
		})
		if err != nil {
			log.Printf("[DB] CreateConversation failed: exec error err=%v", err)
			return created{}, err
		}

		log.Printf("[DB] CreateConversation completed conversation_id=%s turn_id=%d", conv.ID, turn.ID)
		return created{conv: conv, turn: turn}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result.conv, result.turn, nil
}

// GetConversation retrieves a conversation owned by owner
func (d *DB) GetConversation(owner, id string) (*models.Conversation, error) {
	if owner == "" {
		return nil, ErrNotAuthenticated
	}
	return WithLockResult(d, func() (*models.Conversation, error) {
		row := d.db.QueryRow(
			`SELECT id, owner, title, created_at, updated_at FROM conversations WHERE id = ? AND owner = ?`,
			id, owner,
		)

		var conv models.Conversation
		if err := row.Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		return &conv, nil
	})
}

// ListConversations returns the owner's conversations, most recently active first
func (d *DB) ListConversations(owner string) ([]models.Conversation, error) {
	if owner == "" {
		return nil, ErrNotAuthenticated
	}
	return WithLockResult(d, func() ([]models.Conversation, error) {
		rows, err := d.db.Query(
			`SELECT id, owner, title, created_at, updated_at FROM conversations
			WHERE owner = ? ORDER BY updated_at DESC, rowid DESC`,
			owner,
		)
		if err != nil {
			log.Printf("[DB] ListConversations failed: query error err=%v", err)
			return nil, err
		}
		defer rows.Close()

		conversations := []models.Conversation{}
		for rows.Next() {
			var conv models.Conversation
			if err := rows.Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
				return nil, err
			}
			conversations = append(conversations, conv)
		}

		return conversations, rows.Err()
	})
}

// AppendTurn adds a turn to a conversation and bumps its updated_at
func (d *DB) AppendTurn(owner, conversationID string, turn models.Turn) (*models.Turn, error) {
	if owner == "" {
		return nil, ErrNotAuthenticated
	}
	return WithLockResult(d, func() (*models.Turn, error) {
		log.Printf("[DB] AppendTurn started conversation_id=%s role=%s", conversationID, turn.Role)

		var saved *models.Turn
		err := d.withTx(func(tx *sql.Tx) error {
			now := d.now()
			result, err := tx.Exec(
				`UPDATE conversations SET updated_at = ? WHERE id = ? AND owner = ?`,
				now, conversationID, owner,
			)
			if err != nil {
				return err
			}
			if n, err := result.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return sql.ErrNoRows
			}
			saved, err = insertTurn(tx, conversationID, turn, now)
			return err
		})
		if err != nil {
			log.Printf("[DB] AppendTurn failed conversation_id=%s err=%v", conversationID, err)
			return nil, err
		}

		log.Printf("[DB] AppendTurn completed conversation_id=%s turn_id=%d", conversationID, saved.ID)
		return saved, nil
	})
}

// RenameConversation changes a conversation's title
func (d *DB) RenameConversation(owner, id, title string) error {
	if owner == "" {
		return ErrNotAuthenticated
	}
	return d.WithLock(func() error {
		result, err := d.db.Exec(
			`UPDATE conversations SET title = ? WHERE id = ? AND owner = ?`,
			title, id, owner,
		)
		if err != nil {
			log.Printf("[DB] RenameConversation failed: exec error err=%v", err)
			return err
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return sql.ErrNoRows
		}

		log.Printf("[DB] RenameConversation completed conversation_id=%s title=%q", id, title)
		return nil
	})
}

// DeleteConversation removes a conversation's turns and then the conversation itself
func (d *DB) DeleteConversation(owner, id string) error {
	if owner == "" {
		return ErrNotAuthenticated
	}
	return d.WithLock(func() error {
		log.Printf("[DB] DeleteConversation started conversation_id=%s", id)

		err := d.withTx(func(tx *sql.Tx) error {
			var exists int
			err := tx.QueryRow(
				`SELECT COUNT(*) FROM conversations WHERE id = ? AND owner = ?`, id, owner,
			).Scan(&exists)
			if err != nil {
				return err
			}
			if exists == 0 {
				return sql.ErrNoRows
			}

			if _, err := tx.Exec(`DELETE FROM turns WHERE conversation_id = ?`, id); err != nil {
				return err
			}
			_, err = tx.Exec(`DELETE FROM conversations WHERE id = ? AND owner = ?`, id, owner)
			return err
		})
		if err != nil {
			log.Printf("[DB] DeleteConversation failed conversation_id=%s err=%v", id, err)
			return err
		}

		log.Printf("[DB] DeleteConversation completed conversation_id=%s", id)
		return nil
	})
}

// ListTurns returns a conversation's turns in creation order
func (d *DB) ListTurns(owner, conversationID string) ([]models.Turn, error) {
	if owner == "" {
		return nil, ErrNotAuthenticated
	}
	return WithLockResult(d, func() ([]models.Turn, error) {
		rows, err := d.db.Query(
			`SELECT t.id, t.conversation_id, t.role, t.content, t.image_url, t.created_at
			FROM turns t
			INNER JOIN conversations c ON c.id = t.conversation_id
			WHERE t.conversation_id = ? AND c.owner = ?
			ORDER BY t.created_at ASC, t.id ASC`,
			conversationID, owner,
		)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		turns := []models.Turn{}
		for rows.Next() {
			var turn models.Turn
			var role string
			if err := rows.Scan(&turn.ID, &turn.ConversationID, &role, &turn.Content, &turn.ImageURL, &turn.CreatedAt); err != nil {
				return nil, err
			}
			turn.Role = models.Role(role)
			turns = append(turns, turn)
		}

		return turns, rows.Err()
	})
}

func insertTurn(tx *sql.Tx, conversationID string, turn models.Turn, now time.Time) (*models.Turn, error) {
	result, err := tx.Exec(
		`INSERT INTO turns (conversation_id, role, content, image_url, created_at) VALUES (?, ?, ?, ?, ?)`,
		conversationID, string(turn.Role), turn.Content, turn.ImageURL, now,
	)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	turn.ID = id
	turn.ConversationID = conversationID
	turn.CreatedAt = now
	return &turn, nil
}
