package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/store"
)

// conversationColumns is the column list used for SELECT statements on the conversations table.
const conversationColumns = `id, is_group, title, created_at, created_by`

const messageColumns = `id, conversation_id, sender_id, sender_role, body, created_at`

// executor is the interface satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// notFound maps sql.ErrNoRows to store.ErrNotFound and passes other errors through.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return err
}

// requireAffected returns store.ErrNotFound when an UPDATE or DELETE touched no rows.
func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func queryGetUserRole(ctx context.Context, db executor, userID string) (model.Role, error) {
	var role string
	err := db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = $1`, userID).Scan(&role)
	if err != nil {
		return "", notFound(err, "user "+userID)
	}
	return model.Role(role), nil
}

// queryCanAccess checks existence and access in a single round trip.
// Conversations require participation; carts and user channels belong to
// the user with the same ID.
func queryCanAccess(ctx context.Context, db executor, userID string, entity model.EntityKey) (bool, error) {
	var exists, allowed bool
	switch entity.Kind {
	case model.EntityConversation:
		err := db.QueryRowContext(ctx, `
			SELECT
				EXISTS (SELECT 1 FROM conversations WHERE id = $1),
				EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND user_id = $2)`,
			entity.ID, userID,
		).Scan(&exists, &allowed)
		if err != nil {
			return false, err
		}
	case model.EntityCart, model.EntityUser:
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, entity.ID,
		).Scan(&exists)
		if err != nil {
			return false, err
		}
		allowed = entity.ID == userID
	default:
		return false, fmt.Errorf("unknown entity kind %q", entity.Kind)
	}
	if !exists {
		return false, fmt.Errorf("%s: %w", entity, store.ErrNotFound)
	}
	return allowed, nil
}

func queryCreateConversation(ctx context.Context, db executor, c *model.Conversation, participants []*model.Participant) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, title, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.IsGroup, c.Title, c.CreatedAt, c.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	for _, p := range participants {
		_, err := db.ExecContext(ctx, `
			INSERT INTO participants (conversation_id, user_id, role, joined_at, last_read_at)
			VALUES ($1, $2, $3, $4, $5)`,
			c.ID, p.UserID, string(p.Role), p.JoinedAt, nullTimePtr(p.LastReadAt),
		)
		if err != nil {
			return fmt.Errorf("insert participant %s: %w", p.UserID, err)
		}
	}
	return nil
}

func queryGetConversation(ctx context.Context, db executor, id string) (*model.Conversation, error) {
	row := db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFound(err, "conversation "+id)
	}
	return c, nil
}

func queryListParticipants(ctx context.Context, db executor, conversationID string) ([]*model.Participant, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, user_id, role, joined_at, last_read_at
		FROM participants
		WHERE conversation_id = $1
		ORDER BY joined_at, user_id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanParticipants(rows)
}

// queryFindDirectConversation returns the oldest non-group conversation
// whose participant set is exactly {userA, userB}.
func queryFindDirectConversation(ctx context.Context, db executor, userA, userB string) (*model.Conversation, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		WHERE c.is_group = FALSE
		  AND EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = c.id AND p.user_id = $1)
		  AND EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = c.id AND p.user_id = $2)
		  AND (SELECT COUNT(*) FROM participants p WHERE p.conversation_id = c.id) = 2
		ORDER BY c.created_at, c.id
		LIMIT 1`,
		userA, userB,
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFound(err, "direct conversation")
	}
	return c, nil
}

// queryMarkRead advances last_read_at; it never moves backwards.
func queryMarkRead(ctx context.Context, db executor, conversationID, userID string, at time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE participants
		SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
		WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, at,
	)
	if err != nil {
		return err
	}
	return requireAffected(res, "participant "+userID)
}

func queryCreateMessage(ctx context.Context, db executor, m *model.Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConversationID, m.SenderID, string(m.SenderRole), m.Body, m.CreatedAt,
	)
	return err
}

// queryListMessages returns the newest limit messages in chronological order.
func queryListMessages(ctx context.Context, db executor, conversationID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id`,
		conversationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func queryUnreadConversationCount(ctx context.Context, db executor, userID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM participants p
		WHERE p.user_id = $1
		  AND EXISTS (
			SELECT 1 FROM messages m
			WHERE m.conversation_id = p.conversation_id
			  AND m.sender_id <> $1
			  AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)
		  )`,
		userID,
	).Scan(&n)
	return n, err
}
