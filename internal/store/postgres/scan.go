package postgres

import (
	"database/sql"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanConversation scans a single row into a model.Conversation.
// The row must contain columns in the order defined by conversationColumns.
func scanConversation(row scannable) (*model.Conversation, error) {
	var c model.Conversation
	if err := row.Scan(&c.ID, &c.IsGroup, &c.Title, &c.CreatedAt, &c.CreatedBy); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanParticipants(rows *sql.Rows) ([]*model.Participant, error) {
	var out []*model.Participant
	for rows.Next() {
		var (
			p          model.Participant
			role       string
			lastReadAt sql.NullTime
		)
		if err := rows.Scan(&p.ConversationID, &p.UserID, &role, &p.JoinedAt, &lastReadAt); err != nil {
			return nil, err
		}
		p.Role = model.Role(role)
		if lastReadAt.Valid {
			t := lastReadAt.Time
			p.LastReadAt = &t
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		var (
			m    model.Message
			role string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &role, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.SenderRole = model.Role(role)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// scanCartItem scans a row in cartItemColumns order.
func scanCartItem(row scannable) (*model.CartItem, error) {
	var c model.CartItem
	err := row.Scan(&c.ID, &c.OwnerID, &c.ListingID, &c.Quantity, &c.Note, &c.AddedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func scanCartItems(rows *sql.Rows) ([]*model.CartItem, error) {
	var out []*model.CartItem
	for rows.Next() {
		c, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanAgents(rows *sql.Rows) ([]*model.Agent, error) {
	var out []*model.Agent
	for rows.Next() {
		var (
			a          model.Agent
			lastActive sql.NullTime
		)
		if err := rows.Scan(&a.UserID, &a.DisplayName, &lastActive); err != nil {
			return nil, err
		}
		if lastActive.Valid {
			a.LastActiveAt = lastActive.Time
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func scanAssignments(rows *sql.Rows) ([]*model.AssignmentRecord, error) {
	var out []*model.AssignmentRecord
	for rows.Next() {
		var r model.AssignmentRecord
		err := rows.Scan(&r.ID, &r.AgentUserID, &r.RequesterUserID, &r.ConversationID, &r.AssignedAt, &r.RequestSummary)
		if err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// nullTimePtr converts a *time.Time to sql.NullTime.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
