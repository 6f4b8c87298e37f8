package postgres

import (
	"context"
	"time"

	"github.com/lib/pq"

	"github.com/alfredjeanlab/relay/internal/model"
)

const assignmentColumns = `id, agent_user_id, requester_user_id, conversation_id, assigned_at, request_summary`

// queryListAgents returns every agent with its persisted last activity,
// ordered by user ID.
func queryListAgents(ctx context.Context, db executor) ([]*model.Agent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT u.id, u.display_name, p.last_active_at
		FROM users u
		LEFT JOIN presence p ON p.user_id = u.id
		WHERE u.role = $1
		ORDER BY u.id`,
		string(model.RoleAgent),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgents(rows)
}

func queryAssignmentCounts(ctx context.Context, db executor, agentIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(agentIDs))
	if len(agentIDs) == 0 {
		return counts, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT agent_user_id, COUNT(*)
		FROM assignments
		WHERE agent_user_id = ANY($1)
		GROUP BY agent_user_id`,
		pq.Array(agentIDs),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// queryRecordAssignment appends rec and sets rec.ID from the sequence.
func queryRecordAssignment(ctx context.Context, db executor, rec *model.AssignmentRecord) error {
	return db.QueryRowContext(ctx, `
		INSERT INTO assignments (agent_user_id, requester_user_id, conversation_id, assigned_at, request_summary)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		rec.AgentUserID, rec.RequesterUserID, rec.ConversationID, rec.AssignedAt, rec.RequestSummary,
	).Scan(&rec.ID)
}

func queryListAssignments(ctx context.Context, db executor, afterID int64, limit int) ([]*model.AssignmentRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+assignmentColumns+`
		FROM assignments
		WHERE id > $1
		ORDER BY id
		LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssignments(rows)
}

func queryLastActiveAt(ctx context.Context, db executor, userID string) (time.Time, error) {
	var t time.Time
	err := db.QueryRowContext(ctx, `SELECT last_active_at FROM presence WHERE user_id = $1`, userID).Scan(&t)
	if err != nil {
		return time.Time{}, notFound(err, "presence "+userID)
	}
	return t, nil
}

// queryTouchPresence upserts the activity timestamp, keeping the newer of
// the stored and supplied values.
func queryTouchPresence(ctx context.Context, db executor, userID string, at time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO presence (user_id, last_active_at)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET last_active_at = GREATEST(presence.last_active_at, EXCLUDED.last_active_at)`,
		userID, at,
	)
	return err
}
