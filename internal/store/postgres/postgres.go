// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/relay/internal/model"
	"github.com/alfredjeanlab/relay/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	handle
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an already-open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{handle: handle{db}, db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// CreateConversation inserts the conversation and its participants in one
// transaction.
func (s *PostgresStore) CreateConversation(ctx context.Context, c *model.Conversation, participants []*model.Participant) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.CreateConversation(ctx, c, participants)
	})
}

// RunInTransaction runs fn against a store bound to one transaction,
// committing when fn returns nil and rolling back otherwise.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txStore{handle{tx}}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore is the store handed to RunInTransaction callbacks.
type txStore struct {
	handle
}

var _ store.Store = (*txStore)(nil)

// RunInTransaction reuses the open transaction; there is no nesting.
func (s *txStore) RunInTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op; the parent store owns the connection.
func (s *txStore) Close() error { return nil }

// handle runs every query against either the pool or a transaction.
type handle struct {
	q executor
}

func (h handle) GetUserRole(ctx context.Context, userID string) (model.Role, error) {
	return queryGetUserRole(ctx, h.q, userID)
}

func (h handle) CanAccess(ctx context.Context, userID string, entity model.EntityKey) (bool, error) {
	return queryCanAccess(ctx, h.q, userID, entity)
}

func (h handle) CreateConversation(ctx context.Context, c *model.Conversation, participants []*model.Participant) error {
	return queryCreateConversation(ctx, h.q, c, participants)
}

func (h handle) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return queryGetConversation(ctx, h.q, id)
}

func (h handle) ListParticipants(ctx context.Context, conversationID string) ([]*model.Participant, error) {
	return queryListParticipants(ctx, h.q, conversationID)
}

func (h handle) FindDirectConversation(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	return queryFindDirectConversation(ctx, h.q, userA, userB)
}

func (h handle) MarkRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	return queryMarkRead(ctx, h.q, conversationID, userID, at)
}

func (h handle) CreateMessage(ctx context.Context, m *model.Message) error {
	return queryCreateMessage(ctx, h.q, m)
}

func (h handle) ListMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	return queryListMessages(ctx, h.q, conversationID, limit)
}

func (h handle) UnreadConversationCount(ctx context.Context, userID string) (int, error) {
	return queryUnreadConversationCount(ctx, h.q, userID)
}

func (h handle) AddCartItem(ctx context.Context, item *model.CartItem) error {
	return queryAddCartItem(ctx, h.q, item)
}

func (h handle) GetCartItem(ctx context.Context, ownerID, itemID string) (*model.CartItem, error) {
	return queryGetCartItem(ctx, h.q, ownerID, itemID)
}

func (h handle) UpdateCartItem(ctx context.Context, item *model.CartItem) error {
	return queryUpdateCartItem(ctx, h.q, item)
}

func (h handle) RemoveCartItem(ctx context.Context, ownerID, itemID string) error {
	return queryRemoveCartItem(ctx, h.q, ownerID, itemID)
}

func (h handle) ClearCart(ctx context.Context, ownerID string) (int, error) {
	return queryClearCart(ctx, h.q, ownerID)
}

func (h handle) ListCartItems(ctx context.Context, ownerID string) ([]*model.CartItem, error) {
	return queryListCartItems(ctx, h.q, ownerID)
}

func (h handle) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	return queryListAgents(ctx, h.q)
}

func (h handle) AssignmentCounts(ctx context.Context, agentIDs []string) (map[string]int, error) {
	return queryAssignmentCounts(ctx, h.q, agentIDs)
}

func (h handle) RecordAssignment(ctx context.Context, rec *model.AssignmentRecord) error {
	return queryRecordAssignment(ctx, h.q, rec)
}

func (h handle) ListAssignments(ctx context.Context, afterID int64, limit int) ([]*model.AssignmentRecord, error) {
	return queryListAssignments(ctx, h.q, afterID, limit)
}

func (h handle) LastActiveAt(ctx context.Context, userID string) (time.Time, error) {
	return queryLastActiveAt(ctx, h.q, userID)
}

func (h handle) TouchPresence(ctx context.Context, userID string, at time.Time) error {
	return queryTouchPresence(ctx, h.q, userID, at)
}
