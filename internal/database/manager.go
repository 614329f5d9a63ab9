// Package database holds the Store implementations: a sqlite Manager
// (default) and a MongoDB-backed MongoStore.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// writeRetryDelay is how long the writer waits before retrying a write
// that failed on a busy or locked database.
var writeRetryDelay = 500 * time.Millisecond

// roleTables maps each role onto its identity table.
var roleTables = map[types.Role]string{
	types.RoleStudent:        "students",
	types.RoleLecturer:       "lecturers",
	types.RoleDepartmentHead: "department_heads",
}

// Manager is the sqlite Store. All writes go through one goroutine so
// sqlite never sees concurrent writers; reads use the pool directly.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	logger       zerolog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	stopped      chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

var _ interfaces.Store = (*Manager)(nil)

// NewManager opens the database and starts the writer goroutine. Call
// Migrate before serving traffic.
func NewManager(config *dbconfig.Config, logger zerolog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	for _, pragma := range dbconfig.Pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logger.With().Str("component", "sqlite").Logger(),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		stopped:      make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending migrations and validates the resulting schema.
func (m *Manager) Migrate() error {
	migrations := dbconfig.NewMigrationManager(m.db)
	if err := migrations.ApplyMigrations(); err != nil {
		return err
	}
	return migrations.ValidateSchema()
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(op.ctx, m.db)
			if isBusy(err) {
				m.logger.Warn().Err(err).Dur("retry_in", writeRetryDelay).Msg("database write failed, retrying")
				time.Sleep(writeRetryDelay)
				err = op.operation(op.ctx, m.db)
				if err != nil {
					m.logger.Error().Err(err).Msg("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			m.logger.Debug().Msg("write loop shutting down")
			m.drain()
			return
		}
	}
}

// drain fails operations still queued at shutdown.
func (m *Manager) drain() {
	defer close(m.stopped)
	for {
		select {
		case op := <-m.writeChannel:
			op.result <- interfaces.ErrStoreClosed
		default:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (m *Manager) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return errors.New("write operation timeout")
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}

	// Once queued the operation runs to completion; the caller must not
	// return before it does or a later read could miss the row.
	select {
	case err := <-result:
		return err
	case <-m.stopped:
		select {
		case err := <-result:
			return err
		default:
			return interfaces.ErrStoreClosed
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// FindIdentity reads one identity from the table for role.
func (m *Manager) FindIdentity(ctx context.Context, role types.Role, userID string) (*types.Identity, error) {
	table, ok := roleTables[role]
	if !ok {
		return nil, types.ErrInvalidRole
	}

	identity := types.Identity{ID: userID, Role: role}
	var err error
	if role == types.RoleStudent {
		err = m.db.QueryRowContext(ctx,
			"SELECT display_name, registration_number FROM students WHERE id = ?", userID,
		).Scan(&identity.DisplayName, &identity.RegistrationNumber)
	} else {
		err = m.db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT display_name FROM %s WHERE id = ?", table), userID,
		).Scan(&identity.DisplayName)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}

	return &identity, nil
}

// SaveIdentity inserts or replaces an identity record.
func (m *Manager) SaveIdentity(ctx context.Context, identity *types.Identity) error {
	table, ok := roleTables[identity.Role]
	if !ok {
		return types.ErrInvalidRole
	}
	if !types.IsValidUserID(identity.ID) {
		return types.ErrInvalidUserID
	}

	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		var err error
		if identity.Role == types.RoleStudent {
			_, err = db.ExecContext(ctx, `
				INSERT INTO students (id, display_name, registration_number)
				VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					display_name = excluded.display_name,
					registration_number = excluded.registration_number
			`, identity.ID, identity.DisplayName, identity.RegistrationNumber)
		} else {
			_, err = db.ExecContext(ctx, fmt.Sprintf(`
				INSERT INTO %s (id, display_name) VALUES (?, ?)
				ON CONFLICT(id) DO UPDATE SET display_name = excluded.display_name
			`, table), identity.ID, identity.DisplayName)
		}
		if err != nil {
			return fmt.Errorf("failed to save identity: %w", err)
		}
		return nil
	})
}

// StoreMessage persists message. Timestamp and Seq are assigned inside
// the writer so both follow persistence order.
func (m *Manager) StoreMessage(ctx context.Context, message *types.Message) error {
	return m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		timestamp := time.Now().UTC()

		res, err := db.ExecContext(ctx, `
			INSERT INTO messages (id, from_id, from_role, from_name, from_registration_number,
				to_id, to_role, content, timestamp, delivered)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`,
			message.ID,
			message.FromID,
			message.FromRole,
			message.FromName,
			nullString(message.FromRegistrationNumber),
			message.ToID,
			message.ToRole,
			message.Content,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message sequence: %w", err)
		}

		message.Seq = seq
		message.Timestamp = timestamp
		message.Delivered = false
		return nil
	})
}

// GetConversation returns both directions of the a/b conversation in
// persistence order.
func (m *Manager) GetConversation(ctx context.Context, a, b string) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT seq, id, from_id, from_role, from_name, from_registration_number,
			to_id, to_role, content, timestamp, delivered
		FROM messages
		WHERE (from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?)
		ORDER BY seq ASC
	`, a, b, b, a)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var message types.Message
		var registration sql.NullString

		err := rows.Scan(
			&message.Seq,
			&message.ID,
			&message.FromID,
			&message.FromRole,
			&message.FromName,
			&registration,
			&message.ToID,
			&message.ToRole,
			&message.Content,
			&message.Timestamp,
			&message.Delivered,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		message.FromRegistrationNumber = registration.String

		messages = append(messages, &message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return messages, nil
}

// MarkDelivered flips delivered on the given messages addressed to
// recipientID. Already delivered and foreign messages are left alone.
func (m *Manager) MarkDelivered(ctx context.Context, messageIDs []string, recipientID string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(messageIDs)), ",")
	args := make([]interface{}, 0, len(messageIDs)+1)
	args = append(args, recipientID)
	for _, id := range messageIDs {
		args = append(args, id)
	}

	var modified int64
	err := m.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"UPDATE messages SET delivered = 1 WHERE to_id = ? AND delivered = 0 AND id IN ("+placeholders+")",
			args...,
		)
		if err != nil {
			return fmt.Errorf("failed to mark messages delivered: %w", err)
		}
		modified, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}

	return modified, nil
}

// HealthCheck validates connectivity and that the messages table is readable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database handle.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. It is idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
