package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/kadirpekel/conduit/internal/errs"

	// SQL drivers, dialect selected at NewSQLStore time.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const createInteractionsSchemaSQLite = `
CREATE TABLE IF NOT EXISTS interactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    agent TEXT NOT NULL,
    conversation TEXT NOT NULL,
    role TEXT NOT NULL,
    message TEXT NOT NULL,
    is_error BOOLEAN NOT NULL DEFAULT 0,
    ts TIMESTAMP NOT NULL
)`

const createInteractionsSchemaPostgres = `
CREATE TABLE IF NOT EXISTS interactions (
    id BIGSERIAL PRIMARY KEY,
    tenant TEXT NOT NULL,
    agent TEXT NOT NULL,
    conversation TEXT NOT NULL,
    role TEXT NOT NULL,
    message TEXT NOT NULL,
    is_error BOOLEAN NOT NULL DEFAULT FALSE,
    ts TIMESTAMP NOT NULL
)`

const createInteractionsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_interactions_scope ON interactions(tenant, agent, conversation, id)`

// SQLStore is a database/sql-backed Store, dialect-switched between
// modernc.org/sqlite (the default local backend) and lib/pq for
// Postgres deployments that share a datastore across instances.
type SQLStore struct {
	db      *sql.DB
	dialect string

	mu     sync.Mutex
	scopes map[string]*sync.Mutex
}

// NewSQLStore opens (and migrates) a store using db with the given
// dialect ("sqlite" or "postgres").
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("conversation: database handle is required")
	}
	switch dialect {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("conversation: unsupported dialect %q", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect, scopes: make(map[string]*sync.Mutex)}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := createInteractionsSchemaSQLite
	if s.dialect == "postgres" {
		schema = createInteractionsSchemaPostgres
	}
	for _, stmt := range []string{schema, createInteractionsIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.New("ConversationStore", "initSchema", "create schema", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// lockFor serializes mutating operations against a single conversation
// so concurrent appends keep a total order.
func (s *SQLStore) lockFor(tenant, agent, conversation string) *sync.Mutex {
	key := tenant + "\x00" + agent + "\x00" + conversation
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.scopes[key]
	if !ok {
		m = &sync.Mutex{}
		s.scopes[key] = m
	}
	return m
}

func (s *SQLStore) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Append(ctx context.Context, tenant, agent, conversation, role, message string, isError bool, ts time.Time) (int64, error) {
	lock := s.lockFor(tenant, agent, conversation)
	lock.Lock()
	defer lock.Unlock()

	if ts.IsZero() {
		ts = time.Now()
	}

	if s.dialect == "postgres" {
		var id int64
		query := fmt.Sprintf(`INSERT INTO interactions (tenant, agent, conversation, role, message, is_error, ts)
			VALUES (%s, %s, %s, %s, %s, %s, %s) RETURNING id`,
			s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7))
		err := s.db.QueryRowContext(ctx, query, tenant, agent, conversation, role, message, isError, ts).Scan(&id)
		if err != nil {
			return 0, errs.New("ConversationStore", "Append", "insert interaction", errs.ErrStorage)
		}
		return id, nil
	}

	query := `INSERT INTO interactions (tenant, agent, conversation, role, message, is_error, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, tenant, agent, conversation, role, message, isError, ts)
	if err != nil {
		return 0, errs.New("ConversationStore", "Append", "insert interaction", errs.ErrStorage)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errs.New("ConversationStore", "Append", "read last insert id", errs.ErrStorage)
	}
	return id, nil
}

func (s *SQLStore) List(ctx context.Context, tenant, agent, conversation string, limit, page int, newestFirst bool) ([]Interaction, int, error) {
	total, err := s.count(ctx, tenant, agent, conversation)
	if err != nil {
		return nil, 0, err
	}

	order := "ASC"
	if newestFirst {
		order = "DESC"
	}

	var query string
	args := []any{tenant, agent, conversation}
	if limit > 0 {
		offset := 0
		if page > 0 {
			offset = page * limit
		}
		query = fmt.Sprintf(`SELECT id, role, message, is_error, ts FROM interactions
			WHERE tenant = %s AND agent = %s AND conversation = %s
			ORDER BY id %s LIMIT %s OFFSET %s`, s.ph(1), s.ph(2), s.ph(3), order, s.ph(4), s.ph(5))
		args = append(args, limit, offset)
	} else {
		query = fmt.Sprintf(`SELECT id, role, message, is_error, ts FROM interactions
			WHERE tenant = %s AND agent = %s AND conversation = %s
			ORDER BY id %s`, s.ph(1), s.ph(2), s.ph(3), order)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errs.New("ConversationStore", "List", "query interactions", errs.ErrStorage)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.Role, &it.Message, &it.Error, &it.Timestamp); err != nil {
			return nil, 0, errs.New("ConversationStore", "List", "scan interaction", errs.ErrStorage)
		}
		out = append(out, it)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) count(ctx context.Context, tenant, agent, conversation string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM interactions WHERE tenant = %s AND agent = %s AND conversation = %s`,
		s.ph(1), s.ph(2), s.ph(3))
	var total int
	if err := s.db.QueryRowContext(ctx, query, tenant, agent, conversation).Scan(&total); err != nil {
		return 0, errs.New("ConversationStore", "count", "count interactions", errs.ErrStorage)
	}
	return total, nil
}

func (s *SQLStore) Export(ctx context.Context, tenant, agent, conversation string) ([]Interaction, error) {
	out, _, err := s.List(ctx, tenant, agent, conversation, 0, 0, false)
	return out, err
}

func (s *SQLStore) DeleteMessage(ctx context.Context, tenant, agent, conversation string, id int64) error {
	lock := s.lockFor(tenant, agent, conversation)
	lock.Lock()
	defer lock.Unlock()

	query := fmt.Sprintf(`DELETE FROM interactions WHERE tenant = %s AND agent = %s AND conversation = %s AND id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	res, err := s.db.ExecContext(ctx, query, tenant, agent, conversation, id)
	if err != nil {
		return errs.New("ConversationStore", "DeleteMessage", "delete interaction", errs.ErrStorage)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New("ConversationStore", "DeleteMessage", fmt.Sprintf("message %d not found", id), errs.ErrStorage)
	}
	return nil
}

func (s *SQLStore) UpdateMessage(ctx context.Context, tenant, agent, conversation string, id int64, newText string) error {
	lock := s.lockFor(tenant, agent, conversation)
	lock.Lock()
	defer lock.Unlock()

	query := fmt.Sprintf(`UPDATE interactions SET message = %s WHERE tenant = %s AND agent = %s AND conversation = %s AND id = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	res, err := s.db.ExecContext(ctx, query, newText, tenant, agent, conversation, id)
	if err != nil {
		return errs.New("ConversationStore", "UpdateMessage", "update interaction", errs.ErrStorage)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New("ConversationStore", "UpdateMessage", fmt.Sprintf("message %d not found", id), errs.ErrStorage)
	}
	return nil
}

func (s *SQLStore) DeleteConversation(ctx context.Context, tenant, agent, conversation string) error {
	lock := s.lockFor(tenant, agent, conversation)
	lock.Lock()
	defer lock.Unlock()

	query := fmt.Sprintf(`DELETE FROM interactions WHERE tenant = %s AND agent = %s AND conversation = %s`,
		s.ph(1), s.ph(2), s.ph(3))
	_, err := s.db.ExecContext(ctx, query, tenant, agent, conversation)
	if err != nil {
		return errs.New("ConversationStore", "DeleteConversation", "delete conversation", errs.ErrStorage)
	}
	return nil
}

func (s *SQLStore) Rename(ctx context.Context, tenant, agent, conversation, newName string) error {
	lock := s.lockFor(tenant, agent, conversation)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.count(ctx, tenant, agent, newName)
	if err != nil {
		return err
	}
	if existing > 0 {
		return errs.New("ConversationStore", "Rename", fmt.Sprintf("conversation %q already exists for this agent", newName), errs.ErrStorage)
	}

	query := fmt.Sprintf(`UPDATE interactions SET conversation = %s WHERE tenant = %s AND agent = %s AND conversation = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	_, err = s.db.ExecContext(ctx, query, newName, tenant, agent, conversation)
	if err != nil {
		return errs.New("ConversationStore", "Rename", "rename conversation", errs.ErrStorage)
	}
	return nil
}
