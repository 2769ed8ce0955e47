package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/analysis"
	"github.com/dotsetgreg/dotpersona/pkg/personality"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistent conversation storage.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates/opens the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection avoids SQLite writer lock contention between the
	// turn path and the background extraction worker.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			chat_id TEXT NOT NULL DEFAULT '',
			state_json TEXT NOT NULL DEFAULT '{}',
			version INTEGER NOT NULL DEFAULT 1,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_user_idx ON conversations(user_id, updated_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			analysis_json TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages(conversation_id, seq DESC);`,
		`CREATE TABLE IF NOT EXISTS memory_fragments (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 0.5,
			accessed_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_ms INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS memory_fragments_conversation_idx ON memory_fragments(conversation_id, type);`,
		`CREATE TABLE IF NOT EXISTS fragment_tags (
			fragment_id TEXT NOT NULL,
			tag TEXT NOT NULL,
			PRIMARY KEY(fragment_id, tag)
		);`,
		`CREATE INDEX IF NOT EXISTS fragment_tags_tag_idx ON fragment_tags(tag);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

// stateRecord is the persisted shape of the mutable ConversationState fields.
// The short-term window is rebuilt from the messages table.
type stateRecord struct {
	Personality         personality.Vector `json:"personality"`
	EmotionalTrajectory []string           `json:"emotional_trajectory"`
	InteractionCount    int                `json:"interaction_count"`
	ConversationalDepth float64            `json:"conversational_depth"`
	LastInteractionMS   int64              `json:"last_interaction_ms"`
}

func encodeState(st ConversationState) (string, error) {
	rec := stateRecord{
		Personality:         st.Personality,
		EmotionalTrajectory: st.EmotionalTrajectory,
		InteractionCount:    st.InteractionCount,
		ConversationalDepth: st.ConversationalDepth,
		LastInteractionMS:   st.LastInteraction.UnixMilli(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode conversation state: %w", err)
	}
	return string(b), nil
}

func decodeState(raw string, st *ConversationState) error {
	var rec stateRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return fmt.Errorf("decode conversation state: %w", err)
	}
	st.Personality = rec.Personality
	st.EmotionalTrajectory = rec.EmotionalTrajectory
	st.InteractionCount = rec.InteractionCount
	st.ConversationalDepth = rec.ConversationalDepth
	if rec.LastInteractionMS > 0 {
		st.LastInteraction = time.UnixMilli(rec.LastInteractionMS)
	}
	st.Normalize()
	return nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, chat_id, state_json, version, created_at_ms
FROM conversations WHERE id = ?`, conversationID)
	var st ConversationState
	var raw string
	var createdMS int64
	if err := row.Scan(&st.ConversationID, &st.UserID, &st.ChatID, &raw, &st.Version, &createdMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConversationState{}, ErrNotFound
		}
		return ConversationState{}, fmt.Errorf("get conversation: %w", err)
	}
	st.CreatedAt = time.UnixMilli(createdMS)
	if err := decodeState(raw, &st); err != nil {
		return ConversationState{}, err
	}

	recent, err := s.ListRecentMessages(ctx, conversationID, ShortTermCapacity)
	if err != nil {
		return ConversationState{}, err
	}
	st.ShortTermMemory = recent
	return st, nil
}

// CreateConversation inserts st at version 1. When another writer created the
// conversation first, the stored state is returned instead.
func (s *SQLiteStore) CreateConversation(ctx context.Context, st ConversationState) (ConversationState, error) {
	if strings.TrimSpace(st.ConversationID) == "" {
		return ConversationState{}, fmt.Errorf("create conversation: empty id")
	}
	raw, err := encodeState(st)
	if err != nil {
		return ConversationState{}, err
	}
	created := st.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO conversations(id, user_id, chat_id, state_json, version, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, 1, ?, ?)
ON CONFLICT(id) DO NOTHING`, st.ConversationID, st.UserID, st.ChatID, raw, created.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return ConversationState{}, fmt.Errorf("create conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.GetConversation(ctx, st.ConversationID)
	}
	st.Version = 1
	st.CreatedAt = created
	return st, nil
}

func (s *SQLiteStore) UpdateConversationState(ctx context.Context, st ConversationState) (int64, error) {
	raw, err := encodeState(st)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE conversations
SET state_json = ?, version = version + 1, updated_at_ms = ?
WHERE id = ? AND version = ?`, raw, time.Now().UnixMilli(), st.ConversationID, st.Version)
	if err != nil {
		return 0, fmt.Errorf("update conversation state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update conversation state rows: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations WHERE id = ?`, st.ConversationID).Scan(&exists); err != nil {
			return 0, fmt.Errorf("update conversation state lookup: %w", err)
		}
		if exists == 0 {
			return 0, ErrNotFound
		}
		return 0, ErrStaleState
	}
	return st.Version + 1, nil
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete conversation begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM fragment_tags WHERE fragment_id IN (SELECT id FROM memory_fragments WHERE conversation_id = ?)`,
		`DELETE FROM memory_fragments WHERE conversation_id = ?`,
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, conversationID); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete conversation commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	userID = strings.TrimSpace(userID)
	rows, err := s.db.QueryContext(ctx, `
SELECT c.id, c.user_id, c.chat_id, c.state_json, c.created_at_ms, c.updated_at_ms,
	(SELECT COUNT(1) FROM messages m WHERE m.conversation_id = c.id)
FROM conversations c
WHERE (? = '' OR c.user_id = ?)
ORDER BY c.updated_at_ms DESC, c.id ASC
LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := []ConversationSummary{}
	for rows.Next() {
		var sum ConversationSummary
		var raw string
		var createdMS, updatedMS int64
		if err := rows.Scan(&sum.ConversationID, &sum.UserID, &sum.ChatID, &raw, &createdMS, &updatedMS, &sum.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		var rec stateRecord
		if json.Unmarshal([]byte(raw), &rec) == nil {
			sum.InteractionCount = rec.InteractionCount
		}
		sum.CreatedAt = time.UnixMilli(createdMS)
		sum.UpdatedAt = time.UnixMilli(updatedMS)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountConversations(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.ConversationID) == "" {
		return fmt.Errorf("append message: empty conversation_id")
	}
	if msg.Role != RoleUser && msg.Role != RoleAgent {
		return fmt.Errorf("append message: invalid role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	analysisJSON := ""
	if msg.Analysis != nil {
		b, err := json.Marshal(msg.Analysis)
		if err != nil {
			return fmt.Errorf("append message encode analysis: %w", err)
		}
		analysisJSON = string(b)
	}

	if _, err := s.db.ExecContext(ctx, `
INSERT INTO messages(id, conversation_id, role, content, analysis_json, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?)`, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, analysisJSON, msg.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("append message insert: %w", err)
	}
	return nil
}

// ListRecentMessages returns up to limit messages, oldest first.
func (s *SQLiteStore) ListRecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, conversation_id, role, content, analysis_json, created_at_ms
FROM messages
WHERE conversation_id = ?
ORDER BY seq DESC
LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	out := make([]Message, 0, limit)
	for rows.Next() {
		var msg Message
		var role, analysisJSON string
		var createdMS int64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &analysisJSON, &createdMS); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = Role(role)
		msg.CreatedAt = time.UnixMilli(createdMS)
		if analysisJSON != "" {
			var a analysis.Analysis
			if json.Unmarshal([]byte(analysisJSON), &a) == nil {
				msg.Analysis = &a
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) InsertFragment(ctx context.Context, f Fragment) (Fragment, error) {
	if strings.TrimSpace(f.ConversationID) == "" {
		return Fragment{}, fmt.Errorf("insert fragment: empty conversation_id")
	}
	if !f.Type.Valid() {
		return Fragment{}, fmt.Errorf("insert fragment: invalid type %q", f.Type)
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	f.Weight = clamp01(f.Weight)
	if f.AccessedCount < 0 {
		f.AccessedCount = 0
	}
	f.Tags = uniqueStrings(f.Tags)
	lastAccessed := int64(0)
	if !f.LastAccessedAt.IsZero() {
		lastAccessed = f.LastAccessedAt.UnixMilli()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Fragment{}, fmt.Errorf("insert fragment begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO memory_fragments(id, conversation_id, type, content, weight, accessed_count, last_accessed_ms, created_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`, f.ID, f.ConversationID, string(f.Type), f.Content, f.Weight, f.AccessedCount, lastAccessed, f.CreatedAt.UnixMilli()); err != nil {
		return Fragment{}, fmt.Errorf("insert fragment: %w", err)
	}
	for _, tag := range f.Tags {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO fragment_tags(fragment_id, tag) VALUES(?, ?)`, f.ID, tag); err != nil {
			return Fragment{}, fmt.Errorf("insert fragment tag: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Fragment{}, fmt.Errorf("insert fragment commit: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) QueryFragments(ctx context.Context, q FragmentQuery) ([]Fragment, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	where := []string{"f.conversation_id = ?"}
	args := []any{q.ConversationID}

	if len(q.Types) > 0 {
		where = append(where, "f.type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}

	var match []string
	if tags := uniqueStrings(q.AnyTags); len(tags) > 0 {
		match = append(match, "EXISTS (SELECT 1 FROM fragment_tags t WHERE t.fragment_id = f.id AND t.tag IN ("+placeholders(len(tags))+"))")
		for _, tag := range tags {
			args = append(args, tag)
		}
	}
	for _, term := range uniqueStrings(q.ContentAny) {
		match = append(match, `lower(f.content) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(term))+"%")
	}
	if len(match) > 0 {
		where = append(where, "("+strings.Join(match, " OR ")+")")
	}

	order := "f.weight DESC, f.created_at_ms ASC, f.rowid ASC"
	if q.OrderByRecent {
		order = "MAX(f.last_accessed_ms, f.created_at_ms) DESC, f.rowid ASC"
	}
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, `
SELECT f.id, f.conversation_id, f.type, f.content, f.weight, f.accessed_count, f.last_accessed_ms, f.created_at_ms
FROM memory_fragments f
WHERE `+strings.Join(where, " AND ")+`
ORDER BY `+order+`
LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query fragments: %w", err)
	}
	out, err := scanFragments(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachTags(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanFragments(rows *sql.Rows) ([]Fragment, error) {
	defer rows.Close()
	out := []Fragment{}
	for rows.Next() {
		var f Fragment
		var typ string
		var lastMS, createdMS int64
		if err := rows.Scan(&f.ID, &f.ConversationID, &typ, &f.Content, &f.Weight, &f.AccessedCount, &lastMS, &createdMS); err != nil {
			return nil, fmt.Errorf("scan fragment: %w", err)
		}
		f.Type = FragmentType(typ)
		f.CreatedAt = time.UnixMilli(createdMS)
		if lastMS > 0 {
			f.LastAccessedAt = time.UnixMilli(lastMS)
		}
		f.Tags = []string{}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragments: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) attachTags(ctx context.Context, frags []Fragment) error {
	if len(frags) == 0 {
		return nil
	}
	idx := make(map[string]int, len(frags))
	args := make([]any, 0, len(frags))
	for i, f := range frags {
		idx[f.ID] = i
		args = append(args, f.ID)
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT fragment_id, tag FROM fragment_tags
WHERE fragment_id IN (`+placeholders(len(args))+`)
ORDER BY fragment_id, tag`, args...)
	if err != nil {
		return fmt.Errorf("load fragment tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return fmt.Errorf("scan fragment tag: %w", err)
		}
		if i, ok := idx[id]; ok {
			frags[i].Tags = append(frags[i].Tags, tag)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate fragment tags: %w", err)
	}
	return nil
}

// TouchFragments bumps the access bookkeeping of every id.
func (s *SQLiteStore) TouchFragments(ctx context.Context, ids []string, at time.Time) error {
	ids = uniqueStrings(ids)
	if len(ids) == 0 {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	args := []any{at.UnixMilli()}
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := s.db.ExecContext(ctx, `
UPDATE memory_fragments
SET accessed_count = accessed_count + 1, last_accessed_ms = ?
WHERE id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return fmt.Errorf("touch fragments: %w", err)
	}
	return nil
}

// Maintain checkpoints the WAL and refreshes planner statistics.
func (s *SQLiteStore) Maintain(ctx context.Context) error {
	for _, stmt := range []string{`PRAGMA wal_checkpoint(TRUNCATE);`, `PRAGMA optimize;`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("maintain %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func uniqueStrings(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
