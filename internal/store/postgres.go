package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in a single jsonb-backed table. Change
// subscriptions are in-process: subscribers observe mutations made through
// this instance, which is all the engine needs for its realtime feed.
type PostgresStore struct {
	pool *pgxpool.Pool

	mu        sync.Mutex
	subs      map[string]map[int]subscription
	nextSubID int
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{
		pool: pool,
		subs: make(map[string]map[int]subscription),
	}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS engine_records (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_engine_records_collection ON engine_records (collection, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_engine_records_data ON engine_records USING gin (data);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, collection string, data map[string]any) (Record, error) {
	now := time.Now().UTC()
	rec := Record{
		ID:        uuid.NewString(),
		Data:      data,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("encode record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO engine_records (id, collection, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, collection, payload, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert %s: %w", collection, err)
	}
	s.publish(collection, Change{Kind: ChangeInsert, Collection: collection, Record: rec})
	return rec, nil
}

func (s *PostgresStore) Update(ctx context.Context, collection, id string, patch map[string]any) (Record, error) {
	payload, err := json.Marshal(patch)
	if err != nil {
		return Record{}, fmt.Errorf("encode patch: %w", err)
	}
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx,
		`UPDATE engine_records SET data = data || $3::jsonb, updated_at = $4
		 WHERE id = $1 AND collection = $2
		 RETURNING data, created_at`,
		id, collection, payload, now,
	)
	var raw []byte
	var createdAt time.Time
	if err := row.Scan(&raw, &createdAt); err != nil {
		return Record{}, ErrNotFound
	}
	rec := Record{ID: id, CreatedAt: createdAt, UpdatedAt: now}
	if err := json.Unmarshal(raw, &rec.Data); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	s.publish(collection, Change{Kind: ChangeUpdate, Collection: collection, Record: rec})
	return rec, nil
}

func (s *PostgresStore) Query(ctx context.Context, collection string, filter Filter) ([]Record, error) {
	match, err := json.Marshal(map[string]any(filter))
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, data, created_at, updated_at FROM engine_records
		 WHERE collection = $1 AND data @> $2::jsonb
		 ORDER BY created_at`,
		collection, match,
	)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var raw []byte
		if err := rows.Scan(&rec.ID, &raw, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Data); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Subscribe(collection string, filter Filter, onChange func(Change)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if _, ok := s.subs[collection]; !ok {
		s.subs[collection] = make(map[int]subscription)
	}
	s.subs[collection][id] = subscription{filter: filter, onChange: onChange}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[collection], id)
		})
	}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) publish(collection string, c Change) {
	s.mu.Lock()
	var fns []func(Change)
	for _, sub := range s.subs[collection] {
		if Matches(c.Record.Data, sub.filter) {
			fns = append(fns, sub.onChange)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
