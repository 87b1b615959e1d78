package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xpadev-net/memorial-livestream/internal/ids"
	"github.com/xpadev-net/memorial-livestream/internal/stream"
)

const streamColumns = `id, memorial_id, title, status, visibility, provider,
	provider_input_id, provider_asset_id, ingest_credentials, started_at, ended_at,
	recording, live_miss_count, needs_manual_recording_check, last_error,
	created_at, updated_at`

// StreamRepository is the Postgres stream.Store.
type StreamRepository struct {
	db *DB
}

// NewStreamRepository creates a new stream repository.
func NewStreamRepository(db *DB) *StreamRepository {
	return &StreamRepository{db: db}
}

var _ stream.Store = (*StreamRepository)(nil)

type scanner interface {
	Scan(dest ...any) error
}

func scanStream(row scanner) (*stream.Stream, error) {
	var (
		s         stream.Stream
		credsJSON []byte
		recJSON   []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.MemorialID,
		&s.Title,
		&s.Status,
		&s.Visibility,
		&s.Provider,
		&s.ProviderInputID,
		&s.ProviderAssetID,
		&credsJSON,
		&s.StartedAt,
		&s.EndedAt,
		&recJSON,
		&s.LiveMissCount,
		&s.NeedsManualRecordingCheck,
		&s.LastError,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(credsJSON) > 0 {
		var creds stream.IngestCredentials
		if err := json.Unmarshal(credsJSON, &creds); err != nil {
			return nil, fmt.Errorf("unmarshal ingest_credentials: %w", err)
		}
		s.IngestCredentials = &creds
	}
	if len(recJSON) > 0 {
		var rec stream.Recording
		if err := json.Unmarshal(recJSON, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal recording: %w", err)
		}
		s.Recording = &rec
	}
	return &s, nil
}

func nullableJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case *stream.IngestCredentials:
		if t == nil {
			return nil, nil
		}
	case *stream.Recording:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

// Create inserts a stream and returns its id.
func (r *StreamRepository) Create(ctx context.Context, s *stream.Stream) (string, error) {
	if s.MemorialID == "" {
		return "", fmt.Errorf("memorial id is required: %w", stream.ErrInvalid)
	}
	if !s.Provider.Valid() {
		return "", fmt.Errorf("provider %q: %w", s.Provider, stream.ErrInvalid)
	}

	id := s.ID
	if id == "" {
		id = ids.NewStreamID()
	}
	status := s.Status
	if status == "" {
		status = stream.StatusScheduled
	}
	visibility := s.Visibility
	if visibility == "" {
		visibility = stream.VisibilityPublic
	}
	creds, err := nullableJSON(s.IngestCredentials)
	if err != nil {
		return "", fmt.Errorf("marshal ingest_credentials: %w", err)
	}
	rec, err := nullableJSON(s.Recording)
	if err != nil {
		return "", fmt.Errorf("marshal recording: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO streams (id, memorial_id, title, status, visibility, provider,
			provider_input_id, provider_asset_id, ingest_credentials, started_at, ended_at,
			recording, live_miss_count, needs_manual_recording_check, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, id, s.MemorialID, s.Title, status, visibility, s.Provider,
		s.ProviderInputID, s.ProviderAssetID, creds, s.StartedAt, s.EndedAt,
		rec, s.LiveMissCount, s.NeedsManualRecordingCheck, s.LastError)
	if err != nil {
		if isDuplicateKeyError(err) {
			return "", fmt.Errorf("stream %s already exists: %w", id, stream.ErrConflict)
		}
		return "", fmt.Errorf("insert stream: %w", err)
	}
	return id, nil
}

// Get retrieves a stream by ID.
func (r *StreamRepository) Get(ctx context.Context, id string) (*stream.Stream, error) {
	row := r.db.pool.QueryRow(ctx, `SELECT `+streamColumns+` FROM streams WHERE id = $1`, id)
	s, err := scanStream(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stream %s: %w", id, stream.ErrNotFound)
		}
		return nil, fmt.Errorf("query stream: %w", err)
	}
	return s, nil
}

// buildUpdate renders a merge patch into SET clauses. $1 is reserved for
// the stream id.
func buildUpdate(p stream.Patch) ([]string, []any, error) {
	setClauses := []string{"updated_at = NOW()"}
	args := []any{nil}
	add := func(column string, v any) {
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if p.Title != nil {
		add("title", *p.Title)
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Visibility != nil {
		add("visibility", *p.Visibility)
	}
	if p.ProviderInputID != nil {
		add("provider_input_id", *p.ProviderInputID)
	}
	if p.ProviderAssetID != nil {
		add("provider_asset_id", *p.ProviderAssetID)
	}
	if p.IngestCredentials != nil {
		b, err := json.Marshal(p.IngestCredentials)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal ingest_credentials: %w", err)
		}
		add("ingest_credentials", b)
	}
	if p.StartedAt != nil {
		add("started_at", *p.StartedAt)
	}
	if p.EndedAt != nil {
		add("ended_at", *p.EndedAt)
	}
	if p.Recording != nil {
		b, err := json.Marshal(p.Recording)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal recording: %w", err)
		}
		add("recording", b)
	}
	if p.LiveMissCount != nil {
		add("live_miss_count", *p.LiveMissCount)
	}
	if p.NeedsManualRecordingCheck != nil {
		add("needs_manual_recording_check", *p.NeedsManualRecordingCheck)
	}
	if p.LastError != nil {
		add("last_error", *p.LastError)
	}
	return setClauses, args, nil
}

// Update merges patch into the stream and bumps updated_at. Unspecified
// columns are never written.
func (r *StreamRepository) Update(ctx context.Context, id string, patch stream.Patch) (*stream.Stream, error) {
	if patch.Empty() {
		return r.Get(ctx, id)
	}
	setClauses, args, err := buildUpdate(patch)
	if err != nil {
		return nil, err
	}
	args[0] = id

	query := fmt.Sprintf(`
		UPDATE streams
		SET %s
		WHERE id = $1
		RETURNING %s
	`, strings.Join(setClauses, ", "), streamColumns)

	s, err := scanStream(r.db.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stream %s: %w", id, stream.ErrNotFound)
		}
		return nil, fmt.Errorf("update stream: %w", err)
	}
	return s, nil
}

// Delete removes a stream.
func (r *StreamRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.pool.Exec(ctx, `DELETE FROM streams WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("stream %s: %w", id, stream.ErrNotFound)
	}
	return nil
}

// ListByMemorial retrieves a memorial's streams, newest first.
func (r *StreamRepository) ListByMemorial(ctx context.Context, memorialID string, filter stream.ListFilter) ([]*stream.Stream, int, error) {
	filter.Normalize()

	where := []string{"memorial_id = $1"}
	args := []any{memorialID}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Visibility != nil {
		args = append(args, *filter.Visibility)
		where = append(where, fmt.Sprintf("visibility = $%d", len(args)))
	}
	baseQuery := "FROM streams WHERE " + strings.Join(where, " AND ")

	var total int
	if err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) "+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count streams: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, streamColumns, baseQuery, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	streams, err := r.queryStreams(ctx, selectQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return streams, total, nil
}

func (r *StreamRepository) queryStreams(ctx context.Context, query string, args ...any) ([]*stream.Stream, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	streams := []*stream.Stream{}
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		streams = append(streams, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return streams, nil
}

// FindByProviderInputID looks a stream up by its vendor ingest id. When an
// input was reused, the newest stream wins.
func (r *StreamRepository) FindByProviderInputID(ctx context.Context, p stream.Provider, inputID string) (*stream.Stream, error) {
	if inputID == "" {
		return nil, stream.ErrNotFound
	}
	return r.findOne(ctx, "provider_input_id", p, inputID)
}

// FindByProviderAssetID looks a stream up by its vendor asset id.
func (r *StreamRepository) FindByProviderAssetID(ctx context.Context, p stream.Provider, assetID string) (*stream.Stream, error) {
	if assetID == "" {
		return nil, stream.ErrNotFound
	}
	return r.findOne(ctx, "provider_asset_id", p, assetID)
}

func (r *StreamRepository) findOne(ctx context.Context, column string, p stream.Provider, value string) (*stream.Stream, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM streams
		WHERE provider = $1 AND %s = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, streamColumns, column)
	s, err := scanStream(r.db.pool.QueryRow(ctx, query, p, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("stream for %s %s: %w", column, value, stream.ErrNotFound)
		}
		return nil, fmt.Errorf("query stream by %s: %w", column, err)
	}
	return s, nil
}

// ListReconcilable returns streams the poller still needs to look at,
// least recently updated first.
func (r *StreamRepository) ListReconcilable(ctx context.Context, limit int) ([]*stream.Stream, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.queryStreams(ctx, `
		SELECT `+streamColumns+`
		FROM streams
		WHERE provider_input_id <> ''
		  AND (
		    status IN ($1, $2)
		    OR (status = $3
		        AND NOT needs_manual_recording_check
		        AND COALESCE((recording->>'ready')::boolean, FALSE) = FALSE)
		  )
		ORDER BY updated_at
		LIMIT $4
	`, stream.StatusArmed, stream.StatusLive, stream.StatusCompleted, limit)
}

// GetMemorial retrieves a memorial.
func (r *StreamRepository) GetMemorial(ctx context.Context, id string) (*stream.Memorial, error) {
	var m stream.Memorial
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, owner_id, funeral_director_id, created_at FROM memorials WHERE id = $1
	`, id).Scan(&m.ID, &m.OwnerID, &m.FuneralDirectorID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("memorial %s: %w", id, stream.ErrNotFound)
		}
		return nil, fmt.Errorf("query memorial: %w", err)
	}
	return &m, nil
}

// UpsertMemorial inserts or updates a memorial's ownership.
func (r *StreamRepository) UpsertMemorial(ctx context.Context, m *stream.Memorial) error {
	if m.ID == "" {
		return fmt.Errorf("memorial id is required: %w", stream.ErrInvalid)
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO memorials (id, owner_id, funeral_director_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id, funeral_director_id = EXCLUDED.funeral_director_id
	`, m.ID, m.OwnerID, m.FuneralDirectorID)
	if err != nil {
		return fmt.Errorf("upsert memorial: %w", err)
	}
	return nil
}

// AppendAudit records an administrative action.
func (r *StreamRepository) AppendAudit(ctx context.Context, e *stream.AuditEntry) error {
	id := e.ID
	if id == "" {
		id = ids.NewAuditID()
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO stream_audit (id, stream_id, memorial_id, actor_id, actor_role, action, from_status, to_status, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id, e.StreamID, e.MemorialID, e.ActorID, e.ActorRole, e.Action, e.FromStatus, e.ToStatus, e.Detail)
	if err != nil {
		return fmt.Errorf("insert stream_audit: %w", err)
	}
	return nil
}

// ListAudit returns a stream's audit entries, newest first.
func (r *StreamRepository) ListAudit(ctx context.Context, streamID string, limit int) ([]*stream.AuditEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, stream_id, memorial_id, actor_id, actor_role, action, from_status, to_status, detail, created_at
		FROM stream_audit
		WHERE stream_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("query stream_audit: %w", err)
	}
	defer rows.Close()

	entries := []*stream.AuditEntry{}
	for rows.Next() {
		var e stream.AuditEntry
		if err := rows.Scan(
			&e.ID,
			&e.StreamID,
			&e.MemorialID,
			&e.ActorID,
			&e.ActorRole,
			&e.Action,
			&e.FromStatus,
			&e.ToStatus,
			&e.Detail,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream_audit: %w", err)
	}
	return entries, nil
}
