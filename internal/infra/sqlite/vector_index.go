package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jinford/ticket-rag/internal/core/domain"
	"github.com/jinford/ticket-rag/internal/infra/sqlite/migrations"
)

const (
	metaKeyDimension = "dimension"
	metaKeyModel     = "embedding_model"
)

// VectorIndex は SQLite ファイルにベクトルを保存し、ブルートフォースでコサイン類似度検索を行う
type VectorIndex struct {
	db        *sql.DB
	path      string
	dimension int
}

// Open は path の SQLite ファイルを開き（なければ作成し）、次元数を検証する。
// 既存インデックスの次元が異なる場合は ErrDimensionMismatch を返す
func Open(ctx context.Context, path string, dimension int, model string) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrInvalidInput, dimension)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: creating data directory: %v", domain.ErrIndexUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", domain.ErrIndexUnavailable, err)
	}

	x := &VectorIndex{db: db, path: path, dimension: dimension}

	if err := x.migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: running migrations: %v", domain.ErrIndexUnavailable, err)
	}

	if err := x.ensureDimension(ctx, model); err != nil {
		db.Close()
		return nil, err
	}

	return x, nil
}

// migrate は未適用のマイグレーションを順に実行する
func (x *VectorIndex) migrate(ctx context.Context, fsys embed.FS) error {
	_, err := x.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := x.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := x.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := x.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// ensureDimension は初回作成時に次元を記録し、以降は一致を検証する
func (x *VectorIndex) ensureDimension(ctx context.Context, model string) error {
	var stored string
	err := x.db.QueryRowContext(ctx, "SELECT value FROM index_meta WHERE key = ?", metaKeyDimension).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = x.db.ExecContext(ctx,
			"INSERT INTO index_meta (key, value) VALUES (?, ?), (?, ?)",
			metaKeyDimension, strconv.Itoa(x.dimension),
			metaKeyModel, model,
		)
		if err != nil {
			return fmt.Errorf("%w: recording index metadata: %v", domain.ErrIndexUnavailable, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("%w: reading index metadata: %v", domain.ErrIndexUnavailable, err)
	}

	storedDim, err := strconv.Atoi(stored)
	if err != nil {
		return fmt.Errorf("%w: corrupted dimension metadata %q", domain.ErrDimensionMismatch, stored)
	}
	if storedDim != x.dimension {
		return fmt.Errorf("%w: index %s was created with dimension %d, configured %d",
			domain.ErrDimensionMismatch, x.path, storedDim, x.dimension)
	}
	return nil
}

// Path はデータベースファイルのパスを返す
func (x *VectorIndex) Path() string {
	return x.path
}

func (x *VectorIndex) Dimension() int {
	return x.dimension
}

func (x *VectorIndex) Upsert(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	if err := domain.CheckDimension(x.dimension, doc.Vector); err != nil {
		return err
	}

	_, err := x.db.ExecContext(ctx, `
		INSERT INTO ticket_embeddings
			(ticket_id, embedding, dimension, subject, body, resolution, status, priority, created_at, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(ticket_id) DO UPDATE SET
			embedding  = excluded.embedding,
			dimension  = excluded.dimension,
			subject    = excluded.subject,
			body       = excluded.body,
			resolution = excluded.resolution,
			status     = excluded.status,
			priority   = excluded.priority,
			created_at = excluded.created_at,
			indexed_at = CURRENT_TIMESTAMP
	`,
		doc.ID, float32SliceToBytes(doc.Vector), len(doc.Vector),
		doc.Ticket.Subject, doc.Ticket.Body, doc.Ticket.Resolution,
		doc.Ticket.Status, doc.Ticket.Priority, doc.Ticket.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: upserting %s: %v", domain.ErrIndexUnavailable, doc.ID, err)
	}
	return nil
}

func (x *VectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidInput, topK)
	}
	if err := domain.CheckDimension(x.dimension, vector); err != nil {
		return nil, err
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT ticket_id, embedding, subject, body, resolution, status, priority, created_at
		FROM ticket_embeddings
		WHERE dimension = ?
	`, x.dimension)
	if err != nil {
		return nil, fmt.Errorf("%w: querying embeddings: %v", domain.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	hits := make([]domain.Hit, 0)
	for rows.Next() {
		var (
			t    domain.Ticket
			blob []byte
		)
		if err := rows.Scan(&t.ID, &blob, &t.Subject, &t.Body, &t.Resolution, &t.Status, &t.Priority, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning embedding row: %v", domain.ErrIndexUnavailable, err)
		}
		stored := bytesToFloat32Slice(blob)
		if len(stored) != x.dimension {
			continue
		}
		hits = append(hits, domain.Hit{
			ID:     t.ID,
			Ticket: t,
			Score:  domain.CosineSimilarity(vector, stored),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating embeddings: %v", domain.ErrIndexUnavailable, err)
	}

	domain.SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (x *VectorIndex) Delete(ctx context.Context, id string) error {
	if _, err := x.db.ExecContext(ctx, "DELETE FROM ticket_embeddings WHERE ticket_id = ?", id); err != nil {
		return fmt.Errorf("%w: deleting %s: %v", domain.ErrIndexUnavailable, id, err)
	}
	return nil
}

func (x *VectorIndex) Count(ctx context.Context) (int, error) {
	var count int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ticket_embeddings").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: counting embeddings: %v", domain.ErrIndexUnavailable, err)
	}
	return count, nil
}

// Ping はデータベースへの疎通を確認する
func (x *VectorIndex) Ping(ctx context.Context) error {
	return x.db.PingContext(ctx)
}

func (x *VectorIndex) Close() error {
	return x.db.Close()
}

// float32SliceToBytes は []float32 をリトルエンディアンのバイト列に変換する
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice はバイト列を []float32 に戻す
func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}

// インターフェース実装の確認
var _ domain.VectorIndex = (*VectorIndex)(nil)
