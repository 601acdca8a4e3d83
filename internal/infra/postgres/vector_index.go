package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/jinford/ticket-rag/internal/core/domain"
	"github.com/jinford/ticket-rag/internal/platform/database"
)

const (
	metaKeyDimension = "dimension"
	metaKeyModel     = "embedding_model"

	// schemaLockName はスキーマ初期化を直列化するアドバイザリロックのキー
	schemaLockName = "ticket-rag:schema"
)

// VectorIndex は pgvector 拡張を使った domain.VectorIndex 実装
type VectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

// インターフェース実装の確認
var _ domain.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex はスキーマを作成し、保存済みの次元数と一致することを確認する
func NewVectorIndex(ctx context.Context, pool *pgxpool.Pool, dimension int, model string) (*VectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive, got %d", domain.ErrInvalidInput, dimension)
	}

	x := &VectorIndex{pool: pool, dimension: dimension}
	if err := x.ensureSchema(ctx, model); err != nil {
		return nil, err
	}
	return x, nil
}

// ensureSchema は拡張とテーブルを作成し、インデックスのメタデータを検証する。
// 複数プロセスが同時に起動しても安全なようにトランザクションスコープのロック内で実行する
func (x *VectorIndex) ensureSchema(ctx context.Context, model string) error {
	_, err := database.Transact(ctx, x.pool, func(tx pgx.Tx) (struct{}, error) {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", GenerateLockID(schemaLockName)); err != nil {
			return struct{}{}, fmt.Errorf("%w: acquiring schema lock: %v", domain.ErrIndexUnavailable, err)
		}

		statements := []string{
			`CREATE EXTENSION IF NOT EXISTS vector`,
			`CREATE TABLE IF NOT EXISTS index_meta (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ticket_embeddings (
				ticket_id  TEXT PRIMARY KEY,
				embedding  vector(%d) NOT NULL,
				subject    TEXT NOT NULL DEFAULT '',
				body       TEXT NOT NULL DEFAULT '',
				resolution TEXT NOT NULL DEFAULT '',
				status     TEXT NOT NULL DEFAULT '',
				priority   TEXT NOT NULL DEFAULT '',
				created_at TEXT NOT NULL DEFAULT '',
				indexed_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, x.dimension),
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return struct{}{}, fmt.Errorf("%w: creating schema: %v", domain.ErrIndexUnavailable, err)
			}
		}

		var stored string
		err := tx.QueryRow(ctx, `SELECT value FROM index_meta WHERE key = $1`, metaKeyDimension).Scan(&stored)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			_, err = tx.Exec(ctx, `
				INSERT INTO index_meta (key, value) VALUES ($1, $2), ($3, $4)
				ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
			`, metaKeyDimension, strconv.Itoa(x.dimension), metaKeyModel, model)
			if err != nil {
				return struct{}{}, fmt.Errorf("%w: writing index metadata: %v", domain.ErrIndexUnavailable, err)
			}
		case err != nil:
			return struct{}{}, fmt.Errorf("%w: reading index metadata: %v", domain.ErrIndexUnavailable, err)
		default:
			if stored != strconv.Itoa(x.dimension) {
				return struct{}{}, fmt.Errorf("%w: index was created with dimension %s, embedder produces %d",
					domain.ErrDimensionMismatch, stored, x.dimension)
			}
		}
		return struct{}{}, nil
	})
	return err
}

// Dimension はベクトル次元数を返す
func (x *VectorIndex) Dimension() int {
	return x.dimension
}

// Upsert はチケットIDをキーにベクトルとメタデータを保存する
func (x *VectorIndex) Upsert(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("%w: document id is empty", domain.ErrInvalidInput)
	}
	if err := domain.CheckDimension(x.dimension, doc.Vector); err != nil {
		return err
	}

	t := doc.Ticket
	_, err := x.pool.Exec(ctx, `
		INSERT INTO ticket_embeddings
			(ticket_id, embedding, subject, body, resolution, status, priority, created_at, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (ticket_id) DO UPDATE SET
			embedding  = EXCLUDED.embedding,
			subject    = EXCLUDED.subject,
			body       = EXCLUDED.body,
			resolution = EXCLUDED.resolution,
			status     = EXCLUDED.status,
			priority   = EXCLUDED.priority,
			created_at = EXCLUDED.created_at,
			indexed_at = now()
	`, doc.ID, pgvector.NewVector(doc.Vector), t.Subject, t.Body, t.Resolution, t.Status, t.Priority, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: upserting %s: %v", domain.ErrIndexUnavailable, doc.ID, err)
	}
	return nil
}

// Query はコサイン距離の昇順（類似度の降順）で最大 topK 件を返す。
// 同点の場合はチケットIDの昇順
func (x *VectorIndex) Query(ctx context.Context, vector []float32, topK int) ([]domain.Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", domain.ErrInvalidInput, topK)
	}
	if err := domain.CheckDimension(x.dimension, vector); err != nil {
		return nil, err
	}

	rows, err := x.pool.Query(ctx, `
		SELECT ticket_id, subject, body, resolution, status, priority, created_at,
		       1 - (embedding <=> $1) AS score
		FROM ticket_embeddings
		ORDER BY embedding <=> $1, ticket_id
		LIMIT $2
	`, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: querying vectors: %v", domain.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	hits := make([]domain.Hit, 0, topK)
	for rows.Next() {
		var (
			t     domain.Ticket
			score float64
		)
		if err := rows.Scan(&t.ID, &t.Subject, &t.Body, &t.Resolution, &t.Status, &t.Priority, &t.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("%w: scanning row: %v", domain.ErrIndexUnavailable, err)
		}
		hits = append(hits, domain.Hit{ID: t.ID, Ticket: t, Score: clampScore(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating rows: %v", domain.ErrIndexUnavailable, err)
	}

	// 浮動小数点誤差で順序が崩れないよう、スコアで再度整列する
	domain.SortHits(hits)
	return hits, nil
}

// Delete はチケットを削除する。存在しない場合は何もしない
func (x *VectorIndex) Delete(ctx context.Context, id string) error {
	if _, err := x.pool.Exec(ctx, `DELETE FROM ticket_embeddings WHERE ticket_id = $1`, id); err != nil {
		return fmt.Errorf("%w: deleting %s: %v", domain.ErrIndexUnavailable, id, err)
	}
	return nil
}

// Count は格納済みチケット数を返す
func (x *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_embeddings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: counting vectors: %v", domain.ErrIndexUnavailable, err)
	}
	return n, nil
}

// Ping はデータベースへの疎通を確認する
func (x *VectorIndex) Ping(ctx context.Context) error {
	if err := x.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Close は何もしない。接続プールの所有者が閉じる
func (x *VectorIndex) Close() error {
	return nil
}

// clampScore はゼロベクトル由来の NaN や誤差を [-1, 1] に収める
func clampScore(s float64) float64 {
	switch {
	case s != s:
		return 0
	case s > 1:
		return 1
	case s < -1:
		return -1
	}
	return s
}
