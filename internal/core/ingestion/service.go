package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// SkippedTicket はインデックス化されなかったレコード
type SkippedTicket struct {
	ID     string
	Index  int
	Reason string
}

// IndexResult はインデックス化処理の結果を表す
type IndexResult struct {
	Total      int // 入力レコード数
	Indexed    int // 保存できたチケット数
	Duplicates int // 後続の同一IDで置き換えられたレコード数
	Skipped    []SkippedTicket
	Duration   time.Duration
}

// SkippedIDs はスキップされたチケットIDの一覧を返す
func (r *IndexResult) SkippedIDs() []string {
	ids := make([]string, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		ids = append(ids, s.ID)
	}
	return ids
}

// Indexer はチケットのインデックス化ユースケースを提供する
type Indexer struct {
	index    domain.VectorIndex
	embedder domain.Embedder
	lock     IndexLock
	lockKey  string
	config   *PipelineConfig
	logger   *slog.Logger
}

type indexerOptions struct {
	lock    IndexLock
	lockKey string
	config  *PipelineConfig
	logger  *slog.Logger
}

// IndexerOption は Indexer のオプション設定
type IndexerOption func(*indexerOptions)

// WithIndexLogger は Indexer にロガーを設定する
func WithIndexLogger(logger *slog.Logger) IndexerOption {
	return func(o *indexerOptions) {
		o.logger = logger
	}
}

// WithIndexLock はジョブの排他ロックを設定する
func WithIndexLock(lock IndexLock, key string) IndexerOption {
	return func(o *indexerOptions) {
		o.lock = lock
		o.lockKey = key
	}
}

// WithIndexPipelineConfig はパイプライン設定を上書きする
func WithIndexPipelineConfig(cfg *PipelineConfig) IndexerOption {
	return func(o *indexerOptions) {
		o.config = cfg
	}
}

// NewIndexer は新しい Indexer を作成する
func NewIndexer(index domain.VectorIndex, embedder domain.Embedder, opts ...IndexerOption) *Indexer {
	options := indexerOptions{
		lock:    NoopLock{},
		lockKey: DefaultLockKey,
		config:  DefaultPipelineConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.lock == nil {
		options.lock = NoopLock{}
	}
	if options.lockKey == "" {
		options.lockKey = DefaultLockKey
	}
	if options.config == nil {
		options.config = DefaultPipelineConfig()
	}
	if options.config.BatchSize < MinBatchSize {
		options.config.BatchSize = DefaultBatchSize
	}

	return &Indexer{
		index:    index,
		embedder: embedder,
		lock:     options.lock,
		lockKey:  options.lockKey,
		config:   options.config,
		logger:   options.logger,
	}
}

// IndexFile はチケットファイルを読み込んでインデックス化する。
// 読み込み時に除外されたレコードも Skipped に含めて報告する
func (s *Indexer) IndexFile(ctx context.Context, path string) (*IndexResult, error) {
	loaded, err := LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("チケットファイルの読み込みに失敗: %w", err)
	}

	for _, le := range loaded.Errors {
		s.logger.Warn("不正なレコードを除外", "path", path, "index", le.Index, "reason", le.Reason)
	}

	result, err := s.indexTickets(ctx, loaded.Tickets, loaded.Positions)
	if result != nil {
		result.Total = loaded.Total()
		for _, le := range loaded.Errors {
			result.Skipped = append(result.Skipped, SkippedTicket{ID: le.ID, Index: le.Index, Reason: le.Reason})
		}
		sort.SliceStable(result.Skipped, func(i, j int) bool {
			return result.Skipped[i].Index < result.Skipped[j].Index
		})
	}
	return result, err
}

// IndexTickets はチケット群をインデックス化する。
// 個別の不正レコードはスキップして結果に報告し、Embedding サービスやインデックスの障害では
// 途中までの結果とともにエラーを返す
func (s *Indexer) IndexTickets(ctx context.Context, tickets []domain.Ticket) (*IndexResult, error) {
	positions := make([]int, len(tickets))
	for i := range tickets {
		positions[i] = i
	}
	return s.indexTickets(ctx, tickets, positions)
}

func (s *Indexer) indexTickets(ctx context.Context, tickets []domain.Ticket, positions []int) (*IndexResult, error) {
	startTime := time.Now()
	result := &IndexResult{Total: len(tickets)}
	defer func() {
		result.Duration = time.Since(startTime)
	}()

	if s.embedder.Dimension() != s.index.Dimension() {
		return result, fmt.Errorf("%w: embedder produces %d dimensions, index expects %d",
			domain.ErrDimensionMismatch, s.embedder.Dimension(), s.index.Dimension())
	}

	release, err := s.lock.TryAcquire(ctx, s.lockKey)
	if err != nil {
		return result, fmt.Errorf("インデックス作成ロックの取得に失敗: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("インデックス作成ロックの解放に失敗", "error", err)
		}
	}()

	unique, uniquePositions := dedupeWithPositions(tickets, positions)
	result.Duplicates = len(tickets) - len(unique)

	s.logger.Info("インデックス化を開始",
		"tickets", len(tickets),
		"unique", len(unique),
		"batchSize", s.config.BatchSize,
		"model", s.embedder.ModelName(),
	)

	for start := 0; start < len(unique); start += s.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("インデックス化が中断されました: %w", err)
		}

		end := min(start+s.config.BatchSize, len(unique))
		embedded, skipped, err := embedBatch(ctx, s.embedder, unique[start:end], uniquePositions[start:end])

		for _, sk := range skipped {
			s.logger.Warn("チケットをスキップ", "ticketID", sk.ID, "index", sk.Index, "reason", sk.Reason)
		}
		result.Skipped = append(result.Skipped, skipped...)

		// 生成できた分は障害発生時でも保存して結果に反映する
		for _, e := range embedded {
			upsertErr := s.index.Upsert(ctx, domain.Document{ID: e.ticket.ID, Vector: e.vector, Ticket: e.ticket})
			if upsertErr != nil {
				if isFatal(upsertErr) {
					return result, fmt.Errorf("チケット %s の保存に失敗: %w", e.ticket.ID, upsertErr)
				}
				result.Skipped = append(result.Skipped, SkippedTicket{ID: e.ticket.ID, Index: e.position, Reason: upsertErr.Error()})
				continue
			}
			result.Indexed++
		}

		if err != nil {
			s.logger.Error("インデックス化を中断", "indexed", result.Indexed, "error", err)
			return result, fmt.Errorf("Embedding の生成に失敗: %w", err)
		}

		s.logger.Debug("バッチを処理", "processed", end, "total", len(unique))
	}

	s.logger.Info("インデックス化が完了",
		"indexed", result.Indexed,
		"skipped", len(result.Skipped),
		"duplicates", result.Duplicates,
		"duration", time.Since(startTime),
	)
	return result, nil
}

// DeleteTicket はチケットをインデックスから削除する
func (s *Indexer) DeleteTicket(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: ticket id is empty", domain.ErrInvalidInput)
	}
	if err := s.index.Delete(ctx, id); err != nil {
		return fmt.Errorf("チケット %s の削除に失敗: %w", id, err)
	}
	s.logger.Info("チケットを削除", "ticketID", id)
	return nil
}
