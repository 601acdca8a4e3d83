package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

const (
	// DefaultBatchSize は Embedding 生成のデフォルトバッチサイズ
	DefaultBatchSize = 32
	// MinBatchSize は最小バッチサイズ
	MinBatchSize = 1
	// DefaultLockKey はロックキーが指定されない場合に使用するキー
	DefaultLockKey = "tickets"
)

// PipelineConfig はインデックス作成処理の設定
type PipelineConfig struct {
	// BatchSize は1回の EmbedBatch 呼び出しに渡すチケット数
	BatchSize int
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		BatchSize: DefaultBatchSize,
	}
}

// embeddedTicket は Embedding 済みのチケット
type embeddedTicket struct {
	position int
	ticket   domain.Ticket
	vector   []float32
}

// isFatal はジョブ全体を停止すべきエラーかどうかを判定する。
// 個別レコードの不正入力以外はすべて致命的として扱う
func isFatal(err error) bool {
	return !errors.Is(err, domain.ErrInvalidInput)
}

// dedupeWithPositions は同一IDのチケットを最後の出現で置き換える。
// 出力順は各IDの最初の出現順で、位置は採用したレコードのもの
func dedupeWithPositions(tickets []domain.Ticket, positions []int) ([]domain.Ticket, []int) {
	latest := make(map[string]int, len(tickets))
	for i, t := range tickets {
		latest[t.ID] = i
	}

	out := make([]domain.Ticket, 0, len(latest))
	outPositions := make([]int, 0, len(latest))
	seen := make(map[string]struct{}, len(latest))
	for _, t := range tickets {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		i := latest[t.ID]
		out = append(out, tickets[i])
		outPositions = append(outPositions, positions[i])
	}
	return out, outPositions
}

// embedBatch はバッチ単位で Embedding を生成する。
// バッチが失敗した場合は1件ずつ再試行して不正なレコードを切り分ける。
// 返り値の skipped は個別に失敗したレコード、error は致命的なエラー
func embedBatch(
	ctx context.Context,
	embedder domain.Embedder,
	tickets []domain.Ticket,
	positions []int,
) ([]embeddedTicket, []SkippedTicket, error) {
	texts := make([]string, len(tickets))
	for i, t := range tickets {
		texts[i] = t.EmbeddingText()
	}

	vectors, err := embedder.EmbedBatch(ctx, texts)
	if err == nil {
		if len(vectors) != len(tickets) {
			return nil, nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts",
				domain.ErrEmbeddingUnavailable, len(vectors), len(tickets))
		}
		out := make([]embeddedTicket, len(tickets))
		for i := range tickets {
			out[i] = embeddedTicket{position: positions[i], ticket: tickets[i], vector: vectors[i]}
		}
		return out, nil, nil
	}
	if isFatal(err) {
		return nil, nil, err
	}

	// バッチ内に不正なテキストが含まれるため1件ずつ処理する
	var (
		out     []embeddedTicket
		skipped []SkippedTicket
	)
	for i, t := range tickets {
		vector, err := embedder.Embed(ctx, texts[i])
		if err != nil {
			if isFatal(err) {
				return out, skipped, err
			}
			skipped = append(skipped, SkippedTicket{ID: t.ID, Index: positions[i], Reason: err.Error()})
			continue
		}
		out = append(out, embeddedTicket{position: positions[i], ticket: t, vector: vector})
	}
	return out, skipped, nil
}
