package ask

import (
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Question     string         // ユーザーの質問文
	TopK         mo.Option[int] // 検索件数（省略時は search.DefaultTopK）
	ContextLimit mo.Option[int] // プロンプトに含めるチケット数の上限（省略時は ContextBuilder の設定）
}

// State はパイプラインの処理状態
type State string

const (
	StateReceived        State = "received"
	StateEmbedding       State = "embedding"
	StateRetrieving      State = "retrieving"
	StateBuildingContext State = "building_context"
	StateGenerating      State = "generating"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// IsTerminal は終端状態かどうかを返す
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Transition は状態遷移の記録
type Transition struct {
	From State
	To   State
	At   time.Time
}

// StageError は失敗したステージと原因を保持する。
// 原因のエラー種別は errors.Is で判定できる
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Execution は1リクエスト分のパイプライン実行結果
type Execution struct {
	RequestID   string
	State       State
	Answer      *domain.Answer // Completed の場合のみ設定される
	Err         error          // Failed の場合のみ設定される（*StageError）
	Transitions []Transition
	Duration    time.Duration
}

// States は遷移した状態を順に返す（先頭は Received）
func (e *Execution) States() []State {
	states := []State{StateReceived}
	for _, t := range e.Transitions {
		states = append(states, t.To)
	}
	return states
}
