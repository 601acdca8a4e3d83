// Package filewatch はチケットファイルの変更を監視する
package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce は連続した書き込みをまとめる待機時間
const DefaultDebounce = 500 * time.Millisecond

// Watcher は1つのファイルの作成・更新を監視する。
// エディタの置き換え保存に対応するため親ディレクトリを監視する
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
}

// Option は Watcher のオプション設定
type Option func(*Watcher)

// WithDebounce は待機時間を上書きする
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New は新しい Watcher を作成する
func New(path string, opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	w := &Watcher{path: abs, debounce: DefaultDebounce, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// Path は監視対象の絶対パスを返す
func (w *Watcher) Path() string {
	return w.path
}

// Run はコンテキストが終了するまでファイルを監視し、変更のたびに onChange を呼び出す。
// onChange のエラーはログに記録して監視を続ける
func (w *Watcher) Run(ctx context.Context, onChange func(ctx context.Context) error) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("ファイルの監視を開始", "path", w.path)

	// 最初のイベントまでは発火させない
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("ファイルの監視を終了", "path", w.path)
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.isRelevant(event) {
				w.logger.Debug("ファイルの変更を検知", "path", event.Name, "op", event.Op.String())
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("ファイル監視でエラー", "error", err)

		case <-timer.C:
			if err := onChange(ctx); err != nil {
				w.logger.Error("変更の処理に失敗", "path", w.path, "error", err)
			}
		}
	}
}

// isRelevant は監視対象ファイルの作成・書き込みイベントかどうかを判定する
func (w *Watcher) isRelevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}
