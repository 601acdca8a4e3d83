// Package migrations は SQLite ベクトルインデックスのスキーマを埋め込む
package migrations

import "embed"

// FS はコンパイル時に埋め込まれるマイグレーションファイル
//
//go:embed *.sql
var FS embed.FS
