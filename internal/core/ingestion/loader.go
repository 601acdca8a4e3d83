package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jinford/ticket-rag/internal/core/domain"
)

// LoadError は読み込み時に除外されたレコードを表す
type LoadError struct {
	Index  int    // 配列内の位置（0始まり）
	ID     string // 判明している場合のみ
	Reason string
}

// LoadResult はチケットファイルの読み込み結果
type LoadResult struct {
	Tickets []domain.Ticket
	// Positions[i] は Tickets[i] のファイル内の位置
	Positions []int
	Errors    []LoadError
}

// Total はファイル内のレコード数を返す
func (r *LoadResult) Total() int {
	return len(r.Tickets) + len(r.Errors)
}

// rawTicket はファイル上のレコード表現。id は文字列と数値の両方を受け付ける
type rawTicket struct {
	ID         json.RawMessage `json:"id"`
	Subject    string          `json:"subject"`
	Body       string          `json:"body"`
	Resolution string          `json:"resolution"`
	Status     string          `json:"status"`
	Priority   string          `json:"priority"`
	CreatedAt  string          `json:"created_at"`
}

// LoadFile は JSON 配列形式のチケットファイルを読み込む。
// ファイル自体が読めない、空、JSON 配列でない場合は ErrInvalidInput を返す。
// id を欠くレコードなど個別の不正レコードはエラーにせず LoadResult.Errors に報告する
func LoadFile(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ticket file %s: %v", domain.ErrInvalidInput, path, err)
	}

	result, err := ParseTickets(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return result, nil
}

// ParseTickets はチケットの JSON 配列をパースする
func ParseTickets(data []byte) (*LoadResult, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: ticket file is empty", domain.ErrInvalidInput)
	}

	var records []json.RawMessage
	if err := json.Unmarshal(trimmed, &records); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: expected a JSON array of tickets, got %s", domain.ErrInvalidInput, typeErr.Value)
		}
		return nil, fmt.Errorf("%w: invalid JSON: %v", domain.ErrInvalidInput, err)
	}

	result := &LoadResult{Tickets: make([]domain.Ticket, 0, len(records))}
	for i, record := range records {
		ticket, reason := parseRecord(record)
		if reason != "" {
			result.Errors = append(result.Errors, LoadError{Index: i, ID: ticket.ID, Reason: reason})
			continue
		}
		result.Tickets = append(result.Tickets, ticket)
		result.Positions = append(result.Positions, i)
	}
	return result, nil
}

// parseRecord は1レコードをチケットに変換する。不正な場合は理由を返す
func parseRecord(record json.RawMessage) (domain.Ticket, string) {
	record = bytes.TrimSpace(record)
	if len(record) == 0 || record[0] != '{' {
		return domain.Ticket{}, "record is not a JSON object"
	}

	var raw rawTicket
	if err := json.Unmarshal(record, &raw); err != nil {
		return domain.Ticket{}, fmt.Sprintf("invalid field: %v", err)
	}

	id, reason := parseID(raw.ID)
	if reason != "" {
		return domain.Ticket{}, reason
	}

	return domain.Ticket{
		ID:         id,
		Subject:    raw.Subject,
		Body:       raw.Body,
		Resolution: raw.Resolution,
		Status:     raw.Status,
		Priority:   raw.Priority,
		CreatedAt:  raw.CreatedAt,
	}, ""
}

// parseID は id フィールドを文字列に正規化する。数値は10進表記の文字列にする
func parseID(raw json.RawMessage) (string, string) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", "missing id"
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", "empty id"
		}
		return s, ""
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err == nil {
		if n, ok := v.(json.Number); ok {
			return n.String(), ""
		}
	}
	return "", fmt.Sprintf("id must be a string or number, got %s", raw)
}
