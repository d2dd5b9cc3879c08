package repository

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// toJSONB 序列化为 JSONB 参数，nil 或空值写入 NULL
// 不转义 HTML 字符，决策树说明里的 "<" 原样落库
func toJSONB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb: %w", err)
	}
	b := bytes.TrimRight(buf.Bytes(), "\n")
	if string(b) == "null" {
		return nil, nil
	}
	return string(b), nil
}

// fromJSONB 反序列化可空 JSONB 列
func fromJSONB(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return fmt.Errorf("failed to unmarshal jsonb: %w", err)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}
