package trades

import "fmt"

// ErrorKind 区分解析失败的三类原因。
type ErrorKind string

const (
	ErrMissingColumn   ErrorKind = "missing_column"
	ErrAmbiguousColumn ErrorKind = "ambiguous_column"
	ErrMalformedRow    ErrorKind = "malformed_row"
)

// ParseError 描述一次整体失败的解析。解析不产出部分结果，
// 调用方拿到的信息足以向用户指明出错的列或行。
type ParseError struct {
	Kind     ErrorKind `json:"kind"`
	Field    Field     `json:"field,omitempty"`
	Row      int       `json:"row,omitempty"` // 数据行号，首行数据 = 1
	RawValue string    `json:"raw_value,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrMissingColumn:
		return fmt.Sprintf("missing column for field %q", e.Field)
	case ErrAmbiguousColumn:
		return fmt.Sprintf("ambiguous column for field %q: %s", e.Field, e.Detail)
	case ErrMalformedRow:
		return fmt.Sprintf("malformed row %d: field %q value %q: %s", e.Row, e.Field, e.RawValue, e.Detail)
	default:
		return fmt.Sprintf("parse error: %s", e.Detail)
	}
}

func missingColumn(field Field) *ParseError {
	return &ParseError{Kind: ErrMissingColumn, Field: field}
}

func ambiguousColumn(field Field, detail string) *ParseError {
	return &ParseError{Kind: ErrAmbiguousColumn, Field: field, Detail: detail}
}

func malformedRow(row int, field Field, raw, detail string) *ParseError {
	return &ParseError{Kind: ErrMalformedRow, Row: row, Field: field, RawValue: raw, Detail: detail}
}
