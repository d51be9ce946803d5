package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/officecollab/internal/platform/errors"
)

// Kind is the editable shape of a document.
type Kind string

const (
	KindWord        Kind = "word"
	KindSpreadsheet Kind = "spreadsheet"
)

// Format is the binary office format a document was uploaded as.
type Format string

const (
	FormatDocx Format = "docx"
	FormatXlsx Format = "xlsx"
	FormatXls  Format = "xls"
)

// Kind reports the canonical content kind the format decodes to.
func (f Format) Kind() Kind {
	if f == FormatDocx {
		return KindWord
	}
	return KindSpreadsheet
}

// Valid reports whether f is one of the supported formats.
func (f Format) Valid() bool {
	switch f {
	case FormatDocx, FormatXlsx, FormatXls:
		return true
	default:
		return false
	}
}

// Paragraph is one word-processing paragraph. Style is an opaque style name.
type Paragraph struct {
	Text  string `json:"text"`
	Style string `json:"style"`
}

// Table is tabular spreadsheet content in column/index/data orientation.
type Table struct {
	Columns []string `json:"columns"`
	Index   []Cell   `json:"index,omitempty"`
	Data    [][]Cell `json:"data"`
}

func (t Table) clone() Table {
	out := Table{
		Columns: append([]string{}, t.Columns...),
		Data:    make([][]Cell, len(t.Data)),
	}
	if t.Index != nil {
		out.Index = append([]Cell{}, t.Index...)
	}
	for i, row := range t.Data {
		out.Data[i] = append([]Cell{}, row...)
	}
	return out
}

// Content is canonical document content: paragraphs for word documents or a
// table for spreadsheets. Values are immutable; accessors return copies.
type Content struct {
	kind       Kind
	paragraphs []Paragraph
	table      Table
}

// WordContent builds word content from paragraphs in document order.
func WordContent(paragraphs []Paragraph) Content {
	return Content{kind: KindWord, paragraphs: append([]Paragraph{}, paragraphs...)}
}

// SpreadsheetContent builds spreadsheet content from a table.
func SpreadsheetContent(table Table) Content {
	return Content{kind: KindSpreadsheet, table: table.clone()}
}

// Kind reports which variant c holds. The zero Content has an empty kind.
func (c Content) Kind() Kind {
	return c.kind
}

// Paragraphs returns a copy of the word paragraphs.
func (c Content) Paragraphs() []Paragraph {
	return append([]Paragraph{}, c.paragraphs...)
}

// Table returns a copy of the spreadsheet table.
func (c Content) Table() Table {
	return c.table.clone()
}

// MarshalJSON encodes the variant payload without a discriminator; the kind
// travels with the document.
func (c Content) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case KindWord:
		return json.Marshal(c.Paragraphs())
	case KindSpreadsheet:
		return json.Marshal(c.Table())
	default:
		return []byte("null"), nil
	}
}

// ParseContent decodes raw JSON content for a document of the given kind.
// Content that arrives as a JSON string holding encoded content is unwrapped
// first.
func ParseContent(kind Kind, raw json.RawMessage) (Content, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Content{}, apperrors.Wrap(apperrors.CodeCorruptDocument, "decode content string", err)
		}
		raw = bytes.TrimSpace([]byte(inner))
	}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Content{}, apperrors.New(apperrors.CodeCorruptDocument, "content is required")
	}

	switch kind {
	case KindWord:
		if raw[0] != '[' {
			return Content{}, apperrors.New(apperrors.CodeCorruptDocument, "word content must be a paragraph array")
		}
		var paragraphs []Paragraph
		if err := json.Unmarshal(raw, &paragraphs); err != nil {
			return Content{}, apperrors.Wrap(apperrors.CodeCorruptDocument, "decode word content", err)
		}
		return WordContent(paragraphs), nil
	case KindSpreadsheet:
		return parseTable(raw)
	default:
		return Content{}, apperrors.New(apperrors.CodeCorruptDocument, fmt.Sprintf("unknown content kind %q", kind))
	}
}

func parseTable(raw json.RawMessage) (Content, error) {
	var payload struct {
		Columns *[]Cell   `json:"columns"`
		Index   []Cell    `json:"index"`
		Data    *[][]Cell `json:"data"`
	}
	if raw[0] != '{' {
		return Content{}, apperrors.New(apperrors.CodeCorruptDocument, "spreadsheet content must be an object")
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Content{}, apperrors.Wrap(apperrors.CodeCorruptDocument, "decode spreadsheet content", err)
	}
	if payload.Columns == nil || payload.Data == nil {
		return Content{}, apperrors.New(apperrors.CodeCorruptDocument, "spreadsheet content requires columns and data")
	}
	columns := make([]string, len(*payload.Columns))
	for i, label := range *payload.Columns {
		columns[i] = label.Label()
	}
	return SpreadsheetContent(Table{
		Columns: columns,
		Index:   payload.Index,
		Data:    *payload.Data,
	}), nil
}

// CellKind identifies the scalar held by a Cell.
type CellKind uint8

const (
	CellNull CellKind = iota
	CellNumber
	CellString
	CellBool
)

// Cell is a spreadsheet scalar: null, number, string or bool. Cells are
// comparable with ==.
type Cell struct {
	kind CellKind
	num  float64
	str  string
	b    bool
}

// NullCell returns an empty cell.
func NullCell() Cell { return Cell{} }

// NumberCell returns a numeric cell. NaN and infinities become null.
func NumberCell(v float64) Cell {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Cell{}
	}
	return Cell{kind: CellNumber, num: v}
}

// StringCell returns a text cell.
func StringCell(v string) Cell { return Cell{kind: CellString, str: v} }

// BoolCell returns a boolean cell.
func BoolCell(v bool) Cell { return Cell{kind: CellBool, b: v} }

// Kind reports the scalar kind.
func (c Cell) Kind() CellKind { return c.kind }

// Number returns the numeric value; zero for other kinds.
func (c Cell) Number() float64 { return c.num }

// Text returns the string value; empty for other kinds.
func (c Cell) Text() string { return c.str }

// Bool returns the boolean value; false for other kinds.
func (c Cell) Bool() bool { return c.b }

// Label renders the cell as a column label.
func (c Cell) Label() string {
	switch c.kind {
	case CellNumber:
		return strconv.FormatFloat(c.num, 'f', -1, 64)
	case CellString:
		return c.str
	case CellBool:
		return strconv.FormatBool(c.b)
	default:
		return ""
	}
}

// Value returns the cell as a plain Go value (nil, float64, string or bool).
func (c Cell) Value() any {
	switch c.kind {
	case CellNumber:
		return c.num
	case CellString:
		return c.str
	case CellBool:
		return c.b
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (c Cell) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Value())
}

// UnmarshalJSON accepts any JSON scalar. Arrays and objects are rejected.
func (c *Cell) UnmarshalJSON(data []byte) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	switch v := value.(type) {
	case nil:
		*c = NullCell()
	case float64:
		*c = NumberCell(v)
	case string:
		*c = StringCell(v)
	case bool:
		*c = BoolCell(v)
	default:
		return fmt.Errorf("cell must be a scalar, got %s", strings.TrimSpace(string(data)))
	}
	return nil
}
