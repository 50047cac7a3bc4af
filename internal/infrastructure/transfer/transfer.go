// Package transfer encodes lesson bundles for export and decodes uploaded
// bundles for import. JSON carries the full portable form; XLSX lays one
// activity per row so authors can edit content in a spreadsheet.
package transfer

import (
	"fmt"
	"io"
	"strings"

	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/domain/shared"
)

// Format is a bundle encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat parses a format name; empty input yields JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", shared.Errorf("transfer", "ParseFormat", shared.ErrInvalidInput, "unknown transfer format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/json"
}

// FileName returns a download name for a lesson bundle.
func (f Format) FileName(lessonID string) string {
	return fmt.Sprintf("lesson-%s.%s", lessonID, f)
}

// RowError reports a bundle entry that could not be decoded. Row is 1-based:
// the spreadsheet row for XLSX, the array position for JSON.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("row %d, column %s: %v", e.Row, e.Column, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Is classifies every decode failure as invalid input.
func (e *RowError) Is(target error) bool { return target == shared.ErrInvalidInput }

// Encode writes b to w in format f.
func Encode(w io.Writer, f Format, b *query.LessonBundle) error {
	switch f {
	case FormatXLSX:
		return encodeXLSX(w, b)
	default:
		return encodeJSON(w, b)
	}
}

// Decode reads a bundle in format f. Only the activities of the result are
// meaningful for import; the target lesson comes from the request.
func Decode(r io.Reader, f Format) (*query.LessonBundle, error) {
	switch f {
	case FormatXLSX:
		return decodeXLSX(r)
	default:
		return decodeJSON(r)
	}
}
