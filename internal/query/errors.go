package query

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ParseError reports a malformed document, an unknown fragment or a fragment
// cycle. It is fatal for the document it belongs to only.
type ParseError struct {
	File   string
	Line   int
	Column int
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	loc := e.File
	if loc == "" {
		loc = "<input>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, e.Line, e.Column)
	}
	return fmt.Sprintf("parse error: %s: %s", loc, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err wraps a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

func syntaxError(file string, err error) *ParseError {
	pe := &ParseError{File: file, Msg: err.Error(), Err: err}
	var gqlErr *gqlerror.Error
	if errors.As(err, &gqlErr) {
		pe.Msg = gqlErr.Message
		if len(gqlErr.Locations) > 0 {
			pe.Line = gqlErr.Locations[0].Line
			pe.Column = gqlErr.Locations[0].Column
		}
	}
	return pe
}

func errorAt(file string, pos *ast.Position, format string, args ...any) *ParseError {
	pe := &ParseError{File: file, Msg: fmt.Sprintf(format, args...)}
	if pos != nil {
		pe.Line = pos.Line
		pe.Column = pos.Column
	}
	return pe
}
