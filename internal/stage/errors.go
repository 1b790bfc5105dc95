package stage

import (
	"errors"
	"fmt"
	"strings"
)

// Error categories. Every *Error matches exactly one of these with errors.Is.
var (
	ErrStructural   = errors.New("structural error")
	ErrPath         = errors.New("path error")
	ErrData         = errors.New("data error")
	ErrShape        = errors.New("shape error")
	ErrConfirmation = errors.New("confirmation error")
)

// Error kinds.
var (
	ErrCircularDependency   = errors.New("circular dependency")
	ErrArgumentDuplication  = errors.New("argument duplication")
	ErrPathNotFound         = errors.New("path not found")
	ErrPathNotDirectory     = errors.New("path is not a directory")
	ErrPathOutsideRepo      = errors.New("path outside repository")
	ErrMissingDataSource    = errors.New("missing data source")
	ErrChangedDeclaration   = errors.New("stage changed")
	ErrNotATree             = errors.New("not a tree")
	ErrConfirmationRequired = errors.New("confirmation required")
)

var categories = map[error]error{
	ErrCircularDependency:   ErrStructural,
	ErrArgumentDuplication:  ErrStructural,
	ErrPathNotFound:         ErrPath,
	ErrPathNotDirectory:     ErrPath,
	ErrPathOutsideRepo:      ErrPath,
	ErrMissingDataSource:    ErrData,
	ErrChangedDeclaration:   ErrData,
	ErrNotATree:             ErrShape,
	ErrConfirmationRequired: ErrConfirmation,
}

// Error is a local, synchronous failure of the change-detection engine.
type Error struct {
	Kind  error
	Path  string   // offending path, when there is a single one
	Paths []string // offending paths, for kinds that report several
	Msg   string
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg != "" {
		return e.Msg
	}
	switch {
	case len(e.Paths) > 0:
		return fmt.Sprintf("%s: %s", e.Kind, strings.Join(e.Paths, ", "))
	case e.Path != "":
		return fmt.Sprintf("%s: '%s'", e.Kind, e.Path)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Kind }

// Is reports whether target is the kind of e or the category of that kind.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return categories[e.Kind] == target
}

// Category returns the category sentinel of err, or nil when err is not an
// engine error.
func Category(err error) error {
	var se *Error
	if !errors.As(err, &se) {
		return nil
	}
	return categories[se.Kind]
}
