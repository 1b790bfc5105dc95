package graph

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGraph = errors.New("invalid pipeline graph")
	ErrUnknownStage = errors.New("unknown stage")
)

// GraphError wraps graph construction and lookup failures.
type GraphError struct {
	Kind error
	Msg  string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func unknown(addr string) error {
	return &GraphError{Kind: ErrUnknownStage, Msg: fmt.Sprintf("%q", addr)}
}
