package api

import (
	"fmt"

	"github.com/benaskins/biokey/internal/errcode"
)

// args are the positional arguments of an exec call as decoded from JSON.
type args []any

func (a args) count(lo, hi int) error {
	if len(a) < lo || len(a) > hi {
		if lo == hi {
			return fmt.Errorf("%w: want %d arguments, got %d", errcode.InvalidArgument, lo, len(a))
		}
		return fmt.Errorf("%w: want %d to %d arguments, got %d", errcode.InvalidArgument, lo, hi, len(a))
	}
	return nil
}

func (a args) text(i int) (string, error) {
	if i >= len(a) {
		return "", fmt.Errorf("%w: missing argument %d", errcode.InvalidArgument, i)
	}
	s, ok := a[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d must be a string", errcode.InvalidArgument, i)
	}
	return s, nil
}

// key is a string argument that must not be empty.
func (a args) key(i int) (string, error) {
	s, err := a.text(i)
	if err != nil {
		return "", err
	}
	if s == "" {
		return "", fmt.Errorf("%w: empty key", errcode.InvalidArgument)
	}
	return s, nil
}

// optionalString treats a missing or null argument as "".
func (a args) optionalString(i int) (string, error) {
	if i >= len(a) || a[i] == nil {
		return "", nil
	}
	return a.text(i)
}

func (a args) flag(i int) (bool, error) {
	if i >= len(a) {
		return false, fmt.Errorf("%w: missing argument %d", errcode.InvalidArgument, i)
	}
	b, ok := a[i].(bool)
	if !ok {
		return false, fmt.Errorf("%w: argument %d must be a boolean", errcode.InvalidArgument, i)
	}
	return b, nil
}
