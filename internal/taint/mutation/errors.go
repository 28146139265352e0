package mutation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSequence is returned when a positional or permutation handler
	// gets something other than a slice or array collection.
	ErrNotSequence = errors.New("not a sequence collection")

	// ErrNotMap is returned when a key-based handler gets something other
	// than a map collection.
	ErrNotMap = errors.New("not a map collection")

	// ErrFixedSize is returned when a length-changing handler gets a
	// collection whose length cannot change in place: a bare slice value
	// or an array.
	ErrFixedSize = errors.New("collection cannot change length in place")

	// ErrNilMap is returned when storing into a nil map that cannot be
	// allocated in place.
	ErrNilMap = errors.New("assignment to entry in nil map")
)

// IndexError reports an out-of-range position.
type IndexError struct {
	Op    string
	Index int
	Len   int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("%s: index %d out of range [0:%d]", e.Op, e.Index, e.Len)
}

// KeyError reports a missing map key.
type KeyError struct {
	Op  string
	Key any
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s: key %v not found", e.Op, e.Key)
}
