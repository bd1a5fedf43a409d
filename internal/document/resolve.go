package document

import (
	"errors"
	"fmt"
)

// ErrInconsistent is returned when a section cites an index its document does
// not have. Documents built by New or Parse never trigger it.
var ErrInconsistent = errors.New("document is internally inconsistent")

// ConsistencyError names the offending index.
type ConsistencyError struct {
	Index int
	Count int
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("reference index %d out of range [0,%d)", e.Index, e.Count)
}

// Is makes errors.Is(err, ErrInconsistent) hold.
func (e *ConsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}

// Resolve maps a section's reference indices to the references they name,
// keeping citation order and duplicates.
func Resolve(doc *Document, sec Section) ([]Reference, error) {
	if doc == nil {
		return nil, fmt.Errorf("resolve: %w", ErrInconsistent)
	}
	out := make([]Reference, 0, len(sec.ReferenceIndices))
	for _, idx := range sec.ReferenceIndices {
		if idx < 0 || idx >= len(doc.References) {
			return nil, &ConsistencyError{Index: idx, Count: len(doc.References)}
		}
		out = append(out, doc.References[idx])
	}
	return out, nil
}

// ResolveAt resolves the section at position i.
func ResolveAt(doc *Document, i int) ([]Reference, error) {
	if doc == nil || i < 0 || i >= len(doc.Sections) {
		return nil, fmt.Errorf("section %d does not exist", i)
	}
	return Resolve(doc, doc.Sections[i])
}
