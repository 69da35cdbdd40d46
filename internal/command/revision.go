// Package command defines the tagged-union command and result types that
// flow through the replicated executor, plus the small value types
// (Revision, repository coordinates, authors, changes) they carry.
package command

import (
	"encoding/json"
	"fmt"
)

// Revision is a repository version. Positive values and zero are absolute;
// zero is the initial empty commit. Negative values are relative to head:
// -1 is head, -2 is head-1, and so on.
type Revision struct {
	Major int32
}

// Head is the relative revision meaning "the latest commit".
var Head = Revision{Major: -1}

// Init is the absolute revision of the initial empty commit.
var Init = Revision{Major: 0}

// NewRevision builds a Revision from a raw major number.
func NewRevision(major int32) Revision {
	return Revision{Major: major}
}

// IsRelative reports whether this revision is expressed relative to head.
func (r Revision) IsRelative() bool {
	return r.Major < 0
}

// CompareTo orders two revisions by their major number. It only produces a
// meaningful ordering when both revisions are absolute, or both are
// relative — comparing an absolute and a relative revision is a caller
// error the repository layer must resolve (via Normalize) beforehand.
func (r Revision) CompareTo(other Revision) int {
	switch {
	case r.Major < other.Major:
		return -1
	case r.Major > other.Major:
		return 1
	default:
		return 0
	}
}

// Forward returns the revision n steps later, saturating at the int32
// bound rather than overflowing.
func (r Revision) Forward(n int32) Revision {
	if n <= 0 {
		return r
	}
	if r.Major > maxMajor-n {
		return Revision{Major: maxMajor}
	}
	return Revision{Major: r.Major + n}
}

// Backward returns the revision n steps earlier, saturating at the
// matching bound for the revision's sign (0 for absolute, -(2^31-1) for
// relative — you cannot cross from absolute into relative or vice versa
// by walking backward).
func (r Revision) Backward(n int32) Revision {
	if n <= 0 {
		return r
	}
	floor := int32(0)
	if r.IsRelative() {
		floor = minMajor
	}
	if r.Major < floor+n {
		return Revision{Major: floor}
	}
	return Revision{Major: r.Major - n}
}

const (
	maxMajor = int32(1<<31 - 1)
	minMajor = -maxMajor
)

func (r Revision) String() string {
	return fmt.Sprintf("%d", r.Major)
}

// wireRevision is the JSON shape used on the wire: a deprecated "minor"
// field is always emitted as 0 for backward compatibility with older
// clients, and ignored (along with any other unknown field) on read.
type wireRevision struct {
	Major int32 `json:"major"`
	Minor int32 `json:"minor"`
}

// MarshalJSON implements json.Marshaler.
func (r Revision) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireRevision{Major: r.Major, Minor: 0})
}

// UnmarshalJSON implements json.Unmarshaler. Unknown fields are ignored by
// virtue of decoding into wireRevision directly.
func (r *Revision) UnmarshalJSON(data []byte) error {
	var w wireRevision
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.Major = w.Major
	return nil
}
