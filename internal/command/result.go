package command

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Result is the tagged union of values a Command can produce. Like
// Command, it is matched on its concrete Go type rather than modeled as a
// class hierarchy.
type Result interface {
	isResult()
}

// Void is returned by commands with no interesting payload (project/repo
// lifecycle operations, UpdateServerStatus).
type Void struct{}

func (Void) isResult() {}

// RevisionResult carries a single revision without a full commit. No
// operation in this module produces one; the result JSON encoding still
// handles it.
type RevisionResult struct {
	Revision Revision
}

func (RevisionResult) isResult() {}

// CommitResult is returned by Push/NormalizingPush: the revision the
// commit produced and the (possibly normalized) change set that was
// actually applied.
type CommitResult struct {
	Revision Revision
	Changes  []Change
}

func (CommitResult) isResult() {}

// Equal reports whether two Results are structurally equal — used by the
// replay path to detect non-deterministic replay (§8 invariant 2).
func Equal(a, b Result) bool {
	return reflect.DeepEqual(a, b)
}

type resultKind string

const (
	resultVoid     resultKind = "VOID"
	resultRevision resultKind = "REVISION"
	resultCommit   resultKind = "COMMIT"
)

type wireResult struct {
	Kind     resultKind `json:"kind"`
	Revision *Revision  `json:"revision,omitempty"`
	Changes  []wireChange `json:"changes,omitempty"`
}

// MarshalResult serializes any Result variant for inclusion in a
// replication log record.
func MarshalResult(r Result) ([]byte, error) {
	switch v := r.(type) {
	case Void:
		return json.Marshal(wireResult{Kind: resultVoid})
	case RevisionResult:
		rev := v.Revision
		return json.Marshal(wireResult{Kind: resultRevision, Revision: &rev})
	case CommitResult:
		rev := v.Revision
		return json.Marshal(wireResult{Kind: resultCommit, Revision: &rev, Changes: toWireChanges(v.Changes)})
	default:
		return nil, fmt.Errorf("result: unknown variant %T", r)
	}
}

// UnmarshalResult decodes a wire-format result into its concrete Result
// variant.
func UnmarshalResult(data []byte) (Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("result: decode: %w", err)
	}
	switch w.Kind {
	case resultVoid:
		return Void{}, nil
	case resultRevision:
		rev := Revision{}
		if w.Revision != nil {
			rev = *w.Revision
		}
		return RevisionResult{Revision: rev}, nil
	case resultCommit:
		rev := Revision{}
		if w.Revision != nil {
			rev = *w.Revision
		}
		return CommitResult{Revision: rev, Changes: fromWireChanges(w.Changes)}, nil
	default:
		return nil, fmt.Errorf("result: unknown kind %q", w.Kind)
	}
}
