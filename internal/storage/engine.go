// Package storage defines the contract for the delegate storage engine
// the replicated executor runs commands against. The real, out-of-scope
// system this models is a content-addressed commit graph with JSON-patch
// semantics (spec.md §1); this package gives that contract a concrete Go
// shape, and internal/storage/memengine provides a deliberately small
// implementation — just enough to drive the replication core for real,
// never a full storage engine in its own right.
package storage

import (
	"context"

	"distributed-configstore/internal/apierrors"
	"distributed-configstore/internal/command"
)

// Engine is the "delegate executor" spec.md §4.3 treats as an opaque,
// total collaborator: every call either returns a result or a recoverable
// domain error from internal/apierrors (ChangeConflict, RedundantChange,
// EntryNotFound, RevisionNotFound, RepositoryNotFound, ProjectNotFound).
type Engine interface {
	CreateProject(name string) error
	RemoveProject(name string) error
	PurgeProject(name string) error
	UnremoveProject(name string) error

	CreateRepository(project, repo string) error
	RemoveRepository(project, repo string) error
	PurgeRepository(project, repo string) error
	UnremoveRepository(project, repo string) error

	// Push applies changes on top of base (already resolved to an
	// absolute revision by the caller) and returns the new head revision
	// plus the normalized change set that was actually applied.
	// commitTimeMillis is the time the command was originally issued,
	// stamped once by internal/api and carried verbatim through the
	// replication log — every replica must record the same value for the
	// same commit, so Push must never substitute its own wall-clock time.
	Push(ctx context.Context, project, repo string, base command.Revision,
		commitTimeMillis int64, author command.Author, summary, detail string,
		markup command.Markup, changes []command.Change) (command.CommitResult, error)

	GetFile(ctx context.Context, project, repo string, rev command.Revision, path string) ([]byte, error)
	Query(ctx context.Context, project, repo string, rev command.Revision, q Query) (Value, error)
	History(ctx context.Context, project, repo string, from, to command.Revision, pathPattern string) ([]command.CommitResult, error)

	// FindLatestRevision returns the greatest revision in (lastKnown,
	// head] whose commit touched a path matching pathPattern, or nil if
	// none did. Both revisions passed and returned are absolute.
	FindLatestRevision(project, repo string, lastKnown command.Revision, pathPattern string) (*command.Revision, error)

	Head(project, repo string) (command.Revision, error)
	// Normalize resolves a (possibly relative) revision to an absolute
	// one against the repository's current head.
	Normalize(project, repo string, rev command.Revision) (command.Revision, error)
}

// Notifier is the event-driven half of the watch primitive spec.md §4.5
// describes: instead of polling, internal/watch subscribes once per
// attempt and blocks on the returned channel, which closes the instant a
// new commit lands on (project, repo). Every Subscribe call before the
// next commit returns the same channel, so there is no lost-wakeup window
// between checking FindLatestRevision and subscribing.
type Notifier interface {
	Subscribe(project, repo string) <-chan struct{}
}

// QueryKind selects how Query projects a file's content.
type QueryKind string

const (
	// QueryIdentity returns the raw file content unmodified.
	QueryIdentity QueryKind = "IDENTITY"
	// QueryJSONPath evaluates Expression (a small dotted/indexed subset
	// of JSONPath, e.g. "$.server.rate") against the file, which must be
	// JSON.
	QueryJSONPath QueryKind = "JSON_PATH"
)

// Query projects a single file's content, optionally through a JSON path
// expression (spec.md §1: "query (including JSON-path projections)").
type Query struct {
	Path       string
	Kind       QueryKind
	Expression string
}

// IdentityQuery builds a Query that returns path's raw content.
func IdentityQuery(path string) Query {
	return Query{Path: path, Kind: QueryIdentity}
}

// JSONPathQuery builds a Query that evaluates expr against path's JSON
// content.
func JSONPathQuery(path, expr string) Query {
	return Query{Path: path, Kind: QueryJSONPath, Expression: expr}
}

// ValueKind distinguishes the two shapes a Query result can take.
type ValueKind string

const (
	ValueText ValueKind = "TEXT"
	ValueJSON ValueKind = "JSON"
)

// Value is the result of a Query: either raw text or a decoded JSON value
// (map[string]any, []any, string, float64, bool, or nil).
type Value struct {
	Kind ValueKind
	Text string
	JSON any
}

// Equal reports whether two Values are semantically equal per spec.md
// §4.5: text is normalized CR->LF before comparison, JSON is compared
// structurally.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ValueText:
		return normalizeCRLF(a.Text) == normalizeCRLF(b.Text)
	case ValueJSON:
		return deepEqualJSON(a.JSON, b.JSON)
	default:
		return false
	}
}

func normalizeCRLF(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' {
			if i+1 < len(s) && s[i+1] == '\n' {
				continue
			}
			out = append(out, '\n')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func deepEqualJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqualJSON(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqualJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// NotFoundKindFor picks EntryNotFound/RepositoryNotFound/ProjectNotFound
// consistently across memengine call sites.
func NotFoundKindFor(hasProject, hasRepo bool) apierrors.Kind {
	switch {
	case !hasProject:
		return apierrors.KindProjectNotFound
	case !hasRepo:
		return apierrors.KindRepositoryNotFound
	default:
		return apierrors.KindEntryNotFound
	}
}
