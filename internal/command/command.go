package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the wire discriminator for a Command variant, always
// UPPER_SNAKE_CASE.
type Type string

const (
	TypeCreateProject     Type = "CREATE_PROJECT"
	TypeRemoveProject     Type = "REMOVE_PROJECT"
	TypePurgeProject      Type = "PURGE_PROJECT"
	TypeUnremoveProject   Type = "UNREMOVE_PROJECT"
	TypeCreateRepository  Type = "CREATE_REPOSITORY"
	TypeRemoveRepository  Type = "REMOVE_REPOSITORY"
	TypePurgeRepository   Type = "PURGE_REPOSITORY"
	TypeUnremoveRepository Type = "UNREMOVE_REPOSITORY"
	TypeNormalizingPush   Type = "NORMALIZING_PUSH"
	TypePush              Type = "PUSH"
	TypeForcePush         Type = "FORCE_PUSH"
	TypeUpdateServerStatus Type = "UPDATE_SERVER_STATUS"
)

// Command is a tagged variant: every mutating operation the replicated
// executor can run implements it. Execute is a pure match on Type() — see
// internal/executor.
type Command interface {
	Type() Type
	ExecutionPath() string
}

// ─── Project-scoped commands ────────────────────────────────────────────────

type CreateProject struct{ Name string }

func (CreateProject) Type() Type                { return TypeCreateProject }
func (c CreateProject) ExecutionPath() string    { return ProjectPath(c.Name) }

type RemoveProject struct{ Name string }

func (RemoveProject) Type() Type             { return TypeRemoveProject }
func (c RemoveProject) ExecutionPath() string { return ProjectPath(c.Name) }

type PurgeProject struct{ Name string }

func (PurgeProject) Type() Type             { return TypePurgeProject }
func (c PurgeProject) ExecutionPath() string { return ProjectPath(c.Name) }

type UnremoveProject struct{ Name string }

func (UnremoveProject) Type() Type             { return TypeUnremoveProject }
func (c UnremoveProject) ExecutionPath() string { return ProjectPath(c.Name) }

// ─── Repository-scoped commands ─────────────────────────────────────────────

type CreateRepository struct{ Project, Repo string }

func (CreateRepository) Type() Type             { return TypeCreateRepository }
func (c CreateRepository) ExecutionPath() string { return RepositoryPath(c.Project, c.Repo) }

type RemoveRepository struct{ Project, Repo string }

func (RemoveRepository) Type() Type             { return TypeRemoveRepository }
func (c RemoveRepository) ExecutionPath() string { return RepositoryPath(c.Project, c.Repo) }

type PurgeRepository struct{ Project, Repo string }

func (PurgeRepository) Type() Type             { return TypePurgeRepository }
func (c PurgeRepository) ExecutionPath() string { return RepositoryPath(c.Project, c.Repo) }

type UnremoveRepository struct{ Project, Repo string }

func (UnremoveRepository) Type() Type             { return TypeUnremoveRepository }
func (c UnremoveRepository) ExecutionPath() string { return RepositoryPath(c.Project, c.Repo) }

// ─── Push family ─────────────────────────────────────────────────────────────

// NormalizingPush is the high-level push a client submits: BaseRevision may
// be relative (e.g. Head). The executor resolves it against local storage,
// runs it, and logs the resolved form as a Push.
type NormalizingPush struct {
	Project, Repo    string
	BaseRevision     Revision
	CommitTimeMillis int64
	Author           Author
	Summary, Detail  string
	Markup           Markup
	Changes          []Change
}

func (NormalizingPush) Type() Type             { return TypeNormalizingPush }
func (c NormalizingPush) ExecutionPath() string { return RepositoryPath(c.Project, c.Repo) }

// Push is the resolved, deterministic form of a push: Revision is the
// absolute revision the commit produced, BaseRevision likewise absolute.
// This is the form that gets appended to the replication log and replayed
// on other replicas.
type Push struct {
	Project, Repo    string
	BaseRevision     Revision
	Revision         Revision
	CommitTimeMillis int64
	Author           Author
	Summary, Detail  string
	Markup           Markup
	Changes          []Change
}

func (Push) Type() Type             { return TypePush }
func (c Push) ExecutionPath() string { return RepositoryPath(c.Project, c.Repo) }

// ForcePush wraps another command (typically a NormalizingPush or Push) to
// bypass the write-quota limiter — used for server-internal maintenance
// pushes (e.g. the "meta" repository's own bookkeeping).
type ForcePush struct {
	Inner Command
}

func (ForcePush) Type() Type             { return TypeForcePush }
func (c ForcePush) ExecutionPath() string { return c.Inner.ExecutionPath() }

// ─── Cluster-wide commands ───────────────────────────────────────────────────

// ServerStatus is the cluster-wide mode the executor enforces.
type ServerStatus struct {
	Replicating bool `json:"replicating"`
	Writable    bool `json:"writable"`
}

type UpdateServerStatus struct {
	Status ServerStatus
}

func (UpdateServerStatus) Type() Type             { return TypeUpdateServerStatus }
func (UpdateServerStatus) ExecutionPath() string  { return ServerPath }

// ─── JSON encoding ───────────────────────────────────────────────────────────
//
// Every command serializes with a "type" discriminator. Decoders must
// ignore unknown fields for forward compatibility — achieved here simply
// by decoding into named Go structs with json.Unmarshal, which already
// ignores unrecognized keys.

type wireChange struct {
	Type    ChangeType `json:"type"`
	Path    string     `json:"path"`
	Content string     `json:"content,omitempty"`
}

func toWireChanges(changes []Change) []wireChange {
	out := make([]wireChange, len(changes))
	for i, c := range changes {
		out[i] = wireChange{Type: c.Type, Path: c.Path, Content: c.Content}
	}
	return out
}

func fromWireChanges(changes []wireChange) []Change {
	out := make([]Change, len(changes))
	for i, c := range changes {
		out[i] = Change{Type: c.Type, Path: c.Path, Content: c.Content}
	}
	return out
}

type wireCommand struct {
	Type             Type        `json:"type"`
	ProjectName      string      `json:"projectName,omitempty"`
	RepositoryName   string      `json:"repositoryName,omitempty"`
	BaseRevision     *Revision   `json:"baseRevision,omitempty"`
	Revision         *Revision   `json:"revision,omitempty"`
	CommitTimeMillis int64       `json:"commitTimeMillis,omitempty"`
	Author           *Author     `json:"author,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	Detail           string      `json:"detail,omitempty"`
	Markup           Markup      `json:"markup,omitempty"`
	Changes          []wireChange `json:"changes,omitempty"`
	Inner            *wireCommand `json:"inner,omitempty"`
	Status           *ServerStatus `json:"status,omitempty"`
}

// MarshalCommand serializes any Command variant to its wire JSON form.
func MarshalCommand(c Command) ([]byte, error) {
	return json.Marshal(toWire(c))
}

func toWire(c Command) wireCommand {
	switch v := c.(type) {
	case CreateProject:
		return wireCommand{Type: v.Type(), ProjectName: v.Name}
	case RemoveProject:
		return wireCommand{Type: v.Type(), ProjectName: v.Name}
	case PurgeProject:
		return wireCommand{Type: v.Type(), ProjectName: v.Name}
	case UnremoveProject:
		return wireCommand{Type: v.Type(), ProjectName: v.Name}
	case CreateRepository:
		return wireCommand{Type: v.Type(), ProjectName: v.Project, RepositoryName: v.Repo}
	case RemoveRepository:
		return wireCommand{Type: v.Type(), ProjectName: v.Project, RepositoryName: v.Repo}
	case PurgeRepository:
		return wireCommand{Type: v.Type(), ProjectName: v.Project, RepositoryName: v.Repo}
	case UnremoveRepository:
		return wireCommand{Type: v.Type(), ProjectName: v.Project, RepositoryName: v.Repo}
	case NormalizingPush:
		return wireCommand{
			Type: v.Type(), ProjectName: v.Project, RepositoryName: v.Repo,
			BaseRevision: &v.BaseRevision, CommitTimeMillis: v.CommitTimeMillis,
			Author: &v.Author, Summary: v.Summary, Detail: v.Detail, Markup: v.Markup,
			Changes: toWireChanges(v.Changes),
		}
	case Push:
		return wireCommand{
			Type: v.Type(), ProjectName: v.Project, RepositoryName: v.Repo,
			BaseRevision: &v.BaseRevision, Revision: &v.Revision, CommitTimeMillis: v.CommitTimeMillis,
			Author: &v.Author, Summary: v.Summary, Detail: v.Detail, Markup: v.Markup,
			Changes: toWireChanges(v.Changes),
		}
	case ForcePush:
		inner := toWire(v.Inner)
		return wireCommand{Type: v.Type(), Inner: &inner}
	case UpdateServerStatus:
		status := v.Status
		return wireCommand{Type: v.Type(), Status: &status}
	default:
		panic(fmt.Sprintf("command: unknown variant %T", c))
	}
}

// UnmarshalCommand decodes a wire-format command into its concrete
// Command variant, selected by the "type" discriminator. Unknown fields
// are ignored.
func UnmarshalCommand(data []byte) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("command: decode: %w", err)
	}
	return fromWire(w)
}

func fromWire(w wireCommand) (Command, error) {
	switch w.Type {
	case TypeCreateProject:
		return CreateProject{Name: w.ProjectName}, nil
	case TypeRemoveProject:
		return RemoveProject{Name: w.ProjectName}, nil
	case TypePurgeProject:
		return PurgeProject{Name: w.ProjectName}, nil
	case TypeUnremoveProject:
		return UnremoveProject{Name: w.ProjectName}, nil
	case TypeCreateRepository:
		return CreateRepository{Project: w.ProjectName, Repo: w.RepositoryName}, nil
	case TypeRemoveRepository:
		return RemoveRepository{Project: w.ProjectName, Repo: w.RepositoryName}, nil
	case TypePurgeRepository:
		return PurgeRepository{Project: w.ProjectName, Repo: w.RepositoryName}, nil
	case TypeUnremoveRepository:
		return UnremoveRepository{Project: w.ProjectName, Repo: w.RepositoryName}, nil
	case TypeNormalizingPush:
		p := NormalizingPush{
			Project: w.ProjectName, Repo: w.RepositoryName, CommitTimeMillis: w.CommitTimeMillis,
			Summary: w.Summary, Detail: w.Detail, Markup: w.Markup, Changes: fromWireChanges(w.Changes),
		}
		if w.BaseRevision != nil {
			p.BaseRevision = *w.BaseRevision
		}
		if w.Author != nil {
			p.Author = *w.Author
		}
		return p, nil
	case TypePush:
		p := Push{
			Project: w.ProjectName, Repo: w.RepositoryName, CommitTimeMillis: w.CommitTimeMillis,
			Summary: w.Summary, Detail: w.Detail, Markup: w.Markup, Changes: fromWireChanges(w.Changes),
		}
		if w.BaseRevision != nil {
			p.BaseRevision = *w.BaseRevision
		}
		if w.Revision != nil {
			p.Revision = *w.Revision
		}
		if w.Author != nil {
			p.Author = *w.Author
		}
		return p, nil
	case TypeForcePush:
		if w.Inner == nil {
			return nil, fmt.Errorf("command: FORCE_PUSH missing inner command")
		}
		inner, err := fromWire(*w.Inner)
		if err != nil {
			return nil, err
		}
		return ForcePush{Inner: inner}, nil
	case TypeUpdateServerStatus:
		status := ServerStatus{}
		if w.Status != nil {
			status = *w.Status
		}
		return UpdateServerStatus{Status: status}, nil
	default:
		return nil, fmt.Errorf("command: unknown type %q", w.Type)
	}
}

// CommitTime returns the commit timestamp of a Push or NormalizingPush as
// a time.Time, for convenience at call sites that log it.
func CommitTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}
