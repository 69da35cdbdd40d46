// Package replog is the Replication Log Store (C2): it chunks a
// replica's serialized command+result into bounded-size blocks, writes
// them and a metadata record through the coordination client, and, on
// the elected leader only, prunes old entries. internal/executor is the
// only caller: every log record it stores came from a command that was
// already applied locally.
package replog

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"

	"distributed-configstore/internal/command"
	"distributed-configstore/internal/coordination"
)

// MaxChunk is spec.md's MAX_CHUNK: the largest payload, in bytes, stored
// in a single log_blocks node.
const MaxChunk = 1_046_528

// Record is the replication log record: spec.md §4.2's
// {replicaId, command, result}.
type Record struct {
	ReplicaID int             `json:"replicaId"`
	Command   command.Command `json:"command"`
	Result    command.Result  `json:"result"`
}

// wireRecord mirrors Record but with Command/Result downgraded to the
// wire-envelope types so json.Marshal/Unmarshal can reach their
// MarshalCommand/UnmarshalCommand helpers.
type wireRecord struct {
	ReplicaID int             `json:"replicaId"`
	Command   json.RawMessage `json:"command"`
	Result    json.RawMessage `json:"result"`
}

func (r Record) marshal() ([]byte, error) {
	cmdJSON, err := command.MarshalCommand(r.Command)
	if err != nil {
		return nil, fmt.Errorf("replog: marshal command: %w", err)
	}
	resJSON, err := command.MarshalResult(r.Result)
	if err != nil {
		return nil, fmt.Errorf("replog: marshal result: %w", err)
	}
	return json.Marshal(wireRecord{ReplicaID: r.ReplicaID, Command: cmdJSON, Result: resJSON})
}

func unmarshalRecord(data []byte) (Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, fmt.Errorf("replog: unmarshal record: %w", err)
	}
	cmd, err := command.UnmarshalCommand(w.Command)
	if err != nil {
		return Record{}, fmt.Errorf("replog: unmarshal command: %w", err)
	}
	res, err := command.UnmarshalResult(w.Result)
	if err != nil {
		return Record{}, fmt.Errorf("replog: unmarshal result: %w", err)
	}
	return Record{ReplicaID: w.ReplicaID, Command: cmd, Result: res}, nil
}

// metadata is spec.md §6's log metadata JSON. Field names are the wire
// contract; unknown fields are ignored on decode for forward
// compatibility (the default behavior of encoding/json).
type metadata struct {
	ReplicaID  int     `json:"replicaId"`
	Timestamp  int64   `json:"timestamp"`
	Size       int     `json:"size"`
	Compressed bool    `json:"compressed"`
	Encrypted  bool    `json:"encrypted"`
	Blocks     []int64 `json:"blocks"`
}

// Store is the C2 implementation, backed by a coordination.Coordinator.
type Store struct {
	coord    coordination.Coordinator
	rootPath string
}

// New builds a Store rooted at <rootPath>/logs and <rootPath>/log_blocks,
// per spec.md §6's coordination-service layout.
func New(coord coordination.Coordinator, rootPath string) *Store {
	return &Store{coord: coord, rootPath: rootPath}
}

func (s *Store) logsPath() string      { return path.Join(s.rootPath, "logs") }
func (s *Store) logBlocksPath() string { return path.Join(s.rootPath, "log_blocks") }

// LogsPath is the coordination-service path internal/executor watches for
// new log entries.
func (s *Store) LogsPath() string { return s.logsPath() }

// StoreLog serializes record, splits it into ≤MaxChunk byte blocks under
// log_blocks/, writes the metadata node under logs/, and returns the
// sequence number assigned to the metadata node — the new log revision.
func (s *Store) StoreLog(ctx context.Context, record Record, nowMillis int64) (int64, error) {
	payload, err := record.marshal()
	if err != nil {
		return 0, err
	}

	if err := s.coord.CreatePersistent(ctx, s.logsPath(), nil); err != nil {
		return 0, err
	}
	if err := s.coord.CreatePersistent(ctx, s.logBlocksPath(), nil); err != nil {
		return 0, err
	}

	blocks := make([]int64, 0, len(payload)/MaxChunk+1)
	for off := 0; off < len(payload); off += MaxChunk {
		end := off + MaxChunk
		if end > len(payload) {
			end = len(payload)
		}
		blockPath, err := s.coord.CreateSequential(ctx, s.logBlocksPath(), payload[off:end])
		if err != nil {
			return 0, fmt.Errorf("replog: store block: %w", err)
		}
		seq, err := parseSequence(blockPath)
		if err != nil {
			return 0, err
		}
		blocks = append(blocks, seq)
	}

	meta := metadata{
		ReplicaID: record.ReplicaID,
		Timestamp: nowMillis,
		Size:      len(payload),
		Blocks:    blocks,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("replog: marshal metadata: %w", err)
	}
	metaPath, err := s.coord.CreateSequential(ctx, s.logsPath(), metaJSON)
	if err != nil {
		return 0, fmt.Errorf("replog: store metadata: %w", err)
	}
	return parseSequence(metaPath)
}

// LoadLog reads the metadata node at seq and its referenced blocks,
// reassembling Record. If skipIfSameReplica is true and the record was
// written by selfReplicaID, LoadLog returns (nil, nil) without reading
// any block — spec.md §4.2 step 2: "the replica skips re-applying its
// own apply already happened, but still advances the cursor" happens one
// layer up, in internal/executor's replay loop.
func (s *Store) LoadLog(ctx context.Context, seq int64, selfReplicaID int, skipIfSameReplica bool) (*Record, error) {
	metaPath := sequencedPath(s.logsPath(), seq)
	metaJSON, err := s.coord.Read(ctx, metaPath)
	if err != nil {
		return nil, fmt.Errorf("replog: read metadata %d: %w", seq, err)
	}
	var meta metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("replog: unmarshal metadata %d: %w", seq, err)
	}
	if skipIfSameReplica && meta.ReplicaID == selfReplicaID {
		return nil, nil
	}

	payload := make([]byte, 0, meta.Size)
	for _, blockSeq := range meta.Blocks {
		chunk, err := s.coord.Read(ctx, sequencedPath(s.logBlocksPath(), blockSeq))
		if err != nil {
			return nil, fmt.Errorf("replog: read block %d of log %d: %w", blockSeq, seq, err)
		}
		payload = append(payload, chunk...)
	}
	if len(payload) != meta.Size {
		return nil, fmt.Errorf("replog: log %d: reassembled %d bytes, metadata says %d", seq, len(payload), meta.Size)
	}

	rec, err := unmarshalRecord(payload)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func sequencedPath(parent string, seq int64) string {
	return path.Join(parent, fmt.Sprintf("entry-%010d", seq))
}

// ParseSequence extracts the 10-digit sequence suffix from a log or block
// node's name (or full path — only the base name matters).
func ParseSequence(nodePath string) (int64, error) {
	return parseSequence(nodePath)
}

func parseSequence(nodePath string) (int64, error) {
	name := path.Base(nodePath)
	if len(name) < 10 {
		return 0, fmt.Errorf("replog: node name %q too short to carry a sequence", name)
	}
	return strconv.ParseInt(name[len(name)-10:], 10, 64)
}

// Sequences lists every log sequence number currently stored, ascending —
// internal/executor uses this once at startup to catch up on logs written
// before its watch began.
func (s *Store) Sequences(ctx context.Context) ([]int64, error) {
	return s.sortedSequences(ctx)
}

// sortedSequences lists logsPath's children and returns their sequence
// numbers in ascending order.
func (s *Store) sortedSequences(ctx context.Context) ([]int64, error) {
	children, err := s.coord.ListChildren(ctx, s.logsPath())
	if err != nil {
		return nil, err
	}
	seqs := make([]int64, 0, len(children))
	for _, c := range children {
		seq, err := parseSequence(path.Join(s.logsPath(), c))
		if err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}
