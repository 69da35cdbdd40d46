package replog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Prune is called on a ticker by the leader replica only (spec.md §4.2:
// "On leadership only"). It lists logsPath's children, and for each
// oldest entry beyond maxLogCount whose metadata timestamp is older than
// minLogAgeMillis, deletes the metadata node and every block it
// references. It stops at the first log younger than the threshold,
// since the list is sorted ascending and everything after is younger.
func (s *Store) Prune(ctx context.Context, maxLogCount int, minLogAgeMillis int64, nowMillis int64) (pruned int, err error) {
	seqs, err := s.sortedSequences(ctx)
	if err != nil {
		return 0, err
	}
	if len(seqs) <= maxLogCount {
		return 0, nil
	}

	excess := len(seqs) - maxLogCount
	for i := 0; i < excess; i++ {
		seq := seqs[i]
		meta, err := s.readMetadata(ctx, seq)
		if err != nil {
			return pruned, fmt.Errorf("replog: prune: read metadata %d: %w", seq, err)
		}
		age := nowMillis - meta.Timestamp
		if age <= minLogAgeMillis {
			break
		}
		if err := s.deleteLog(ctx, seq, meta); err != nil {
			return pruned, fmt.Errorf("replog: prune: delete log %d: %w", seq, err)
		}
		pruned++
	}
	return pruned, nil
}

func (s *Store) readMetadata(ctx context.Context, seq int64) (metadata, error) {
	data, err := s.coord.Read(ctx, sequencedPath(s.logsPath(), seq))
	if err != nil {
		return metadata{}, err
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return metadata{}, err
	}
	return meta, nil
}

func (s *Store) deleteLog(ctx context.Context, seq int64, meta metadata) error {
	paths := make([]string, 0, len(meta.Blocks)+1)
	paths = append(paths, sequencedPath(s.logsPath(), seq))
	for _, blockSeq := range meta.Blocks {
		paths = append(paths, sequencedPath(s.logBlocksPath(), blockSeq))
	}
	return s.coord.DeleteBatch(ctx, paths)
}

// PruneLoop runs Prune on a fixed interval until ctx is canceled. Callers
// (internal/executor, on taking leadership) are expected to launch this
// in its own goroutine and cancel ctx on losing leadership.
func (s *Store) PruneLoop(ctx context.Context, interval time.Duration, maxLogCount int, minLogAgeMillis int64, now func() int64, onErr func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(ctx, maxLogCount, minLogAgeMillis, now()); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
