package executor

import (
	"fmt"

	"distributed-configstore/internal/replog"
)

func parseSeqName(name string) (int64, error) {
	return replog.ParseSequence(name)
}

func errReplayMismatch(seq int64) error {
	return fmt.Errorf("executor: replay of log %d produced a different result than the original replica logged", seq)
}
