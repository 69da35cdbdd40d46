package coordination

// This file exists solely so internal/coordination/coordinationtest (a
// separate package, by design — it must satisfy the same Coordinator
// interface a real ensemble-backed caller would use) can construct and
// inspect the otherwise-opaque MutexHandle/PermitHandle values without
// every field on those types being exported to ordinary callers.

func NewMutexHandleForTest(lockPath, nodePath string) MutexHandle {
	return MutexHandle{lockPath: lockPath, nodePath: nodePath}
}

func MutexNodePathForTest(h MutexHandle) string { return h.nodePath }

func NewPermitHandleForTest(semaphorePath, leasePath string) PermitHandle {
	return PermitHandle{semaphorePath: semaphorePath, leasePath: leasePath}
}

func PermitLeasePathForTest(h PermitHandle) string { return h.leasePath }
