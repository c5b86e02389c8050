package consensus

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// FSM implements raft.FSM, giving hashicorp/raft the durable, ordered log
// this core relies on underneath the BFT admission layer: once a Proposal
// has cleared supermajority vote, the coordinator calls raft.Apply so every
// peer's log (and eventually its storage engine) converges on the same
// operation order even across restarts.
type FSM struct {
	mu      sync.RWMutex
	applier Applier
	applied []Operation // in-memory log of applied operations, for snapshotting
}

// NewFSM constructs an FSM that applies committed operations through
// applier.
func NewFSM(applier Applier) *FSM {
	return &FSM{applier: applier}
}

// Apply is invoked by raft once a log entry is committed by the raft
// majority. The entry's bytes are the JSON encoding of an Operation, placed
// on the log only after the BFT engine has already reached supermajority
// Accept — raft here provides ordering and durability, not the admission
// decision itself.
func (f *FSM) Apply(entry *raft.Log) interface{} {
	var op Operation
	if err := json.Unmarshal(entry.Data, &op); err != nil {
		return fmt.Errorf("unmarshal operation: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.applier.Apply(op); err != nil {
		return err
	}
	f.applied = append(f.applied, op)
	return nil
}

// Snapshot captures the full sequence of applied operations so a restarted
// or newly-joined peer can replay them without reading the whole raft log.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ops := make([]Operation, len(f.applied))
	copy(ops, f.applied)
	return &fsmSnapshot{operations: ops}, nil
}

// Restore replays a snapshot's operations through the applier, rebuilding
// storage and index state after a restart.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var ops []Operation
	if err := json.NewDecoder(rc).Decode(&ops); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, op := range ops {
		if err := f.applier.Apply(op); err != nil {
			return fmt.Errorf("replay operation: %w", err)
		}
	}
	f.applied = ops
	return nil
}

type fsmSnapshot struct {
	operations []Operation
}

// Persist writes the snapshot to sink, the contract raft uses to compact
// its log once a snapshot has been taken.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.operations); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; the snapshot holds no external resources.
func (s *fsmSnapshot) Release() {}
