package consensus

import (
	"bytes"
	"io"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSMApplyDispatchesToApplier(t *testing.T) {
	applier := &fakeApplier{}
	fsm := NewFSM(applier)

	op := Operation{Kind: OpInsert, Collection: "users", DocID: "u1", Payload: []byte("hi")}
	data, err := opToLogBytes(op)
	require.NoError(t, err)

	result := fsm.Apply(&raft.Log{Data: data})
	assert.Nil(t, result)
	assert.Equal(t, 1, applier.count())
}

func TestFSMApplyPropagatesApplierError(t *testing.T) {
	fsm := NewFSM(erroringApplier{})
	data, err := opToLogBytes(Operation{Kind: OpDelete, Collection: "users", DocID: "u1"})
	require.NoError(t, err)

	result := fsm.Apply(&raft.Log{Data: data})
	require.Error(t, result.(error))
}

type erroringApplier struct{}

func (erroringApplier) Apply(Operation) error { return assert.AnError }

// memorySink is an in-memory raft.SnapshotSink for snapshot round trips.
type memorySink struct{ bytes.Buffer }

func newMemorySink() *memorySink            { return &memorySink{} }
func (s *memorySink) ID() string            { return "memory" }
func (s *memorySink) Cancel() error         { return nil }
func (s *memorySink) Close() error          { return nil }
func (s *memorySink) reader() io.ReadCloser { return io.NopCloser(&s.Buffer) }

func TestFSMSnapshotAndRestoreRoundTrip(t *testing.T) {
	applier := &fakeApplier{}
	fsm := NewFSM(applier)

	ops := []Operation{
		{Kind: OpInsert, Collection: "users", DocID: "u1"},
		{Kind: OpUpdate, Collection: "users", DocID: "u1"},
	}
	for _, op := range ops {
		data, err := opToLogBytes(op)
		require.NoError(t, err)
		fsm.Apply(&raft.Log{Data: data})
	}

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := newMemorySink()
	require.NoError(t, snap.Persist(sink))

	restoreApplier := &fakeApplier{}
	restored := NewFSM(restoreApplier)
	require.NoError(t, restored.Restore(sink.reader()))

	assert.Equal(t, 2, restoreApplier.count())
}
