package audit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/hermod/pkg/audit"
	"github.com/relves/hermod/pkg/types"
)

func testEvents() []types.Event {
	return []types.Event{
		{Kind: types.EventMessageSent, Height: 1, Message: 1, Actor: "alice", Subject: "bob"},
		{Kind: types.EventMessageRead, Height: 2, Message: 1, Actor: "bob"},
		{Kind: types.EventGroupCreated, Height: 3, Group: 1, Actor: "carol"},
		{Kind: types.EventMessageDeleted, Height: 4, Message: 1, Actor: "bob"},
	}
}

func TestLog_EmptyRoot(t *testing.T) {
	log, err := audit.NewLog()
	require.NoError(t, err)

	root, err := log.Root()
	require.NoError(t, err)
	assert.Len(t, root, 32)
	assert.Equal(t, uint64(0), log.Size())
}

func TestLog_AppendIsDeterministic(t *testing.T) {
	log1, err := audit.NewLog()
	require.NoError(t, err)
	log2, err := audit.NewLog()
	require.NoError(t, err)

	for _, ev := range testEvents() {
		leaf1, err := log1.Append(ev)
		require.NoError(t, err)
		leaf2, err := log2.Append(ev)
		require.NoError(t, err)
		assert.Equal(t, leaf1, leaf2)
	}

	root1, err := log1.Root()
	require.NoError(t, err)
	root2, err := log2.Root()
	require.NoError(t, err)
	assert.Equal(t, root1, root2)
	assert.Equal(t, uint64(4), log1.Size())
}

func TestLog_RootChangesPerEvent(t *testing.T) {
	log, err := audit.NewLog()
	require.NoError(t, err)

	seen := make(map[string]bool)
	for _, ev := range testEvents() {
		_, err := log.Append(ev)
		require.NoError(t, err)
		root, err := log.Root()
		require.NoError(t, err)
		assert.False(t, seen[string(root)], "root must change with every appended event")
		seen[string(root)] = true
	}
}

func TestLog_Restore(t *testing.T) {
	log, err := audit.NewLog()
	require.NoError(t, err)
	for _, ev := range testEvents() {
		_, err := log.Append(ev)
		require.NoError(t, err)
	}
	wantRoot, err := log.Root()
	require.NoError(t, err)

	restored, err := audit.Restore(log.Size(), log.Hashes())
	require.NoError(t, err)

	gotRoot, err := restored.Root()
	require.NoError(t, err)
	assert.Equal(t, wantRoot, gotRoot)

	// appending to the restored log continues the same stream
	_, err = restored.Append(types.Event{Kind: types.EventMessageExpired, Height: 9, Message: 2})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), restored.Size())
}

func TestLog_RestoreRejectsBadState(t *testing.T) {
	_, err := audit.Restore(3, nil)
	assert.Error(t, err)
}
