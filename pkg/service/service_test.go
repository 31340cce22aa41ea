package service_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/hermod/internal/storage/sqlite"
	"github.com/relves/hermod/pkg/ledger"
	"github.com/relves/hermod/pkg/service"
	"github.com/relves/hermod/pkg/types"
)

const (
	alice = types.AccountRef("alice")
	bob   = types.AccountRef("bob")
	carol = types.AccountRef("carol")
)

func testLocator(t *testing.T, payload string) []byte {
	t.Helper()
	hash, err := mh.Sum([]byte(payload), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, hash).Bytes()
}

func testConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.MessageTTL = 5
	return cfg
}

func openService(t *testing.T, dir string) (*service.Service, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(dir)
	require.NoError(t, err)
	svc, err := service.Open(context.Background(), service.Config{
		Store:  store,
		Ledger: testConfig(),
		Logger: slog.Default(),
	})
	require.NoError(t, err)
	return svc, store
}

func TestService_SendAndRead(t *testing.T) {
	ctx := context.Background()
	svc, store := openService(t, t.TempDir())
	defer store.Close()

	id, err := svc.SendMessage(ctx, alice, bob, testLocator(t, "payload"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageID(1), id)

	require.NoError(t, svc.ReadMessage(ctx, bob, id))

	msg, err := svc.GetMessage(id)
	require.NoError(t, err)
	assert.True(t, msg.Read)
	inbox, err := svc.Inbox(bob)
	require.NoError(t, err)
	assert.Equal(t, []types.MessageID{id}, inbox)
	outbox, err := svc.Outbox(alice)
	require.NoError(t, err)
	assert.Equal(t, []types.MessageID{id}, outbox)
}

func TestService_RejectedTransitionCommitsNothing(t *testing.T) {
	ctx := context.Background()
	svc, store := openService(t, t.TempDir())
	defer store.Close()

	_, err := svc.SendMessage(ctx, alice, alice, testLocator(t, "payload"))
	require.ErrorIs(t, err, ledger.ErrInvalidRecipient)

	events, err := svc.Events(ctx, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	_, size, err := svc.AuditHead()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestService_EventsAndAuditGrowTogether(t *testing.T) {
	ctx := context.Background()
	svc, store := openService(t, t.TempDir())
	defer store.Close()

	_, err := svc.SendMessage(ctx, alice, bob, testLocator(t, "payload"))
	require.NoError(t, err)
	gid, err := svc.CreateGroup(ctx, alice, "ops", []types.AccountRef{bob})
	require.NoError(t, err)
	_, err = svc.SendGroupMessage(ctx, bob, gid, testLocator(t, "payload"))
	require.NoError(t, err)

	events, err := svc.Events(ctx, 0, 100)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, types.EventMessageSent, events[0].Event.Kind)
	assert.Equal(t, types.EventGroupCreated, events[1].Event.Kind)
	assert.Equal(t, types.EventGroupMessageSent, events[2].Event.Kind)

	root, size, err := svc.AuditHead()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), size)
	assert.NotEmpty(t, root)
}

func TestService_AdvanceBlockSweepsExpired(t *testing.T) {
	ctx := context.Background()
	svc, store := openService(t, t.TempDir())
	defer store.Close()

	id, err := svc.SendMessage(ctx, alice, bob, testLocator(t, "payload"))
	require.NoError(t, err)

	// TTL is 5 in the test config; the message sent at height 0 is live
	// through height 5 and reclaimed at 6.
	for i := 0; i < 5; i++ {
		_, swept, err := svc.AdvanceBlock(ctx)
		require.NoError(t, err)
		assert.Zero(t, swept)
	}
	height, swept, err := svc.AdvanceBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Height(6), height)
	assert.Equal(t, 1, swept)

	_, err = svc.GetMessage(id)
	assert.ErrorIs(t, err, ledger.ErrMessageNotFound)
}

func TestService_RestartRestoresState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	svc, store := openService(t, dir)
	id, err := svc.SendMessage(ctx, alice, bob, testLocator(t, "payload"))
	require.NoError(t, err)
	gid, err := svc.CreateGroup(ctx, alice, "ops", []types.AccountRef{bob, carol})
	require.NoError(t, err)
	gmID, err := svc.SendGroupMessage(ctx, carol, gid, testLocator(t, "payload"))
	require.NoError(t, err)
	rootBefore, sizeBefore, err := svc.AuditHead()
	require.NoError(t, err)
	heightBefore, err := svc.Height()
	require.NoError(t, err)
	require.NoError(t, store.Close())

	svc2, store2 := openService(t, dir)
	defer store2.Close()

	heightAfter, err := svc2.Height()
	require.NoError(t, err)
	assert.Equal(t, heightBefore, heightAfter)
	inbox, err := svc2.Inbox(bob)
	require.NoError(t, err)
	assert.Equal(t, []types.MessageID{id}, inbox)

	group, err := svc2.GetGroup(gid)
	require.NoError(t, err)
	assert.Equal(t, alice, group.Owner)
	assert.Len(t, group.Members, 3)

	ids, err := svc2.GroupMessages(carol, gid)
	require.NoError(t, err)
	assert.Equal(t, []types.MessageID{gmID}, ids)

	rootAfter, sizeAfter, err := svc2.AuditHead()
	require.NoError(t, err)
	assert.Equal(t, sizeBefore, sizeAfter)
	assert.Equal(t, rootBefore, rootAfter)

	// Fresh ids continue past the restored counters.
	id2, err := svc2.SendMessage(ctx, bob, alice, testLocator(t, "payload"))
	require.NoError(t, err)
	assert.Greater(t, id2, gmID)
}

func TestService_StorageFailureHidesUncommittedState(t *testing.T) {
	ctx := context.Background()
	svc, store := openService(t, t.TempDir())

	// Fail the write path underneath the service. The in-memory ledger
	// applies the send before the commit attempt, so the poisoned service
	// must refuse to serve that state rather than leak it.
	require.NoError(t, store.Close())

	_, err := svc.SendMessage(ctx, alice, bob, testLocator(t, "payload"))
	require.Error(t, err)

	_, err = svc.Inbox(bob)
	assert.ErrorIs(t, err, service.ErrUnavailable)
	_, err = svc.Outbox(alice)
	assert.ErrorIs(t, err, service.ErrUnavailable)
	_, err = svc.GetMessage(1)
	assert.ErrorIs(t, err, service.ErrUnavailable)
	_, err = svc.GroupsOf(alice)
	assert.ErrorIs(t, err, service.ErrUnavailable)
	_, err = svc.Height()
	assert.ErrorIs(t, err, service.ErrUnavailable)
	_, _, err = svc.AuditHead()
	assert.ErrorIs(t, err, service.ErrUnavailable)

	// Later transitions are refused outright.
	_, err = svc.SendMessage(ctx, bob, alice, testLocator(t, "payload"))
	assert.ErrorIs(t, err, service.ErrUnavailable)
}

type captureSink struct {
	events []types.Event
}

func (c *captureSink) Publish(events []types.Event) {
	c.events = append(c.events, events...)
}

func TestService_PublishesToSink(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	sink := &captureSink{}
	svc, err := service.Open(ctx, service.Config{
		Store:  store,
		Ledger: testConfig(),
		Sink:   sink,
	})
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, alice, bob, testLocator(t, "payload"))
	require.NoError(t, err)

	require.Len(t, sink.events, 1)
	assert.Equal(t, types.EventMessageSent, sink.events[0].Kind)
}
