package ledger_test

import (
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"

	"github.com/relves/hermod/pkg/ledger"
	"github.com/relves/hermod/pkg/types"
)

const (
	alice = types.AccountRef("alice")
	bob   = types.AccountRef("bob")
	carol = types.AccountRef("carol")
	dave  = types.AccountRef("dave")
)

// testConfig uses a short TTL so expiry is easy to exercise.
func testConfig() ledger.Config {
	cfg := ledger.DefaultConfig()
	cfg.MessageTTL = 10
	return cfg
}

func newTestLedger(t *testing.T, cfg ledger.Config) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(cfg)
	require.NoError(t, err)
	return l
}

// testLocator builds a valid binary CID from the given payload.
func testLocator(t *testing.T, payload string) []byte {
	t.Helper()
	hash, err := mh.Sum([]byte(payload), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, hash).Bytes()
}

// lastEvent drains the event buffer and returns the final event.
func lastEvent(t *testing.T, l *ledger.Ledger) types.Event {
	t.Helper()
	events := l.TakeEvents()
	require.NotEmpty(t, events)
	return events[len(events)-1]
}
