package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/hermod/internal/storage/sqlite"
	"github.com/relves/hermod/pkg/ledger"
	"github.com/relves/hermod/pkg/server"
	"github.com/relves/hermod/pkg/service"
	"github.com/relves/hermod/pkg/types"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, err := service.Open(context.Background(), service.Config{
		Store:  store,
		Ledger: ledger.DefaultConfig(),
	})
	require.NoError(t, err)

	srv, err := server.New(server.WithService(svc))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func testCID(t *testing.T, payload string) string {
	t.Helper()
	hash, err := mh.Sum([]byte(payload), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, hash).String()
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func doDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestSendReadDeleteMessage(t *testing.T) {
	ts := testServer(t)
	loc := testCID(t, "hello")

	resp := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"sender":    "alice",
		"recipient": "bob",
		"locator":   loc,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decodeBody[server.AppliedResponse](t, resp)
	assert.Equal(t, types.MessageID(1), sent.ID)

	resp = postJSON(t, fmt.Sprintf("%s/v1/messages/%d/read", ts.URL, sent.ID), map[string]any{
		"caller": "bob",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/v1/messages/%d", ts.URL, sent.ID))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg := decodeBody[server.MessageView](t, resp)
	assert.Equal(t, types.AccountRef("alice"), msg.Sender)
	assert.Equal(t, loc, msg.Locator)
	assert.True(t, msg.Read)

	resp = doDelete(t, fmt.Sprintf("%s/v1/messages/%d?as=alice", ts.URL, sent.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(fmt.Sprintf("%s/v1/messages/%d", ts.URL, sent.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSendMessage_InvalidLocator(t *testing.T) {
	ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"sender":    "alice",
		"recipient": "bob",
		"locator":   "not-a-cid",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestSendMessage_SelfSendRejected(t *testing.T) {
	ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"sender":    "alice",
		"recipient": "alice",
		"locator":   testCID(t, "hello"),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestReadMessage_NonRecipientForbidden(t *testing.T) {
	ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"sender":    "alice",
		"recipient": "bob",
		"locator":   testCID(t, "hello"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decodeBody[server.AppliedResponse](t, resp)

	resp = postJSON(t, fmt.Sprintf("%s/v1/messages/%d/read", ts.URL, sent.ID), map[string]any{
		"caller": "carol",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestInboxOutbox(t *testing.T) {
	ts := testServer(t)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/v1/messages", map[string]any{
			"sender":    "alice",
			"recipient": "bob",
			"locator":   testCID(t, fmt.Sprintf("m%d", i)),
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/v1/accounts/bob/inbox")
	require.NoError(t, err)
	inbox := decodeBody[[]types.MessageID](t, resp)
	assert.Equal(t, []types.MessageID{1, 2, 3}, inbox)

	resp, err = http.Get(ts.URL + "/v1/accounts/carol/inbox")
	require.NoError(t, err)
	assert.Equal(t, []types.MessageID{}, decodeBody[[]types.MessageID](t, resp))
}

func TestGroupLifecycle(t *testing.T) {
	ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/groups", map[string]any{
		"owner":   "alice",
		"name":    "ops",
		"members": []string{"bob"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[server.GroupCreatedResponse](t, resp)
	require.Equal(t, types.GroupID(1), created.ID)

	resp = postJSON(t, fmt.Sprintf("%s/v1/groups/%d/members", ts.URL, created.ID), map[string]any{
		"caller": "alice",
		"member": "carol",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Bob is a member but not the owner; the default policy rejects him.
	resp = postJSON(t, fmt.Sprintf("%s/v1/groups/%d/members", ts.URL, created.ID), map[string]any{
		"caller": "bob",
		"member": "dave",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doDelete(t, fmt.Sprintf("%s/v1/groups/%d/members/alice?as=alice", ts.URL, created.ID))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/v1/groups/%d", ts.URL, created.ID))
	require.NoError(t, err)
	group := decodeBody[types.Group](t, resp)
	assert.Equal(t, types.AccountRef("alice"), group.Owner)
	assert.Len(t, group.Members, 3)
}

func TestGroupMessages_MemberOnly(t *testing.T) {
	ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/groups", map[string]any{
		"owner":   "alice",
		"name":    "ops",
		"members": []string{"bob"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[server.GroupCreatedResponse](t, resp)

	resp = postJSON(t, fmt.Sprintf("%s/v1/groups/%d/messages", ts.URL, created.ID), map[string]any{
		"sender":  "bob",
		"locator": testCID(t, "hello group"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sent := decodeBody[server.AppliedResponse](t, resp)

	resp = postJSON(t, fmt.Sprintf("%s/v1/groups/%d/messages", ts.URL, created.ID), map[string]any{
		"sender":  "carol",
		"locator": testCID(t, "intruder"),
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(fmt.Sprintf("%s/v1/groups/%d/messages?as=alice", ts.URL, created.ID))
	require.NoError(t, err)
	ids := decodeBody[[]types.MessageID](t, resp)
	assert.Equal(t, []types.MessageID{sent.ID}, ids)

	resp, err = http.Get(fmt.Sprintf("%s/v1/groups/%d/messages?as=carol", ts.URL, created.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

func TestEventsAndAuditHead(t *testing.T) {
	ts := testServer(t)

	resp := postJSON(t, ts.URL+"/v1/messages", map[string]any{
		"sender":    "alice",
		"recipient": "bob",
		"locator":   testCID(t, "hello"),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/v1/events")
	require.NoError(t, err)
	events := decodeBody[[]server.EventView](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, types.EventMessageSent, events[0].Event.Kind)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.NotEmpty(t, events[0].LeafHash)

	resp, err = http.Get(ts.URL + "/v1/audit/head")
	require.NoError(t, err)
	head := decodeBody[server.AuditHeadResponse](t, resp)
	assert.Equal(t, uint64(1), head.Size)
	assert.NotEmpty(t, head.Root)
}

func TestDelete_RequiresCaller(t *testing.T) {
	ts := testServer(t)

	resp := doDelete(t, ts.URL+"/v1/messages/1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
