package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ipfs/go-cid"

	"github.com/relves/hermod/pkg/ledger"
	"github.com/relves/hermod/pkg/locator"
	"github.com/relves/hermod/pkg/service"
	"github.com/relves/hermod/pkg/types"
)

// Wire views. Locators travel as CID strings on the wire and as raw CID
// bytes on the ledger.

// MessageView is the response body for a direct message.
type MessageView struct {
	ID        types.MessageID  `json:"id"`
	Sender    types.AccountRef `json:"sender"`
	Recipient types.AccountRef `json:"recipient"`
	Locator   string           `json:"locator"`
	CreatedAt types.Height     `json:"created_at"`
	ExpiresAt types.Height     `json:"expires_at"`
	Read      bool             `json:"read"`
}

// GroupMessageView is the response body for a group message.
type GroupMessageView struct {
	ID        types.MessageID  `json:"id"`
	Group     types.GroupID    `json:"group"`
	Sender    types.AccountRef `json:"sender"`
	Locator   string           `json:"locator"`
	CreatedAt types.Height     `json:"created_at"`
	ExpiresAt types.Height     `json:"expires_at"`
}

// AppliedResponse reports a transition that produced a new record.
type AppliedResponse struct {
	ID     types.MessageID `json:"id"`
	Height types.Height    `json:"height"`
}

// GroupCreatedResponse reports a successful group creation.
type GroupCreatedResponse struct {
	ID     types.GroupID `json:"id"`
	Height types.Height  `json:"height"`
}

// HeightResponse reports the current height.
type HeightResponse struct {
	Height types.Height `json:"height"`
}

// AuditHeadResponse reports the audit commitment over all committed events.
type AuditHeadResponse struct {
	Root string `json:"root"`
	Size uint64 `json:"size"`
}

// EventView is one committed event with its position in the audit log.
type EventView struct {
	Seq      uint64      `json:"seq"`
	Event    types.Event `json:"event"`
	LeafHash string      `json:"leaf_hash"`
}

type sendMessageRequest struct {
	Sender    types.AccountRef `json:"sender"`
	Recipient types.AccountRef `json:"recipient"`
	Locator   string           `json:"locator"`
}

type callerRequest struct {
	Caller types.AccountRef `json:"caller"`
}

type createGroupRequest struct {
	Owner   types.AccountRef   `json:"owner"`
	Name    string             `json:"name"`
	Members []types.AccountRef `json:"members"`
}

type addMemberRequest struct {
	Caller types.AccountRef `json:"caller"`
	Member types.AccountRef `json:"member"`
}

type sendGroupMessageRequest struct {
	Sender  types.AccountRef `json:"sender"`
	Locator string           `json:"locator"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	loc, err := decodeLocator(req.Locator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.svc.SendMessage(r.Context(), req.Sender, req.Recipient, loc)
	if err != nil {
		s.writeError(w, "send message", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusCreated, AppliedResponse{ID: id, Height: height})
}

func (s *Server) handleReadMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMessageID(w, r)
	if !ok {
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.svc.ReadMessage(r.Context(), req.Caller, id); err != nil {
		s.writeError(w, "read message", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, HeightResponse{Height: height})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMessageID(w, r)
	if !ok {
		return
	}
	caller, ok := queryCaller(w, r)
	if !ok {
		return
	}

	if err := s.svc.DeleteMessage(r.Context(), caller, id); err != nil {
		s.writeError(w, "delete message", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, HeightResponse{Height: height})
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.svc.CreateGroup(r.Context(), req.Owner, req.Name, req.Members)
	if err != nil {
		s.writeError(w, "create group", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusCreated, GroupCreatedResponse{ID: id, Height: height})
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathGroupID(w, r)
	if !ok {
		return
	}
	var req addMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.svc.AddMember(r.Context(), req.Caller, groupID, req.Member); err != nil {
		s.writeError(w, "add member", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, HeightResponse{Height: height})
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathGroupID(w, r)
	if !ok {
		return
	}
	member := types.AccountRef(r.PathValue("member"))
	if member == "" {
		http.Error(w, "member required", http.StatusBadRequest)
		return
	}
	caller, ok := queryCaller(w, r)
	if !ok {
		return
	}

	if err := s.svc.RemoveMember(r.Context(), caller, groupID, member); err != nil {
		s.writeError(w, "remove member", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, HeightResponse{Height: height})
}

func (s *Server) handleSendGroupMessage(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathGroupID(w, r)
	if !ok {
		return
	}
	var req sendGroupMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	loc, err := decodeLocator(req.Locator)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.svc.SendGroupMessage(r.Context(), req.Sender, groupID, loc)
	if err != nil {
		s.writeError(w, "send group message", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusCreated, AppliedResponse{ID: id, Height: height})
}

func (s *Server) handleDeleteGroupMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMessageID(w, r)
	if !ok {
		return
	}
	caller, ok := queryCaller(w, r)
	if !ok {
		return
	}

	if err := s.svc.DeleteGroupMessage(r.Context(), caller, id); err != nil {
		s.writeError(w, "delete group message", err)
		return
	}
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, HeightResponse{Height: height})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMessageID(w, r)
	if !ok {
		return
	}
	msg, err := s.svc.GetMessage(id)
	if err != nil {
		s.writeError(w, "get message", err)
		return
	}
	s.writeJSON(w, http.StatusOK, MessageView{
		ID:        msg.ID,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Locator:   encodeLocator(msg.Locator),
		CreatedAt: msg.CreatedAt,
		ExpiresAt: msg.ExpiresAt,
		Read:      msg.Read,
	})
}

func (s *Server) handleGetGroupMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathMessageID(w, r)
	if !ok {
		return
	}
	msg, err := s.svc.GetGroupMessage(id)
	if err != nil {
		s.writeError(w, "get group message", err)
		return
	}
	s.writeJSON(w, http.StatusOK, GroupMessageView{
		ID:        msg.ID,
		Group:     msg.Group,
		Sender:    msg.Sender,
		Locator:   encodeLocator(msg.Locator),
		CreatedAt: msg.CreatedAt,
		ExpiresAt: msg.ExpiresAt,
	})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	account := types.AccountRef(r.PathValue("account"))
	ids, err := s.svc.Inbox(account)
	if err != nil {
		s.writeError(w, "inbox", err)
		return
	}
	s.writeJSON(w, http.StatusOK, idList(ids))
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	account := types.AccountRef(r.PathValue("account"))
	ids, err := s.svc.Outbox(account)
	if err != nil {
		s.writeError(w, "outbox", err)
		return
	}
	s.writeJSON(w, http.StatusOK, idList(ids))
}

func (s *Server) handleGroupsOf(w http.ResponseWriter, r *http.Request) {
	account := types.AccountRef(r.PathValue("account"))
	ids, err := s.svc.GroupsOf(account)
	if err != nil {
		s.writeError(w, "groups of account", err)
		return
	}
	if ids == nil {
		ids = []types.GroupID{}
	}
	s.writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleGetGroup(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathGroupID(w, r)
	if !ok {
		return
	}
	group, err := s.svc.GetGroup(groupID)
	if err != nil {
		s.writeError(w, "get group", err)
		return
	}
	s.writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleGroupMessages(w http.ResponseWriter, r *http.Request) {
	groupID, ok := pathGroupID(w, r)
	if !ok {
		return
	}
	caller, ok := queryCaller(w, r)
	if !ok {
		return
	}
	ids, err := s.svc.GroupMessages(caller, groupID)
	if err != nil {
		s.writeError(w, "list group messages", err)
		return
	}
	s.writeJSON(w, http.StatusOK, idList(ids))
}

func (s *Server) handleHeight(w http.ResponseWriter, r *http.Request) {
	height, ok := s.currentHeight(w)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, HeightResponse{Height: height})
}

func (s *Server) handleAuditHead(w http.ResponseWriter, r *http.Request) {
	root, size, err := s.svc.AuditHead()
	if err != nil {
		s.writeError(w, "audit head", err)
		return
	}
	s.writeJSON(w, http.StatusOK, AuditHeadResponse{
		Root: hex.EncodeToString(root),
		Size: size,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after", 0)
	if err != nil {
		http.Error(w, "invalid after", http.StatusBadRequest)
		return
	}
	limit, err := queryUint(r, "limit", 100)
	if err != nil || limit == 0 || limit > 1000 {
		http.Error(w, "invalid limit (must be 1-1000)", http.StatusBadRequest)
		return
	}

	records, err := s.svc.Events(r.Context(), after, int(limit))
	if err != nil {
		s.writeError(w, "list events", err)
		return
	}
	views := make([]EventView, 0, len(records))
	for _, rec := range records {
		views = append(views, EventView{
			Seq:      rec.Seq,
			Event:    rec.Event,
			LeafHash: hex.EncodeToString(rec.LeafHash),
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError maps ledger sentinels to HTTP statuses. Unknown errors are
// logged and reported as 500 without leaking detail.
func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrMessageNotFound),
		errors.Is(err, ledger.ErrGroupNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrNotRecipient),
		errors.Is(err, ledger.ErrNotAuthorized),
		errors.Is(err, ledger.ErrNotAMember),
		errors.Is(err, ledger.ErrCannotRemoveOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrInvalidRecipient),
		errors.Is(err, ledger.ErrNameTooLong),
		errors.Is(err, locator.ErrEmptyLocator),
		errors.Is(err, locator.ErrLocatorTooLong),
		errors.Is(err, locator.ErrInvalidLocator):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrAlreadyMember),
		errors.Is(err, ledger.ErrInboxFull),
		errors.Is(err, ledger.ErrOutboxFull),
		errors.Is(err, ledger.ErrTooManyMembers),
		errors.Is(err, ledger.ErrTooManyGroups),
		errors.Is(err, ledger.ErrGroupFeedFull):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, service.ErrUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "op", op, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pathMessageID(w http.ResponseWriter, r *http.Request) (types.MessageID, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return 0, false
	}
	return types.MessageID(id), true
}

func pathGroupID(w http.ResponseWriter, r *http.Request) (types.GroupID, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return 0, false
	}
	return types.GroupID(id), true
}

// currentHeight reads the committed height, answering 503 if the service
// has stopped serving state.
func (s *Server) currentHeight(w http.ResponseWriter) (types.Height, bool) {
	height, err := s.svc.Height()
	if err != nil {
		s.writeError(w, "height", err)
		return 0, false
	}
	return height, true
}

// queryCaller reads the acting account from the "as" query parameter, used
// by DELETE endpoints and scoped queries where a body would be awkward.
func queryCaller(w http.ResponseWriter, r *http.Request) (types.AccountRef, bool) {
	caller := r.URL.Query().Get("as")
	if caller == "" {
		http.Error(w, "as query parameter required", http.StatusBadRequest)
		return "", false
	}
	return types.AccountRef(caller), true
}

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

func decodeLocator(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("locator required")
	}
	c, err := cid.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid locator: %w", err)
	}
	return c.Bytes(), nil
}

func encodeLocator(raw []byte) string {
	c, err := cid.Cast(raw)
	if err != nil {
		// Stored locators were validated on the way in.
		return hex.EncodeToString(raw)
	}
	return c.String()
}

func idList(ids []types.MessageID) []types.MessageID {
	if ids == nil {
		return []types.MessageID{}
	}
	return ids
}
