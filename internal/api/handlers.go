package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/receipts"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/types"
)

type UserSummary struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
}

type CreateGroupRequest struct {
	Name      string `json:"name"`
	MemberIds []int  `json:"memberIds"`
}

type MemberSummary struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
}

type JoinGroupResponse struct {
	GroupId int  `json:"groupId"`
	Joined  bool `json:"joined"`
}

type MarkReadResponse struct {
	MarkedCount int `json:"markedCount"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// listUsers reports every account with its live presence.
func (s *GoChatApp) listUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.db.ListAccounts(r.Context())
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// one snapshot so the listing is consistent across users
	online := make(map[int]bool)
	for _, id := range s.cs.Presence().OnlineUsers() {
		online[id] = true
	}

	users := make([]UserSummary, 0, len(accounts))
	for _, acc := range accounts {
		users = append(users, UserSummary{
			Id:       acc.Id,
			Username: acc.Username,
			IsOnline: online[acc.Id],
		})
	}

	s.writeJson(w, http.StatusOK, users)
}

func (s *GoChatApp) listGroups(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	groups, err := s.db.ListGroups(r.Context(), userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := make([]server.GroupSummary, 0, len(groups))
	for _, g := range groups {
		resp = append(resp, server.GroupSummary{Id: g.Id, Name: g.Name})
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *GoChatApp) createGroup(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		errResp := NewValidationError("group name is required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	g, err := s.db.CreateGroup(r.Context(), database.CreateGroupParams{
		Name:      req.Name,
		OwnerId:   userId,
		MemberIds: req.MemberIds,
	})
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, database.ErrNotFound):
			errResp = NewValidationError("unknown group member")
		case errors.Is(err, database.ErrConflict):
			errResp = NewConflictError()
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Printf("user %d created group %d (%s) with %d members", userId, g.Id, g.Name, len(g.MemberIds))
	s.writeJson(w, http.StatusCreated, types.Group{
		Id:        g.Id,
		Name:      g.Name,
		OwnerId:   g.OwnerId,
		MemberIds: g.MemberIds,
		CreatedAt: g.CreatedAt,
	})
}

func groupIdFromPath(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("groupId"))
	if err != nil || id <= 0 {
		return 0, errors.New("invalid group id")
	}
	return id, nil
}

// listGroupMembers is only visible to members of the group.
func (s *GoChatApp) listGroupMembers(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	groupId, err := groupIdFromPath(r)
	if err != nil {
		errResp := NewValidationError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members, err := s.db.ListGroupMembers(r.Context(), groupId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	summaries := make([]MemberSummary, 0, len(members))
	var isMember bool
	for _, u := range members {
		isMember = isMember || u.Id == userId
		summaries = append(summaries, MemberSummary{Id: u.Id, Username: u.Username})
	}
	if !isMember {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, summaries)
}

// joinGroup is idempotent: joining a group twice reports joined false.
func (s *GoChatApp) joinGroup(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	groupId, err := groupIdFromPath(r)
	if err != nil {
		errResp := NewValidationError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	joined, err := s.db.JoinGroup(r.Context(), userId, groupId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if joined {
		s.log.Printf("user %d joined group %d", userId, groupId)
		s.cs.RefreshGroups(r.Context(), userId)
	}

	s.writeJson(w, http.StatusOK, JoinGroupResponse{GroupId: groupId, Joined: joined})
}

func parseMessageQuery(r *http.Request) (database.MessageQuery, error) {
	var q database.MessageQuery
	var err error

	if v := r.URL.Query().Get("before"); v != "" {
		if q.Before, err = strconv.Atoi(v); err != nil || q.Before < 0 {
			return q, errors.New("invalid before")
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 0 {
			return q, errors.New("invalid limit")
		}
	}

	return q, nil
}

// getMessages returns a page of conversation history, oldest first.
func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chatId, err := types.ParseChatId(r.PathValue("chatId"))
	if err != nil {
		errResp := NewValidationError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	q, err := parseMessageQuery(r)
	if err != nil {
		errResp := NewValidationError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var msgs []database.Message
	if chatId.IsGroup() {
		ok, err := s.db.IsGroupMember(r.Context(), userId, chatId.Id)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if !ok {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		msgs, err = s.db.GetGroupMessages(r.Context(), chatId.Id, q)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	} else {
		if chatId.Id == userId {
			errResp := NewValidationError("cannot chat with yourself")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		msgs, err = s.db.GetPrivateMessages(r.Context(), userId, chatId.Id, q)
		if err != nil {
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	resp := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, types.Message{
			Id:         m.Id,
			SenderId:   m.SenderId,
			ReceiverId: m.ReceiverId,
			GroupId:    m.GroupId,
			Content:    m.Content,
			CreatedAt:  m.CreatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, resp)
}

func (s *GoChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	chatId, err := types.ParseChatId(r.PathValue("chatId"))
	if err != nil {
		errResp := NewValidationError(err.Error())
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	n, err := s.receipts.MarkRead(r.Context(), userId, chatId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, receipts.ErrForbidden) {
			errResp = NewForbiddenError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{MarkedCount: n})
}

func (s *GoChatApp) unreadCounts(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	counts, err := s.receipts.UnreadCounts(r.Context(), userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, counts)
}
