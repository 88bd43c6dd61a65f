package manage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexport/chatlink/module/chat/model"
	"github.com/lexport/chatlink/tools/errs"
	"github.com/lexport/chatlink/tools/security"
)

var testSecret = []byte("test-secret")

type memConvStore struct {
	convs map[string]*model.Conversation
	seq   int
}

func newMemConvStore() *memConvStore {
	return &memConvStore{convs: make(map[string]*model.Conversation)}
}

func (s *memConvStore) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	c, ok := s.convs[id]
	if !ok {
		return nil, errs.ErrFetchFailed.WrapMsg("no such conversation", "id", id)
	}
	cp := *c
	return &cp, nil
}

func (s *memConvStore) InsertConversation(_ context.Context, c *model.Conversation) error {
	s.seq++
	c.ID = "conv-" + string(rune('0'+s.seq))
	c.Status = model.ConvStatusActive
	cp := *c
	s.convs[c.ID] = &cp
	return nil
}

func (s *memConvStore) RenameConversation(_ context.Context, id, title string) error {
	s.convs[id].Title = title
	return nil
}

func (s *memConvStore) SetConversationStatus(_ context.Context, id, status string) error {
	s.convs[id].Status = status
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *memConvStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := newMemConvStore()
	return NewService(store).Router(testSecret), store
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := security.Generate(security.DefaultOptions(testSecret), userID, nil)
	require.NoError(t, err)
	return token
}

func doReq(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateConversation(t *testing.T) {
	router, store := newTestRouter(t)
	token := mintToken(t, "u1")

	w := doReq(router, http.MethodPost, "/api/conversations", token,
		`{"title":"Lease dispute","topic":"housing"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	require.Len(t, store.convs, 1)
	for _, c := range store.convs {
		assert.Equal(t, "u1", c.OwnerUserID)
		assert.Equal(t, "Lease dispute", c.Title)
		assert.Equal(t, "housing", c.Topic)
		assert.Equal(t, model.ConvStatusActive, c.Status)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	router, _ := newTestRouter(t)
	token := mintToken(t, "u1")

	w := doReq(router, http.MethodPost, "/api/conversations", token, `{"topic":"housing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doReq(router, http.MethodPost, "/api/conversations", "", `{"title":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doReq(router, http.MethodPost, "/api/conversations", "not-a-jwt", `{"title":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRenameConversation(t *testing.T) {
	router, store := newTestRouter(t)
	token := mintToken(t, "u1")

	require.Equal(t, http.StatusCreated,
		doReq(router, http.MethodPost, "/api/conversations", token, `{"title":"old"}`).Code)
	var id string
	for k := range store.convs {
		id = k
	}

	w := doReq(router, http.MethodPatch, "/api/conversations/"+id, token, `{"title":"new"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "new", store.convs[id].Title)
}

func TestRenameRejectsNonOwner(t *testing.T) {
	router, store := newTestRouter(t)
	owner := mintToken(t, "u1")
	intruder := mintToken(t, "u2")

	require.Equal(t, http.StatusCreated,
		doReq(router, http.MethodPost, "/api/conversations", owner, `{"title":"mine"}`).Code)
	var id string
	for k := range store.convs {
		id = k
	}

	w := doReq(router, http.MethodPatch, "/api/conversations/"+id, intruder, `{"title":"stolen"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "mine", store.convs[id].Title)
}

func TestDeleteIsSoftClose(t *testing.T) {
	router, store := newTestRouter(t)
	token := mintToken(t, "u1")

	require.Equal(t, http.StatusCreated,
		doReq(router, http.MethodPost, "/api/conversations", token, `{"title":"done"}`).Code)
	var id string
	for k := range store.convs {
		id = k
	}

	w := doReq(router, http.MethodDelete, "/api/conversations/"+id, token, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	// the row survives with a closed status, it is never physically removed
	require.Contains(t, store.convs, id)
	assert.Equal(t, model.ConvStatusClosed, store.convs[id].Status)
}

func TestDeleteUnknownConversation(t *testing.T) {
	router, _ := newTestRouter(t)
	token := mintToken(t, "u1")

	w := doReq(router, http.MethodDelete, "/api/conversations/nope", token, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
