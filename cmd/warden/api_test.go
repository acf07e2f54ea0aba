package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatwarden/warden/automod/config"
	"github.com/chatwarden/warden/automod/engine"
	"github.com/chatwarden/warden/automod/enforcement"
	"github.com/chatwarden/warden/automod/orchestrator"
	"github.com/chatwarden/warden/models"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "sekrit"

func testServer(t *testing.T) (*Server, *engine.TestFixture, *echo.Echo) {
	f := engine.EngineTestFixture()
	s := &Server{
		logger: slog.Default(),
		store:  f.Store,
		config: config.NewService(f.Store, nil, nil),
		health: f.Health,
		orch:   f.Orchestrator,
		engine: f.Engine,
	}
	return s, f, s.newAPI(testToken, prometheus.NewRegistry())
}

func doRequest(e *echo.Echo, method, path, body string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAPIAuth(t *testing.T) {
	assert := assert.New(t)
	_, _, e := testServer(t)

	assert.Equal(http.StatusOK, doRequest(e, http.MethodGet, "/_health", "", false).Code)
	assert.Equal(http.StatusUnauthorized, doRequest(e, http.MethodGet, "/api/chats", "", false).Code)
	assert.Equal(http.StatusOK, doRequest(e, http.MethodGet, "/api/chats", "", true).Code)
}

func TestAPIBan(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, f, e := testServer(t)

	rec := doRequest(e, http.MethodPost, "/api/users/42/ban", `{"reason":"raid","operatorId":"op-1","operatorEmail":"op@example.com"}`, true)
	require.Equal(http.StatusOK, rec.Code)
	var res orchestrator.BanResult
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(res.Success)
	assert.True(res.TrustRemoved)
	assert.Equal(2, res.ChatsAffected)
	assert.Len(f.Platform.Bans, 2)
	f.Orchestrator.Wait()

	recs, err := f.Store.ListActions(context.Background(), 42, 10)
	require.NoError(err)
	require.NotEmpty(recs)
	assert.Equal("op-1", recs[0].IssuedBy.WebUserID)
}

func TestAPIValidation(t *testing.T) {
	assert := assert.New(t)
	_, f, e := testServer(t)

	assert.Equal(http.StatusBadRequest, doRequest(e, http.MethodPost, "/api/users/42/ban", `{}`, true).Code)
	assert.Equal(http.StatusBadRequest, doRequest(e, http.MethodPost, "/api/users/abc/ban", `{"reason":"x"}`, true).Code)
	assert.Equal(http.StatusUnprocessableEntity, doRequest(e, http.MethodPost, "/api/users/777000/ban", `{"reason":"x"}`, true).Code)
	assert.Equal(http.StatusBadRequest, doRequest(e, http.MethodPost, "/api/users/42/tempban", `{"reason":"x"}`, true).Code)
	assert.Equal(http.StatusBadRequest, doRequest(e, http.MethodPost, "/api/users/42/tempban", `{"reason":"x","duration":"soon"}`, true).Code)
	assert.Zero(f.Platform.Calls())
}

func TestAPITempBanAndRestrict(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, f, e := testServer(t)

	rec := doRequest(e, http.MethodPost, "/api/users/42/tempban", `{"reason":"cool off","duration":"1h"}`, true)
	require.Equal(http.StatusOK, rec.Code)
	var tb orchestrator.TempBanResult
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &tb))
	assert.True(tb.Success)
	assert.WithinDuration(time.Now().Add(time.Hour), tb.ExpiresAt, time.Minute)

	chat := engine.FixtureChats[0]
	rec = doRequest(e, http.MethodPost, "/api/users/43/restrict", `{"reason":"flood","chatId":`+jsonInt(chat)+`}`, true)
	require.Equal(http.StatusOK, rec.Code)
	var rr orchestrator.RestrictResult
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &rr))
	assert.True(rr.Success)
	require.Len(f.Platform.Restrictions, 1)
	assert.Equal(chat, f.Platform.Restrictions[0].ChatID)
	f.Orchestrator.Wait()
}

func TestAPIMarkSpam(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	_, f, e := testServer(t)

	chat := engine.FixtureChats[0]
	require.NoError(f.Store.SaveMessage(ctx, &models.Message{ChatID: chat, MessageID: 900, UserID: 42, Text: "buy followers cheap", SentAt: time.Now()}))

	assert.Equal(http.StatusNotFound, doRequest(e, http.MethodPost, "/api/messages/"+jsonInt(chat)+"/901/spam", `{}`, true).Code)

	rec := doRequest(e, http.MethodPost, "/api/messages/"+jsonInt(chat)+"/900/spam", `{"reason":"spam"}`, true)
	require.Equal(http.StatusOK, rec.Code)
	var res orchestrator.SpamBanResult
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(res.Success)
	assert.True(res.MessageDeleted)
	assert.True(res.TrainingSampleAdded)
	assert.Contains(f.Platform.Deletes, enforcement.ChatMessage{ChatID: chat, MessageID: 900})
	f.Orchestrator.Wait()
}

func TestAPIMarkSpamBackfillsUnobservedMessage(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	_, f, e := testServer(t)

	chat := engine.FixtureChats[0]
	path := "/api/messages/" + jsonInt(chat) + "/950/spam"
	assert.Equal(http.StatusUnprocessableEntity, doRequest(e, http.MethodPost, path, `{"userId":777000,"text":"x"}`, true).Code)

	rec := doRequest(e, http.MethodPost, path, `{"reason":"spam","userId":43,"userName":"late","text":"cheap crypto signals"}`, true)
	require.Equal(http.StatusOK, rec.Code)
	var res orchestrator.SpamBanResult
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(res.Success)
	assert.True(res.TrainingSampleAdded)
	f.Orchestrator.Wait()

	row, err := f.Store.GetMessage(ctx, chat, 950)
	require.NoError(err)
	assert.Equal(int64(43), row.UserID)
	assert.Equal("cheap crypto signals", row.Text)

	banned, err := f.Store.IsBanned(ctx, 43)
	require.NoError(err)
	assert.True(banned)
}

func TestAPIConfig(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, _, e := testServer(t)

	rec := doRequest(e, http.MethodGet, "/api/config/-1001", "", true)
	require.Equal(http.StatusOK, rec.Code)
	var cfg config.ModerationConfig
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(config.Default().Detection, cfg.Detection)

	cfg.Detection.ConfidentThreshold = 150
	b, _ := json.Marshal(cfg)
	assert.Equal(http.StatusBadRequest, doRequest(e, http.MethodPut, "/api/config/-1001", string(b), true).Code)

	cfg.Detection.ConfidentThreshold = 95
	b, _ = json.Marshal(cfg)
	rec = doRequest(e, http.MethodPut, "/api/config/-1001", string(b), true)
	require.Equal(http.StatusOK, rec.Code)
	var saved config.ModerationConfig
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(95, saved.Detection.ConfidentThreshold)
}

func TestAPIListChats(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	_, _, e := testServer(t)

	rec := doRequest(e, http.MethodGet, "/api/chats", "", true)
	require.Equal(http.StatusOK, rec.Code)
	var chats []ChatView
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(chats, len(engine.FixtureChats))

	enforceable := 0
	for _, c := range chats {
		if c.CanEnforce {
			enforceable++
		}
	}
	assert.Equal(2, enforceable)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
