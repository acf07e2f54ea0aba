package detection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientCheck(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/v1/check", r.URL.Path)
		assert.Equal("Bearer secret", r.Header.Get("Authorization"))
		var req ContentCheckRequest
		assert.NoError(json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(int64(7), req.UserID)
		assert.True(req.IsUserTrusted)
		_ = json.NewEncoder(w).Encode(ContentDetectionResult{
			IsSpam:        true,
			NetConfidence: 85,
			CheckResults:  []CheckResult{{CheckName: CheckOpenAI, Result: Spam, Confidence: 90}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret")
	c.Client = srv.Client()
	res, err := c.Check(context.Background(), ContentCheckRequest{UserID: 7, ChatID: -100, MessageText: "hi", IsUserTrusted: true})
	require.NoError(err)
	assert.Equal(85, res.NetConfidence)
	assert.Equal(90, res.Check("openai").Confidence)
}

func TestClientCheckServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.Client = srv.Client()
	_, err := c.Check(context.Background(), ContentCheckRequest{UserID: 1})
	assert.Error(t, err)
}
