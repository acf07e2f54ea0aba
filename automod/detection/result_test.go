package detection

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultNilSafety(t *testing.T) {
	assert := assert.New(t)

	var nilResult *ContentDetectionResult
	assert.Empty(nilResult.Results())
	assert.Nil(nilResult.Check(CheckOpenAI))

	r := &ContentDetectionResult{NetConfidence: 10}
	assert.NotNil(r.Results())
	assert.Empty(r.Results())
	assert.False(r.Any(Malware))
}

func TestCheckLookupCaseInsensitive(t *testing.T) {
	assert := assert.New(t)

	r := &ContentDetectionResult{
		CheckResults: []CheckResult{
			{CheckName: "UrlBlocklist", Result: Spam, Confidence: 100},
			{CheckName: "OpenAI", Result: Review, Confidence: 40},
		},
	}
	cr := r.Check("urlblocklist")
	if assert.NotNil(cr) {
		assert.Equal(Spam, cr.Result)
	}
	assert.Equal(Review, r.Check("OPENAI").Result)
	assert.Nil(r.Check("Bayes"))
	assert.True(r.Any(Review))
}

func TestClassificationJSON(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	raw := `{"isSpam":true,"netConfidence":-12,"maxConfidence":90,"checkResults":[{"checkName":"FileScanning","result":"Malware","confidence":100}]}`
	var r ContentDetectionResult
	require.NoError(json.Unmarshal([]byte(raw), &r))
	assert.Equal(-12, r.NetConfidence)
	assert.Equal(Malware, r.CheckResults[0].Result)

	bad := `{"checkResults":[{"checkName":"x","result":"maybe"}]}`
	assert.Error(json.Unmarshal([]byte(bad), &r))
}
