package evaluation

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

var testCreds = model.Credentials{
	AppID:     "test-app",
	APIKey:    "test-key",
	APISecret: "test-secret",
}

func TestSignIsDeterministic(t *testing.T) {
	ts := time.Date(2024, 10, 18, 7, 39, 19, 0, time.UTC)

	a, err := Sign(testCreds, model.DefaultHostURL, "ise-api.xfyun.cn", "/v2/open-ise", ts)
	require.NoError(t, err)
	b, err := Sign(testCreds, model.DefaultHostURL, "ise-api.xfyun.cn", "/v2/open-ise", ts)
	require.NoError(t, err)

	assert.Equal(t, a.URL, b.URL)
	assert.Equal(t, ts, a.IssuedAt)
}

func TestSignDiffersAcrossTimestamps(t *testing.T) {
	ts := time.Date(2024, 10, 18, 7, 39, 19, 0, time.UTC)

	a, err := Sign(testCreds, model.DefaultHostURL, "ise-api.xfyun.cn", "/v2/open-ise", ts)
	require.NoError(t, err)
	b, err := Sign(testCreds, model.DefaultHostURL, "ise-api.xfyun.cn", "/v2/open-ise", ts.Add(time.Second))
	require.NoError(t, err)

	qa := mustQuery(t, a.URL)
	qb := mustQuery(t, b.URL)
	assert.NotEqual(t, qa.Get("authorization"), qb.Get("authorization"))
	assert.NotEqual(t, qa.Get("date"), qb.Get("date"))
}

func TestSignAuthorizationMatchesCanonicalString(t *testing.T) {
	ts := time.Date(2024, 10, 18, 7, 39, 19, 0, time.UTC)
	signer, err := NewSigner(testCreds, model.DefaultHostURL)
	require.NoError(t, err)

	endpoint, err := signer.Sign(ts)
	require.NoError(t, err)

	q := mustQuery(t, endpoint.URL)
	assert.Equal(t, "Fri, 18 Oct 2024 07:39:19 GMT", q.Get("date"))
	assert.Equal(t, "ise-api.xfyun.cn", q.Get("host"))

	raw, err := base64.StdEncoding.DecodeString(q.Get("authorization"))
	require.NoError(t, err)

	re := regexp.MustCompile(`^api_key="([^"]+)", algorithm="([^"]+)", headers="([^"]+)", signature="([^"]+)"$`)
	m := re.FindStringSubmatch(string(raw))
	require.Len(t, m, 5, "authorization %q", raw)
	assert.Equal(t, "test-key", m[1])
	assert.Equal(t, "hmac-sha256", m[2])
	assert.Equal(t, "host date request-line", m[3])

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("host: ise-api.xfyun.cn\ndate: Fri, 18 Oct 2024 07:39:19 GMT\nGET /v2/open-ise HTTP/1.1"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), m[4])

	assert.NotContains(t, endpoint.URL, "test-secret")
}

func TestSignUsesUTC(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	ts := time.Date(2024, 10, 18, 15, 39, 19, 0, loc)

	endpoint, err := Sign(testCreds, model.DefaultHostURL, "ise-api.xfyun.cn", "/v2/open-ise", ts)
	require.NoError(t, err)
	assert.Equal(t, "Fri, 18 Oct 2024 07:39:19 GMT", mustQuery(t, endpoint.URL).Get("date"))
}

func TestSignRequiresSecret(t *testing.T) {
	_, err := Sign(model.Credentials{APIKey: "k"}, model.DefaultHostURL, "h", "/", time.Now())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSigning))
}

func TestNewSignerRejectsHostlessURL(t *testing.T) {
	_, err := NewSigner(testCreds, "not a url")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSigning))
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}
