package evaluation

import (
	"encoding/base64"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

func testConfig() model.Config {
	return model.Config{Credentials: testCreds}.WithDefaults()
}

func decodeFrame(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestBuildParameterFrame(t *testing.T) {
	kind, err := model.ParseKind("cn_chapter")
	require.NoError(t, err)
	req, err := model.NewRequest("s1", []byte{1, 2, 3}, kind, "这是中文朗读测试。")
	require.NoError(t, err)

	raw, err := buildParameterFrame(testConfig(), req)
	require.NoError(t, err)
	frame := decodeFrame(t, raw)

	common := frame["common"].(map[string]any)
	assert.Equal(t, "test-app", common["app_id"])

	business := frame["business"].(map[string]any)
	assert.Equal(t, "read_chapter", business["category"])
	assert.Equal(t, "cn_vip", business["ent"])
	assert.Equal(t, "ssb", business["cmd"])
	assert.Equal(t, "utf8", business["rstcd"])
	assert.Equal(t, "ise", business["sub"])
	assert.Equal(t, "pupil", business["group"])
	assert.Equal(t, "utf-8", business["tte"])
	assert.Equal(t, "audio/L16;rate=16000", business["auf"])
	assert.Equal(t, "lame", business["aue"])
	assert.Equal(t, "multi_dimension_score", business["extra_ability"])
	assert.Equal(t, "\uFEFF[content]\n这是中文朗读测试。", business["text"])
	assert.NotContains(t, business, "aus")

	data := frame["data"].(map[string]any)
	assert.EqualValues(t, StatusFirstFrame, data["status"])
	assert.NotContains(t, string(raw), "test-secret")
}

func TestBuildAudioFrame(t *testing.T) {
	tests := []struct {
		role     model.FrameRole
		aus      int
		status   int
		dataType bool
	}{
		{model.FrameFirst, 1, StatusContinue, true},
		{model.FrameMiddle, 2, StatusContinue, true},
		{model.FrameLast, 4, StatusLastFrame, false},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			payload := []byte("pcm-bytes")
			raw, err := buildAudioFrame(testConfig(), model.AudioFrame{Payload: payload, Role: tt.role})
			require.NoError(t, err)
			frame := decodeFrame(t, raw)

			assert.NotContains(t, frame, "common")

			business := frame["business"].(map[string]any)
			assert.Equal(t, "auw", business["cmd"])
			assert.EqualValues(t, tt.aus, business["aus"])
			assert.Equal(t, "lame", business["aue"])

			data := frame["data"].(map[string]any)
			assert.EqualValues(t, tt.status, data["status"])
			assert.Equal(t, base64.StdEncoding.EncodeToString(payload), data["data"])
			if tt.dataType {
				assert.EqualValues(t, 1, data["data_type"])
				assert.Equal(t, "raw", data["encoding"])
			} else {
				assert.NotContains(t, data, "data_type")
			}
		})
	}
}

func TestBuildAudioFrameEmptyLast(t *testing.T) {
	raw, err := buildAudioFrame(testConfig(), model.AudioFrame{Role: model.FrameLast})
	require.NoError(t, err)

	data := decodeFrame(t, raw)["data"].(map[string]any)
	assert.Equal(t, "", data["data"])
	assert.EqualValues(t, StatusLastFrame, data["status"])
}

func TestParseServerMessage(t *testing.T) {
	msg, err := parseServerMessage([]byte(`{"code":0,"message":"success","sid":"ise000","data":{"status":2,"data":"PHhtbC8+"}}`))
	require.NoError(t, err)
	assert.Equal(t, 0, msg.Code)
	assert.Equal(t, "ise000", msg.SID)
	require.NotNil(t, msg.Data)
	assert.Equal(t, StatusLastFrame, msg.Data.Status)

	_, err = parseServerMessage([]byte(`{"code":`))
	assert.Error(t, err)
}
