package evaluation

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

// fakeISE 模拟评测服务端：记录收到的帧，收到最后一帧后返回结果
type fakeISE struct {
	mu       sync.Mutex
	frames   []map[string]any
	queries  []string
	markup   string
	errReply string
}

func (f *fakeISE) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.queries = append(f.queries, r.URL.RawQuery)
		f.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal(data, &frame); err != nil {
				t.Errorf("client sent invalid frame: %v", err)
				return
			}
			f.mu.Lock()
			f.frames = append(f.frames, frame)
			f.mu.Unlock()

			if f.errReply != "" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(f.errReply))
				return
			}
			if isAudioFrame(frame) && frameStatus(frame) == StatusLastFrame {
				reply := `{"code":0,"message":"success","sid":"ise-sid","data":{"status":2,"data":"` +
					base64.StdEncoding.EncodeToString([]byte(f.markup)) + `"}}`
				_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
			}
		}
	}
}

func (f *fakeISE) receivedFrames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.frames...)
}

func newFakeServer(t *testing.T, f *fakeISE) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/v2/open-ise"
}

func TestWebSocketTransportEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, append([]byte("echo:"), data...))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	defer srv.Close()

	transport := NewWebSocketTransport(time.Second)
	conn, err := transport.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer conn.Close()

	events := conn.Events()
	ev := <-events
	assert.Equal(t, EventOpen, ev.Kind)

	require.NoError(t, conn.Send(context.Background(), []byte("ping")))

	ev = <-events
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, "echo:ping", string(ev.Payload))

	ev = <-events
	assert.Equal(t, EventClose, ev.Kind)

	_, ok := <-events
	assert.False(t, ok, "events channel should be closed")

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestWebSocketSendStopsWhenContextEnds(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// 不读取，让客户端写缓冲被填满
		<-release
	}))
	defer srv.Close()
	defer close(release)

	transport := NewWebSocketTransport(time.Second)
	conn, err := transport.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = conn.Send(ctx, make([]byte, 64<<20))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	closed := make(chan struct{})
	go func() {
		_ = conn.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked after interrupted send")
	}
}

func TestWebSocketTransportDialFailure(t *testing.T) {
	transport := NewWebSocketTransport(200 * time.Millisecond)
	_, err := transport.Dial(context.Background(), "ws://127.0.0.1:1/v2/open-ise")
	assert.Error(t, err)
}

func TestServiceEvaluateOverWebSocket(t *testing.T) {
	fake := &fakeISE{markup: sampleResult}
	_, hostURL := newFakeServer(t, fake)

	svc, err := NewService(model.Config{
		Credentials:   testCreds,
		HostURL:       hostURL,
		FrameInterval: time.Millisecond,
		GracePeriod:   2 * time.Second,
	})
	require.NoError(t, err)
	defer svc.Cleanup()

	kind, err := model.ParseKind("en_word")
	require.NoError(t, err)

	audioLen := 1280*4 + 10
	result, err := svc.EvaluateBuffer(context.Background(), "", makeAudio(audioLen), kind, "hello")
	require.NoError(t, err)

	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, "ise-sid", result.SID)
	assert.Equal(t, 87.5, result.TotalScore)
	assert.Zero(t, svc.ActiveSessions())

	frames := fake.receivedFrames()
	require.Len(t, frames, 1+FrameCount(audioLen, 1280))

	business := frames[0]["business"].(map[string]any)
	assert.Equal(t, "read_word", business["category"])
	assert.Equal(t, "en_vip", business["ent"])

	// 拼接音频帧应还原原始音频
	var joined []byte
	for _, f := range frames[1:] {
		chunk, err := base64.StdEncoding.DecodeString(f["data"].(map[string]any)["data"].(string))
		require.NoError(t, err)
		joined = append(joined, chunk...)
	}
	assert.Equal(t, makeAudio(audioLen), joined)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.queries, 1)
	assert.Contains(t, fake.queries[0], "authorization=")
	assert.Contains(t, fake.queries[0], "date=")
}

func TestServiceEvaluateServiceErrorOverWebSocket(t *testing.T) {
	fake := &fakeISE{errReply: `{"code":11200,"message":"auth no license","sid":"ise-err"}`}
	_, hostURL := newFakeServer(t, fake)

	svc, err := NewService(model.Config{
		Credentials:   testCreds,
		HostURL:       hostURL,
		FrameInterval: time.Millisecond,
		GracePeriod:   2 * time.Second,
	})
	require.NoError(t, err)

	kind, _ := model.ParseKind("cn_word")
	_, err = svc.EvaluateBuffer(context.Background(), "s-err", makeAudio(5000), kind, "你好")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindService), "got %v", err)
	assert.True(t, IsRetryableError(err))
}

func TestServiceEvaluateInvalidRequest(t *testing.T) {
	svc, err := NewService(model.Config{Credentials: testCreds}, WithTransport(&stubTransport{conn: newStubConn()}))
	require.NoError(t, err)

	kind, _ := model.ParseKind("en_word")
	_, err = svc.EvaluateBuffer(context.Background(), "", nil, kind, "hello")
	assert.True(t, IsKind(err, KindInvalidRequest))

	_, err = svc.Evaluate(context.Background(), nil)
	assert.True(t, IsKind(err, KindInvalidRequest))
}

func TestServiceUsesInjectedClock(t *testing.T) {
	conn := newStubConn()
	conn.onSend = respondOnLastFrame(sampleResult)
	transport := &stubTransport{conn: conn}
	fixed := time.Date(2024, 10, 18, 7, 39, 19, 0, time.UTC)

	svc, err := NewService(fastConfig(), WithTransport(transport), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	kind, _ := model.ParseKind("en_sentence")
	_, err = svc.EvaluateBuffer(context.Background(), "clock", makeAudio(100), kind, "nice to meet you.")
	require.NoError(t, err)

	require.Len(t, transport.urls, 1)
	assert.Contains(t, transport.urls[0], "date=Fri%2C+18+Oct+2024+07%3A39%3A19+GMT")
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(newError(KindConnect, "Dial", "x", nil)))
	assert.True(t, IsRetryableError(newError(KindTimeout, "Run", "x", nil)))
	assert.False(t, IsRetryableError(newError(KindMalformedPayload, "Decode", "x", nil)))
	assert.False(t, IsRetryableError(newError(KindAborted, "Run", "x", nil)))
	assert.False(t, IsRetryableError(errors.New("plain")))
}
