package evaluation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventKind 传输层事件类型
type EventKind int

const (
	EventOpen EventKind = iota
	EventMessage
	EventClose
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event 传输层投递给会话的统一事件
type Event struct {
	Kind    EventKind
	Payload []byte
	Err     error
}

// Conn 一条已建立的双工连接。Events 先投递 EventOpen，最后以 EventClose
// 或 EventError 结束后关闭通道。
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Events() <-chan Event
	Close() error
}

// Transport 建立双工连接
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketTransport 基于 gorilla/websocket 的传输实现
type WebSocketTransport struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWebSocketTransport 创建 WebSocket 传输
func NewWebSocketTransport(handshakeTimeout time.Duration) *WebSocketTransport {
	return &WebSocketTransport{
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		writeTimeout: 10 * time.Second,
	}
}

// Dial 建立连接并启动读循环
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	c := &wsConn{
		conn:         conn,
		events:       make(chan Event, 16),
		done:         make(chan struct{}),
		writeTimeout: t.writeTimeout,
	}
	c.events <- Event{Kind: EventOpen}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	conn         *websocket.Conn
	events       chan Event
	done         chan struct{}
	closeOnce    sync.Once
	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func (c *wsConn) Events() <-chan Event {
	return c.events
}

func (c *wsConn) Send(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	// 上下文结束时让阻塞中的写入立即超时返回
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.NetConn().SetWriteDeadline(time.Now())
	})
	defer stop()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		// 有写入阻塞时跳过关闭帧，直接关闭底层连接
		if c.writeMu.TryLock() {
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

// readLoop 读取服务端消息并转为事件，直到连接关闭
func (c *wsConn) readLoop() {
	defer close(c.events)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			ev := Event{Kind: EventError, Err: err}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || isClosedLocally(c.done) {
				ev = Event{Kind: EventClose, Err: err}
			}
			c.deliver(ev)
			return
		}
		if !c.deliver(Event{Kind: EventMessage, Payload: data}) {
			return
		}
	}
}

func (c *wsConn) deliver(ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func isClosedLocally(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// IsRetryableError 判断错误是否值得由调用方重试
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway) {
		return true
	}
	switch KindOf(err) {
	case KindConnect, KindTransport, KindTimeout, KindService:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
