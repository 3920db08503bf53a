package evaluation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateParamSent
	StateStreaming
	StateAwaitingResult
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateParamSent:
		return "param_sent"
	case StateStreaming:
		return "streaming"
	case StateAwaitingResult:
		return "awaiting_result"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal 是否为终止状态
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var validTransitions = map[State][]State{
	StateIdle:           {StateConnecting},
	StateConnecting:     {StateParamSent},
	StateParamSent:      {StateStreaming, StateDone},
	StateStreaming:      {StateAwaitingResult, StateDone},
	StateAwaitingResult: {StateDone},
}

// InvalidTransitionError 非法状态迁移
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}

// Session 一次评测会话：握手、参数帧、按节奏发送音频帧、等待结果。
// 会话只能运行一次。
type Session struct {
	id        string
	cfg       model.Config
	req       *model.Request
	signer    *Signer
	transport Transport
	now       func() time.Time
	logger    *logrus.Entry

	mu       sync.Mutex
	state    State
	conn     Conn
	endpoint model.SignedEndpoint
	buffer   []byte
	sid      string
	sent     int
	err      error
	started  bool

	// abortMu 独立于 mu，Abort 不会被进行中的发送阻塞
	abortMu sync.Mutex
	abort   context.CancelCauseFunc
	aborted bool
}

// NewSession 创建会话
func NewSession(id string, cfg model.Config, req *model.Request, signer *Signer, transport Transport, logger *logrus.Entry) *Session {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Session{
		id:        id,
		cfg:       cfg.WithDefaults(),
		req:       req,
		signer:    signer,
		transport: transport,
		now:       time.Now,
		logger:    logger.WithField("session", id),
		state:     StateIdle,
	}
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FramesSent 已发送的音频帧数（不含参数帧）
func (s *Session) FramesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}

// Budget 会话总时长上限：帧数 × 发送间隔 + 宽限时间
func (s *Session) Budget() time.Duration {
	frames := FrameCount(len(s.req.Audio), s.cfg.FrameSize)
	return time.Duration(frames)*s.cfg.FrameInterval + s.cfg.GracePeriod
}

// Abort 从外部终止会话，未完成的结果被丢弃
func (s *Session) Abort() {
	s.abortMu.Lock()
	abort := s.abort
	s.aborted = true
	s.abortMu.Unlock()
	if abort != nil {
		abort(errSessionAborted)
	}
}

// Run 执行完整的评测流程，返回解析后的结果或类型化错误
func (s *Session) Run(ctx context.Context) (*model.Result, error) {
	ctx, cancelTimeout := context.WithTimeoutCause(ctx, s.Budget(), errSessionTimeout)
	defer cancelTimeout()
	ctx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, newError(KindInvalidRequest, "Run", "session already started", nil)
	}
	s.started = true
	s.mu.Unlock()

	s.abortMu.Lock()
	s.abort = abort
	if s.aborted {
		abort(errSessionAborted)
	}
	s.abortMu.Unlock()

	if ctx.Err() != nil {
		return nil, s.fail(s.contextError(ctx, "Run"))
	}
	if err := s.transition(StateConnecting); err != nil {
		return nil, s.fail(err)
	}

	endpoint, err := s.signer.Sign(s.now())
	if err != nil {
		return nil, s.fail(err)
	}
	s.mu.Lock()
	s.endpoint = endpoint
	s.mu.Unlock()

	conn, err := s.transport.Dial(ctx, endpoint.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, s.fail(s.contextError(ctx, "Dial"))
		}
		return nil, s.fail(newError(KindConnect, "Dial", "failed to connect to ISE service", err))
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	s.logger.WithField("budget", s.Budget()).Info("[ISE] connected")

	return s.loop(ctx, conn)
}

// loop 单协程事件循环：消费传输事件、按节奏发送音频帧
func (s *Session) loop(ctx context.Context, conn Conn) (*model.Result, error) {
	next, stop := iter.Pull(Segment(s.req.Audio, s.cfg.FrameSize))
	defer stop()

	pacer := time.NewTimer(s.cfg.FrameInterval)
	pacer.Stop()
	defer pacer.Stop()

	var pace <-chan time.Time
	events := conn.Events()

	for {
		select {
		case <-ctx.Done():
			return nil, s.fail(s.contextError(ctx, "Run"))

		case ev, ok := <-events:
			if !ok {
				return nil, s.fail(newError(KindTransport, "Receive", "event stream ended before result", nil))
			}
			result, more, err := s.handleEvent(ctx, conn, ev, next)
			if err != nil {
				return nil, s.fail(err)
			}
			if result != nil {
				return result, nil
			}
			if more {
				pacer.Reset(s.cfg.FrameInterval)
				pace = pacer.C
			}

		case <-pace:
			more, err := s.sendNextFrame(ctx, conn, next)
			if err != nil {
				return nil, s.fail(err)
			}
			if more {
				pacer.Reset(s.cfg.FrameInterval)
			} else {
				pace = nil
			}
		}
	}
}

// handleEvent 处理一个传输事件。more 为 true 表示还有后续帧需要按节奏发送。
func (s *Session) handleEvent(ctx context.Context, conn Conn, ev Event, next func() (model.AudioFrame, bool)) (*model.Result, bool, error) {
	switch ev.Kind {
	case EventOpen:
		if err := s.sendParameters(ctx, conn); err != nil {
			return nil, false, err
		}
		if err := s.transition(StateStreaming); err != nil {
			return nil, false, err
		}
		more, err := s.sendNextFrame(ctx, conn, next)
		return nil, more, err

	case EventMessage:
		result, err := s.handleMessage(ev.Payload)
		if err != nil || result == nil {
			return nil, false, err
		}
		if err := conn.Close(); err != nil {
			s.logger.WithError(err).Debug("[ISE] close after result")
		}
		return result, false, nil

	case EventClose:
		return nil, false, newError(KindTransport, "Receive", "connection closed before result", ev.Err)

	case EventError:
		return nil, false, newError(KindTransport, "Receive", "transport error", ev.Err)

	default:
		return nil, false, newError(KindTransport, "Receive", fmt.Sprintf("unexpected event %s", ev.Kind), nil)
	}
}

// sendParameters 发送唯一的参数帧
func (s *Session) sendParameters(ctx context.Context, conn Conn) error {
	payload, err := buildParameterFrame(s.cfg, s.req)
	if err != nil {
		return newError(KindInvalidRequest, "SendParameters", "failed to encode parameter frame", err)
	}

	if err := s.transition(StateParamSent); err != nil {
		return err
	}
	if err := s.send(ctx, conn, payload, "SendParameters", "failed to send parameter frame"); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"category": s.req.Kind.Category.WireName(),
		"ent":      s.req.Kind.Language.Profile(),
	}).Debug("[ISE] parameter frame sent")
	return nil
}

// sendNextFrame 发送下一帧，返回是否还有后续帧
func (s *Session) sendNextFrame(ctx context.Context, conn Conn, next func() (model.AudioFrame, bool)) (bool, error) {
	frame, ok := next()
	if !ok {
		return false, nil
	}

	payload, err := buildAudioFrame(s.cfg, frame)
	if err != nil {
		return false, newError(KindInvalidRequest, "SendAudio", "failed to encode audio frame", err)
	}

	if s.State() != StateStreaming {
		return false, nil
	}
	if err := s.send(ctx, conn, payload, "SendAudio", fmt.Sprintf("failed to send frame %d", frame.Index)); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++

	if frame.Role == model.FrameLast {
		s.logger.WithField("frames", s.sent).Debug("[ISE] last frame sent")
		return false, s.transitionLocked(StateAwaitingResult)
	}
	return true, nil
}

// send 发送一帧，不持有 s.mu。上下文结束时立即返回，
// 不等待不响应上下文的传输层写入完成。
func (s *Session) send(ctx context.Context, conn Conn, payload []byte, op, message string) error {
	done := make(chan error, 1)
	go func() {
		done <- conn.Send(ctx, payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			if ctx.Err() != nil {
				return s.contextError(ctx, op)
			}
			return newError(KindTransport, op, message, err)
		}
		return nil
	case <-ctx.Done():
		return s.contextError(ctx, op)
	}
}

// handleMessage 处理服务端消息，收到 status=2 时返回解析结果
func (s *Session) handleMessage(payload []byte) (*model.Result, error) {
	msg, err := parseServerMessage(payload)
	if err != nil {
		return nil, malformed("Receive", "undecodable server message", err, string(payload))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.SID != "" {
		s.sid = msg.SID
	}
	if msg.Code != 0 {
		e := newError(KindService, "Receive",
			fmt.Sprintf("ISE error %d: %s (sid=%s)", msg.Code, msg.Message, msg.SID), nil)
		e.Raw = string(payload)
		return nil, e
	}
	if msg.Data == nil {
		s.logger.WithField("sid", msg.SID).Debug("[ISE] message without data")
		return nil, nil
	}

	if msg.Data.Data != "" {
		chunk, err := base64.StdEncoding.DecodeString(msg.Data.Data)
		if err != nil {
			return nil, malformed("Receive", "result payload is not valid base64", err, msg.Data.Data)
		}
		s.buffer = append(s.buffer, chunk...)
	}

	if msg.Data.Status != StatusLastFrame {
		s.logger.WithFields(logrus.Fields{
			"sid":    msg.SID,
			"status": msg.Data.Status,
		}).Debug("[ISE] intermediate message")
		return nil, nil
	}

	if s.state != StateAwaitingResult {
		s.logger.WithField("state", s.state).Warn("[ISE] result arrived before last frame was sent")
	}

	result, err := Decode(string(s.buffer))
	if err != nil {
		return nil, err
	}
	result.SessionID = s.id
	result.SID = s.sid

	if err := s.transitionLocked(StateDone); err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"sid":      s.sid,
		"total":    result.TotalScore,
		"rejected": result.Rejected,
	}).Info("[ISE] evaluation finished")
	return result, nil
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

// transitionLocked 调用方需持有 s.mu
func (s *Session) transitionLocked(to State) error {
	for _, allowed := range validTransitions[s.state] {
		if allowed == to {
			s.logger.WithFields(logrus.Fields{"from": s.state, "to": to}).Debug("[ISE] state change")
			s.state = to
			return nil
		}
	}
	return &InvalidTransitionError{From: s.state, To: to}
}

// fail 进入 Failed 状态并丢弃已累积的结果，只生效一次
func (s *Session) fail(err error) error {
	var typed *Error
	if !errors.As(err, &typed) {
		err = newError(KindTransport, "Run", "session failed", err)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		if s.err != nil {
			err = s.err
		}
		s.mu.Unlock()
		return err
	}
	s.state = StateFailed
	s.buffer = nil
	s.err = err
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	s.logger.WithError(err).Warn("[ISE] session failed")
	return err
}

// contextError 将上下文结束原因映射为超时或中止
func (s *Session) contextError(ctx context.Context, op string) error {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, errSessionTimeout):
		return newError(KindTimeout, op, fmt.Sprintf("session exceeded budget %s", s.Budget()), cause)
	case errors.Is(cause, context.DeadlineExceeded):
		return newError(KindTimeout, op, "caller deadline exceeded", cause)
	default:
		return newError(KindAborted, op, "session aborted", cause)
	}
}
