package evaluation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

// Service 语音评测服务核心业务逻辑
type Service struct {
	config    model.Config
	signer    *Signer
	transport Transport
	sessions  *SessionRegistry
	logger    *logrus.Entry
	now       func() time.Time
}

// Option 自定义服务依赖
type Option func(*Service)

// WithTransport 替换默认的 WebSocket 传输
func WithTransport(t Transport) Option {
	return func(s *Service) {
		s.transport = t
	}
}

// WithLogger 指定日志
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock 指定签名使用的时钟
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService 创建语音评测服务实例
func NewService(config model.Config, opts ...Option) (*Service, error) {
	config = config.WithDefaults()

	signer, err := NewSigner(config.Credentials, config.HostURL)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config:   config,
		signer:   signer,
		sessions: NewSessionRegistry(),
		logger:   logrus.WithField("component", "ise"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = NewWebSocketTransport(config.HandshakeTimeout)
	}
	return s, nil
}

// Config 返回生效的配置
func (s *Service) Config() model.Config {
	return s.config
}

// Cleanup 中止所有进行中的会话
func (s *Service) Cleanup() {
	if s.sessions != nil {
		s.sessions.AbortAll()
	}
}

// Abort 中止指定会话
func (s *Service) Abort(sessionID string) bool {
	return s.sessions.Abort(sessionID)
}

// ActiveSessions 进行中的会话数
func (s *Service) ActiveSessions() int {
	return s.sessions.Len()
}

// Evaluate 执行一次评测。被拒识的结果作为正常结果返回。
func (s *Service) Evaluate(ctx context.Context, req *model.Request) (*model.Result, error) {
	if req == nil {
		return nil, newError(KindInvalidRequest, "Evaluate", "request is nil", nil)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	session := NewSession(sessionID, s.config, req, s.signer, s.transport, s.logger)
	session.now = s.now

	s.sessions.Add(session)
	defer s.sessions.Remove(session)

	return session.Run(ctx)
}

// EvaluateBuffer 使用字节数组执行评测
func (s *Service) EvaluateBuffer(ctx context.Context, sessionID string, audio []byte, kind model.Kind, text string) (*model.Result, error) {
	req, err := model.NewRequest(sessionID, audio, kind, text)
	if err != nil {
		return nil, newError(KindInvalidRequest, "EvaluateBuffer", "invalid evaluation request", err)
	}
	return s.Evaluate(ctx, req)
}
