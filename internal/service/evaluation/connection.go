package evaluation

import (
	"sync"
)

// SessionRegistry 记录正在进行的评测会话，服务关闭时统一中止
type SessionRegistry struct {
	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionRegistry 创建会话注册表
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
	}
}

// Add 登记会话。同 ID 的旧会话会被中止。
func (r *SessionRegistry) Add(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.sessions[session.ID()]; exists && old != session {
		old.Abort()
	}

	r.sessions[session.ID()] = session
}

// Get 查找会话
func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[sessionID]
	return session, exists
}

// Remove 移除会话，只有当登记的仍是同一个会话时才移除
func (r *SessionRegistry) Remove(session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sessions[session.ID()]; exists && current == session {
		delete(r.sessions, session.ID())
	}
}

// Abort 中止指定会话
func (r *SessionRegistry) Abort(sessionID string) bool {
	session, ok := r.Get(sessionID)
	if ok {
		session.Abort()
	}
	return ok
}

// Len 正在进行的会话数
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// AbortAll 中止全部会话
func (r *SessionRegistry) AbortAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, session := range r.sessions {
		session.Abort()
		delete(r.sessions, id)
	}
}
