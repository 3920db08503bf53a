package evaluation

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Request 一次评测请求，构造后不可变
type Request struct {
	SessionID     string
	Audio         []byte
	Kind          Kind
	ReferenceText string
	SampleRateHz  int
}

// NewRequest 校验参数并复制音频，返回不可变请求
func NewRequest(sessionID string, audio []byte, kind Kind, text string) (*Request, error) {
	if len(audio) == 0 {
		return nil, errors.New("no audio data to evaluate")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unsupported evaluation kind %q", kind.String())
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("reference text is required")
	}

	buf := make([]byte, len(audio))
	copy(buf, audio)

	return &Request{
		SessionID:     sessionID,
		Audio:         buf,
		Kind:          kind,
		ReferenceText: text,
		SampleRateHz:  SampleRateHz,
	}, nil
}

// SignedEndpoint 签名后的连接地址，只对签发它的那一次连接有效
type SignedEndpoint struct {
	URL      string
	IssuedAt time.Time
}

// FrameRole 音频帧在序列中的位置
type FrameRole int

const (
	FrameFirst FrameRole = iota
	FrameMiddle
	FrameLast
)

func (r FrameRole) String() string {
	switch r {
	case FrameFirst:
		return "first"
	case FrameMiddle:
		return "middle"
	case FrameLast:
		return "last"
	default:
		return fmt.Sprintf("FrameRole(%d)", int(r))
	}
}

// AudioFrame 一帧音频。Last 帧的 Payload 可以为空。
type AudioFrame struct {
	Index   int
	Payload []byte
	Role    FrameRole
}
