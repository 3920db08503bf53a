package evaluation

import "time"

const (
	// DefaultHostURL 讯飞语音评测 WebSocket 地址
	DefaultHostURL = "ws://ise-api.xfyun.cn/v2/open-ise"
	// DefaultFrameSize 每帧音频字节数
	DefaultFrameSize = 1280
	// DefaultFrameInterval 帧发送间隔，近似实时播放速率
	DefaultFrameInterval = 40 * time.Millisecond
	// DefaultGracePeriod 最后一帧之后等待服务端评分的最长时间
	DefaultGracePeriod = 15 * time.Second
	// DefaultHandshakeTimeout WebSocket 握手超时
	DefaultHandshakeTimeout = 30 * time.Second
	// DefaultGroup 学段参数
	DefaultGroup = "pupil"
	// DefaultAudioEncoding 音频传输编码（lame 为 mp3）
	DefaultAudioEncoding = "lame"
	// SampleRateHz 服务端要求的采样率
	SampleRateHz = 16000
)

// Credentials 讯飞开放平台凭证。APISecret 只用于签名，不会被发送。
type Credentials struct {
	AppID     string `json:"appId"`
	APIKey    string `json:"apiKey"`
	APISecret string `json:"-"`
}

// Valid 判断凭证是否齐全
func (c Credentials) Valid() bool {
	return c.AppID != "" && c.APIKey != "" && c.APISecret != ""
}

// Config 语音评测服务配置
type Config struct {
	Credentials Credentials `json:"credentials"`

	HostURL          string        `json:"hostUrl"`
	FrameSize        int           `json:"frameSize"`
	FrameInterval    time.Duration `json:"frameInterval"`
	GracePeriod      time.Duration `json:"gracePeriod"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout"`

	// 业务参数
	Group         string `json:"group"`
	AudioEncoding string `json:"audioEncoding"` // lame 或 raw
}

// WithDefaults 返回补齐默认值后的配置副本
func (c Config) WithDefaults() Config {
	if c.HostURL == "" {
		c.HostURL = DefaultHostURL
	}
	if c.FrameSize <= 0 {
		c.FrameSize = DefaultFrameSize
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = DefaultFrameInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.AudioEncoding == "" {
		c.AudioEncoding = DefaultAudioEncoding
	}
	return c
}
