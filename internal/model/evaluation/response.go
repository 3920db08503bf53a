package evaluation

import (
	"fmt"
	"time"
)

// 结果摘要中使用的显示名称
const (
	LabelTotalScore = "总分"
	LabelStatus     = "评测状态"
	LabelException  = "异常情况"

	StatusNormal   = "正常"
	StatusRejected = "被拒绝 (可能为乱读或者与文本不符)"
)

// DimensionLabels 维度字段到显示名称的映射
var DimensionLabels = map[string]string{
	"fluency_score":   "流畅度",
	"integrity_score": "完整度",
	"phone_score":     "声韵分",
	"tone_score":      "调型分",
	"accuracy_score":  "准确度",
	"standard_score":  "标准度",
}

// ExceptionCategory 服务端 except_info 的分类
type ExceptionCategory int

const (
	ExceptionUnknown ExceptionCategory = iota
	ExceptionNoSpeech
	ExceptionNonsense
	ExceptionLowSNR
	ExceptionNoValidAudio
	ExceptionClipping
)

var exceptionCodes = map[string]ExceptionCategory{
	"28673": ExceptionNoSpeech,
	"28676": ExceptionNonsense,
	"28680": ExceptionLowSNR,
	"28689": ExceptionNoValidAudio,
	"28690": ExceptionClipping,
}

var exceptionLabels = map[ExceptionCategory]string{
	ExceptionNoSpeech:     "无语音或音量过小",
	ExceptionNonsense:     "乱说",
	ExceptionLowSNR:       "信噪比低",
	ExceptionNoValidAudio: "无有效音频",
	ExceptionClipping:     "截幅",
}

func (c ExceptionCategory) String() string {
	switch c {
	case ExceptionNoSpeech:
		return "no speech or volume too low"
	case ExceptionNonsense:
		return "nonsense speech"
	case ExceptionLowSNR:
		return "low signal-to-noise ratio"
	case ExceptionNoValidAudio:
		return "no valid audio"
	case ExceptionClipping:
		return "clipping"
	default:
		return "unknown"
	}
}

// Exception 评测异常信息
type Exception struct {
	Code     string            `json:"code"`
	Category ExceptionCategory `json:"category"`
	Label    string            `json:"label"`
}

// LookupException 根据 except_info 编码查表，未知编码返回 "未知异常(N)"
func LookupException(code string) *Exception {
	category, ok := exceptionCodes[code]
	if !ok {
		return &Exception{
			Code:     code,
			Category: ExceptionUnknown,
			Label:    fmt.Sprintf("未知异常(%s)", code),
		}
	}
	return &Exception{Code: code, Category: category, Label: exceptionLabels[category]}
}

// Description 英文描述，未知编码为 "unknown code N"
func (e *Exception) Description() string {
	if e.Category == ExceptionUnknown {
		return "unknown code " + e.Code
	}
	return e.Category.String()
}

// Result 一次评测的解析结果，生成后不再修改
type Result struct {
	SessionID string `json:"sessionId"`
	SID       string `json:"sid,omitempty"`

	TotalScore    float64            `json:"totalScore"`
	HasTotalScore bool               `json:"-"`
	Dimensions    map[string]float64 `json:"dimensions"`
	Fields        map[string]string  `json:"fields,omitempty"`

	// 被拒识的结果依然是有效结果
	Rejected       bool       `json:"rejected"`
	RejectedMarked bool       `json:"-"`
	Exception      *Exception `json:"exception,omitempty"`

	RawMarkup string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Score 按显示名称或原始字段名读取维度分数
func (r *Result) Score(name string) (float64, bool) {
	if label, ok := DimensionLabels[name]; ok {
		name = label
	}
	v, ok := r.Dimensions[name]
	return v, ok
}

// Summary 生成以显示名称为键的规范化结果
func (r *Result) Summary() map[string]any {
	summary := make(map[string]any, len(r.Dimensions)+len(r.Fields)+3)
	if r.HasTotalScore {
		summary[LabelTotalScore] = r.TotalScore
	}
	for k, v := range r.Dimensions {
		summary[k] = v
	}
	for k, v := range r.Fields {
		summary[k] = v
	}
	if r.RejectedMarked {
		if r.Rejected {
			summary[LabelStatus] = StatusRejected
		} else {
			summary[LabelStatus] = StatusNormal
		}
	}
	if r.Exception != nil {
		summary[LabelException] = r.Exception.Label
	}
	return summary
}
