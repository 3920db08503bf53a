package evaluation

import (
	"encoding/base64"
	"fmt"

	"github.com/goccy/go-json"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

// data.status 取值
const (
	StatusFirstFrame = 0 // 参数帧
	StatusContinue   = 1 // 后续还有音频
	StatusLastFrame  = 2 // 最后一帧 / 评测结束
)

// business.aus 取值
const (
	ausFirst  = 1
	ausMiddle = 2
	ausLast   = 4
)

const (
	cmdParameters = "ssb"
	cmdAudio      = "auw"

	audioFormat       = "audio/L16;rate=16000"
	textBOM           = "\uFEFF"
	textHeader        = "[content]\n"
	multiDimensionExt = "multi_dimension_score"
)

type commonParams struct {
	AppID string `json:"app_id"`
}

type businessParams struct {
	Category     string `json:"category,omitempty"`
	Rstcd        string `json:"rstcd,omitempty"`
	Sub          string `json:"sub,omitempty"`
	Group        string `json:"group,omitempty"`
	Ent          string `json:"ent,omitempty"`
	Tte          string `json:"tte,omitempty"`
	Cmd          string `json:"cmd"`
	Auf          string `json:"auf,omitempty"`
	Aue          string `json:"aue,omitempty"`
	Text         string `json:"text,omitempty"`
	ExtraAbility string `json:"extra_ability,omitempty"`
	Aus          int    `json:"aus,omitempty"`
}

type dataParams struct {
	Status   int    `json:"status"`
	Data     string `json:"data"`
	DataType int    `json:"data_type,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// clientFrame 客户端发送的一帧
type clientFrame struct {
	Common   *commonParams  `json:"common,omitempty"`
	Business businessParams `json:"business"`
	Data     dataParams     `json:"data"`
}

// serverMessage 服务端下发的消息
type serverMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	SID     string `json:"sid"`
	Data    *struct {
		Status int    `json:"status"`
		Data   string `json:"data"`
	} `json:"data"`
}

// buildParameterFrame 构建首个参数帧
func buildParameterFrame(cfg model.Config, req *model.Request) ([]byte, error) {
	frame := clientFrame{
		Common: &commonParams{AppID: cfg.Credentials.AppID},
		Business: businessParams{
			Category:     req.Kind.Category.WireName(),
			Rstcd:        "utf8",
			Sub:          "ise",
			Group:        cfg.Group,
			Ent:          req.Kind.Language.Profile(),
			Tte:          "utf-8",
			Cmd:          cmdParameters,
			Auf:          audioFormat,
			Aue:          cfg.AudioEncoding,
			Text:         textBOM + textHeader + req.ReferenceText,
			ExtraAbility: multiDimensionExt,
		},
		Data: dataParams{Status: StatusFirstFrame, Data: ""},
	}
	return json.Marshal(frame)
}

// buildAudioFrame 构建音频帧，First/Middle 帧 status=1，Last 帧 status=2
func buildAudioFrame(cfg model.Config, frame model.AudioFrame) ([]byte, error) {
	msg := clientFrame{
		Business: businessParams{Cmd: cmdAudio, Aue: cfg.AudioEncoding},
		Data:     dataParams{Data: base64.StdEncoding.EncodeToString(frame.Payload)},
	}

	switch frame.Role {
	case model.FrameFirst:
		msg.Business.Aus = ausFirst
	case model.FrameMiddle:
		msg.Business.Aus = ausMiddle
	case model.FrameLast:
		msg.Business.Aus = ausLast
	default:
		return nil, fmt.Errorf("unknown frame role %v", frame.Role)
	}

	if frame.Role == model.FrameLast {
		msg.Data.Status = StatusLastFrame
	} else {
		msg.Data.Status = StatusContinue
		msg.Data.DataType = 1
		msg.Data.Encoding = "raw"
	}

	return json.Marshal(msg)
}

// parseServerMessage 解析服务端消息
func parseServerMessage(payload []byte) (*serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
