package evaluation

import (
	"iter"

	model "github.com/zhouzirui/ise-evaluator/internal/model/evaluation"
)

// Segment 将音频切分为定长帧。最后一帧可能更短，长度恰为帧长整数倍时
// 额外产生一个空的 Last 帧，保证结束信号一定被发送。
func Segment(audio []byte, frameSize int) iter.Seq[model.AudioFrame] {
	if frameSize <= 0 {
		frameSize = model.DefaultFrameSize
	}
	return func(yield func(model.AudioFrame) bool) {
		index := 0
		for offset := 0; ; offset += frameSize {
			end := offset + frameSize
			if end > len(audio) {
				yield(model.AudioFrame{Index: index, Payload: audio[offset:], Role: model.FrameLast})
				return
			}

			role := model.FrameMiddle
			if index == 0 {
				role = model.FrameFirst
			}
			if !yield(model.AudioFrame{Index: index, Payload: audio[offset:end], Role: role}) {
				return
			}
			index++
		}
	}
}

// FrameCount 返回 Segment 产生的帧数
func FrameCount(audioLen, frameSize int) int {
	if frameSize <= 0 {
		frameSize = model.DefaultFrameSize
	}
	return audioLen/frameSize + 1
}
