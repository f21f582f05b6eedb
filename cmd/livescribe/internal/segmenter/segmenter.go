// Package segmenter 在语音停顿处把采集帧流切成相互重叠的片段，
// 没有停顿时按最大时长强制切分。
package segmenter

import (
	"fmt"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
)

// Params 质量自适应可在片段之间调整的参数
type Params struct {
	SilenceThreshold time.Duration `json:"silence_threshold"`
	MaxChunkDuration time.Duration `json:"max_chunk_duration"`
	MinChunkDuration time.Duration `json:"min_chunk_duration"`
	OverlapDuration  time.Duration `json:"overlap_duration"`
}

// DefaultParams 配置未设置时使用的默认参数
var DefaultParams = Params{
	SilenceThreshold: 700 * time.Millisecond,
	MaxChunkDuration: 8 * time.Second,
	MinChunkDuration: time.Second,
	OverlapDuration:  time.Second,
}

// Validate 拒绝状态机无法满足的参数组合
func (p Params) Validate() error {
	switch {
	case p.SilenceThreshold <= 0:
		return fmt.Errorf("silence_threshold must be positive, got %s", p.SilenceThreshold)
	case p.MaxChunkDuration <= 0:
		return fmt.Errorf("max_chunk_duration must be positive, got %s", p.MaxChunkDuration)
	case p.MinChunkDuration < 0 || p.MinChunkDuration > p.MaxChunkDuration:
		return fmt.Errorf("min_chunk_duration %s must be within [0, max_chunk_duration %s]", p.MinChunkDuration, p.MaxChunkDuration)
	case p.OverlapDuration < 0 || 2*p.OverlapDuration > p.MaxChunkDuration:
		return fmt.Errorf("overlap_duration %s must be within [0, max_chunk_duration/2]", p.OverlapDuration)
	}
	return nil
}

// normalized 把 p 修正为合法参数
func (p Params) normalized() Params {
	if p.SilenceThreshold <= 0 {
		p.SilenceThreshold = DefaultParams.SilenceThreshold
	}
	if p.MaxChunkDuration <= 0 {
		p.MaxChunkDuration = DefaultParams.MaxChunkDuration
	}
	if p.MinChunkDuration < 0 {
		p.MinChunkDuration = 0
	}
	if p.MinChunkDuration > p.MaxChunkDuration {
		p.MinChunkDuration = p.MaxChunkDuration
	}
	if p.OverlapDuration < 0 {
		p.OverlapDuration = 0
	}
	if 2*p.OverlapDuration > p.MaxChunkDuration {
		p.OverlapDuration = p.MaxChunkDuration / 2
	}
	return p
}

// CutReason 片段结束的原因
type CutReason string

const (
	CutSilence     CutReason = "silence"
	CutMaxDuration CutReason = "max_duration"
	CutFlush       CutReason = "flush"
)

// Chunk 一次识别的工作单元
type Chunk struct {
	ID      uint64
	Samples []int16
	Format  audio.Format

	Start time.Duration
	End   time.Duration
	// ReusedUntil 从上一片段复用的前缀结束位置，没有复用时等于 Start
	ReusedUntil time.Duration
	// ReusedSpeech 复用前缀中含有语音，识别结果预期与上一片段文本重叠
	ReusedSpeech bool
	// OverlapStart 交给下一片段的尾部起点，即 End 减去重叠时长
	OverlapStart time.Duration

	SpeechStart time.Duration
	SpeechEnd   time.Duration
	SpeechRMS   float64
	SpeechZCR   float64

	Reason CutReason
}

// Duration 返回片段时长
func (c Chunk) Duration() time.Duration { return c.End - c.Start }

// State 切分器状态。Cutting 是瞬时状态，只在 Push 内部可见。
type State string

const (
	StateListening State = "listening"
	StateCutting   State = "cutting"
)

type analyzedFrame struct {
	audio.Frame
	feat audio.Features
}

// Segmenter 不可并发使用，归流水线的调度协程所有
type Segmenter struct {
	params  Params
	pending *Params
	vad     audio.VAD
	state   State

	frames      []analyzedFrame
	reusedUntil time.Duration
	newSpeech   bool
	silenceRun  time.Duration
	nextID      uint64
}

// New 返回处于 Listening 状态的切分器
func New(p Params, vad audio.VAD) *Segmenter {
	return &Segmenter{params: p.normalized(), vad: vad, state: StateListening}
}

// Params 返回当前候选片段生效的参数
func (s *Segmenter) Params() Params { return s.params }

// State 返回当前状态
func (s *Segmenter) State() State { return s.state }

// SetParams 让 p 从下一个片段起生效，没有缓冲音频时立即生效
func (s *Segmenter) SetParams(p Params) {
	p = p.normalized()
	if len(s.frames) == 0 {
		s.params = p
		s.pending = nil
		return
	}
	s.pending = &p
}

// Buffered 返回当前候选片段的时长
func (s *Segmenter) Buffered() time.Duration {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].End() - s.frames[0].Start
}

// Push 输入一帧，发生切分时返回片段
func (s *Segmenter) Push(f audio.Frame) (Chunk, bool) {
	feat := s.vad.Analyze(f.Samples, f.Format.Channels)
	s.frames = append(s.frames, analyzedFrame{Frame: f, feat: feat})

	if feat.Speech {
		s.silenceRun = 0
		if f.Start >= s.reusedUntil {
			s.newSpeech = true
		}
	} else {
		s.silenceRun += f.Duration()
	}

	if !s.newSpeech {
		s.trimPreroll()
		return Chunk{}, false
	}

	dur := s.Buffered()
	switch {
	case dur >= s.params.MaxChunkDuration:
		return s.cut(CutMaxDuration, true), true
	case s.silenceRun >= s.params.SilenceThreshold && dur >= s.params.MinChunkDuration:
		return s.cut(CutSilence, true), true
	}
	return Chunk{}, false
}

// Flush 在候选片段含有新语音时输出它，并重置切分器，不保留重叠。
// 用于暂停和停止。
func (s *Segmenter) Flush() (Chunk, bool) {
	if !s.newSpeech {
		s.reset()
		return Chunk{}, false
	}
	return s.cut(CutFlush, false), true
}

// trimPreroll 把无语音的候选片段限制在重叠窗口内，长时间静音不会累积
func (s *Segmenter) trimPreroll() {
	if len(s.frames) == 0 {
		return
	}
	keepFrom := s.frames[len(s.frames)-1].End() - s.params.OverlapDuration
	i := 0
	for i < len(s.frames) && s.frames[i].End() <= keepFrom {
		i++
	}
	if i > 0 {
		s.frames = append(s.frames[:0], s.frames[i:]...)
	}
}

func (s *Segmenter) cut(reason CutReason, seed bool) Chunk {
	s.state = StateCutting
	defer func() { s.state = StateListening }()

	first, last := s.frames[0], s.frames[len(s.frames)-1]
	c := Chunk{
		ID:      s.nextID,
		Samples: audio.Concat(framesOf(s.frames)),
		Format:  first.Format,
		Start:   first.Start,
		End:     last.End(),
		Reason:  reason,
	}
	s.nextID++

	c.ReusedUntil = s.reusedUntil
	if c.ReusedUntil < c.Start {
		c.ReusedUntil = c.Start
	}
	if c.ReusedUntil > c.End {
		c.ReusedUntil = c.End
	}
	c.OverlapStart = c.End - s.params.OverlapDuration
	if c.OverlapStart < c.Start {
		c.OverlapStart = c.Start
	}

	var n int
	for _, fr := range s.frames {
		if !fr.feat.Speech {
			continue
		}
		if fr.Start < c.ReusedUntil {
			c.ReusedSpeech = true
			continue
		}
		if n == 0 {
			c.SpeechStart = fr.Start
		}
		c.SpeechEnd = fr.End()
		c.SpeechRMS += fr.feat.RMS
		c.SpeechZCR += fr.feat.ZCR
		n++
	}
	if n > 0 {
		c.SpeechRMS /= float64(n)
		c.SpeechZCR /= float64(n)
	}

	if seed {
		var tail []analyzedFrame
		for i, fr := range s.frames {
			if fr.Start >= c.OverlapStart {
				tail = append(tail, s.frames[i:]...)
				break
			}
		}
		s.frames = tail
		s.reusedUntil = c.End
		s.newSpeech = false
		s.silenceRun = 0
		for _, fr := range tail {
			if fr.feat.Speech {
				s.silenceRun = 0
			} else {
				s.silenceRun += fr.Duration()
			}
		}
	} else {
		s.reset()
	}

	if s.pending != nil {
		s.params = *s.pending
		s.pending = nil
	}
	return c
}

func (s *Segmenter) reset() {
	s.frames = nil
	s.reusedUntil = 0
	s.newSpeech = false
	s.silenceRun = 0
	if s.pending != nil {
		s.params = *s.pending
		s.pending = nil
	}
}

func framesOf(in []analyzedFrame) []audio.Frame {
	out := make([]audio.Frame, len(in))
	for i, f := range in {
		out[i] = f.Frame
	}
	return out
}
