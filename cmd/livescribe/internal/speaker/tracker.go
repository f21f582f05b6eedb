// Package speaker 用话轮启发式规则给转写片段标注匿名说话人。
// 较长停顿或响度、音色的突变会开始新话轮，不做声纹识别。
package speaker

import (
	"fmt"
	"math"
	"time"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/align"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/audio"
)

// Config Tracker 的配置
type Config struct {
	// TurnSilence 片段前的停顿超过该值时开始新话轮
	TurnSilence time.Duration `yaml:"turn_silence_threshold"`

	// EnergyDeltaDB 和 ZCRDelta 无停顿时触发新话轮的突变幅度
	EnergyDeltaDB float64 `yaml:"energy_delta_db"`
	ZCRDelta      float64 `yaml:"zcr_delta"`

	// MaxSpeakers 一个会话最多分配的标签数
	MaxSpeakers int `yaml:"max_speakers"`

	// ContinuationWords 新片段以这些词开头时不因突变开始新话轮
	ContinuationWords []string `yaml:"continuation_words"`
}

// DefaultContinuationWords 英语和西班牙语的连接词
var DefaultContinuationWords = []string{
	"and", "but", "so", "because", "or", "then", "also",
	"y", "pero", "entonces", "porque", "o", "tambien", "que",
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TurnSilence:       1500 * time.Millisecond,
		EnergyDeltaDB:     9,
		ZCRDelta:          0.15,
		MaxSpeakers:       8,
		ContinuationWords: DefaultContinuationWords,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.TurnSilence <= 0 {
		return fmt.Errorf("speaker.turn_silence_threshold must be positive, got %s", c.TurnSilence)
	}
	if c.EnergyDeltaDB <= 0 || c.ZCRDelta <= 0 {
		return fmt.Errorf("speaker.energy_delta_db and speaker.zcr_delta must be positive")
	}
	if c.MaxSpeakers < 1 {
		return fmt.Errorf("speaker.max_speakers must be at least 1, got %d", c.MaxSpeakers)
	}
	return nil
}

// Cue 跟踪器看到的一段语音
type Cue struct {
	Start time.Duration
	End   time.Duration
	RMS   float64
	ZCR   float64
	Text  string
}

// Label 生成按序号的说话人标签
func Label(n int) string { return fmt.Sprintf("Speaker %d", n) }

type profile struct {
	db  float64
	zcr float64
}

// profileWeight 新 Cue 在指数滑动平均中的权重
const profileWeight = 0.3

// Tracker 为一个会话的连续片段分配标签，不可并发使用
type Tracker struct {
	cfg          Config
	continuation map[string]struct{}
	profiles     []profile
	current      int
	prev         *Cue
}

// New 为新会话返回跟踪器
func New(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.TurnSilence <= 0 {
		cfg.TurnSilence = def.TurnSilence
	}
	if cfg.EnergyDeltaDB <= 0 {
		cfg.EnergyDeltaDB = def.EnergyDeltaDB
	}
	if cfg.ZCRDelta <= 0 {
		cfg.ZCRDelta = def.ZCRDelta
	}
	if cfg.MaxSpeakers < 1 {
		cfg.MaxSpeakers = def.MaxSpeakers
	}
	if cfg.ContinuationWords == nil {
		cfg.ContinuationWords = def.ContinuationWords
	}
	t := &Tracker{cfg: cfg, continuation: make(map[string]struct{}, len(cfg.ContinuationWords))}
	for _, w := range cfg.ContinuationWords {
		if n := align.Normalize(w); n != "" {
			t.continuation[n] = struct{}{}
		}
	}
	return t
}

// Current 返回最后一个片段的标签，尚未分配时为空
func (t *Tracker) Current() string {
	if t.current == 0 {
		return ""
	}
	return Label(t.current)
}

// Assign 为 c 分配标签，并报告是否开始新话轮
func (t *Tracker) Assign(c Cue) (label string, turn bool) {
	db := audio.DBFS(c.RMS)
	defer func() {
		cue := c
		t.prev = &cue
	}()

	if t.prev == nil {
		t.profiles = append(t.profiles, profile{db: db, zcr: c.ZCR})
		t.current = 1
		return Label(t.current), true
	}

	pause := c.Start - t.prev.End
	silenceTurn := pause > t.cfg.TurnSilence
	jump := math.Abs(db-audio.DBFS(t.prev.RMS)) >= t.cfg.EnergyDeltaDB ||
		math.Abs(c.ZCR-t.prev.ZCR) >= t.cfg.ZCRDelta
	if jump && !silenceTurn && t.continues(t.prev.Text, c.Text) {
		jump = false
	}

	if !silenceTurn && !jump {
		t.update(t.current, db, c.ZCR)
		return Label(t.current), false
	}

	next := t.pick(db, c.ZCR)
	if next == t.current {
		t.update(t.current, db, c.ZCR)
		return Label(t.current), false
	}
	t.current = next
	t.update(t.current, db, c.ZCR)
	return Label(t.current), true
}

// Advance 记录一段已听到但未产出语音片段的音频（识别失败、空增量、重复文本），
// 使下一个片段的停顿从 end 算起，而不是从上一个已输出片段算起。
func (t *Tracker) Advance(end time.Duration) {
	if t.prev == nil || end <= t.prev.End {
		return
	}
	t.prev.End = end
}

// continues 报告 next 是否承接 prev：以连接词开头，
// 或前三个词中重复了 prev 结尾的词
func (t *Tracker) continues(prev, next string) bool {
	nt := align.Tokenize(next)
	if len(nt) == 0 {
		return false
	}
	if _, ok := t.continuation[nt[0].Norm]; ok {
		return true
	}

	pt := align.Tokenize(prev)
	tail := map[string]struct{}{}
	for i := len(pt) - 1; i >= 0 && i >= len(pt)-3; i-- {
		if len([]rune(pt[i].Norm)) > 3 {
			tail[pt[i].Norm] = struct{}{}
		}
	}
	for i := 0; i < len(nt) && i < 3; i++ {
		if _, ok := tail[nt[i].Norm]; ok {
			return true
		}
	}
	return false
}

// pick 为新话轮选择说话人：优先选突变阈值一半以内最接近的其他说话人，
// 其次在标签未用完时新建说话人，否则选最接近的其他说话人
func (t *Tracker) pick(db, zcr float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, p := range t.profiles {
		id := i + 1
		if id == t.current {
			continue
		}
		dDB := math.Abs(p.db-db) / t.cfg.EnergyDeltaDB
		dZCR := math.Abs(p.zcr-zcr) / t.cfg.ZCRDelta
		dist := math.Max(dDB, dZCR)
		if dist < bestDist {
			best, bestDist = id, dist
		}
	}
	if best != 0 && bestDist < 0.5 {
		return best
	}
	if len(t.profiles) < t.cfg.MaxSpeakers {
		t.profiles = append(t.profiles, profile{db: db, zcr: zcr})
		return len(t.profiles)
	}
	if best != 0 {
		return best
	}
	return t.current
}

func (t *Tracker) update(id int, db, zcr float64) {
	p := &t.profiles[id-1]
	p.db += profileWeight * (db - p.db)
	p.zcr += profileWeight * (zcr - p.zcr)
}
