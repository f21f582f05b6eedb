package align

import (
	"fmt"
)

// Config Aligner 的配置
type Config struct {
	// TailTokens 作为对齐锚点保留的已输出词数
	TailTokens int `yaml:"tail_tokens"`

	// MinOverlapTokens 和 MinOverlapChars 防止在短的常见词上合并，重叠须同时满足两者
	MinOverlapTokens int `yaml:"min_overlap_tokens"`
	MinOverlapChars  int `yaml:"min_overlap_chars"`

	// LeadingSkip 允许重叠从新文本的前几个词之后开始，应对切分边界上的多余词
	LeadingSkip int `yaml:"leading_skip"`

	// DuplicateDistance 增量与近期片段的 simhash 距离不超过该值时视为重复，负数关闭检查
	DuplicateDistance int `yaml:"duplicate_distance"`

	// RecentSegments 计算指纹的近期增量个数
	RecentSegments int `yaml:"recent_segments"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		TailTokens:        48,
		MinOverlapTokens:  2,
		MinOverlapChars:   8,
		LeadingSkip:       0,
		DuplicateDistance: 3,
		RecentSegments:    4,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.TailTokens < 1 {
		return fmt.Errorf("alignment.tail_tokens must be positive, got %d", c.TailTokens)
	}
	if c.MinOverlapTokens < 1 {
		return fmt.Errorf("alignment.min_overlap_tokens must be positive, got %d", c.MinOverlapTokens)
	}
	if c.MinOverlapChars < 0 || c.LeadingSkip < 0 || c.RecentSegments < 0 {
		return fmt.Errorf("alignment: min_overlap_chars, leading_skip and recent_segments must not be negative")
	}
	if c.MinOverlapTokens > c.TailTokens {
		return fmt.Errorf("alignment.min_overlap_tokens (%d) exceeds tail_tokens (%d)", c.MinOverlapTokens, c.TailTokens)
	}
	return nil
}

// Outcome 合并一段识别文本的结果
type Outcome struct {
	// Text 待输出的增量，没有新内容时为空
	Text string

	// Overlap 作为已输出内容丢弃的词数
	Overlap int

	// Skipped 重叠之前丢弃的开头词数
	Skipped int

	// DedupMiss 预期有重叠但没有通过检查
	DedupMiss bool

	// Duplicate 增量重复了近期输出，已丢弃
	Duplicate bool
}

// Aligner 保存已输出转写的尾部，并把新文本与之合并。不可并发使用，
// 由流水线的调度协程驱动。
type Aligner struct {
	cfg    Config
	tail   []Token
	recent []uint64
}

// New 返回尾部为空的 Aligner，零值字段使用 DefaultConfig
func New(cfg Config) *Aligner {
	def := DefaultConfig()
	if cfg.TailTokens <= 0 {
		cfg.TailTokens = def.TailTokens
	}
	if cfg.MinOverlapTokens <= 0 {
		cfg.MinOverlapTokens = def.MinOverlapTokens
	}
	if cfg.MinOverlapTokens > cfg.TailTokens {
		cfg.MinOverlapTokens = cfg.TailTokens
	}
	return &Aligner{cfg: cfg}
}

// Tail 返回当前锚点文本
func (a *Aligner) Tail() string { return Join(a.tail) }

// Merge 把 text 与尾部对齐。expectOverlap 表示片段音频是否重复了上一片段的语音，
// 只有此时缺少重叠才记为 DedupMiss。
//
// 查找与新文本前缀相同的最长尾部后缀，开销受尾部窗口限制，与转写总长无关。
func (a *Aligner) Merge(text string, expectOverlap bool) Outcome {
	toks := Tokenize(text)
	if len(toks) == 0 {
		return Outcome{}
	}

	overlap, skip := a.findOverlap(toks)
	out := Outcome{Overlap: overlap, Skipped: skip}
	delta := toks
	if overlap > 0 {
		delta = toks[skip+overlap:]
	} else {
		out.DedupMiss = expectOverlap && len(a.tail) > 0
	}
	if len(delta) == 0 {
		return out
	}

	if a.isDuplicate(delta) {
		out.Duplicate = true
		out.DedupMiss = false
		return out
	}

	a.remember(delta)
	out.Text = Join(delta)
	return out
}

// findOverlap 返回尾部后缀与从 skip 开始的词前缀之间最长的合格重叠，
// 长度相同时取最小的 skip
func (a *Aligner) findOverlap(toks []Token) (overlap, skip int) {
	maxK := len(a.tail)
	if len(toks) < maxK {
		maxK = len(toks)
	}
	for k := maxK; k >= a.cfg.MinOverlapTokens; k-- {
		suffix := a.tail[len(a.tail)-k:]
		if normChars(suffix) < a.cfg.MinOverlapChars {
			// 更短的后缀字符只会更少
			return 0, 0
		}
		for s := 0; s <= a.cfg.LeadingSkip && s+k <= len(toks); s++ {
			if sameNorm(suffix, toks[s:s+k]) {
				return k, s
			}
		}
	}
	return 0, 0
}

// isDuplicate 报告 delta 是否重复近期输出：原样出现在尾部中，
// 或与近期指纹的距离不超过 DuplicateDistance
func (a *Aligner) isDuplicate(delta []Token) bool {
	if len(delta) >= a.cfg.MinOverlapTokens && normChars(delta) >= a.cfg.MinOverlapChars && a.tailContains(delta) {
		return true
	}
	if a.cfg.DuplicateDistance < 0 || len(delta) < minFingerprintTokens {
		return false
	}
	fp := fingerprint(delta)
	for _, r := range a.recent {
		if distance(fp, r) <= a.cfg.DuplicateDistance {
			return true
		}
	}
	return false
}

func (a *Aligner) tailContains(seq []Token) bool {
	for i := 0; i+len(seq) <= len(a.tail); i++ {
		if sameNorm(a.tail[i:i+len(seq)], seq) {
			return true
		}
	}
	return false
}

func (a *Aligner) remember(delta []Token) {
	a.tail = append(a.tail, delta...)
	if over := len(a.tail) - a.cfg.TailTokens; over > 0 {
		a.tail = append([]Token(nil), a.tail[over:]...)
	}

	if a.cfg.RecentSegments == 0 || len(delta) < minFingerprintTokens {
		return
	}
	a.recent = append(a.recent, fingerprint(delta))
	if over := len(a.recent) - a.cfg.RecentSegments; over > 0 {
		a.recent = a.recent[over:]
	}
}
