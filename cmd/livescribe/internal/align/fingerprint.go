package align

import (
	"github.com/go-dedup/simhash"
)

// minFingerprintTokens 指纹比较的最小词数，短文本的 SimHash 区分度不足
const minFingerprintTokens = 4

// phraseFeatureSet 实现 simhash.FeatureSet 接口，使用词级 bigram 特征
type phraseFeatureSet struct {
	toks []Token
}

// GetFeatures 提取特征：相邻两个归一化词组成一个特征
func (p phraseFeatureSet) GetFeatures() []simhash.Feature {
	if len(p.toks) == 0 {
		return []simhash.Feature{}
	}
	features := make([]simhash.Feature, 0, len(p.toks))
	for i := 0; i < len(p.toks)-1; i++ {
		features = append(features, simhash.NewFeature([]byte(p.toks[i].Norm+" "+p.toks[i+1].Norm)))
	}
	if len(p.toks) == 1 {
		features = append(features, simhash.NewFeature([]byte(p.toks[0].Norm)))
	}
	return features
}

// fingerprint 计算词序列的 64 位 SimHash 指纹
func fingerprint(toks []Token) uint64 {
	sh := simhash.NewSimhash()
	return sh.GetSimhash(phraseFeatureSet{toks: toks})
}

// distance 返回两个指纹的汉明距离（0-64）
func distance(a, b uint64) int {
	return int(simhash.Compare(a, b))
}
