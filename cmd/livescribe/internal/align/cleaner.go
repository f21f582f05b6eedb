package align

import (
	"regexp"
	"sort"
	"strings"
)

// Cleaner tidies recognized text before alignment: whitespace is collapsed
// and configured whole-word replacements are applied case-insensitively.
type Cleaner struct {
	rules []replacement
}

type replacement struct {
	re  *regexp.Regexp
	out string
}

// NewCleaner compiles replacements. Longer keys are applied first so that
// multi-word phrases win over their parts.
func NewCleaner(replacements map[string]string) *Cleaner {
	keys := make([]string, 0, len(replacements))
	for k := range replacements {
		if strings.TrimSpace(k) != "" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	c := &Cleaner{}
	for _, k := range keys {
		pattern := `(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(k)) + `\b`
		c.rules = append(c.rules, replacement{re: regexp.MustCompile(pattern), out: replacements[k]})
	}
	return c
}

// Clean returns the tidied text.
func (c *Cleaner) Clean(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if c == nil {
		return text
	}
	for _, r := range c.rules {
		text = r.re.ReplaceAllLiteralString(text, r.out)
	}
	return strings.Join(strings.Fields(text), " ")
}
