package memory

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed policy.yaml
var defaultPolicyYAML []byte

// Class is one compiled relevance class.
type Class struct {
	Name       string
	PullBefore int
	PullAfter  int
	SetsTopic  string
	match      *regexp.Regexp
}

// Policy is the versioned relevance table used to retain messages older than
// the recent window.
type Policy struct {
	Version int
	classes []Class
	topics  map[string]*regexp.Regexp
}

type policyFile struct {
	Version int `yaml:"version"`
	Classes []struct {
		Name       string   `yaml:"name"`
		Phrases    []string `yaml:"phrases"`
		StartsWith []string `yaml:"starts_with"`
		PullBefore int      `yaml:"pull_before"`
		PullAfter  int      `yaml:"pull_after"`
		SetsTopic  string   `yaml:"sets_topic"`
	} `yaml:"classes"`
	Topics map[string][]string `yaml:"topics"`
}

// DefaultPolicy returns the embedded relevance table. It panics if the
// embedded file is invalid, which is a build defect.
func DefaultPolicy() *Policy {
	p, err := ParsePolicy(defaultPolicyYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePolicy compiles a YAML relevance table.
func ParsePolicy(data []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("memory: parse policy: %w", err)
	}
	if len(f.Classes) == 0 {
		return nil, fmt.Errorf("memory: policy has no classes")
	}

	p := &Policy{Version: f.Version, topics: make(map[string]*regexp.Regexp, len(f.Topics))}
	for name, words := range f.Topics {
		if len(words) == 0 {
			return nil, fmt.Errorf("memory: topic %q has no keywords", name)
		}
		p.topics[name] = regexp.MustCompile(`(?i)` + alternatives(words))
	}

	for _, c := range f.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("memory: policy class without name")
		}
		if len(c.Phrases) == 0 && len(c.StartsWith) == 0 {
			return nil, fmt.Errorf("memory: class %q has no patterns", c.Name)
		}
		if c.SetsTopic != "" && p.topics[c.SetsTopic] == nil {
			return nil, fmt.Errorf("memory: class %q sets unknown topic %q", c.Name, c.SetsTopic)
		}
		if c.PullBefore < 0 || c.PullAfter < 0 {
			return nil, fmt.Errorf("memory: class %q has negative pull", c.Name)
		}

		var parts []string
		if len(c.Phrases) > 0 {
			parts = append(parts, alternatives(c.Phrases))
		}
		if len(c.StartsWith) > 0 {
			parts = append(parts, `^\s*`+alternatives(c.StartsWith))
		}
		p.classes = append(p.classes, Class{
			Name:       c.Name,
			PullBefore: c.PullBefore,
			PullAfter:  c.PullAfter,
			SetsTopic:  c.SetsTopic,
			match:      regexp.MustCompile(`(?i)` + strings.Join(parts, "|")),
		})
	}
	return p, nil
}

// Classify returns the first class matching content.
func (p *Policy) Classify(content string) (Class, bool) {
	for _, c := range p.classes {
		if c.match.MatchString(content) {
			return c, true
		}
	}
	return Class{}, false
}

// Continues reports whether content mentions a keyword of topic.
func (p *Policy) Continues(topic, content string) bool {
	re := p.topics[topic]
	return re != nil && re.MatchString(content)
}

// Select returns the prompt context for msgs: the older messages retained by
// the policy followed by the last window messages. Because the retained
// messages all precede the window, the result stays in chronological order.
func (p *Policy) Select(msgs []Message, window int) []Message {
	if window < 0 {
		window = 0
	}
	if len(msgs) <= window {
		return append([]Message(nil), msgs...)
	}

	split := len(msgs) - window
	older, recent := msgs[:split], msgs[split:]
	keep := make([]bool, len(older))

	topic := ""
	for i := len(older) - 1; i >= 0; i-- {
		content := older[i].Content
		class, ok := p.Classify(content)
		if !ok {
			if topic != "" && p.Continues(topic, content) {
				keep[i] = true
			}
			continue
		}
		keep[i] = true
		for j := max(0, i-class.PullBefore); j < i; j++ {
			keep[j] = true
		}
		for j := i + 1; j <= i+class.PullAfter && j < len(older); j++ {
			keep[j] = true
		}
		if class.SetsTopic != "" {
			topic = class.SetsTopic
		}
	}

	type sig struct {
		role    Role
		content string
	}
	inWindow := make(map[sig]struct{}, len(recent))
	for _, m := range recent {
		inWindow[sig{m.Role, m.Content}] = struct{}{}
	}

	out := make([]Message, 0, len(recent)+len(older))
	for i, m := range older {
		if !keep[i] {
			continue
		}
		if _, dup := inWindow[sig{m.Role, m.Content}]; dup {
			continue
		}
		out = append(out, m)
	}
	return append(out, recent...)
}

// alternatives builds "(?:a|b|c)" with word boundaries on edges that are
// letters or digits, so "my" does not match "myth" but "?" matches anywhere.
func alternatives(words []string) string {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		q := regexp.QuoteMeta(w)
		if first, _ := utf8.DecodeRuneInString(w); isWordRune(first) {
			q = `\b` + q
		}
		if last, _ := utf8.DecodeLastRuneInString(w); isWordRune(last) {
			q += `\b`
		}
		quoted = append(quoted, q)
	}
	return "(?:" + strings.Join(quoted, "|") + ")"
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
