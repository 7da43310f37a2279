package facts

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const word = `([\p{L}][\p{L}'-]*)`

var (
	explicitName = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bmy name is\s+` + word),
		regexp.MustCompile(`(?i)\bcall me\s+` + word),
		regexp.MustCompile(`(?i)\bname(?:'|’)s\s+` + word),
	}
	// "i'm X" / "i am X": X must not be a known non-name or look like a
	// verb or adverb form.
	selfIntro = regexp.MustCompile(`(?i)\bi(?:'m|’m| am)\s+` + word)

	locationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bi live in\s+([\p{L}][\p{L} .'-]*?)(?:\s*[,.!?;]|\s+(?:and|but|with|since)\b|$)`),
		regexp.MustCompile(`(?i)\bi(?:'m|’m| am) from\s+([\p{L}][\p{L} .'-]*?)(?:\s*[,.!?;]|\s+(?:and|but|with|since)\b|$)`),
	}

	notNames = map[string]bool{
		"not": true, "so": true, "just": true, "a": true, "an": true, "the": true,
		"very": true, "really": true, "here": true, "back": true, "fine": true,
		"good": true, "ok": true, "okay": true, "sorry": true, "sure": true,
		"going": true, "from": true, "in": true, "at": true, "tired": true,
		"happy": true, "sad": true, "bored": true, "busy": true, "home": true,
		"hungry": true, "sick": true, "glad": true, "new": true, "done": true,
		"ready": true, "late": true, "lost": true, "alone": true, "sleepy": true,
		"angry": true, "upset": true, "cool": true, "great": true, "well": true,
		"also": true, "still": true, "too": true, "kinda": true, "gonna": true,
		"all": true, "about": true, "on": true, "off": true, "out": true,
		"into": true, "like": true, "literally": true, "actually": true, "your": true,
		"my": true, "gay": true, "straight": true, "single": true, "married": true,
	}
)

// PatternFacts extracts a name (and a location when stated) from common
// self-introduction phrasings. It is the fallback when the model's answer
// is unusable.
func PatternFacts(message string) Facts {
	out := Facts{}
	if name := matchName(message); name != "" {
		out["name"] = name
	}
	for _, re := range locationPatterns {
		if m := re.FindStringSubmatch(message); m != nil {
			if loc := strings.TrimSpace(m[1]); loc != "" && utf8.RuneCountInString(loc) <= 40 {
				out["location"] = loc
				break
			}
		}
	}
	return out
}

func matchName(message string) string {
	for _, re := range explicitName {
		if m := re.FindStringSubmatch(message); m != nil && !notNames[strings.ToLower(m[1])] {
			return capitalize(m[1])
		}
	}
	for _, m := range selfIntro.FindAllStringSubmatch(message, -1) {
		if plausibleName(m[1]) {
			return capitalize(m[1])
		}
	}
	return ""
}

func plausibleName(w string) bool {
	lw := strings.ToLower(w)
	n := utf8.RuneCountInString(lw)
	if notNames[lw] || n < 2 {
		return false
	}
	if n <= 4 {
		return true
	}
	for _, suffix := range []string{"ing", "ed", "ly"} {
		if strings.HasSuffix(lw, suffix) {
			return false
		}
	}
	return true
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
