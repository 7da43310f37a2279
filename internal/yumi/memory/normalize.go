package memory

import (
	"regexp"
	"strings"
)

var (
	actionAsideRe   = regexp.MustCompile(`\*[^*\n]+\*`)
	tagMarkupRe     = regexp.MustCompile(`<[^<>\n]+>`)
	fabricatedTurn  = regexp.MustCompile(`(?is)(?:^|\n)\s*(?:user|human)\s*:.*$`)
	speakerPrefixRe = regexp.MustCompile(`(?im)^\s*(?:yumi(?:\s+sugoi)?|assistant)\s*[:：]\s*`)
)

// ProcessMessageQueue returns queue in normalized form:
//   - consecutive user messages are merged into one, joined by single spaces,
//     and an immediately repeated user line is dropped;
//   - assistant content loses *action* asides, tag-like markup, speaker
//     prefixes and any invented "User:" continuation;
//   - whitespace is collapsed and messages left empty are dropped.
//
// The result is a fixed point: normalizing it again changes nothing.
func ProcessMessageQueue(queue []Message) []Message {
	out := make([]Message, 0, len(queue))
	lastUserPart := ""
	for _, m := range queue {
		if m.Role == RoleAssistant {
			m.Content = CleanAssistantContent(m.Content)
		} else {
			m.Content = collapseSpace(m.Content)
		}
		if m.Content == "" {
			continue
		}

		if m.Role == RoleUser && len(out) > 0 && out[len(out)-1].Role == RoleUser {
			prev := &out[len(out)-1]
			if m.Content == lastUserPart || m.Content == prev.Content {
				continue
			}
			prev.Content += " " + m.Content
			prev.Timestamp = m.Timestamp
			lastUserPart = m.Content
			continue
		}

		if m.Role == RoleUser {
			lastUserPart = m.Content
		}
		out = append(out, m)
	}
	return out
}

// CleanAssistantContent strips presentation noise from a model reply until
// nothing more can be removed.
func CleanAssistantContent(s string) string {
	for {
		next := fabricatedTurn.ReplaceAllString(s, "")
		next = speakerPrefixRe.ReplaceAllString(next, "")
		next = actionAsideRe.ReplaceAllString(next, "")
		next = tagMarkupRe.ReplaceAllString(next, "")
		next = collapseSpace(next)
		if next == s {
			return next
		}
		s = next
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
