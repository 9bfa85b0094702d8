package history

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentturn/core"
)

// Dedupe concatenates segments and drops repeated messages, keeping the
// earliest occurrence.
//
// A message whose ID was seen before is dropped. Each later segment may start
// with ID-less messages that re-send the tail of what precedes it: equal
// role, name, tool call id, tool calls and content, in the same order. That
// run is dropped, together with anything in front of it when it covers all
// preceding messages, since those are older than the window. Within a single
// list only repeated IDs are removed, so Dedupe of its own output returns it
// unchanged.
func Dedupe(segments ...[]core.Message) []core.Message {
	total := 0
	for _, s := range segments {
		total += len(s)
	}

	seen := make(map[string]struct{}, total)
	out := make([]core.Message, 0, total)

	for _, seg := range segments {
		fresh := make([]core.Message, 0, len(seg))

		for _, m := range seg {
			if m.ID != "" {
				if _, dup := seen[m.ID]; dup {
					continue
				}

				seen[m.ID] = struct{}{}
			}

			fresh = append(fresh, m)
		}

		out = append(out, fresh[resentPrefix(out, fresh):]...)
	}

	return out
}

// resentPrefix reports how many leading messages of next repeat the end of
// prev. The longest match wins.
func resentPrefix(prev, next []core.Message) int {
	if len(prev) == 0 {
		return 0
	}

	limit := 0
	for limit < len(next) && next[limit].ID == "" {
		limit++
	}

	for j := limit; j > 0; j-- {
		k := min(j, len(prev))
		if sameContent(prev[len(prev)-k:], next[j-k:j]) {
			return j
		}
	}

	return 0
}

func sameContent(a, b []core.Message) bool {
	for i := range a {
		if contentKey(a[i]) != contentKey(b[i]) {
			return false
		}
	}

	return true
}

func contentKey(m core.Message) string {
	var calls strings.Builder
	for _, tc := range m.ToolCalls {
		fmt.Fprintf(&calls, "%s:%s;", tc.ID, tc.Name)
	}

	return fmt.Sprintf("%s|%s|%s|%s|%q", m.Role, m.Name, m.ToolCallID, calls.String(), m.Content)
}

// DropOrphanResults removes tool messages whose call does not occur earlier
// in msgs. A history window that starts between an assistant tool call and
// its results leaves such messages behind, and providers reject them.
func DropOrphanResults(msgs []core.Message) []core.Message {
	calls := make(map[string]struct{})
	out := make([]core.Message, 0, len(msgs))

	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = struct{}{}
		}

		if m.Role == core.RoleTool {
			if _, ok := calls[m.ToolCallID]; !ok {
				continue
			}
		}

		out = append(out, m)
	}

	return out
}

// StripTrace removes trace-kind bookkeeping messages.
func StripTrace(msgs []core.Message) []core.Message {
	out := make([]core.Message, 0, len(msgs))

	for _, m := range msgs {
		if !m.IsTrace() {
			out = append(out, m)
		}
	}

	return out
}
