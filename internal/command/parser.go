package command

import (
	"strings"

	"github.com/taedryn/mesh-citadel/internal/packets"
)

// ParseCommand strips whitespace; the first token upper-cased is the code,
// the remainder is the args string verbatim. Empty input or a code absent
// from reg is a parse failure.
func ParseCommand(reg *Registry, text string) (*packets.ParsedCommand, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	fields := strings.Fields(trimmed)
	code := strings.ToUpper(fields[0])

	var args string
	if idx := strings.IndexAny(trimmed, " \t"); idx >= 0 {
		args = strings.TrimLeft(trimmed[idx:], " \t")
	}

	if reg != nil {
		if _, ok := reg.Get(code); !ok {
			return nil, false
		}
	}

	return &packets.ParsedCommand{Code: code, Args: args}, true
}
