package runtime

import (
	"strings"

	"miniroute/pkg/router"
)

// Built-in capability names registered by Capabilities.
const (
	CapabilityHasMedia  = "has_media"
	CapabilityIsCommand = "is_command"
	CapabilityIsPrivate = "is_private"
)

// Capabilities returns the helpers every route table can name.
//
// is_command matches bodies starting with a slash and captures the command
// word without the slash or any @bot suffix.
func Capabilities() map[string]router.Capability {
	return map[string]router.Capability{
		CapabilityHasMedia: router.Unary(func(_ *router.Run, msg router.Message) (any, error) {
			media, _ := msg[FieldMedia].([]string)
			return len(media) > 0, nil
		}),
		CapabilityIsCommand: router.Unary(func(_ *router.Run, msg router.Message) (any, error) {
			return command(msg.String(FieldBody)), nil
		}),
		CapabilityIsPrivate: router.Unary(func(_ *router.Run, msg router.Message) (any, error) {
			to := msg.String(FieldTo)
			return to != "" && to == msg.String(FieldFrom), nil
		}),
	}
}

// command returns the command word, or nil when body is not a command.
func command(body string) any {
	word, _, _ := strings.Cut(strings.TrimSpace(body), " ")
	name, ok := strings.CutPrefix(word, "/")
	if !ok || name == "" {
		return nil
	}
	name, _, _ = strings.Cut(name, "@")
	return []any{name}
}
