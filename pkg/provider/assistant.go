package provider

import (
	"errors"
	"strings"

	"miniroute/pkg/router"
)

const (
	assistantMemoKey  = "provider.assistant"
	defaultSessionKey = "default"
)

// Capability exposes client to route tables. It sends the message's field
// text as the prompt within the conversation named by the session_key
// field. The answer is memoized per dispatch, so a rule can use the
// capability as its condition and again in its action for one request.
func Capability(client Client, field string) router.Capability {
	if field == "" {
		field = "body"
	}

	return router.Unary(func(r *router.Run, msg router.Message) (any, error) {
		return r.Memo(assistantMemoKey, func() (any, error) {
			prompt := strings.TrimSpace(msg.String(field))
			if prompt == "" {
				return nil, nil
			}
			if client == nil {
				return nil, errors.New("assistant client is not configured")
			}

			sessionKey := msg.String("session_key")
			if sessionKey == "" {
				sessionKey = defaultSessionKey
			}

			return client.Reply(r.Context(), sessionKey, prompt)
		})
	})
}
