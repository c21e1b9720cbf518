package socket

import (
	"strings"

	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
)

// frame is the wire envelope of the persistent transport. Clients send
// "call" frames; the server answers each with exactly one "result" or
// "error" frame carrying the same id, and pushes unsolicited "event"
// frames for channel fan-outs.
type frame struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Service string         `json:"service,omitempty"`
	Method  string         `json:"method,omitempty"`
	Target  string         `json:"target,omitempty"`
	Query   map[string]any `json:"query,omitempty"`
	Data    ports.Record   `json:"data,omitempty"`
	Event   string         `json:"event,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   *wireError     `json:"error,omitempty"`
}

const (
	frameCall   = "call"
	frameResult = "result"
	frameError  = "error"
	frameEvent  = "event"
)

// wireError mirrors apperr on the wire.
type wireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func toWireError(err error) *wireError {
	return &wireError{
		Kind:    apperr.KindOf(err).String(),
		Message: err.Error(),
	}
}

// parseQuery converts a call frame's query object. JSON numbers arrive as
// float64.
func parseQuery(raw map[string]any) ports.Query {
	q := ports.Query{Filters: map[string]any{}}

	for key, value := range raw {
		switch key {
		case "$limit":
			q.Limit = asInt(value)
		case "$skip":
			q.Skip = asInt(value)
		case "$sort":
			if s, ok := value.(string); ok {
				if strings.HasPrefix(s, "-") {
					q.Sort = s[1:]
					q.Desc = true
				} else {
					q.Sort = s
				}
			}
		default:
			q.Filters[key] = value
		}
	}

	if len(q.Filters) == 0 {
		q.Filters = nil
	}
	return q
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0
		}
		return int(n)
	case int:
		if n < 0 {
			return 0
		}
		return n
	default:
		return 0
	}
}
