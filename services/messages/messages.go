// Package messages carries the hook set of the messages service: input
// shaping on create and sender population on results. The stored record
// keeps only the userId foreign key; the denormalized user object exists
// on returned results, never in storage.
package messages

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/artpar/plume/core/realtime"
	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
	"github.com/artpar/plume/services/authentication"
	"github.com/artpar/plume/services/users"
)

// Path is the resource path the messages service registers under.
const Path = "messages"

// MaxLength truncates runaway message texts.
const MaxLength = 400

// Hooks returns the canonical messages hook set.
func Hooks(userSvc *service.Service, clk ports.Clock) service.Hooks {
	return service.Hooks{
		Before: service.HookMap{
			Create: []service.Hook{authentication.Require(), Process(clk)},
		},
		After: service.HookMap{
			Find:   []service.Hook{Populate(userSvc)},
			Get:    []service.Hook{Populate(userSvc)},
			Create: []service.Hook{Populate(userSvc)},
		},
	}
}

// Process validates and shapes the inbound payload: only the text
// survives, stamped with the sender and creation time.
func Process(clk ports.Clock) service.Hook {
	return func(ctx context.Context, hc *service.Context) error {
		text, _ := hc.Data["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			return apperr.BadRequest("a message must have a text")
		}
		if len(text) > MaxLength {
			// Back off to a rune boundary so a multi-byte character
			// straddling the limit is dropped whole.
			cut := MaxLength
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut]
		}

		userID, _ := hc.Params.Identity["id"].(string)

		hc.Data = ports.Record{
			"text":      text,
			"userId":    userID,
			"createdAt": clk.Now().UnixMilli(),
		}
		return nil
	}
}

// Populate attaches the sender's user record to each message on the
// result. External callers get the stripped form.
func Populate(userSvc *service.Service) service.Hook {
	return func(ctx context.Context, hc *service.Context) error {
		attach := func(rec ports.Record) ports.Record {
			userID, _ := rec["userId"].(string)
			if userID == "" {
				return rec
			}

			// Internal lookup; the sender may be gone, which leaves the
			// message unpopulated rather than failing the call.
			user, err := userSvc.Get(ctx, userID, service.Params{})
			if err != nil {
				return rec
			}
			if hc.Params.External() {
				user = users.Strip(user)
			}

			out := make(ports.Record, len(rec)+1)
			for k, v := range rec {
				out[k] = v
			}
			out["user"] = user
			return out
		}

		switch v := hc.Result.(type) {
		case ports.Record:
			hc.Result = attach(v)
		case []ports.Record:
			out := make([]ports.Record, len(v))
			for i, rec := range v {
				out[i] = attach(rec)
			}
			hc.Result = out
		case service.Page:
			page := v
			page.Data = make([]ports.Record, len(v.Data))
			for i, rec := range v.Data {
				page.Data[i] = attach(rec)
			}
			hc.Result = page
		}
		return nil
	}
}

// Serializer re-shapes message events per recipient: the embedded sender
// is always stripped on the way out, even when the originating call was
// internal and its own result kept the raw record.
func Serializer() realtime.Serializer {
	return func(hc *service.Context, _ *realtime.Connection) (any, bool) {
		rec, ok := hc.Result.(ports.Record)
		if !ok {
			return hc.Result, true
		}
		user, ok := rec["user"].(ports.Record)
		if !ok {
			return rec, true
		}

		out := make(ports.Record, len(rec))
		for k, v := range rec {
			out[k] = v
		}
		out["user"] = users.Strip(user)
		return out, true
	}
}
