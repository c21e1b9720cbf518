// Package users carries the hook set of the users service: credential
// derivation on create and password stripping for external callers.
package users

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/artpar/plume/core/realtime"
	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
)

// Path is the resource path the users service registers under.
const Path = "users"

// Hooks returns the canonical users hook set.
func Hooks(h ports.Hasher) service.Hooks {
	return service.Hooks{
		Before: service.HookMap{
			Create: []service.Hook{Gravatar(), HashPassword(h)},
		},
		After: service.HookMap{
			All: []service.Hook{StripPassword()},
		},
	}
}

// Gravatar derives an avatar URL from the normalized contact address.
// Deterministic for identical input.
func Gravatar() service.Hook {
	return func(ctx context.Context, hc *service.Context) error {
		email, _ := hc.Data["email"].(string)
		if email == "" {
			return apperr.BadRequest("a user must have an email")
		}

		sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
		hc.Data["avatar"] = fmt.Sprintf("https://s.gravatar.com/avatar/%s?s=60", hex.EncodeToString(sum[:]))
		return nil
	}
}

// HashPassword replaces the plaintext credential with its derived hash
// before the record reaches storage.
func HashPassword(h ports.Hasher) service.Hook {
	return func(ctx context.Context, hc *service.Context) error {
		plaintext, _ := hc.Data["password"].(string)
		if plaintext == "" {
			return apperr.BadRequest("a user must have a password")
		}

		hash, err := h.Hash(plaintext)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, "hash password", err)
		}
		hc.Data["password"] = string(hash)
		return nil
	}
}

// StripPassword removes the password field from results whenever the call
// arrived over an external transport. Internal calls retain the raw
// record.
func StripPassword() service.Hook {
	return func(ctx context.Context, hc *service.Context) error {
		if !hc.Params.External() {
			return nil
		}
		hc.Result = StripAny(hc.Result)
		return nil
	}
}

// Strip returns a copy of the record without its password field.
func Strip(rec ports.Record) ports.Record {
	if rec == nil {
		return nil
	}
	out := make(ports.Record, len(rec))
	for k, v := range rec {
		if k == "password" {
			continue
		}
		out[k] = v
	}
	return out
}

// StripAny strips the password field from any result shape a users verb
// can produce (record, slice, page).
func StripAny(result any) any {
	switch v := result.(type) {
	case ports.Record:
		return Strip(v)
	case []ports.Record:
		out := make([]ports.Record, len(v))
		for i, rec := range v {
			out[i] = Strip(rec)
		}
		return out
	case service.Page:
		out := v
		out.Data = make([]ports.Record, len(v.Data))
		for i, rec := range v.Data {
			out.Data[i] = Strip(rec)
		}
		return out
	default:
		return result
	}
}

// Serializer re-shapes user events for channel recipients: every recipient
// is an external viewer, so the password never leaves the process.
func Serializer() realtime.Serializer {
	return func(hc *service.Context, _ *realtime.Connection) (any, bool) {
		return StripAny(hc.Result), true
	}
}
