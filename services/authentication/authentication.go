// Package authentication implements login as a service: create verifies
// credentials, mints an access token and binds the identity to the calling
// connection. The whole verb runs in a before hook that assigns the
// result, so the stub storage behind the service is never reached.
package authentication

import (
	"context"

	"github.com/artpar/plume/adapters/auth"
	"github.com/artpar/plume/core/realtime"
	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
	"github.com/artpar/plume/services/users"
)

// Path is the resource path the authentication service registers under.
const Path = "authentication"

// Storage is the stub behind the authentication service. Only create is
// meaningful and the login hook short-circuits it; every direct storage
// operation is therefore rejected.
type Storage struct{}

func (Storage) Find(context.Context, ports.Query) ([]ports.Record, int64, error) {
	return nil, 0, apperr.BadRequest("authentication only supports create")
}

func (Storage) Get(context.Context, string) (ports.Record, error) {
	return nil, apperr.BadRequest("authentication only supports create")
}

func (Storage) Insert(context.Context, ports.Record) (ports.Record, error) {
	return nil, apperr.Unauthenticated("no authentication strategy succeeded")
}

func (Storage) Replace(context.Context, string, ports.Record) (ports.Record, error) {
	return nil, apperr.BadRequest("authentication only supports create")
}

func (Storage) Patch(context.Context, string, ports.Record) (ports.Record, error) {
	return nil, apperr.BadRequest("authentication only supports create")
}

func (Storage) Delete(context.Context, string) (ports.Record, error) {
	return nil, apperr.BadRequest("authentication only supports create")
}

var _ ports.Storage = Storage{}

// Hooks returns the authentication hook set.
func Hooks(userSvc *service.Service, tokens *auth.TokenService, h ports.Hasher, reg *realtime.Registry) service.Hooks {
	return service.Hooks{
		Before: service.HookMap{
			Create: []service.Hook{Login(userSvc, tokens, h, reg)},
		},
	}
}

// Resolver suppresses event publication for logins. The create result
// carries the caller's access token and must never be fanned out.
func Resolver() realtime.Resolver {
	return func(*service.Context) []string { return nil }
}

// Login verifies the submitted credentials and assigns the call result,
// suppressing the inner operation. Supported strategies: "local"
// (email/password) and "jwt" (re-authenticate with a still-valid token).
func Login(userSvc *service.Service, tokens *auth.TokenService, h ports.Hasher, reg *realtime.Registry) service.Hook {
	return func(ctx context.Context, hc *service.Context) error {
		strategy, _ := hc.Data["strategy"].(string)
		if strategy == "" {
			strategy = "local"
		}

		var user ports.Record
		var err error
		switch strategy {
		case "local":
			user, err = loginLocal(ctx, userSvc, h, hc.Data)
		case "jwt":
			user, err = loginJWT(ctx, userSvc, tokens, hc.Data)
		default:
			err = apperr.Newf(apperr.KindBadRequest, "unknown strategy %q", strategy)
		}
		if err != nil {
			return err
		}

		// Re-authentication on an existing socket overwrites the bound
		// identity.
		if c, ok := hc.Params.Connection.(*realtime.Connection); ok {
			reg.Bind(c, user)
		}

		id, _ := user["id"].(string)
		email, _ := user["email"].(string)
		token, _, err := tokens.Issue(id, email)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, "issue token", err)
		}

		hc.Params.Identity = user
		hc.Result = ports.Record{
			"accessToken": token,
			"user":        users.Strip(user),
		}
		return nil
	}
}

func loginLocal(ctx context.Context, userSvc *service.Service, h ports.Hasher, data ports.Record) (ports.Record, error) {
	email, _ := data["email"].(string)
	password, _ := data["password"].(string)
	if email == "" || password == "" {
		return nil, apperr.BadRequest("email and password are required")
	}

	// Internal lookup so the stored hash is visible for comparison.
	result, err := userSvc.Find(ctx, service.Params{
		Query: ports.Query{Filters: map[string]any{"email": email}},
	})
	if err != nil {
		return nil, err
	}
	matched, _ := result.([]ports.Record)
	if len(matched) == 0 {
		return nil, apperr.Unauthenticated("invalid login")
	}

	user := matched[0]
	hash, _ := user["password"].(string)
	if !h.Compare([]byte(hash), password) {
		return nil, apperr.Unauthenticated("invalid login")
	}
	return user, nil
}

func loginJWT(ctx context.Context, userSvc *service.Service, tokens *auth.TokenService, data ports.Record) (ports.Record, error) {
	tokenString, _ := data["accessToken"].(string)
	if tokenString == "" {
		return nil, apperr.BadRequest("accessToken is required")
	}

	claims, err := tokens.Validate(tokenString)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnauthenticated, "invalid token", err)
	}

	user, err := userSvc.Get(ctx, claims.UserID, service.Params{})
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.Unauthenticated("invalid login")
		}
		return nil, err
	}
	return user, nil
}

// Require is the authentication check hook mutating verbs share: the call
// fails unless an identity was captured in its params.
func Require() service.Hook {
	return func(ctx context.Context, hc *service.Context) error {
		if hc.Params.Identity == nil {
			if hc.Params.External() {
				return apperr.Unauthenticated("authentication required")
			}
			return apperr.Forbidden("internal call requires an identity")
		}
		return nil
	}
}
