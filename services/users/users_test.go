package users

import (
	"context"
	"strings"
	"testing"

	"github.com/artpar/plume/adapters/hasher"
	"github.com/artpar/plume/adapters/idgen"
	"github.com/artpar/plume/adapters/storage/memory"
	"github.com/artpar/plume/core/service"
	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
	"github.com/rs/zerolog"
)

func testService(t *testing.T) *service.Service {
	t.Helper()
	app := service.NewApp(service.Config{IDs: idgen.NewSequential("u"), Logger: zerolog.Nop()})
	return app.Use(Path, memory.New(idgen.NewSequential("u"), "email")).Hooks(Hooks(hasher.Fake{}))
}

// TestCreateDerivesAvatar verifies the deterministic avatar URL
func TestCreateDerivesAvatar(t *testing.T) {
	svc := testService(t)

	user, err := svc.Create(context.Background(), ports.Record{
		"email":    "test@example.com",
		"password": "secret",
	}, service.Params{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	want := "https://s.gravatar.com/avatar/55502f40dc8b7c769880b10874abc9d0?s=60"
	if user["avatar"] != want {
		t.Errorf("avatar = %v, want %v", user["avatar"], want)
	}
}

// TestAvatarNormalizesEmail verifies case and whitespace do not change
// the avatar
func TestAvatarNormalizesEmail(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, ports.Record{"email": "Test@Example.COM ", "password": "x"}, service.Params{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := "https://s.gravatar.com/avatar/55502f40dc8b7c769880b10874abc9d0?s=60"
	if a["avatar"] != want {
		t.Errorf("avatar = %v, want %v", a["avatar"], want)
	}
}

// TestCreateHashesPassword verifies the plaintext never reaches storage
func TestCreateHashesPassword(t *testing.T) {
	svc := testService(t)

	user, err := svc.Create(context.Background(), ports.Record{
		"email":    "a@x.io",
		"password": "secret",
	}, service.Params{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	stored, _ := user["password"].(string)
	if stored == "secret" {
		t.Error("password stored in plaintext")
	}
	if !strings.HasPrefix(stored, "hashed:") {
		t.Errorf("password = %q, want derived hash", stored)
	}
}

// TestCreateRequiresEmailAndPassword verifies validation
func TestCreateRequiresEmailAndPassword(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, ports.Record{"password": "x"}, service.Params{})
	if !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Errorf("missing email: want bad-request, got %v", err)
	}

	_, err = svc.Create(ctx, ports.Record{"email": "a@x.io"}, service.Params{})
	if !apperr.IsKind(err, apperr.KindBadRequest) {
		t.Errorf("missing password: want bad-request, got %v", err)
	}
}

// TestDuplicateEmailConflicts verifies the unique store constraint
// surfaces through the pipeline
func TestDuplicateEmailConflicts(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, ports.Record{"email": "a@x.io", "password": "x"}, service.Params{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := svc.Create(ctx, ports.Record{"email": "a@x.io", "password": "y"}, service.Params{})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("duplicate email: want conflict, got %v", err)
	}
}

// TestStripOnExternalOnly verifies provider-dependent stripping
func TestStripOnExternalOnly(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, ports.Record{"email": "a@x.io", "password": "x"}, service.Params{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _ := created["id"].(string)

	// Internal call keeps the hash (login needs it).
	internal, err := svc.Get(ctx, id, service.Params{})
	if err != nil {
		t.Fatalf("internal get: %v", err)
	}
	if _, ok := internal["password"]; !ok {
		t.Error("internal results should keep the password hash")
	}

	// External call never sees it.
	external, err := svc.Get(ctx, id, service.Params{Provider: "rest"})
	if err != nil {
		t.Fatalf("external get: %v", err)
	}
	if _, ok := external["password"]; ok {
		t.Error("external results must not carry the password")
	}
}

// TestStripAllShapes verifies find results are stripped in both shapes
func TestStripAllShapes(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	for _, email := range []string{"a@x.io", "b@x.io"} {
		if _, err := svc.Create(ctx, ports.Record{"email": email, "password": "x"}, service.Params{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	result, err := svc.Find(ctx, service.Params{Provider: "rest"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	for _, rec := range result.([]ports.Record) {
		if _, ok := rec["password"]; ok {
			t.Error("external find leaked a password")
		}
	}

	result, err = svc.Find(ctx, service.Params{Provider: "rest", Query: ports.Query{Limit: 10}})
	if err != nil {
		t.Fatalf("paged find: %v", err)
	}
	for _, rec := range result.(service.Page).Data {
		if _, ok := rec["password"]; ok {
			t.Error("external paged find leaked a password")
		}
	}
}

// TestSerializerStrips verifies channel payloads are always stripped
func TestSerializerStrips(t *testing.T) {
	s := Serializer()
	hc := &service.Context{
		Service: Path,
		Method:  service.MethodCreate,
		Result:  ports.Record{"id": "u1", "email": "a@x.io", "password": "hash"},
	}

	payload, ok := s(hc, nil)
	if !ok {
		t.Fatal("serializer should not withhold user events")
	}
	rec, _ := payload.(ports.Record)
	if _, leaked := rec["password"]; leaked {
		t.Error("serialized event leaked the password")
	}
	if rec["email"] != "a@x.io" {
		t.Errorf("serialized event = %v", rec)
	}
}

// TestStripNil verifies Strip tolerates nil
func TestStripNil(t *testing.T) {
	if Strip(nil) != nil {
		t.Error("Strip(nil) should be nil")
	}
}
