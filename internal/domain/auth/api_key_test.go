package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeKeyStore struct {
	byHash map[string]*ActorKey
	all    []*ActorKey
	err    error
}

func (f *fakeKeyStore) GetActorKey(_ context.Context, hash string) (*ActorKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	if k, ok := f.byHash[hash]; ok {
		return k, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeKeyStore) ListActorKeys(_ context.Context) ([]*ActorKey, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.all, nil
}

func TestValidate_SHA256DirectLookup(t *testing.T) {
	t.Parallel()

	key := &ActorKey{Hash: HashKey("secret"), ActorID: "ops", Permissions: []string{"gateway.admin"}}
	store := &fakeKeyStore{byHash: map[string]*ActorKey{key.Hash: key}}
	svc := NewAPIKeyService(store)

	actor, err := svc.Validate(context.Background(), "secret")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if actor.ID != "ops" || len(actor.Permissions) != 1 {
		t.Errorf("actor = %+v", actor)
	}
}

func TestValidate_Argon2idFallback(t *testing.T) {
	t.Parallel()

	hash, err := HashKeyArgon2id("secret")
	if err != nil {
		t.Fatalf("HashKeyArgon2id: %v", err)
	}
	key := &ActorKey{Hash: hash, ActorID: "ops", Permissions: []string{"*"}}
	store := &fakeKeyStore{all: []*ActorKey{key}}
	svc := NewAPIKeyService(store)

	actor, err := svc.Validate(context.Background(), "secret")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if actor.ID != "ops" {
		t.Errorf("ID = %q, want ops", actor.ID)
	}

	if _, err := svc.Validate(context.Background(), "wrong"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong key: err = %v, want ErrInvalidKey", err)
	}
}

func TestValidate_RevokedAndExpired(t *testing.T) {
	t.Parallel()

	revoked := &ActorKey{Hash: HashKey("revoked"), ActorID: "a", Revoked: true}
	expired := &ActorKey{Hash: HashKey("expired"), ActorID: "b", ExpiresAt: time.Now().Add(-time.Hour)}
	store := &fakeKeyStore{byHash: map[string]*ActorKey{
		revoked.Hash: revoked,
		expired.Hash: expired,
	}}
	svc := NewAPIKeyService(store)

	if _, err := svc.Validate(context.Background(), "revoked"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("revoked: err = %v, want ErrInvalidKey", err)
	}
	if _, err := svc.Validate(context.Background(), "expired"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expired: err = %v, want ErrInvalidKey", err)
	}
}

func TestDetectHashType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		hash string
		want string
	}{
		{"$argon2id$v=19$m=47104,t=1,p=1$c2FsdA$aGFzaA", "argon2id"},
		{"sha256:" + HashKey("x"), "sha256"},
		{HashKey("x"), "sha256"},
		{"plaintext", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := DetectHashType(tt.hash); got != tt.want {
			t.Errorf("DetectHashType(%q) = %q, want %q", tt.hash, got, tt.want)
		}
	}
}

func TestVerifyKey(t *testing.T) {
	t.Parallel()

	if match, err := VerifyKey("secret", HashKey("secret")); err != nil || !match {
		t.Errorf("bare sha256: match=%v err=%v", match, err)
	}
	if match, _ := VerifyKey("other", "sha256:"+HashKey("secret")); match {
		t.Error("prefixed sha256 matched wrong key")
	}
	if _, err := VerifyKey("secret", "garbage"); !errors.Is(err, ErrUnknownHashType) {
		t.Errorf("unknown format: err = %v, want ErrUnknownHashType", err)
	}
	// Malformed PHC parameters must surface as an error, not a panic.
	if _, err := VerifyKey("secret", "$argon2id$v=19$m=0,t=0,p=0$c2FsdA$aGFzaA"); err == nil {
		t.Error("malformed argon2id hash: expected error")
	}
}
