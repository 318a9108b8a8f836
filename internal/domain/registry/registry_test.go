package registry

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Aussie-Gate/Aussiegate/internal/domain/route"
)

// fakeRepo is an in-memory Repository with optional fault injection.
type fakeRepo struct {
	mu       sync.Mutex
	services map[string]*ServiceRegistration
	findErr  error
	findAllN int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{services: make(map[string]*ServiceRegistration)}
}

func (f *fakeRepo) FindAll(ctx context.Context) ([]*ServiceRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findAllN++
	if f.findErr != nil {
		return nil, f.findErr
	}
	out := make([]*ServiceRegistration, 0, len(f.services))
	for _, svc := range f.services {
		out = append(out, svc.Clone())
	}
	return out, nil
}

func (f *fakeRepo) FindByID(ctx context.Context, id string) (*ServiceRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.services[id].Clone(), nil
}

func (f *fakeRepo) Save(ctx context.Context, reg *ServiceRegistration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[reg.ServiceID] = reg.Clone()
	return nil
}

func (f *fakeRepo) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.services[id]
	delete(f.services, id)
	return ok, nil
}

func (f *fakeRepo) Exists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.services[id]
	return ok, nil
}

func (f *fakeRepo) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.services), nil
}

// allowAll authorizes everything; denyAll nothing.
type allowAll struct{}

func (allowAll) CanCreateService([]string) bool { return true }
func (allowAll) IsAuthorizedForService(*ServiceRegistration, Operation, []string) bool {
	return true
}

type denyAll struct{}

func (denyAll) CanCreateService([]string) bool { return false }
func (denyAll) IsAuthorizedForService(*ServiceRegistration, Operation, []string) bool {
	return false
}

func testRegistry(repo Repository, authz Authorizer) *Registry {
	return New(repo, authz, Config{ServiceRoutesTTL: time.Minute}, slog.New(slog.DiscardHandler))
}

func basicService(id string, version int64) *ServiceRegistration {
	return &ServiceRegistration{
		ServiceID: id,
		BaseURL:   "http://backend:9090",
		Version:   version,
		Endpoints: []EndpointConfig{
			{PathPattern: "/api/items", Methods: route.MethodSet{"GET"}},
		},
	}
}

func TestRegister_NewService(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	if err := r.Register(context.Background(), basicService("svc-a", 1), nil); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Read-your-writes: visible to sync lookup immediately.
	lookup := r.FindRoute("/api/items", "GET")
	if lookup.Match == nil {
		t.Fatal("expected route match after register")
	}
	if lookup.Match.Service.ServiceID != "svc-a" {
		t.Errorf("service = %q", lookup.Match.Service.ServiceID)
	}
}

func TestRegister_ValidationFailures(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})

	tests := []struct {
		name string
		reg  *ServiceRegistration
	}{
		{"missing base url", &ServiceRegistration{ServiceID: "x", Version: 1}},
		{"bad scheme", &ServiceRegistration{ServiceID: "x", BaseURL: "ftp://h", Version: 1,
			Endpoints: []EndpointConfig{{PathPattern: "/a", Methods: route.MethodSet{"GET"}}}}},
		{"reserved id", basicService("Admin", 1)},
		{"reserved id gateway", basicService("GATEWAY", 1)},
		{"reserved id q", basicService("q", 1)},
		{"bad rewrite", &ServiceRegistration{ServiceID: "x", BaseURL: "http://h", Version: 1,
			Endpoints: []EndpointConfig{{
				PathPattern:         "/a/{id}",
				Methods:             route.MethodSet{"GET"},
				PathRewriteTemplate: "/b/{other}",
			}}}},
		{"bad visibility rule", &ServiceRegistration{ServiceID: "x", BaseURL: "http://h", Version: 1,
			Endpoints:       []EndpointConfig{{PathPattern: "/a", Methods: route.MethodSet{"GET"}}},
			VisibilityRules: []VisibilityRule{{PathPattern: " ", Visibility: VisibilityPublic}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(context.Background(), tt.reg, nil)
			var regErr *Error
			if !errors.As(err, &regErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if regErr.Status != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", regErr.Status)
			}
		})
	}
}

func TestRegister_VersionConflict(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	ctx := context.Background()

	if err := r.Register(ctx, basicService("svc-b", 1), nil); err != nil {
		t.Fatalf("register v1: %v", err)
	}

	// Same version again: 409 with the expected-version hint.
	err := r.Register(ctx, basicService("svc-b", 1), nil)
	var regErr *Error
	if !errors.As(err, &regErr) || regErr.Status != http.StatusConflict {
		t.Fatalf("duplicate v1: got %v, want 409", err)
	}

	// Skipping a version: also 409.
	if err := r.Register(ctx, basicService("svc-b", 3), nil); err == nil {
		t.Fatal("v3 after v1 should conflict")
	}

	// current+1 succeeds.
	if err := r.Register(ctx, basicService("svc-b", 2), nil); err != nil {
		t.Fatalf("register v2: %v", err)
	}
	if got := r.FindService("svc-b").Version; got != 2 {
		t.Errorf("stored version = %d, want 2", got)
	}

	// New services must start at 1.
	if err := r.Register(ctx, basicService("svc-new", 5), nil); err == nil {
		t.Fatal("new service at v5 should conflict")
	}
}

func TestRegister_Authorization(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), denyAll{})
	err := r.Register(context.Background(), basicService("svc-c", 1), nil)
	var regErr *Error
	if !errors.As(err, &regErr) || regErr.Status != http.StatusForbidden {
		t.Fatalf("got %v, want 403", err)
	}
}

func TestRegister_PolicyChangeRequiresWriteAuthority(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	ctx := context.Background()

	if err := r.Register(ctx, basicService("svc-d", 1), nil); err != nil {
		t.Fatalf("register: %v", err)
	}

	update := basicService("svc-d", 2)
	update.PermissionPolicy = ServicePermissionPolicy{
		OperationUpdate: {AnyOfPermissions: []string{"team-a"}},
	}

	err := r.Register(ctx, update, []string{"something-else"})
	var regErr *Error
	if !errors.As(err, &regErr) || regErr.Status != http.StatusForbidden {
		t.Fatalf("policy change without authority: got %v, want 403", err)
	}

	if err := r.Register(ctx, update, []string{PermissionPolicyWrite}); err != nil {
		t.Fatalf("policy change with authority: %v", err)
	}
}

func TestUnregister_Idempotent(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	ctx := context.Background()

	if err := r.Register(ctx, basicService("svc-e", 1), nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Unregister(ctx, "svc-e", nil); err != nil {
		t.Fatalf("first unregister: %v", err)
	}
	if err := r.Unregister(ctx, "svc-e", nil); err != nil {
		t.Fatalf("second unregister should be a no-op success: %v", err)
	}
	if r.FindService("svc-e") != nil {
		t.Error("service still present after unregister")
	}
}

func TestFindRoute_FirstMatchWins(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	ctx := context.Background()

	first := &ServiceRegistration{
		ServiceID: "first",
		BaseURL:   "http://first:8080",
		Version:   1,
		Endpoints: []EndpointConfig{
			{PathPattern: "/shared/**", Methods: route.MethodSet{"GET"}},
		},
	}
	second := &ServiceRegistration{
		ServiceID: "second",
		BaseURL:   "http://second:8080",
		Version:   1,
		Endpoints: []EndpointConfig{
			{PathPattern: "/shared/exact", Methods: route.MethodSet{"GET"}},
		},
	}
	if err := r.Register(ctx, first, nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctx, second, nil); err != nil {
		t.Fatal(err)
	}

	lookup := r.FindRoute("/shared/exact", "GET")
	if lookup.Match == nil || lookup.Match.Service.ServiceID != "first" {
		t.Errorf("expected first registered service to win, got %+v", lookup)
	}
}

func TestFindRoute_PathVariableRewrite(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	svc := &ServiceRegistration{
		ServiceID: "users",
		BaseURL:   "http://b:9090",
		Version:   1,
		Endpoints: []EndpointConfig{{
			PathPattern:         "/api/v1/users/{userId}",
			Methods:             route.MethodSet{"GET"},
			PathRewriteTemplate: "/users/{userId}",
		}},
	}
	if err := r.Register(context.Background(), svc, nil); err != nil {
		t.Fatal(err)
	}

	lookup := r.FindRoute("/api/v1/users/123", "GET")
	if lookup.Match == nil {
		t.Fatal("expected match")
	}
	if lookup.Match.TargetPath != "/users/123" {
		t.Errorf("TargetPath = %q, want /users/123", lookup.Match.TargetPath)
	}
	if lookup.Match.PathVariables["userId"] != "123" {
		t.Errorf("PathVariables = %v", lookup.Match.PathVariables)
	}
}

func TestFindRoute_MethodMismatchYieldsServiceOnly(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	if err := r.Register(context.Background(), basicService("svc-m", 1), nil); err != nil {
		t.Fatal(err)
	}

	lookup := r.FindRoute("/api/items", "POST")
	if lookup.Match != nil {
		t.Fatal("POST should not match a GET endpoint")
	}
	if lookup.ServiceOnly == nil || lookup.ServiceOnly.ServiceID != "svc-m" {
		t.Errorf("expected service-only match, got %+v", lookup)
	}
}

func TestFindRoute_AbsentForUnknownPath(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	if err := r.Register(context.Background(), basicService("svc-n", 1), nil); err != nil {
		t.Fatal(err)
	}
	if lookup := r.FindRoute("/nothing/here", "GET"); lookup.Found() {
		t.Errorf("expected absent, got %+v", lookup)
	}
}

func TestFindRouteAsync_RefreshOnExpiry(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	ctx := context.Background()

	// Instance A writes straight to the shared store.
	writer := testRegistry(repo, allowAll{})
	if err := writer.Register(ctx, basicService("svc-shared", 1), nil); err != nil {
		t.Fatal(err)
	}

	// Instance B with an already-expired snapshot.
	reader := New(repo, allowAll{}, Config{ServiceRoutesTTL: time.Minute}, slog.New(slog.DiscardHandler))

	// Sync lookup on B misses: its snapshot predates the registration.
	if lookup := reader.FindRoute("/api/items", "GET"); lookup.Found() {
		t.Fatal("stale instance should not see the service synchronously")
	}

	// Async lookup refreshes and finds it.
	lookup, err := reader.FindRouteAsync(ctx, "/api/items", "GET")
	if err != nil {
		t.Fatalf("FindRouteAsync: %v", err)
	}
	if lookup.Match == nil {
		t.Fatal("expected match after refresh")
	}
}

func TestFindRouteAsync_CoalescesRefreshes(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	if err := repo.Save(context.Background(), basicService("svc-x", 1)); err != nil {
		t.Fatal(err)
	}
	r := New(repo, allowAll{}, Config{ServiceRoutesTTL: time.Minute}, slog.New(slog.DiscardHandler))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.FindRouteAsync(context.Background(), "/api/items", "GET")
		}()
	}
	wg.Wait()

	repo.mu.Lock()
	n := repo.findAllN
	repo.mu.Unlock()
	// All concurrent stale readers share one refresh. A second refresh can
	// start only if one finished and the clock advanced past the TTL,
	// which a 1-minute TTL rules out.
	if n != 1 {
		t.Errorf("FindAll called %d times, want 1", n)
	}
}

func TestFindRouteAsync_RefreshFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	repo := newFakeRepo()
	r := New(repo, allowAll{}, Config{ServiceRoutesTTL: time.Millisecond}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	if err := r.Register(ctx, basicService("svc-keep", 1), nil); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond) // let the snapshot expire

	repo.mu.Lock()
	repo.findErr = errors.New("store down")
	repo.mu.Unlock()

	// Refresh fails; previous snapshot still serves.
	lookup, err := r.FindRouteAsync(ctx, "/api/items", "GET")
	if err != nil {
		t.Fatalf("FindRouteAsync: %v", err)
	}
	if lookup.Match == nil {
		t.Error("stale snapshot should keep serving after refresh failure")
	}

	// Store recovers; a later call refreshes successfully.
	repo.mu.Lock()
	repo.findErr = nil
	repo.mu.Unlock()
	if _, err := r.FindRouteAsync(ctx, "/api/items", "GET"); err != nil {
		t.Fatalf("FindRouteAsync after recovery: %v", err)
	}
}

func TestVisibilityRules_Override(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	svc := &ServiceRegistration{
		ServiceID:         "vis",
		BaseURL:           "http://b:9090",
		Version:           1,
		DefaultVisibility: VisibilityPublic,
		Endpoints: []EndpointConfig{
			{PathPattern: "/api/**", Methods: route.MethodSet{"*"}},
		},
		VisibilityRules: []VisibilityRule{
			{PathPattern: "/api/internal/**", Methods: route.MethodSet{"*"}, Visibility: VisibilityPrivate},
		},
	}
	if err := r.Register(context.Background(), svc, nil); err != nil {
		t.Fatal(err)
	}

	open := r.FindRoute("/api/items", "GET")
	if got := open.Match.Visibility("GET"); got != VisibilityPublic {
		t.Errorf("open path visibility = %q, want PUBLIC", got)
	}
	internal := r.FindRoute("/api/internal/ops", "GET")
	if got := internal.Match.Visibility("GET"); got != VisibilityPrivate {
		t.Errorf("internal path visibility = %q, want PRIVATE", got)
	}
}

func TestRegister_NormalizesEmptyPolicy(t *testing.T) {
	t.Parallel()

	r := testRegistry(newFakeRepo(), allowAll{})
	reg := basicService("svc-p", 1)
	reg.PermissionPolicy = ServicePermissionPolicy{}
	if err := r.Register(context.Background(), reg, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if r.FindService("svc-p").PermissionPolicy != nil {
		t.Error("empty permission policy should normalize to absent")
	}
}
