package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Repository is the authoritative store for service registrations.
// Implementations must make Save atomic and key uniqueness by service ID.
type Repository interface {
	FindAll(ctx context.Context) ([]*ServiceRegistration, error)
	FindByID(ctx context.Context, id string) (*ServiceRegistration, error)
	Save(ctx context.Context, reg *ServiceRegistration) error
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
}

// Authorizer answers whether an actor's permissions allow registry
// mutations. Implemented by the auth package's service authorizer.
type Authorizer interface {
	CanCreateService(permissions []string) bool
	IsAuthorizedForService(svc *ServiceRegistration, op Operation, permissions []string) bool
}

// Error is a typed registration failure carrying the status the admin
// surface should render: 400 validation, 403 authorization, 409 version
// conflict, 502 store failure.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string { return fmt.Sprintf("registration failed (%d): %s", e.Status, e.Reason) }

func failf(status int, format string, args ...any) *Error {
	return &Error{Status: status, Reason: fmt.Sprintf(format, args...)}
}

// Config tunes the local snapshot cache.
type Config struct {
	// ServiceRoutesTTL bounds snapshot staleness across instances.
	ServiceRoutesTTL time.Duration
	// JitterFactor is the fraction of the TTL added as per-instance
	// random jitter, spreading refresh stampedes.
	JitterFactor float64
}

// snapshot is an immutable view of the registered service set. Replaced
// wholesale on refresh; mutated copy-on-write by register/unregister.
type snapshot struct {
	byID map[string]*ServiceRegistration
	// ordered preserves registration-time order for deterministic route
	// resolution.
	ordered    []*ServiceRegistration
	freshUntil time.Time
}

// refreshOp is the coalescing handle for one in-flight snapshot refresh.
// All concurrent stale readers wait on done.
type refreshOp struct {
	done chan struct{}
	err  error
}

// Registry is the per-instance routing view: an authoritative repository
// plus a local TTL-bounded snapshot with coalesced refresh. Local writes
// are visible to this instance immediately and to other instances after
// their snapshots expire.
type Registry struct {
	repo       Repository
	authorizer Authorizer
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	// mu serializes snapshot replacement and the inflight handle.
	// Readers go through the atomic pointer and never block.
	mu       sync.Mutex
	current  atomic.Pointer[snapshot]
	inflight *refreshOp
}

// New creates a Registry with an empty, already-stale snapshot so the
// first async lookup populates it from the repository.
func New(repo Repository, authorizer Authorizer, cfg Config, logger *slog.Logger) *Registry {
	r := &Registry{
		repo:       repo,
		authorizer: authorizer,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	r.current.Store(&snapshot{byID: map[string]*ServiceRegistration{}})
	return r
}

// Register validates and persists a registration. New services require
// create authority and version 1; updates require version = current+1,
// update authority under the existing policy, and permissions.write
// authority when the permission policy changes. On success the local
// snapshot reflects the write immediately.
func (r *Registry) Register(ctx context.Context, reg *ServiceRegistration, actorPermissions []string) error {
	if err := ValidateRegistration(reg); err != nil {
		return failf(http.StatusBadRequest, "%v", err)
	}

	existing, err := r.repo.FindByID(ctx, reg.ServiceID)
	if err != nil {
		return failf(http.StatusBadGateway, "registry store unavailable: %v", err)
	}

	if existing == nil {
		if !r.authorizer.CanCreateService(actorPermissions) {
			return failf(http.StatusForbidden, "not authorized to create services")
		}
		if reg.Version != 1 {
			return failf(http.StatusConflict, "expected version 1 for new service, got %d", reg.Version)
		}
		reg.RegisteredAt = r.now()
	} else {
		if reg.Version != existing.Version+1 {
			return failf(http.StatusConflict, "expected version %d", existing.Version+1)
		}
		if !r.authorizer.IsAuthorizedForService(existing, OperationUpdate, actorPermissions) {
			return failf(http.StatusForbidden, "not authorized to update service %q", reg.ServiceID)
		}
		if policyModified(existing.PermissionPolicy, reg.PermissionPolicy) &&
			!hasPermission(actorPermissions, PermissionPolicyWrite) {
			return failf(http.StatusForbidden, "modifying the permission policy requires %q", PermissionPolicyWrite)
		}
		reg.RegisteredAt = existing.RegisteredAt
	}

	if err := r.repo.Save(ctx, reg); err != nil {
		return failf(http.StatusBadGateway, "failed to persist registration: %v", err)
	}

	r.applyLocal(reg.Clone())
	r.logger.Info("service registered",
		"service_id", reg.ServiceID,
		"version", reg.Version,
		"endpoints", len(reg.Endpoints))
	return nil
}

// Unregister removes a service. Removing an absent service is a no-op
// success, making unregister idempotent.
func (r *Registry) Unregister(ctx context.Context, serviceID string, actorPermissions []string) error {
	existing, err := r.repo.FindByID(ctx, serviceID)
	if err != nil {
		return failf(http.StatusBadGateway, "registry store unavailable: %v", err)
	}
	if existing == nil {
		r.removeLocal(serviceID)
		return nil
	}
	if !r.authorizer.IsAuthorizedForService(existing, OperationUnregister, actorPermissions) {
		return failf(http.StatusForbidden, "not authorized to unregister service %q", serviceID)
	}
	if _, err := r.repo.Delete(ctx, serviceID); err != nil {
		return failf(http.StatusBadGateway, "failed to delete registration: %v", err)
	}
	r.removeLocal(serviceID)
	r.logger.Info("service unregistered", "service_id", serviceID)
	return nil
}

// FindRoute resolves (path, method) against the local snapshot without
// consulting the repository, stale or not.
func (r *Registry) FindRoute(path, method string) Lookup {
	return r.lookup(r.current.Load(), path, method)
}

// FindRouteAsync refreshes a stale snapshot (coalescing concurrent
// refreshes into one repository read) and then resolves synchronously.
// A failed refresh serves the previous snapshot; the next stale call
// retries.
func (r *Registry) FindRouteAsync(ctx context.Context, path, method string) (Lookup, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return Lookup{}, err
	}
	return r.FindRoute(path, method), nil
}

// FindService returns the registered service with the given ID from the
// local snapshot, or nil.
func (r *Registry) FindService(serviceID string) *ServiceRegistration {
	return r.current.Load().byID[serviceID]
}

// FindServiceAsync is FindService behind a freshness check, for
// pass-through dispatch.
func (r *Registry) FindServiceAsync(ctx context.Context, serviceID string) (*ServiceRegistration, error) {
	if err := r.ensureFresh(ctx); err != nil {
		return nil, err
	}
	return r.FindService(serviceID), nil
}

// Services returns the snapshot's services in registration order.
func (r *Registry) Services() []*ServiceRegistration {
	snap := r.current.Load()
	out := make([]*ServiceRegistration, len(snap.ordered))
	copy(out, snap.ordered)
	return out
}

// ensureFresh triggers or joins a snapshot refresh when the current one
// has expired. Only context errors propagate; repository failures keep
// the stale snapshot and are logged.
func (r *Registry) ensureFresh(ctx context.Context) error {
	snap := r.current.Load()
	if r.now().Before(snap.freshUntil) {
		return nil
	}

	r.mu.Lock()
	// Re-check under the lock: a refresh may have just completed.
	snap = r.current.Load()
	if r.now().Before(snap.freshUntil) {
		r.mu.Unlock()
		return nil
	}
	op := r.inflight
	if op == nil {
		op = &refreshOp{done: make(chan struct{})}
		r.inflight = op
		go r.refresh(op)
	}
	r.mu.Unlock()

	select {
	case <-op.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if op.err != nil {
		r.logger.Warn("service snapshot refresh failed, serving stale routes", "error", op.err)
	}
	return nil
}

// refresh re-reads the full service set and atomically replaces the
// snapshot. The inflight handle is always cleared so a failure can be
// retried by the next stale lookup.
func (r *Registry) refresh(op *refreshOp) {
	defer func() {
		r.mu.Lock()
		r.inflight = nil
		r.mu.Unlock()
		close(op.done)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	services, err := r.repo.FindAll(ctx)
	if err != nil {
		op.err = err
		return
	}
	next := &snapshot{
		byID:       make(map[string]*ServiceRegistration, len(services)),
		ordered:    make([]*ServiceRegistration, 0, len(services)),
		freshUntil: r.freshDeadline(),
	}
	sortByRegistration(services)
	for _, svc := range services {
		next.byID[svc.ServiceID] = svc
		next.ordered = append(next.ordered, svc)
	}
	r.mu.Lock()
	r.current.Store(next)
	r.mu.Unlock()
	r.logger.Debug("service snapshot refreshed", "services", len(services))
}

// applyLocal inserts or replaces one service in a copy of the snapshot.
func (r *Registry) applyLocal(reg *ServiceRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current.Load()
	next := &snapshot{
		byID:       make(map[string]*ServiceRegistration, len(old.byID)+1),
		freshUntil: old.freshUntil,
	}
	replaced := false
	for _, svc := range old.ordered {
		if svc.ServiceID == reg.ServiceID {
			next.ordered = append(next.ordered, reg)
			replaced = true
		} else {
			next.ordered = append(next.ordered, svc)
		}
	}
	if !replaced {
		next.ordered = append(next.ordered, reg)
	}
	for _, svc := range next.ordered {
		next.byID[svc.ServiceID] = svc
	}
	r.current.Store(next)
}

// removeLocal drops one service from a copy of the snapshot.
func (r *Registry) removeLocal(serviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.current.Load()
	if _, ok := old.byID[serviceID]; !ok {
		return
	}
	next := &snapshot{
		byID:       make(map[string]*ServiceRegistration, len(old.byID)),
		freshUntil: old.freshUntil,
	}
	for _, svc := range old.ordered {
		if svc.ServiceID == serviceID {
			continue
		}
		next.ordered = append(next.ordered, svc)
		next.byID[svc.ServiceID] = svc
	}
	r.current.Store(next)
}

// lookup implements the matching algorithm: first endpoint of the first
// service (registration order) that matches wins; otherwise a sole
// prefix-claiming service yields a service-only match.
func (r *Registry) lookup(snap *snapshot, path, method string) Lookup {
	for _, svc := range snap.ordered {
		if m := matchEndpoints(svc, path, method); m != nil {
			return Lookup{Match: m}
		}
	}
	var claimant *ServiceRegistration
	for _, svc := range snap.ordered {
		if claimsPrefix(svc, path) {
			if claimant != nil {
				// Ambiguous: more than one service claims the prefix.
				return Lookup{}
			}
			claimant = svc
		}
	}
	return Lookup{ServiceOnly: claimant}
}

// freshDeadline computes now + TTL + random jitter.
func (r *Registry) freshDeadline() time.Time {
	ttl := r.cfg.ServiceRoutesTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if r.cfg.JitterFactor > 0 {
		ttl += time.Duration(rand.Float64() * r.cfg.JitterFactor * float64(ttl))
	}
	return r.now().Add(ttl)
}

func sortByRegistration(services []*ServiceRegistration) {
	sort.SliceStable(services, func(i, j int) bool {
		if services[i].RegisteredAt.Equal(services[j].RegisteredAt) {
			// Tiebreak on ID so resolution order never depends on map
			// iteration.
			return services[i].ServiceID < services[j].ServiceID
		}
		return services[i].RegisteredAt.Before(services[j].RegisteredAt)
	})
}

func policyModified(a, b ServicePermissionPolicy) bool {
	if len(a) != len(b) {
		return true
	}
	for op, pa := range a {
		pb, ok := b[op]
		if !ok || len(pa.AnyOfPermissions) != len(pb.AnyOfPermissions) {
			return true
		}
		set := make(map[string]bool, len(pa.AnyOfPermissions))
		for _, p := range pa.AnyOfPermissions {
			set[p] = true
		}
		for _, p := range pb.AnyOfPermissions {
			if !set[p] {
				return true
			}
		}
	}
	return false
}

func hasPermission(permissions []string, wanted string) bool {
	for _, p := range permissions {
		if p == wanted || p == PermissionWildcard {
			return true
		}
	}
	return false
}
