package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultStoreTimeout     = 2 * time.Second
	defaultFetchConcurrency = 8
	defaultMaxEntries       = 10000
)

// PermissionSet is the effective permission set of a user. The zero value is empty.
type PermissionSet struct {
	all   bool
	codes map[string]struct{}
}

// AllPermissions returns the sentinel set held by the super-admin role.
func AllPermissions() PermissionSet {
	return PermissionSet{all: true}
}

// NewPermissionSet builds a set from explicit codes.
func NewPermissionSet(codes ...string) PermissionSet {
	set := PermissionSet{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		set.codes[c] = struct{}{}
	}
	return set
}

// All reports whether the set is the all-permissions sentinel.
func (s PermissionSet) All() bool { return s.all }

// Has reports exact membership of code.
func (s PermissionSet) Has(code string) bool {
	if s.all {
		return true
	}
	_, ok := s.codes[code]
	return ok
}

// Len returns the number of explicit codes.
func (s PermissionSet) Len() int { return len(s.codes) }

// Codes returns the explicit codes sorted.
func (s PermissionSet) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// ResolverConfig collects the dependencies of a Resolver.
type ResolverConfig struct {
	Catalog  CatalogStore
	Bindings BindingStore
	// Users is optional; when set, inactive and deleted users resolve to the empty set.
	Users            UserDirectory
	SuperRoleCode    string
	StoreTimeout     time.Duration
	FetchConcurrency int
	MaxEntries       int
	Logger           *slog.Logger
	Metrics          *Metrics
}

type cacheEntry struct {
	version uint64
	set     PermissionSet
}

// Resolver computes and caches effective permission sets per user.
//
// Entries are stamped with the global version current when their computation
// started. Invalidate bumps the version, so every entry computed before a
// binding change is ignored on the next read.
type Resolver struct {
	catalog      CatalogStore
	bindings     BindingStore
	users        UserDirectory
	superRole    string
	storeTimeout time.Duration
	fetchLimit   int
	maxEntries   int
	logger       *slog.Logger
	metrics      *Metrics

	version atomic.Uint64
	mu      sync.RWMutex
	entries map[int64]cacheEntry
	group   singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		catalog:      cfg.Catalog,
		bindings:     cfg.Bindings,
		users:        cfg.Users,
		superRole:    cfg.SuperRoleCode,
		storeTimeout: cfg.StoreTimeout,
		fetchLimit:   cfg.FetchConcurrency,
		maxEntries:   cfg.MaxEntries,
		logger:       logger,
		metrics:      cfg.Metrics,
		entries:      make(map[int64]cacheEntry),
	}
	if r.superRole == "" {
		r.superRole = DefaultSuperRoleCode
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = defaultStoreTimeout
	}
	if r.fetchLimit <= 0 {
		r.fetchLimit = defaultFetchConcurrency
	}
	if r.maxEntries <= 0 {
		r.maxEntries = defaultMaxEntries
	}
	return r
}

// Invalidate marks every cached entry stale.
func (r *Resolver) Invalidate() {
	r.version.Add(1)
}

// Version returns the current binding version.
func (r *Resolver) Version() uint64 {
	return r.version.Load()
}

// Resolve returns the effective permission set of userID. Errors always wrap
// ErrStoreUnavailable and must be treated as a failed resolution.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	if err := ctx.Err(); err != nil {
		r.metrics.failed()
		return PermissionSet{}, unavailable(err)
	}
	current := r.version.Load()
	r.mu.RLock()
	entry, ok := r.entries[userID]
	r.mu.RUnlock()
	if ok && entry.version == current {
		r.metrics.hit()
		return entry.set, nil
	}
	r.metrics.miss()

	key := strconv.FormatInt(userID, 10) + "@" + strconv.FormatUint(current, 10)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.recompute(ctx, userID, current)
	})
	select {
	case <-ctx.Done():
		r.metrics.failed()
		return PermissionSet{}, unavailable(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			r.metrics.failed()
			return PermissionSet{}, res.Err
		}
		return res.Val.(PermissionSet), nil
	}
}

// recompute is shared by every caller waiting on the same user and version, so
// it runs detached from the first caller's cancellation and bounded by its own timeout.
func (r *Resolver) recompute(parent context.Context, userID int64, version uint64) (PermissionSet, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.storeTimeout)
	defer cancel()

	set, err := r.compute(ctx, userID)
	if err != nil {
		r.logger.Warn("rbac resolve", slog.Int64("user_id", userID), slog.Any("error", err))
		return PermissionSet{}, unavailable(err)
	}
	r.store(userID, version, set)
	r.metrics.observeRecompute(time.Since(start))
	return set, nil
}

func (r *Resolver) compute(ctx context.Context, userID int64) (PermissionSet, error) {
	if r.users != nil {
		status, err := r.users.UserStatus(ctx, userID)
		if errors.Is(err, ErrUserNotFound) {
			return PermissionSet{}, nil
		}
		if err != nil {
			return PermissionSet{}, fmt.Errorf("user status: %w", err)
		}
		if status != StatusActive {
			return PermissionSet{}, nil
		}
	}

	roleIDs, err := r.bindings.ListRolesForUser(ctx, userID)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("list roles for user: %w", err)
	}
	if len(roleIDs) == 0 {
		return PermissionSet{}, nil
	}
	roles, err := r.catalog.ListRoles(ctx)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("list roles: %w", err)
	}
	byID := make(map[int64]Role, len(roles))
	for _, role := range roles {
		byID[role.ID] = role
	}

	seen := make(map[int64]struct{}, len(roleIDs))
	active := make([]int64, 0, len(roleIDs))
	for _, id := range roleIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		role, ok := byID[id]
		if !ok || !role.Active() {
			continue
		}
		if role.Code == r.superRole {
			return AllPermissions(), nil
		}
		active = append(active, id)
	}
	if len(active) == 0 {
		return PermissionSet{}, nil
	}

	perms, err := r.catalog.ListPermissions(ctx)
	if err != nil {
		return PermissionSet{}, fmt.Errorf("list permissions: %w", err)
	}
	permByID := make(map[int64]Permission, len(perms))
	concrete := make(map[string][]string)
	for _, p := range perms {
		permByID[p.ID] = p
		if !p.IsWildcard() {
			concrete[p.Resource] = append(concrete[p.Resource], p.Code)
		}
	}

	lists := make([][]int64, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fetchLimit)
	for i, roleID := range active {
		i, roleID := i, roleID
		g.Go(func() error {
			ids, err := r.bindings.ListPermissionsForRole(gctx, roleID)
			if err != nil {
				return fmt.Errorf("list permissions for role %d: %w", roleID, err)
			}
			lists[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return PermissionSet{}, err
	}

	set := PermissionSet{codes: make(map[string]struct{})}
	for _, ids := range lists {
		for _, pid := range ids {
			p, ok := permByID[pid]
			if !ok {
				continue
			}
			set.codes[p.Code] = struct{}{}
			if p.IsWildcard() {
				for _, code := range concrete[p.Resource] {
					set.codes[code] = struct{}{}
				}
			}
		}
	}
	return set, nil
}

func (r *Resolver) store(userID int64, version uint64, set PermissionSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[userID]; ok && existing.version > version {
		return
	}
	r.entries[userID] = cacheEntry{version: version, set: set}
	if len(r.entries) > r.maxEntries {
		r.evictLocked()
	}
}

func (r *Resolver) evictLocked() {
	current := r.version.Load()
	for id, e := range r.entries {
		if e.version != current {
			delete(r.entries, id)
		}
	}
	for id := range r.entries {
		if len(r.entries) <= r.maxEntries {
			return
		}
		delete(r.entries, id)
	}
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
