package rbac

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

type binding struct{ a, b int64 }

// memoryStore implements Store and UserDirectory in memory.
type memoryStore struct {
	mu          sync.Mutex
	nextID      int64
	perms       map[int64]Permission
	roles       map[int64]Role
	userRoles   map[binding]struct{}
	rolePerms   map[binding]struct{}
	users       map[int64]Status
	err         error
	roleCalls   atomic.Int64
	gate        chan struct{}
	gateEntered chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		perms:     make(map[int64]Permission),
		roles:     make(map[int64]Role),
		userRoles: make(map[binding]struct{}),
		rolePerms: make(map[binding]struct{}),
		users:     make(map[int64]Status),
	}
}

func (m *memoryStore) addPermission(code string) Permission {
	p, err := NewPermission(code, "")
	if err != nil {
		panic(err)
	}
	p, _ = m.UpsertPermission(context.Background(), p)
	return p
}

func (m *memoryStore) addRole(code string, status Status, perms ...string) Role {
	role, _ := m.UpsertRole(context.Background(), Role{Code: code, Name: code, Status: status})
	for _, code := range perms {
		p, _ := m.PermissionByCode(context.Background(), code)
		_ = m.InsertRolePermission(context.Background(), role.ID, p.ID)
	}
	return role
}

func (m *memoryStore) bind(userID int64, roles ...Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		m.users[userID] = StatusActive
	}
	for _, r := range roles {
		m.userRoles[binding{userID, r.ID}] = struct{}{}
	}
}

func (m *memoryStore) setUserStatus(userID int64, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = status
}

func (m *memoryStore) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *memoryStore) failure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *memoryStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	if err := m.failure(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryStore) ListRoles(ctx context.Context) ([]Role, error) {
	if err := m.failure(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryStore) PermissionByCode(ctx context.Context, code string) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.perms {
		if p.Code == code {
			return p, nil
		}
	}
	return Permission{}, ErrPermissionNotFound
}

func (m *memoryStore) RoleByCode(ctx context.Context, code string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return Role{}, ErrRoleNotFound
}

func (m *memoryStore) ListRolesForUser(ctx context.Context, userID int64) ([]int64, error) {
	m.roleCalls.Add(1)
	if err := m.failure(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	var ids []int64
	for b := range m.userRoles {
		if b.a == userID {
			ids = append(ids, b.b)
		}
	}
	gate, entered := m.gate, m.gateEntered
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// A gated call has already read its bindings when it blocks.
	if gate != nil {
		if entered != nil {
			entered <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ids, nil
}

func (m *memoryStore) ListPermissionsForRole(ctx context.Context, roleID int64) ([]int64, error) {
	if err := m.failure(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int64
	for b := range m.rolePerms {
		if b.a == roleID {
			ids = append(ids, b.b)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memoryStore) UserStatus(ctx context.Context, userID int64) (Status, error) {
	if err := m.failure(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.users[userID]
	if !ok {
		return "", ErrUserNotFound
	}
	return status, nil
}

func (m *memoryStore) InsertUserRole(ctx context.Context, userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}
	key := binding{userID, roleID}
	if _, ok := m.userRoles[key]; ok {
		return ErrBindingConflict
	}
	m.userRoles[key] = struct{}{}
	return nil
}

func (m *memoryStore) DeleteUserRole(ctx context.Context, userID, roleID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := binding{userID, roleID}
	if _, ok := m.userRoles[key]; !ok {
		return ErrBindingNotFound
	}
	delete(m.userRoles, key)
	return nil
}

func (m *memoryStore) InsertRolePermission(ctx context.Context, roleID, permissionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[permissionID]; !ok {
		return ErrPermissionNotFound
	}
	key := binding{roleID, permissionID}
	if _, ok := m.rolePerms[key]; ok {
		return ErrBindingConflict
	}
	m.rolePerms[key] = struct{}{}
	return nil
}

func (m *memoryStore) DeleteRolePermission(ctx context.Context, roleID, permissionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := binding{roleID, permissionID}
	if _, ok := m.rolePerms[key]; !ok {
		return ErrBindingNotFound
	}
	delete(m.rolePerms, key)
	return nil
}

func (m *memoryStore) UpsertPermission(ctx context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.perms {
		if p.Code == perm.Code {
			perm.ID = id
			m.perms[id] = perm
			return perm, nil
		}
	}
	m.nextID++
	perm.ID = m.nextID
	m.perms[perm.ID] = perm
	return perm, nil
}

func (m *memoryStore) UpsertRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.roles {
		if r.Code == role.Code {
			r.Name = role.Name
			m.roles[id] = r
			return r, nil
		}
	}
	m.nextID++
	role.ID = m.nextID
	m.roles[role.ID] = role
	return role, nil
}

func (m *memoryStore) CreateRole(ctx context.Context, role Role) (Role, error) {
	if _, err := m.RoleByCode(ctx, role.Code); err == nil {
		return Role{}, ErrRoleExists
	}
	return m.UpsertRole(ctx, role)
}

type countingInvalidator struct {
	n    atomic.Int64
	next Invalidator
}

func (c *countingInvalidator) Invalidate() {
	c.n.Add(1)
	if c.next != nil {
		c.next.Invalidate()
	}
}
