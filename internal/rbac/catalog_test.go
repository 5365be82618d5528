package rbac

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `
permissions:
  - code: stats:read
    description: View statistics
  - code: subscription:read
  - code: subscription:*
roles:
  - code: R_SUPER
    name: Super
  - code: R_MARKETING
    name: Marketing
    permissions: [subscription:*, stats:read]
`

func TestLoadCatalog(t *testing.T) {
	file, err := LoadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	assert.Len(t, file.Permissions, 3)
	require.Len(t, file.Roles, 2)
	assert.Equal(t, []string{"subscription:*", "stats:read"}, file.Roles[1].Permissions)
}

func TestLoadCatalogRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":     "permissions:\n  - code: a:b\n    colour: red\n",
		"bad code":          "permissions:\n  - code: nocolon\n",
		"duplicate perm":    "permissions:\n  - code: a:b\n  - code: a:b\n",
		"duplicate role":    "roles:\n  - code: R_A\n    name: A\n  - code: R_A\n    name: B\n",
		"unknown reference": "permissions:\n  - code: a:b\nroles:\n  - code: R_A\n    name: A\n    permissions: [a:c]\n",
		"role without name": "roles:\n  - code: R_A\n",
		"role code spaces":  "roles:\n  - code: R A\n    name: A\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadCatalogFileShipsValidCatalog(t *testing.T) {
	file, err := LoadCatalogFile("../../configs/catalog.yml")
	require.NoError(t, err)

	codes := make(map[string]struct{})
	for _, p := range file.Permissions {
		codes[p.Code] = struct{}{}
	}
	for _, required := range []string{"role:assign", "role:revoke", "permission:grant", "permission:revoke", "audit:read", "audit:export"} {
		assert.Contains(t, codes, required)
	}
	var hasSuper bool
	for _, role := range file.Roles {
		if role.Code == DefaultSuperRoleCode {
			hasSuper = true
		}
	}
	assert.True(t, hasSuper)
}

func TestProvisionIsIdempotent(t *testing.T) {
	file, err := LoadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	store := newMemoryStore()
	inv := &countingInvalidator{}

	report, err := Provision(context.Background(), store, file, inv)
	require.NoError(t, err)
	assert.Equal(t, ProvisionReport{Permissions: 3, Roles: 2, BindingsCreated: 2}, report)

	report, err = Provision(context.Background(), store, file, inv)
	require.NoError(t, err)
	assert.Equal(t, ProvisionReport{Permissions: 3, Roles: 2, BindingsKept: 2}, report)
	assert.EqualValues(t, 2, inv.n.Load())

	perms, err := store.ListPermissions(context.Background())
	require.NoError(t, err)
	assert.Len(t, perms, 3)

	marketing, err := store.RoleByCode(context.Background(), "R_MARKETING")
	require.NoError(t, err)
	ids, err := store.ListPermissionsForRole(context.Background(), marketing.ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestProvisionedCatalogResolves(t *testing.T) {
	file, err := LoadCatalog(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	store := newMemoryStore()
	_, err = Provision(context.Background(), store, file, nil)
	require.NoError(t, err)
	marketing, err := store.RoleByCode(context.Background(), "R_MARKETING")
	require.NoError(t, err)
	store.bind(10, marketing)

	gate := NewGate(newTestResolver(store, nil), 0, nil, nil)
	got, err := gate.Authorize(context.Background(), 10, "subscription:read")
	require.NoError(t, err)
	assert.Equal(t, Allow, got)
	got, err = gate.Authorize(context.Background(), 10, "audit:read")
	require.NoError(t, err)
	assert.Equal(t, Deny, got)
}
