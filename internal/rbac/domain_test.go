package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermissionCode(t *testing.T) {
	resource, action, err := ParsePermissionCode("subscription:export")
	require.NoError(t, err)
	assert.Equal(t, "subscription", resource)
	assert.Equal(t, "export", action)

	resource, action, err = ParsePermissionCode("report:finance:view")
	require.NoError(t, err)
	assert.Equal(t, "report:finance", resource)
	assert.Equal(t, "view", action)

	for _, bad := range []string{"", "role", ":read", "role:", " role:read", "role:read "} {
		_, _, err := ParsePermissionCode(bad)
		assert.ErrorIs(t, err, ErrInvalidCode, bad)
	}
}

func TestWildcardFor(t *testing.T) {
	w, ok := WildcardFor("subscription:delete")
	require.True(t, ok)
	assert.Equal(t, "subscription:*", w)

	_, ok = WildcardFor("nocolon")
	assert.False(t, ok)
}

func TestRoleActive(t *testing.T) {
	assert.True(t, Role{Status: StatusActive}.Active())
	assert.True(t, Role{}.Active())
	assert.False(t, Role{Status: StatusInactive}.Active())
	assert.False(t, Role{Status: StatusDeleted}.Active())
}

func TestPermissionSet(t *testing.T) {
	set := NewPermissionSet("b:read", "a:read")
	assert.True(t, set.Has("a:read"))
	assert.False(t, set.Has("c:read"))
	assert.Equal(t, []string{"a:read", "b:read"}, set.Codes())
	assert.False(t, set.All())

	all := AllPermissions()
	assert.True(t, all.All())
	assert.True(t, all.Has("anything:at_all"))
	assert.Empty(t, all.Codes())

	var empty PermissionSet
	assert.False(t, empty.Has("a:read"))
	assert.Zero(t, empty.Len())
}
