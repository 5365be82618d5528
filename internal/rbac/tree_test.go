package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPermissionTree(t *testing.T) {
	var perms []Permission
	for _, code := range []string{"subscription:read", "stats:read", "subscription:*", "subscription:delete", "audit:read"} {
		p, err := NewPermission(code, "d "+code)
		require.NoError(t, err)
		perms = append(perms, p)
	}

	tree := BuildPermissionTree(perms)
	require.Len(t, tree, 3)
	assert.Equal(t, "audit", tree[0].Resource)
	assert.Equal(t, "Audit", tree[0].Label)
	assert.Equal(t, "stats", tree[1].Resource)

	sub := tree[2]
	assert.Equal(t, "subscription", sub.Resource)
	assert.Equal(t, "subscription:*", sub.WildcardCode)
	require.Len(t, sub.Actions, 2)
	assert.Equal(t, "delete", sub.Actions[0].Action)
	assert.Equal(t, "read", sub.Actions[1].Action)
	assert.Equal(t, "d subscription:read", sub.Actions[1].Description)
}

func TestBuildPermissionTreeEmpty(t *testing.T) {
	tree := BuildPermissionTree(nil)
	assert.NotNil(t, tree)
	assert.Empty(t, tree)
}

func TestTreeBuilderPropagatesErrors(t *testing.T) {
	store := newMemoryStore()
	store.setErr(errors.New("down"))
	_, err := NewTreeBuilder(store).Build(context.Background())
	require.Error(t, err)
}
