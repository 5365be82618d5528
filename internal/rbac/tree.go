package rbac

import (
	"context"
	"sort"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TreeNode groups the concrete actions of one resource.
type TreeNode struct {
	Resource string       `json:"resource"`
	Label    string       `json:"label"`
	Actions  []ActionNode `json:"actions"`
	// WildcardCode is set when the catalog defines `resource:*`.
	WildcardCode string `json:"wildcard_code,omitempty"`
}

// ActionNode is a leaf of the permission tree.
type ActionNode struct {
	Action      string `json:"action"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// BuildPermissionTree groups a flat catalog into resource → actions, sorted by
// resource then action.
func BuildPermissionTree(perms []Permission) []TreeNode {
	title := cases.Title(language.English)
	index := make(map[string]int)
	nodes := make([]TreeNode, 0)
	for _, p := range perms {
		i, ok := index[p.Resource]
		if !ok {
			i = len(nodes)
			index[p.Resource] = i
			nodes = append(nodes, TreeNode{Resource: p.Resource, Label: title.String(p.Resource), Actions: []ActionNode{}})
		}
		if p.IsWildcard() {
			nodes[i].WildcardCode = p.Code
			continue
		}
		nodes[i].Actions = append(nodes[i].Actions, ActionNode{Action: p.Action, Code: p.Code, Description: p.Description})
	}
	sort.Slice(nodes, func(a, b int) bool { return nodes[a].Resource < nodes[b].Resource })
	for i := range nodes {
		actions := nodes[i].Actions
		sort.Slice(actions, func(a, b int) bool { return actions[a].Action < actions[b].Action })
	}
	return nodes
}

// TreeBuilder derives the permission tree from the catalog on demand.
type TreeBuilder struct {
	catalog CatalogStore
}

// NewTreeBuilder constructs a TreeBuilder.
func NewTreeBuilder(catalog CatalogStore) *TreeBuilder {
	return &TreeBuilder{catalog: catalog}
}

// Build reads the catalog and groups it.
func (b *TreeBuilder) Build(ctx context.Context) ([]TreeNode, error) {
	perms, err := b.catalog.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	return BuildPermissionTree(perms), nil
}
