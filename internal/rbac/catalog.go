package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// CatalogFile is the deployment-time definition of permissions and roles.
type CatalogFile struct {
	Permissions []CatalogPermission `yaml:"permissions" validate:"dive"`
	Roles       []CatalogRole       `yaml:"roles" validate:"dive"`
}

// CatalogPermission declares one permission code.
type CatalogPermission struct {
	Code        string `yaml:"code" validate:"required,permcode"`
	Description string `yaml:"description"`
}

// CatalogRole declares a role and the permission codes it carries.
type CatalogRole struct {
	Code        string   `yaml:"code" validate:"required,excludesall=0x20"`
	Name        string   `yaml:"name" validate:"required"`
	Permissions []string `yaml:"permissions" validate:"dive,permcode"`
}

// ProvisionStore is what provisioning writes into.
type ProvisionStore interface {
	CatalogWriter
	BindingWriter
}

// ProvisionReport summarises a provisioning run.
type ProvisionReport struct {
	Permissions     int
	Roles           int
	BindingsCreated int
	BindingsKept    int
}

// NewValidator returns a validator with the permission code rule registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("permcode", func(fl validator.FieldLevel) bool {
		_, _, err := ParsePermissionCode(fl.Field().String())
		return err == nil
	})
	return v
}

// LoadCatalogFile reads and validates a catalog YAML file.
func LoadCatalogFile(path string) (CatalogFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return CatalogFile{}, fmt.Errorf("rbac: open catalog: %w", err)
	}
	defer f.Close()
	return LoadCatalog(f)
}

// LoadCatalog decodes and validates a catalog document.
func LoadCatalog(r io.Reader) (CatalogFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file CatalogFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return CatalogFile{}, fmt.Errorf("rbac: decode catalog: %w", err)
	}
	if err := NewValidator().Struct(file); err != nil {
		return CatalogFile{}, fmt.Errorf("rbac: validate catalog: %w", err)
	}
	known := make(map[string]struct{}, len(file.Permissions))
	for _, p := range file.Permissions {
		if _, dup := known[p.Code]; dup {
			return CatalogFile{}, fmt.Errorf("rbac: duplicate permission %s", p.Code)
		}
		known[p.Code] = struct{}{}
	}
	roles := make(map[string]struct{}, len(file.Roles))
	for _, role := range file.Roles {
		if _, dup := roles[role.Code]; dup {
			return CatalogFile{}, fmt.Errorf("rbac: duplicate role %s", role.Code)
		}
		roles[role.Code] = struct{}{}
		for _, code := range role.Permissions {
			if _, ok := known[code]; !ok {
				return CatalogFile{}, fmt.Errorf("rbac: role %s references %s: %w", role.Code, code, ErrPermissionNotFound)
			}
		}
	}
	return file, nil
}

// Provision upserts the catalog and binds declared role permissions. Bindings
// that already exist are kept. The invalidator runs once at the end.
func Provision(ctx context.Context, store ProvisionStore, file CatalogFile, invalidator Invalidator) (ProvisionReport, error) {
	var report ProvisionReport
	ids := make(map[string]int64, len(file.Permissions))
	for _, cp := range file.Permissions {
		perm, err := NewPermission(cp.Code, cp.Description)
		if err != nil {
			return report, err
		}
		perm, err = store.UpsertPermission(ctx, perm)
		if err != nil {
			return report, err
		}
		ids[perm.Code] = perm.ID
		report.Permissions++
	}
	for _, cr := range file.Roles {
		role, err := store.UpsertRole(ctx, Role{Code: cr.Code, Name: cr.Name, Status: StatusActive})
		if err != nil {
			return report, err
		}
		report.Roles++
		for _, code := range cr.Permissions {
			err := store.InsertRolePermission(ctx, role.ID, ids[code])
			switch {
			case err == nil:
				report.BindingsCreated++
			case errors.Is(err, ErrBindingConflict):
				report.BindingsKept++
			default:
				return report, fmt.Errorf("rbac: bind %s to %s: %w", code, cr.Code, err)
			}
		}
	}
	if invalidator != nil {
		invalidator.Invalidate()
	}
	return report, nil
}
