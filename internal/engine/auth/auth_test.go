package auth

import (
	"errors"
	"testing"

	"buildline/internal/config"
)

func TestDefaultRoles(t *testing.T) {
	s := Service{Config: config.Default()}
	if err := s.Require("manager", "document.create"); err != nil {
		t.Fatalf("manager should create documents: %v", err)
	}
	if err := s.Require("supervisor", "task.update"); err != nil {
		t.Fatalf("supervisor should update tasks: %v", err)
	}
	if s.RoleHasPermission("supervisor", "project.update") || !s.RoleHasPermission("manager", "project.update") {
		t.Fatalf("only managers update projects")
	}
	err := s.Require("supervisor", "document.create")
	var fe ForbiddenError
	if !errors.As(err, &fe) || fe.Permission != "document.create" {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if s.RoleHasPermission("owner", "task.read") {
		t.Fatalf("unknown role must have no permissions")
	}
}

func TestConfiguredRoles(t *testing.T) {
	cfg, err := config.FromYAML([]byte("rbac:\n  roles:\n    supervisor:\n      permissions: [task.read]\n"))
	if err != nil {
		t.Fatal(err)
	}
	s := Service{Config: cfg}
	if s.RoleHasPermission("supervisor", "task.create") {
		t.Fatalf("configured role should replace defaults")
	}
	if !s.RoleHasPermission("manager", "resource.restock") {
		t.Fatalf("unconfigured role should keep defaults")
	}
}
