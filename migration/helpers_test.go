package migration

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/GoCodeAlone/datamigrate/schema"
	"github.com/GoCodeAlone/datamigrate/versioning"
)

const (
	baseline = "1.0.0-baseline"
	enhanced = "1.1.0-enhanced"
	breaking = "1.2.0-breaking"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestVersions(t *testing.T) *versioning.Registry {
	t.Helper()
	versions := versioning.NewRegistry()
	for _, id := range []string{baseline, enhanced, breaking} {
		if _, err := versions.Register(id, versioning.Metadata{}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
	return versions
}

// profileScript adds a profile object to data.user and requires it to exist
// after the forward transform. A user that is not an object is malformed.
func profileScript() Script {
	return Script{
		From:        baseline,
		To:          enhanced,
		Description: "add user profile",
		Kinds:       []string{"user"},
		Invertible:  true,
		Forward: func(doc schema.Document) (schema.Document, error) {
			raw, ok := doc["user"]
			if !ok {
				return doc, nil
			}
			user, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("user: expected object, got %T", raw)
			}
			if _, ok := user["profile"]; !ok {
				user["profile"] = map[string]any{"displayName": user["name"], "preferences": map[string]any{}}
			}
			return doc, nil
		},
		Backward: func(doc schema.Document) (schema.Document, error) {
			if user, ok := doc["user"].(map[string]any); ok {
				delete(user, "profile")
			}
			return doc, nil
		},
		Validate: func(doc schema.Document) error {
			if _, ok := doc["user"]; !ok {
				return nil
			}
			if _, ok := doc.Lookup("user.profile"); !ok {
				return errors.New("migrated user must contain a profile")
			}
			return nil
		},
	}
}

// permissionsScript restructures permissions into roles. Its rollback is
// lossy: roles set to false are dropped.
func permissionsScript() Script {
	return Script{
		From:  enhanced,
		To:    breaking,
		Kinds: []string{"user"},
		Forward: func(doc schema.Document) (schema.Document, error) {
			user, ok := doc["user"].(map[string]any)
			if !ok {
				return doc, nil
			}
			roles := map[string]any{}
			perms, _ := user["permissions"].([]any)
			for _, p := range perms {
				roles[fmt.Sprint(p)] = true
			}
			user["roles"] = roles
			delete(user, "permissions")
			return doc, nil
		},
		Backward: func(doc schema.Document) (schema.Document, error) {
			user, ok := doc["user"].(map[string]any)
			if !ok {
				return doc, nil
			}
			var perms []any
			roles, _ := user["roles"].(map[string]any)
			for name, on := range roles {
				if on == true {
					perms = append(perms, name)
				}
			}
			user["permissions"] = perms
			delete(user, "roles")
			return doc, nil
		},
	}
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) (*Registry, *versioning.Registry) {
	t.Helper()
	versions := newTestVersions(t)
	opts = append([]RegistryOption{WithRegistryLogger(quietLogger())}, opts...)
	reg := NewRegistry(versions, opts...)
	if err := reg.Register(profileScript()); err != nil {
		t.Fatalf("register profile script: %v", err)
	}
	return reg, versions
}
