package rbac

import (
	"github.com/hakrNJN/user-management-service-sub003/internal/keys"
)

// EntityType identifies an RBAC entity kind that can participate in
// relationships.
type EntityType string

const (
	EntityGroup      EntityType = "group"
	EntityRole       EntityType = "role"
	EntityPermission EntityType = "permission"
	EntityUser       EntityType = "user"
)

// Prefix returns the sort-key prefix for the entity type.
func (t EntityType) Prefix() string {
	switch t {
	case EntityGroup:
		return keys.GroupPrefix
	case EntityRole:
		return keys.RolePrefix
	case EntityPermission:
		return keys.PermissionPrefix
	case EntityUser:
		return keys.UserPrefix
	}
	return ""
}

// Ref identifies one relationship endpoint by type and name.
type Ref struct {
	Type EntityType
	Name string
}

// GroupRef returns a group endpoint reference.
func GroupRef(name string) Ref { return Ref{Type: EntityGroup, Name: name} }

// RoleRef returns a role endpoint reference.
func RoleRef(name string) Ref { return Ref{Type: EntityRole, Name: name} }

// PermissionRef returns a permission endpoint reference.
func PermissionRef(name string) Ref { return Ref{Type: EntityPermission, Name: name} }

// UserRef returns a user endpoint reference.
func UserRef(userID string) Ref { return Ref{Type: EntityUser, Name: userID} }

// Role is a named bundle of permissions, unique per tenant.
type Role struct {
	TenantID    string `dynamodbav:"tenant_id"`
	RoleName    string `dynamodbav:"role_name"`
	Description string `dynamodbav:"description,omitempty"`
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

// Permission is a named capability, unique per tenant.
type Permission struct {
	TenantID       string `dynamodbav:"tenant_id"`
	PermissionName string `dynamodbav:"permission_name"`
	Description    string `dynamodbav:"description,omitempty"`
	CreatedAt      string `dynamodbav:"created_at"`
	UpdatedAt      string `dynamodbav:"updated_at"`
}

// Policy is a versioned policy document. The id is assigned at creation;
// the policy name is unique per tenant via a pointer record.
type Policy struct {
	TenantID           string            `dynamodbav:"tenant_id"`
	ID                 string            `dynamodbav:"id"`
	PolicyName         string            `dynamodbav:"policy_name"`
	Definition         string            `dynamodbav:"definition"`
	DefinitionLanguage string            `dynamodbav:"definition_language"`
	Version            string            `dynamodbav:"version"`
	Description        string            `dynamodbav:"description,omitempty"`
	Metadata           map[string]string `dynamodbav:"metadata,omitempty"`
	IsActive           bool              `dynamodbav:"is_active"`
	CreatedAt          string            `dynamodbav:"created_at"`
	UpdatedAt          string            `dynamodbav:"updated_at"`
}

// UserProfile is the locally stored profile for a directory user.
// The email is unique per tenant via a pointer record.
type UserProfile struct {
	TenantID    string `dynamodbav:"tenant_id"`
	UserID      string `dynamodbav:"user_id"`
	Email       string `dynamodbav:"email"`
	FirstName   string `dynamodbav:"first_name"`
	LastName    string `dynamodbav:"last_name"`
	PhoneNumber string `dynamodbav:"phone_number,omitempty"`
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

// RoleUpdate selects role fields to change. A nil pointer leaves the field
// untouched; a pointer to the empty string clears it.
type RoleUpdate struct {
	Description *string
}

// PermissionUpdate selects permission fields to change.
type PermissionUpdate struct {
	Description *string
}

// PolicyUpdate selects policy fields to change. The policy name is
// immutable; create a new policy to rename. Metadata follows map semantics:
// nil leaves it untouched, an empty non-nil map clears it.
type PolicyUpdate struct {
	Definition         *string
	DefinitionLanguage *string
	Version            *string
	Description        *string
	Metadata           map[string]string
	IsActive           *bool
}

// UserProfileUpdate selects profile fields to change. Changing the email
// moves the tenant-scoped uniqueness pointer in the same transaction.
type UserProfileUpdate struct {
	Email       *string
	FirstName   *string
	LastName    *string
	PhoneNumber *string
}
