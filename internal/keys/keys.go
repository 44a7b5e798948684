// Package keys builds and parses the composite key scheme for the RBAC table.
package keys

import "strings"

// Entity sort-key prefixes. The prefix encodes the entity type so that a
// single tenant partition can hold every record kind and still support
// type-scoped range queries via begins_with.
const (
	TenantPrefix     = "TENANT#"
	RolePrefix       = "ROLE#"
	PermissionPrefix = "PERM#"
	PolicyPrefix     = "POLICY#"
	PolicyNamePrefix = "POLICYNAME#"
	UserPrefix       = "USER#"
	UserEmailPrefix  = "USEREMAIL#"
	GroupPrefix      = "GROUP#"
)

// TenantPK returns the partition key for a tenant's entity records.
func TenantPK(tenantID string) string {
	return TenantPrefix + tenantID
}

// Entity returns a type-prefixed sort key (e.g., "ROLE#editor").
func Entity(prefix, name string) string {
	return prefix + name
}

// Name strips the entity type prefix from a sort key.
// Returns false if the key does not carry the expected prefix.
func Name(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return key[len(prefix):], true
}

// Edge returns a tenant-scoped relationship key
// (e.g., "TENANT#t1#ROLE#editor"). Every edge endpoint carries the tenant
// prefix explicitly so cross-tenant name collisions cannot alias edges.
func Edge(tenantID, prefix, name string) string {
	return TenantPrefix + tenantID + "#" + prefix + name
}

// EdgePrefix returns the leading portion of an edge key up to the entity
// name, used for begins_with conditions on reverse-index queries.
func EdgePrefix(tenantID, prefix string) string {
	return TenantPrefix + tenantID + "#" + prefix
}

// EdgeName strips the tenant scope and entity type prefix from an edge key.
func EdgeName(tenantID, prefix, key string) (string, bool) {
	return Name(EdgePrefix(tenantID, prefix), key)
}

// IsEdge reports whether a partition or sort key is an edge endpoint key
// rather than a plain tenant partition key or entity sort key.
func IsEdge(key string) bool {
	if !strings.HasPrefix(key, TenantPrefix) {
		return false
	}
	return strings.Count(key, "#") > 1
}

// TenantID extracts the tenant identifier from a tenant partition key.
// Returns false for edge keys and non-tenant keys.
func TenantID(pk string) (string, bool) {
	rest, ok := Name(TenantPrefix, pk)
	if !ok || rest == "" || strings.Contains(rest, "#") {
		return "", false
	}
	return rest, true
}
