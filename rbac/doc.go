// Package rbac persists multi-tenant RBAC entities and their relationships
// on a single DynamoDB table.
//
// The table uses a composite primary key (pk, sk). Entity records live in a
// tenant partition (pk="TENANT#<id>") under a type-prefixed sort key
// (sk="ROLE#<name>", "PERM#<name>", "POLICY#<uuid>", "USER#<userId>").
// Relationship records model many-to-many edges as adjacency entries:
// pk is the owning endpoint's key, sk the target endpoint's key, and the
// record's existence is the relationship. An inverted secondary index
// (sk as partition key, pk as sort key) serves reverse traversal.
//
// # Entity stores
//
// [RoleStore], [PermissionStore], [PolicyStore] and [UserProfileStore] offer
// tenant-scoped CRUD. Creation is guarded by conditional writes, so name
// uniqueness holds under concurrent creates: exactly one writer wins and the
// rest observe [AlreadyExistsError]. Policies and user profiles additionally
// keep a pointer record (policy name, email) written in the same
// transaction, which makes those fields unique per tenant and turns
// lookup-by-name and lookup-by-email into point reads.
//
// Absence is never an error: point lookups return (nil, nil), updates and
// deletes report a found flag. A record that exists but fails required-field
// validation on read surfaces [InvalidRecordError], which signals corruption
// rather than absence.
//
// # Relationships
//
// [RelationshipStore] manages four edge kinds (group→role, role→permission,
// user→role, user→permission). Assign is an idempotent upsert, Remove an
// idempotent delete. Reverse queries go through the inverted index and may
// lag primary writes; callers needing read-your-writes must re-derive from
// the forward direction. RemoveAllAssignmentsFor enumerates every edge
// touching an entity and bulk-deletes them with a bounded retry of the
// unprocessed subset. It is at-least-once, not atomic: edges written
// concurrently with the cleanup can survive it.
//
// Deleting an entity does not remove its edges on its own. Either call
// RemoveAllAssignmentsFor explicitly around the delete, or wire the stream
// handler so the cascade runs off the table's change stream.
package rbac
