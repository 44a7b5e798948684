package rbac

// RelationKind identifies one of the supported many-to-many edge kinds.
type RelationKind string

const (
	GroupRole      RelationKind = "GROUP_ROLE"
	RolePermission RelationKind = "ROLE_PERMISSION"
	UserRole       RelationKind = "USER_ROLE"
	UserPermission RelationKind = "USER_PERMISSION"
)

// Relation declares the endpoint types of an edge kind.
type Relation struct {
	Kind       RelationKind
	OwnerType  EntityType
	TargetType EntityType
}

// Registry holds the known relation kinds. Cascading cleanup derives its
// enumeration queries from it, so an entity type is only queried for the
// edge kinds that can actually reference it.
type Registry struct {
	relations []Relation
	byKind    map[RelationKind]Relation
	byOwner   map[EntityType][]Relation
	byTarget  map[EntityType][]Relation
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byKind:   make(map[RelationKind]Relation),
		byOwner:  make(map[EntityType][]Relation),
		byTarget: make(map[EntityType][]Relation),
	}
}

// Register adds a relation kind to the registry.
func (r *Registry) Register(rel Relation) {
	r.relations = append(r.relations, rel)
	r.byKind[rel.Kind] = rel
	r.byOwner[rel.OwnerType] = append(r.byOwner[rel.OwnerType], rel)
	r.byTarget[rel.TargetType] = append(r.byTarget[rel.TargetType], rel)
}

// Kind returns the relation declared for the given kind.
func (r *Registry) Kind(kind RelationKind) (Relation, bool) {
	rel, ok := r.byKind[kind]
	return rel, ok
}

// OwnedBy returns the relations in which the entity type is the owner.
func (r *Registry) OwnedBy(t EntityType) []Relation {
	return r.byOwner[t]
}

// Targeting returns the relations in which the entity type is the target.
func (r *Registry) Targeting(t EntityType) []Relation {
	return r.byTarget[t]
}

// All returns every registered relation.
func (r *Registry) All() []Relation {
	return r.relations
}

// DefaultRegistry returns a registry with the four built-in edge kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Relation{Kind: GroupRole, OwnerType: EntityGroup, TargetType: EntityRole})
	r.Register(Relation{Kind: RolePermission, OwnerType: EntityRole, TargetType: EntityPermission})
	r.Register(Relation{Kind: UserRole, OwnerType: EntityUser, TargetType: EntityRole})
	r.Register(Relation{Kind: UserPermission, OwnerType: EntityUser, TargetType: EntityPermission})
	return r
}
