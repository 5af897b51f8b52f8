package shared

// ActorResolver substitutes a single configured fallback identity when an
// operation arrives without an acting user. The fallback is configuration,
// not a literal scattered across call sites.
type ActorResolver struct {
	fallback int64
}

// NewActorResolver constructs an ActorResolver with the given fallback actor.
func NewActorResolver(fallback int64) *ActorResolver {
	return &ActorResolver{fallback: fallback}
}

// Resolve returns actorID, or the configured fallback when actorID is zero.
func (r *ActorResolver) Resolve(actorID int64) int64 {
	if actorID != 0 {
		return actorID
	}
	if r == nil {
		return 0
	}
	return r.fallback
}
