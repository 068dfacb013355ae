package subscription

import "context"

// CapabilityOverride allows assigning and clearing manual subscriptions.
const CapabilityOverride = "subscriptions:override"

// Authorizer answers capability checks for privileged actions.
type Authorizer interface {
	Can(ctx context.Context, actorID, capability string) (bool, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, actorID, capability string) (bool, error)

func (f AuthorizerFunc) Can(ctx context.Context, actorID, capability string) (bool, error) {
	return f(ctx, actorID, capability)
}

// DenyAll rejects every capability check. It is the default authorizer.
var DenyAll = AuthorizerFunc(func(context.Context, string, string) (bool, error) {
	return false, nil
})
