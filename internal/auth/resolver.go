package auth

import "context"

// ModeReader reports whether multiuser mode is enabled.
type ModeReader interface {
	IsEnabled(ctx context.Context) (bool, error)
}

// Resolver determines the acting identity of a request.
type Resolver struct {
	mode     ModeReader
	coreUUID string
}

// NewResolver creates a Resolver for the given core identity.
func NewResolver(mode ModeReader, coreUUID string) *Resolver {
	return &Resolver{mode: mode, coreUUID: coreUUID}
}

// CoreUUID returns the deployment's core identity.
func (r *Resolver) CoreUUID() string {
	return r.coreUUID
}

// Resolve applies the precedence rules:
//
//  1. a token claim with a UUID always wins and yields a token identity
//  2. otherwise an explicitly supplied UUID is selected
//  3. otherwise, while multiuser mode is off, the core identity is selected
//  4. otherwise nothing is resolved (zero Identity, nil error)
//
// The claim must already have been validated by the caller.
func (r *Resolver) Resolve(ctx context.Context, explicitUUID string, claim *TokenClaim) (Identity, error) {
	if claim != nil && claim.UUID != "" {
		return Identity{Type: IdentityToken, UUID: claim.UUID}, nil
	}

	if explicitUUID != "" {
		return r.selected(explicitUUID), nil
	}

	multiuser, err := r.mode.IsEnabled(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !multiuser {
		return r.selected(r.coreUUID), nil
	}
	return Identity{}, nil
}

func (r *Resolver) selected(uuid string) Identity {
	if uuid == r.coreUUID {
		return Identity{Type: IdentityCore, UUID: uuid}
	}
	return Identity{Type: IdentityUser, UUID: uuid}
}
