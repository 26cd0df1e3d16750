package identity

import (
	"context"

	"ZapDesk/entity"
)

type Core interface {
	ResolveIdentity(ctx context.Context, key string) (entity.Identity, error)
	PrimeIdentity(ctx context.Context, key, name, avatar string) (entity.Identity, error)
}
