package identity

import (
	"context"
	stderrors "errors"
	"log/slog"
	"time"

	"limitgate/internal/storage"
	"limitgate/pkg/cache"
	"limitgate/pkg/errors"
)

// profileTTL bounds how stale a cached profile may be. Plan changes
// propagate within this window.
const profileTTL = 60 * time.Second

// Resolver turns bearer tokens into resolved identities
type Resolver struct {
	provider *Provider
	profiles storage.ProfileStore
	cache    *cache.Cache[*storage.Profile]
	logger   *slog.Logger
}

// NewResolver creates an identity resolver backed by the profile store
func NewResolver(provider *Provider, profiles storage.ProfileStore, profileCache *cache.Cache[*storage.Profile], logger *slog.Logger) *Resolver {
	return &Resolver{
		provider: provider,
		profiles: profiles,
		cache:    profileCache,
		logger:   logger.With("component", "identity"),
	}
}

// Resolve validates the token and loads the caller's profile
func (r *Resolver) Resolve(ctx context.Context, token string) (*Identity, error) {
	claims, err := r.provider.Verify(token)
	if err != nil {
		return nil, err
	}

	profile, err := r.profile(ctx, claims.Subject)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewError(errors.ErrorTypeUnauthorized, "unknown user").
				WithDetail("user_id", claims.Subject)
		}
		r.logger.Error("Profile lookup failed", "user_id", claims.Subject, "error", err)
		return nil, errors.NewError(errors.ErrorTypeInternal, "failed to resolve identity").WithCause(err)
	}

	id := &Identity{
		ID:    profile.UserID,
		Email: profile.Email,
		Role:  profile.Role,
		Plan:  profile.Plan,
	}
	// Token claims override stored values when present
	if claims.Email != "" {
		id.Email = claims.Email
	}
	if id.Role == "" {
		id.Role = claims.Role
	}
	if id.Role == "" {
		id.Role = "user"
	}
	if id.Plan == "" {
		id.Plan = storage.PlanFree
	}

	return id, nil
}

// Invalidate drops the cached profile for a user, forcing a reload on the
// next request. Call after plan or role changes.
func (r *Resolver) Invalidate(userID string) {
	if r.cache != nil {
		r.cache.Delete(cache.UserKey(userID, "profile"))
	}
}

func (r *Resolver) profile(ctx context.Context, userID string) (*storage.Profile, error) {
	if r.cache == nil {
		return r.profiles.Profile(ctx, userID)
	}

	profile, _, _, err := r.cache.WithCache(cache.UserKey(userID, "profile"), profileTTL, func() (*storage.Profile, error) {
		return r.profiles.Profile(ctx, userID)
	})
	return profile, err
}
