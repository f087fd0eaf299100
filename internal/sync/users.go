package sync

import (
	"context"
	"strconv"

	"github.com/jwhitfield/trackbridge/internal/logging"
	"github.com/jwhitfield/trackbridge/pkg/models"
)

// UserResolver resolves a user identity across the two systems. An unresolved
// user is never fatal: both methods return nil on a miss and the caller
// decides the fallback (field left unset, or the integration's own service
// account where the target system requires a value).
type UserResolver interface {
	// ExternalUserID resolves an internal user id to an external one.
	ExternalUserID(ctx context.Context, internalUserID int) *int

	// InternalUserID resolves an external user id to an internal one.
	InternalUserID(ctx context.Context, externalUserID int) *int
}

// TableResolver resolves users through the persisted mapping table. Selected
// when auto-map mode is off.
type TableResolver struct {
	toExternal map[int]int
	toInternal map[int]int
}

// NewTableResolver builds a resolver over the persisted user mappings.
// External user keys that are not numeric are skipped with a warning; the
// external system keys users by integer id.
func NewTableResolver(mappings []models.UserMapping) *TableResolver {
	r := &TableResolver{
		toExternal: make(map[int]int, len(mappings)),
		toInternal: make(map[int]int, len(mappings)),
	}
	for _, m := range mappings {
		if m.ExternalUserKey == "" {
			continue
		}
		externalID, err := strconv.Atoi(m.ExternalUserKey)
		if err != nil {
			logging.Warn("ignoring user mapping with non-numeric external key",
				"internal_user_id", m.InternalUserID,
				"external_user_key", m.ExternalUserKey)
			continue
		}
		r.toExternal[m.InternalUserID] = externalID
		r.toInternal[externalID] = m.InternalUserID
	}
	return r
}

func (r *TableResolver) ExternalUserID(_ context.Context, internalUserID int) *int {
	if id, ok := r.toExternal[internalUserID]; ok {
		return &id
	}
	return nil
}

func (r *TableResolver) InternalUserID(_ context.Context, externalUserID int) *int {
	if id, ok := r.toInternal[externalUserID]; ok {
		return &id
	}
	return nil
}

// LiveResolver resolves users by live username-equality lookup. Selected when
// auto-map mode is on; nothing is persisted and every resolution is a fresh
// pair of remote calls.
type LiveResolver struct {
	internal InternalClient
	external ExternalClient
}

// NewLiveResolver builds a resolver over the two clients.
func NewLiveResolver(internal InternalClient, external ExternalClient) *LiveResolver {
	return &LiveResolver{internal: internal, external: external}
}

func (r *LiveResolver) ExternalUserID(ctx context.Context, internalUserID int) *int {
	user, err := r.internal.UserByID(ctx, internalUserID)
	if err != nil || user == nil {
		logging.Warn("auto-map could not fetch internal user", "user_id", internalUserID, "error", err)
		return nil
	}

	peer, err := r.external.UserByLogin(ctx, user.Login)
	if err != nil || peer == nil {
		logging.Warn("auto-map found no external user with matching username",
			"user_id", internalUserID, "login", user.Login, "error", err)
		return nil
	}
	return &peer.ID
}

func (r *LiveResolver) InternalUserID(ctx context.Context, externalUserID int) *int {
	user, err := r.external.UserByID(ctx, externalUserID)
	if err != nil || user == nil {
		logging.Warn("auto-map could not fetch external user", "user_id", externalUserID, "error", err)
		return nil
	}

	peer, err := r.internal.UserByLogin(ctx, user.Login)
	if err != nil || peer == nil {
		logging.Warn("auto-map found no internal user with matching username",
			"user_id", externalUserID, "login", user.Login, "error", err)
		return nil
	}
	return &peer.ID
}
