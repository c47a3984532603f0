// Package resolver backfills entities referenced by remote payloads before the
// payloads reach a consumer.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"ex-mirror/pkg/mirror"
)

// EntityStore is the store surface the resolver reads and merges into.
type EntityStore interface {
	MissingReferences(refs []mirror.Ref) []mirror.Ref
	MergeUsers(users ...mirror.User)
	MergeGroups(groups ...mirror.Group)
	RosterGeneration(groupID int64) uint64
	MergeGroupMembersSince(groupID int64, generation uint64, members []mirror.GroupMember) bool
}

// EntityLoader is the remote surface used for backfill and roster pagination.
type EntityLoader interface {
	LoadReferencedEntities(ctx context.Context, request mirror.EntityRequest) (mirror.EntityResponse, error)
	LoadGroupMembers(ctx context.Context, group mirror.OutPeer, cursor []byte) (mirror.MembersPage, error)
}

// Resolver runs the resolve-before-use protocol.
type Resolver struct {
	store  EntityStore
	loader EntityLoader
	logger *slog.Logger
}

// Option mutates resolver construction configuration.
type Option func(*Resolver)

// WithLogger configures the resolver logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a resolver over one store and one remote loader.
func New(store EntityStore, loader EntityLoader, options ...Option) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("new resolver: nil store")
	}
	if loader == nil {
		return nil, fmt.Errorf("new resolver: nil loader")
	}

	resolver := &Resolver{
		store:  store,
		loader: loader,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(resolver)
	}

	return resolver, nil
}

// Resolve makes every reference in sidecar available in the store.
//
// Carried entities are merged first. The remaining missing references are
// fetched with exactly one remote call and merged before Resolve returns.
// A failed fetch is reported as *mirror.ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, sidecar mirror.Sidecar) error {
	r.store.MergeUsers(sidecar.Users...)
	r.store.MergeGroups(sidecar.Groups...)

	missing := r.store.MissingReferences(sidecar.Refs())
	if len(missing) == 0 {
		return nil
	}

	request := mirror.EntityRequest{GroupMembers: sidecar.GroupMembers}
	for _, ref := range missing {
		switch ref.Kind {
		case mirror.PeerKindUser:
			request.UserRefs = append(request.UserRefs, ref)
		case mirror.PeerKindGroup:
			request.GroupRefs = append(request.GroupRefs, ref)
		}
	}

	response, err := r.loader.LoadReferencedEntities(ctx, request)
	if err != nil {
		return &mirror.ResolutionError{Refs: missing, Cause: err}
	}

	r.store.MergeUsers(response.Users...)
	r.store.MergeGroups(response.Groups...)

	if unresolved := r.store.MissingReferences(missing); len(unresolved) > 0 {
		r.logger.WarnContext(ctx, "server omitted referenced entities",
			"requested", len(missing),
			"omitted", len(unresolved),
		)
	}

	return nil
}

// Apply resolves a response's side-car and only then returns its payload.
func Apply[T any](ctx context.Context, r *Resolver, response mirror.Response[T]) (T, error) {
	if err := r.Resolve(ctx, response.Sidecar); err != nil {
		var zero T
		return zero, err
	}

	return response.Payload, nil
}
