package pim

import (
	"context"
	"errors"
	"fmt"
)

// expandAsync queues a background expansion of groupID for one role and
// assignment stream. The caller never blocks: the goroutine waits for a pool
// slot itself, so deeply nested groups cannot deadlock the pool.
func (r *run) expandAsync(ctx context.Context, role Role, groupID string, source AssignmentSource, window *Window) {
	if ctx.Err() != nil {
		return
	}
	if !r.visited.tryAdd(role.DisplayName + "|" + string(source) + "|" + groupID) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-r.sem }()
		r.expandGroup(ctx, role, groupID, source, window)
	}()
}

func (r *run) expandGroup(ctx context.Context, role Role, groupID string, source AssignmentSource, window *Window) {
	if ctx.Err() != nil {
		return
	}
	r.metrics.groupsExpanded.Add(1)

	members, err := r.engine.client.ListGroupMembers(ctx, groupID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		r.fail("group expansion failed", role.DisplayName, fmt.Errorf("expanding group %s: %w", groupID, err))
		return
	}

	for _, member := range members {
		if ctx.Err() != nil {
			return
		}
		switch member.Type {
		case PrincipalUser:
			if err := r.emitUser(ctx, role, member.ID, source, PathViaGroup, window); err != nil {
				r.fail("user profile fetch failed", role.DisplayName, err)
			}
		case PrincipalGroup:
			r.expandAsync(ctx, role, member.ID, source, window)
		}
	}
}
