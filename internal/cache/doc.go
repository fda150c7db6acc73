// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

/*
Package cache implements the local entity cache serving offline reads.

The cache is a typed key/value store with no TTL and no eviction: the
sync layer keeps it fresh on every successful remote read, every
optimistic write, and every pushed snapshot, and falls back to it
whenever the remote store is unreachable.

# Typed access

Values are stored as any but read through a generic accessor:

	cache.Get[[]models.Post](c, "group_posts_group1")

A type mismatch between what was stored and what is requested reads as
a miss, never as a coerced value.

# Coherence index

The same logical entity is commonly cached under several keys at once
(one post appearing in two group-feed projections). The cache indexes
entity ids across all stored values so that Patch can mutate every copy
in one atomic step:

	c.Patch(postID, func(e models.Entity) models.Entity {
	    p := e.(models.Post)
	    p.LikeCount++
	    return p
	})

Only the sync engine and snapshot streams mutate the cache; other
components read through the engine's service surface.
*/
package cache
