// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

// Package models defines the domain entities carried through the sync layer.
//
// Entities are deliberately thin: the sync layer treats them as opaque
// payloads keyed by identity. Every entity implements Entity so the cache
// coherence index can track which cache keys hold a copy of it.
package models

import "time"

// Entity is implemented by every domain type that participates in
// cross-key cache coherence.
type Entity interface {
	// EntityID returns the stable identity of the entity. Two cached
	// copies with the same EntityID are copies of the same logical
	// entity and must stay consistent after a local mutation.
	EntityID() string
}

// Field name constants shared between encoders and decoders.
// These match the remote document store's field names exactly.
const (
	FieldID           = "id"
	FieldGroupID      = "groupId"
	FieldAuthorID     = "authorId"
	FieldMemberID     = "memberId"
	FieldEventID      = "eventId"
	FieldPostID       = "postId"
	FieldContent      = "content"
	FieldLikeCount    = "likeCount"
	FieldLikedBy      = "likedBy"
	FieldCommentCount = "commentCount"
	FieldTitle        = "title"
	FieldBody         = "body"
	FieldRead         = "read"
	FieldScore        = "score"
	FieldRank         = "rank"
	FieldStatus       = "status"
	FieldStartsAt     = "startsAt"
	FieldEndsAt       = "endsAt"
	FieldCreatedAt    = "createdAt"
)

// stringField reads a string field from a document field map.
func stringField(f map[string]any, key string) string {
	if v, ok := f[key].(string); ok {
		return v
	}
	return ""
}

// intField reads an integer field, tolerating the numeric types JSON
// decoding produces (float64) alongside native ints.
func intField(f map[string]any, key string) int {
	switch v := f[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolField(f map[string]any, key string) bool {
	if v, ok := f[key].(bool); ok {
		return v
	}
	return false
}

// timeField reads a timestamp field. Timestamps travel as RFC3339
// strings on the wire; native time.Time is accepted for values that
// never left the process.
func timeField(f map[string]any, key string) time.Time {
	switch v := f[key].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func stringSliceField(f map[string]any, key string) []string {
	switch v := f[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
