// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/rallypoint/internal/cache"
	"github.com/tomtom215/rallypoint/internal/models"
	"github.com/tomtom215/rallypoint/internal/queue"
	"github.com/tomtom215/rallypoint/internal/remote"
	"github.com/tomtom215/rallypoint/internal/stream"
)

// Cache key builders. The key space is flat and human-readable so the
// status API can list it meaningfully.
func GroupPostsKey(groupID string) string           { return "group_posts_" + groupID }
func PostCommentsKey(postID string) string          { return "post_comments_" + postID }
func MemberNotificationsKey(memberID string) string { return "member_notifications_" + memberID }
func EventLeaderboardKey(eventID string) string     { return "event_leaderboard_" + eventID }
func EventKey(eventID string) string                { return "event_" + eventID }
func EventSubmissionsKey(eventID string) string     { return "event_submissions_" + eventID }

// CacheData stores an arbitrary value under a cache key.
func (e *Engine) CacheData(key string, value any) {
	e.cache.Set(key, value)
}

// GetCachedData reads a typed value from the cache. A missing key or a
// type mismatch reports false.
func GetCachedData[T any](e *Engine, key string) (T, bool) {
	return cache.Get[T](e.cache, key)
}

// RemoveCachedData drops one cache entry.
func (e *Engine) RemoveCachedData(key string) {
	e.cache.Remove(key)
}

// ClearCache drops every cache entry. Pending operations are not
// affected.
func (e *Engine) ClearCache() {
	e.cache.Clear()
}

// CacheKeys lists the current cache keys.
func (e *Engine) CacheKeys() []string {
	return e.cache.Keys()
}

// GetGroupPosts returns a group's feed, newest first. Remote data when
// reachable, cached data otherwise, empty when neither exists.
func (e *Engine) GetGroupPosts(ctx context.Context, groupID string) []models.Post {
	return readThroughList(ctx, e, GroupPostsKey(groupID), func(ctx context.Context) ([]models.Post, error) {
		docs, err := e.store.QueryCollection(ctx, remote.Query{
			Collection: colPosts,
			Filters:    []remote.Filter{{Field: models.FieldGroupID, Op: "==", Value: groupID}},
			OrderBy:    models.FieldCreatedAt,
			Descending: true,
		})
		if err != nil {
			return nil, err
		}
		return decodeDocs(docs, models.PostFromFields), nil
	})
}

// GetPostComments returns a post's comments, oldest first.
func (e *Engine) GetPostComments(ctx context.Context, postID string) []models.Comment {
	return readThroughList(ctx, e, PostCommentsKey(postID), func(ctx context.Context) ([]models.Comment, error) {
		docs, err := e.store.QueryCollection(ctx, remote.Query{
			Collection: colComments,
			Filters:    []remote.Filter{{Field: models.FieldPostID, Op: "==", Value: postID}},
			OrderBy:    models.FieldCreatedAt,
		})
		if err != nil {
			return nil, err
		}
		return decodeDocs(docs, models.CommentFromFields), nil
	})
}

// GetMemberNotifications returns a member's notifications, newest
// first.
func (e *Engine) GetMemberNotifications(ctx context.Context, memberID string) []models.Notification {
	return readThroughList(ctx, e, MemberNotificationsKey(memberID), func(ctx context.Context) ([]models.Notification, error) {
		docs, err := e.store.QueryCollection(ctx, remote.Query{
			Collection: colNotifications,
			Filters:    []remote.Filter{{Field: models.FieldMemberID, Op: "==", Value: memberID}},
			OrderBy:    models.FieldCreatedAt,
			Descending: true,
		})
		if err != nil {
			return nil, err
		}
		return decodeDocs(docs, models.NotificationFromFields), nil
	})
}

// GetEventLeaderboard returns an event's standings by rank.
func (e *Engine) GetEventLeaderboard(ctx context.Context, eventID string) []models.LeaderboardEntry {
	return readThroughList(ctx, e, EventLeaderboardKey(eventID), func(ctx context.Context) ([]models.LeaderboardEntry, error) {
		docs, err := e.store.QueryCollection(ctx, remote.Query{
			Collection: colLeaderboard,
			Filters:    []remote.Filter{{Field: models.FieldEventID, Op: "==", Value: eventID}},
			OrderBy:    models.FieldRank,
		})
		if err != nil {
			return nil, err
		}
		return decodeDocs(docs, models.LeaderboardEntryFromFields), nil
	})
}

// CreatePost publishes a post into a group feed. The post appears in
// the cached feed immediately; if the remote write fails it is queued
// and replayed when connectivity returns. Never returns an error.
func (e *Engine) CreatePost(ctx context.Context, groupID, authorID, content string) (models.Post, error) {
	post := models.Post{
		ID:        uuid.New().String(),
		GroupID:   groupID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	// Optimistic feed insert, idempotent by post id. The prepend runs
	// under one cache lock so concurrent posts into the same group
	// cannot drop each other from the feed.
	cache.Update(e.cache, GroupPostsKey(groupID), func(feed []models.Post, _ bool) []models.Post {
		if containsPost(feed, post.ID) {
			return feed
		}
		return append([]models.Post{post}, feed...)
	})

	err := e.writeThrough(ctx, func(ctx context.Context) error {
		return e.createPostRemote(ctx, post)
	}, queue.Operation{Type: queue.OpCreatePost, Data: post.Fields()})
	return post, err
}

// LikePost records a member's like on a post. Every cached copy of the
// post is patched atomically; the remote write is queued on failure.
func (e *Engine) LikePost(ctx context.Context, postID, memberID string) error {
	e.cache.Patch(postID, likeApply(memberID))

	return e.writeThrough(ctx, func(ctx context.Context) error {
		return e.likePostRemote(ctx, postID, memberID)
	}, queue.Operation{Type: queue.OpLikePost, Data: map[string]any{
		models.FieldPostID:   postID,
		models.FieldMemberID: memberID,
	}})
}

// AddComment attaches a comment to a post, bumping the post's cached
// comment count everywhere it appears.
func (e *Engine) AddComment(ctx context.Context, postID, authorID, content string) (models.Comment, error) {
	comment := models.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	cache.Update(e.cache, PostCommentsKey(postID), func(thread []models.Comment, _ bool) []models.Comment {
		return append(append([]models.Comment(nil), thread...), comment)
	})
	e.cache.Patch(postID, commentCountApply())

	err := e.writeThrough(ctx, func(ctx context.Context) error {
		return e.addCommentRemote(ctx, comment)
	}, queue.Operation{Type: queue.OpAddComment, Data: comment.Fields()})
	return comment, err
}

// MarkNotificationAsRead flips a notification's read flag.
func (e *Engine) MarkNotificationAsRead(ctx context.Context, notificationID string) error {
	e.cache.Patch(notificationID, markReadApply())

	return e.writeThrough(ctx, func(ctx context.Context) error {
		return e.store.UpdateDocument(ctx, colNotifications, notificationID, map[string]any{
			models.FieldRead: true,
		})
	}, queue.Operation{Type: queue.OpMarkNotificationRead, Data: map[string]any{
		models.FieldID: notificationID,
	}})
}

// AddPendingOperation queues an operation directly, without attempting
// a remote write first. Returns the operation as stored.
func (e *Engine) AddPendingOperation(op queue.Operation) queue.Operation {
	return e.queue.Enqueue(op)
}

// PendingOperations returns a copy of the queued operations in order.
func (e *Engine) PendingOperations() []queue.Operation {
	return e.queue.PeekAll()
}

// PendingOperationsCount returns the number of queued operations.
func (e *Engine) PendingOperationsCount() int {
	return e.queue.Count()
}

// HasPendingOperations reports whether any operations await replay.
func (e *Engine) HasPendingOperations() bool {
	return !e.queue.IsEmpty()
}

// StreamGroupPosts returns the live stream of a group's feed, starting
// it on first use. Streams are shared: every caller for the same group
// attaches to one remote subscription.
func (e *Engine) StreamGroupPosts(groupID string) *stream.QueryStream[models.Post] {
	return openQueryStream(e, GroupPostsKey(groupID), remote.Query{
		Collection: colPosts,
		Filters:    []remote.Filter{{Field: models.FieldGroupID, Op: "==", Value: groupID}},
		OrderBy:    models.FieldCreatedAt,
		Descending: true,
	}, models.PostFromFields)
}

// StreamPostComments returns the live stream of a post's comments.
func (e *Engine) StreamPostComments(postID string) *stream.QueryStream[models.Comment] {
	return openQueryStream(e, PostCommentsKey(postID), remote.Query{
		Collection: colComments,
		Filters:    []remote.Filter{{Field: models.FieldPostID, Op: "==", Value: postID}},
		OrderBy:    models.FieldCreatedAt,
	}, models.CommentFromFields)
}

// StreamMemberNotifications returns the live stream of a member's
// notifications.
func (e *Engine) StreamMemberNotifications(memberID string) *stream.QueryStream[models.Notification] {
	return openQueryStream(e, MemberNotificationsKey(memberID), remote.Query{
		Collection: colNotifications,
		Filters:    []remote.Filter{{Field: models.FieldMemberID, Op: "==", Value: memberID}},
		OrderBy:    models.FieldCreatedAt,
		Descending: true,
	}, models.NotificationFromFields)
}

// StreamEventLeaderboard returns the live stream of an event's
// standings.
func (e *Engine) StreamEventLeaderboard(eventID string) *stream.QueryStream[models.LeaderboardEntry] {
	return openQueryStream(e, EventLeaderboardKey(eventID), remote.Query{
		Collection: colLeaderboard,
		Filters:    []remote.Filter{{Field: models.FieldEventID, Op: "==", Value: eventID}},
		OrderBy:    models.FieldRank,
	}, models.LeaderboardEntryFromFields)
}

// StreamEventSubmissions returns the live stream of an event's
// submissions.
func (e *Engine) StreamEventSubmissions(eventID string) *stream.QueryStream[models.Submission] {
	return openQueryStream(e, EventSubmissionsKey(eventID), remote.Query{
		Collection: colSubmissions,
		Filters:    []remote.Filter{{Field: models.FieldEventID, Op: "==", Value: eventID}},
		OrderBy:    models.FieldCreatedAt,
		Descending: true,
	}, models.SubmissionFromFields)
}

// StreamEvent returns the live stream of a single event document.
func (e *Engine) StreamEvent(eventID string) *stream.DocumentStream[models.Event] {
	key := EventKey(eventID)

	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	if s, ok := e.streams[key].(*stream.DocumentStream[models.Event]); ok {
		return s
	}
	s := stream.NewDocumentStream(key, colEvents, eventID, e.store, e.cache, e.monitor, models.EventFromFields)
	e.streams[key] = s
	return s
}

// ConnectionStatus subscribes to connection status transitions. The
// channel yields the current status immediately.
func (e *Engine) ConnectionStatus() (<-chan stream.ConnectionStatus, func()) {
	return e.monitor.Subscribe()
}

// CurrentConnectionStatus returns the latest derived status.
func (e *Engine) CurrentConnectionStatus() stream.ConnectionStatus {
	return e.monitor.Current()
}

// openQueryStream returns the shared stream for key, creating it on
// first use.
func openQueryStream[T models.Entity](e *Engine, key string, q remote.Query, decode stream.Decoder[T]) *stream.QueryStream[T] {
	e.streamsMu.Lock()
	defer e.streamsMu.Unlock()
	if s, ok := e.streams[key].(*stream.QueryStream[T]); ok {
		return s
	}
	s := stream.NewQueryStream(key, q, e.store, e.cache, e.monitor, decode)
	e.streams[key] = s
	return s
}

func decodeDocs[T models.Entity](docs []remote.Document, decode stream.Decoder[T]) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decode(doc.ID, doc.Fields))
	}
	return out
}

func containsPost(posts []models.Post, id string) bool {
	for _, p := range posts {
		if p.ID == id {
			return true
		}
	}
	return false
}
