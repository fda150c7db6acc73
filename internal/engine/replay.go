// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/rallypoint/internal/logging"
	"github.com/tomtom215/rallypoint/internal/metrics"
	"github.com/tomtom215/rallypoint/internal/models"
	"github.com/tomtom215/rallypoint/internal/queue"
	"github.com/tomtom215/rallypoint/internal/remote"
)

// Remote collection names.
const (
	colPosts         = "posts"
	colComments      = "comments"
	colNotifications = "notifications"
	colLeaderboard   = "leaderboard"
	colSubmissions   = "submissions"
	colEvents        = "events"
)

// replayOne re-issues one queued operation against the remote store.
//
// Transient unavailability propagates, stopping the drain with the
// operation (and everything after it) preserved in order. A permanent
// rejection counts against the operation's attempt budget; once
// exhausted, the operation is dropped with a warning so one poisoned
// write cannot wedge the whole queue.
func (e *Engine) replayOne(ctx context.Context, op queue.Operation) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, e.cfg.RemoteTimeout)
	err := e.dispatch(rctx, op)
	cancel()

	if err == nil {
		metrics.ReplayedOperations.Inc()
		e.clearAttempts(op.ID)
		return nil
	}
	if errors.Is(err, remote.ErrUnavailable) || errors.Is(err, context.Canceled) {
		return err
	}

	attempts := e.bumpAttempts(op.ID)
	if attempts < e.cfg.MaxReplayAttempts {
		return err
	}

	logging.Warn().Str("op", op.ID).Str("type", string(op.Type)).Int("attempts", attempts).
		Msg("dropping operation after repeated replay rejections")
	metrics.DroppedOperations.WithLabelValues(string(op.Type)).Inc()
	e.clearAttempts(op.ID)
	return nil // nil removes the operation from the queue
}

// dispatch routes an operation to its remote write and re-applies the
// matching cache patch. Every patch is idempotent, so replaying an
// operation whose effect already reached the cache is harmless.
func (e *Engine) dispatch(ctx context.Context, op queue.Operation) error {
	switch op.Type {
	case queue.OpCreatePost:
		post := models.PostFromFields(opString(op, models.FieldID), op.Data)
		if post.ID == "" {
			return fmt.Errorf("create post operation %s has no post id", op.ID)
		}
		return e.createPostRemote(ctx, post)

	case queue.OpLikePost:
		postID := opString(op, models.FieldPostID)
		memberID := opString(op, models.FieldMemberID)
		if postID == "" || memberID == "" {
			return fmt.Errorf("like operation %s missing post or member id", op.ID)
		}
		if err := e.likePostRemote(ctx, postID, memberID); err != nil {
			return err
		}
		e.cache.Patch(postID, likeApply(memberID))
		return nil

	case queue.OpAddComment:
		comment := models.CommentFromFields(opString(op, models.FieldID), op.Data)
		if comment.ID == "" || comment.PostID == "" {
			return fmt.Errorf("comment operation %s missing comment or post id", op.ID)
		}
		return e.addCommentRemote(ctx, comment)

	case queue.OpMarkNotificationRead:
		id := opString(op, models.FieldID)
		if id == "" {
			return fmt.Errorf("mark-read operation %s has no notification id", op.ID)
		}
		if err := e.store.UpdateDocument(ctx, colNotifications, id, map[string]any{models.FieldRead: true}); err != nil {
			return err
		}
		e.cache.Patch(id, markReadApply())
		return nil

	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func opString(op queue.Operation, key string) string {
	s, _ := op.Data[key].(string)
	return s
}

// createPostRemote writes the post document. Sets are idempotent by
// document id, so a replayed create overwrites its own earlier copy.
func (e *Engine) createPostRemote(ctx context.Context, post models.Post) error {
	return e.store.SetDocument(ctx, colPosts, post.ID, post.Fields())
}

// likePostRemote applies a like with a read-modify-write so replays
// stay idempotent: a member already in the liked-by set changes
// nothing.
func (e *Engine) likePostRemote(ctx context.Context, postID, memberID string) error {
	doc, err := e.store.GetDocument(ctx, colPosts, postID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("post %s no longer exists", postID)
	}

	post := models.PostFromFields(postID, doc.Fields)
	if post.LikedByMember(memberID) {
		return nil
	}
	return e.store.UpdateDocument(ctx, colPosts, postID, map[string]any{
		models.FieldLikeCount: post.LikeCount + 1,
		models.FieldLikedBy:   append(post.LikedBy, memberID),
	})
}

// addCommentRemote writes the comment document and bumps the parent
// post's comment count.
func (e *Engine) addCommentRemote(ctx context.Context, comment models.Comment) error {
	if err := e.store.SetDocument(ctx, colComments, comment.ID, comment.Fields()); err != nil {
		return err
	}

	doc, err := e.store.GetDocument(ctx, colPosts, comment.PostID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil // post deleted; the comment write stands alone
	}
	post := models.PostFromFields(comment.PostID, doc.Fields)
	return e.store.UpdateDocument(ctx, colPosts, comment.PostID, map[string]any{
		models.FieldCommentCount: post.CommentCount + 1,
	})
}

// likeApply is the coherence patch for a like: every cached copy of
// the post gains the member, exactly once.
func likeApply(memberID string) func(models.Entity) models.Entity {
	return func(ent models.Entity) models.Entity {
		post, ok := ent.(models.Post)
		if !ok || post.LikedByMember(memberID) {
			return ent
		}
		post.LikedBy = append(append([]string(nil), post.LikedBy...), memberID)
		post.LikeCount++
		return post
	}
}

// commentCountApply bumps the cached comment count on every copy of
// the post.
func commentCountApply() func(models.Entity) models.Entity {
	return func(ent models.Entity) models.Entity {
		post, ok := ent.(models.Post)
		if !ok {
			return ent
		}
		post.CommentCount++
		return post
	}
}

// markReadApply flips the read flag on every cached copy of the
// notification.
func markReadApply() func(models.Entity) models.Entity {
	return func(ent models.Entity) models.Entity {
		n, ok := ent.(models.Notification)
		if !ok || n.Read {
			return ent
		}
		n.Read = true
		return n
	}
}

func (e *Engine) bumpAttempts(id string) int {
	e.attemptsMu.Lock()
	defer e.attemptsMu.Unlock()
	e.attempts[id]++
	return e.attempts[id]
}

func (e *Engine) clearAttempts(id string) {
	e.attemptsMu.Lock()
	defer e.attemptsMu.Unlock()
	delete(e.attempts, id)
}
