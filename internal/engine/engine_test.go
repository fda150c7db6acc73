// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/rallypoint/internal/cache"
	"github.com/tomtom215/rallypoint/internal/models"
	"github.com/tomtom215/rallypoint/internal/queue"
	"github.com/tomtom215/rallypoint/internal/remote"
	"github.com/tomtom215/rallypoint/internal/stream"
)

// fakeRemote is a scriptable in-memory document store. offline makes
// every call fail as unavailable; failUpdates makes the next N update
// calls fail transiently.
type fakeRemote struct {
	mu          sync.Mutex
	offline     bool
	failUpdates int
	docs        map[string]map[string]map[string]any
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string]map[string]map[string]any)}
}

func (r *fakeRemote) setOffline(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = v
}

func (r *fakeRemote) doc(collection, id string) (map[string]any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fields, ok := r.docs[collection][id]
	return fields, ok
}

func (r *fakeRemote) GetDocument(_ context.Context, collection, id string) (*remote.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, remote.ErrUnavailable
	}
	fields, ok := r.docs[collection][id]
	if !ok {
		return nil, nil
	}
	return &remote.Document{Collection: collection, ID: id, Fields: fields}, nil
}

func (r *fakeRemote) SetDocument(_ context.Context, collection, id string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return remote.ErrUnavailable
	}
	if r.docs[collection] == nil {
		r.docs[collection] = make(map[string]map[string]any)
	}
	r.docs[collection][id] = fields
	return nil
}

func (r *fakeRemote) UpdateDocument(_ context.Context, collection, id string, patch map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return remote.ErrUnavailable
	}
	if r.failUpdates > 0 {
		r.failUpdates--
		return remote.ErrUnavailable
	}
	fields, ok := r.docs[collection][id]
	if !ok {
		return remote.ErrUnavailable
	}
	for k, v := range patch {
		fields[k] = v
	}
	return nil
}

func (r *fakeRemote) QueryCollection(_ context.Context, q remote.Query) ([]remote.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.offline {
		return nil, remote.ErrUnavailable
	}
	var out []remote.Document
	for id, fields := range r.docs[q.Collection] {
		matches := true
		for _, f := range q.Filters {
			if f.Op == "==" && fields[f.Field] != f.Value {
				matches = false
				break
			}
		}
		if matches {
			out = append(out, remote.Document{Collection: q.Collection, ID: id, Fields: fields})
		}
	}
	return out, nil
}

func (r *fakeRemote) SubscribeToQuery(context.Context, remote.Query) (remote.QuerySubscription, error) {
	return nil, remote.ErrUnavailable
}

func (r *fakeRemote) SubscribeToDocument(context.Context, string, string) (remote.DocumentSubscription, error) {
	return nil, remote.ErrUnavailable
}

func newTestEngine(t *testing.T, rs remote.Store) (*Engine, *stream.Monitor) {
	t.Helper()
	m := stream.NewMonitor(nil)
	e := New(Config{
		RemoteTimeout:     time.Second,
		MaxReplayAttempts: 2,
		ReplayRate:        1000,
		ReplayBurst:       100,
	}, cache.New(), queue.New(), rs, m)
	t.Cleanup(func() {
		e.Dispose()
		m.Close()
	})
	return e, m
}

// Scenario: a write while offline reaches the cache immediately, lands
// in the queue without surfacing an error, and replays on reconnect.
func TestOfflineWriteQueuesAndReplays(t *testing.T) {
	rs := newFakeRemote()
	rs.setOffline(true)
	e, _ := newTestEngine(t, rs)
	ctx := context.Background()

	post, err := e.CreatePost(ctx, "g1", "m1", "going offline")
	if err != nil {
		t.Fatalf("offline write surfaced an error: %v", err)
	}

	feed, ok := GetCachedData[[]models.Post](e, GroupPostsKey("g1"))
	if !ok || len(feed) != 1 || feed[0].ID != post.ID {
		t.Fatalf("optimistic insert missing from cache: ok=%v feed=%v", ok, feed)
	}
	if e.PendingOperationsCount() != 1 {
		t.Fatalf("expected 1 pending operation, got %d", e.PendingOperationsCount())
	}
	if _, exists := rs.doc("posts", post.ID); exists {
		t.Fatal("offline write reached the remote store")
	}

	rs.setOffline(false)
	if n := e.ForceSyncWhenOnline(); n != 1 {
		t.Fatalf("expected 1 replayed operation, got %d", n)
	}
	if e.HasPendingOperations() {
		t.Error("queue not empty after replay")
	}
	fields, exists := rs.doc("posts", post.ID)
	if !exists || fields[models.FieldContent] != "going offline" {
		t.Errorf("replayed post wrong: exists=%v fields=%v", exists, fields)
	}
}

// Scenario: a read while offline serves the cached copy; once online
// again the remote result refreshes the cache.
func TestReadFallsBackToCache(t *testing.T) {
	rs := newFakeRemote()
	e, _ := newTestEngine(t, rs)
	ctx := context.Background()

	if _, err := e.CreatePost(ctx, "g1", "m1", "first"); err != nil {
		t.Fatalf("create: %v", err)
	}
	online := e.GetGroupPosts(ctx, "g1")
	if len(online) != 1 {
		t.Fatalf("online read: %v", online)
	}

	rs.setOffline(true)
	offline := e.GetGroupPosts(ctx, "g1")
	if len(offline) != 1 || offline[0].Content != "first" {
		t.Errorf("offline read lost the cached feed: %v", offline)
	}

	// An unknown key yields a typed empty slice, never an error.
	if empty := e.GetGroupPosts(ctx, "nowhere"); len(empty) != 0 {
		t.Errorf("unknown group returned data: %v", empty)
	}
}

// Scenario: queued operations replay in order; a transient failure in
// the middle stops the pass with everything after it preserved.
func TestReplayPreservesOrderAcrossFailure(t *testing.T) {
	rs := newFakeRemote()
	rs.setOffline(true)
	e, _ := newTestEngine(t, rs)
	ctx := context.Background()

	post, _ := e.CreatePost(ctx, "g1", "m1", "offline post")
	if err := e.LikePost(ctx, post.ID, "m2"); err != nil {
		t.Fatalf("like: %v", err)
	}
	if _, err := e.AddComment(ctx, post.ID, "m3", "nice"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if e.PendingOperationsCount() != 3 {
		t.Fatalf("expected 3 pending, got %d", e.PendingOperationsCount())
	}

	// Back online, but the like's update call fails once: the create
	// replays, the like stops the pass, the comment stays behind it.
	rs.setOffline(false)
	rs.mu.Lock()
	rs.failUpdates = 1
	rs.mu.Unlock()

	if n := e.ForceSyncWhenOnline(); n != 1 {
		t.Fatalf("expected 1 replayed before the failure, got %d", n)
	}
	remaining := e.PendingOperations()
	if len(remaining) != 2 {
		t.Fatalf("expected 2 preserved, got %d", len(remaining))
	}
	if remaining[0].Type != queue.OpLikePost || remaining[1].Type != queue.OpAddComment {
		t.Errorf("order not preserved: %v, %v", remaining[0].Type, remaining[1].Type)
	}

	if n := e.ForceSyncWhenOnline(); n != 2 {
		t.Fatalf("expected 2 replayed on retry, got %d", n)
	}
	fields, _ := rs.doc("posts", post.ID)
	if fields[models.FieldLikeCount] != 1 {
		t.Errorf("like not applied remotely: %v", fields[models.FieldLikeCount])
	}
	if fields[models.FieldCommentCount] != 1 {
		t.Errorf("comment count not applied remotely: %v", fields[models.FieldCommentCount])
	}
}

// A poisoned operation is dropped after its attempt budget instead of
// wedging the queue forever.
func TestReplayDropsPoisonedOperation(t *testing.T) {
	rs := newFakeRemote()
	e, _ := newTestEngine(t, rs)

	e.AddPendingOperation(queue.Operation{Type: "bogus"})
	e.AddPendingOperation(queue.Operation{
		Type: queue.OpMarkNotificationRead,
		Data: map[string]any{models.FieldID: "n1"},
	})
	rs.SetDocument(context.Background(), "notifications", "n1", map[string]any{models.FieldRead: false})

	// Attempt 1: permanent rejection stops the pass, both preserved.
	e.ForceSyncWhenOnline()
	if e.PendingOperationsCount() != 2 {
		t.Fatalf("expected both preserved after first attempt, got %d", e.PendingOperationsCount())
	}

	// Attempt 2 exhausts the budget: the poisoned op is dropped and
	// the one behind it replays.
	e.ForceSyncWhenOnline()
	if e.HasPendingOperations() {
		t.Errorf("queue not empty after drop: %v", e.PendingOperations())
	}
	fields, _ := rs.doc("notifications", "n1")
	if fields[models.FieldRead] != true {
		t.Error("operation behind the poisoned one never replayed")
	}
}

// Scenario: status runs degraded while a reconnect flushes the
// backlog, then connected once the queue is empty.
func TestStatusDegradedWhileFlushing(t *testing.T) {
	rs := newFakeRemote()
	rs.setOffline(true)
	e, m := newTestEngine(t, rs)
	ctx := context.Background()

	if _, err := e.CreatePost(ctx, "g1", "m1", "queued"); err != nil {
		t.Fatalf("create: %v", err)
	}
	statusCh, cancelStatus := m.Subscribe()
	defer cancelStatus()
	if got := <-statusCh; got != stream.StatusDisconnected {
		t.Fatalf("status after failed write = %s", got)
	}

	// First successful remote call while the backlog exists flips the
	// status to degraded; the transition out of disconnected triggers
	// the replay, which settles on connected once the queue is empty.
	rs.setOffline(false)
	e.GetGroupPosts(ctx, "g2")

	waitStatus := func(want stream.ConnectionStatus) {
		t.Helper()
		select {
		case got := <-statusCh:
			if got != want {
				t.Fatalf("status transition = %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("never reached %s, pending=%d", want, e.PendingOperationsCount())
		}
	}
	waitStatus(stream.StatusDegraded)
	waitStatus(stream.StatusConnected)

	if e.HasPendingOperations() {
		t.Error("backlog survived the reconnect")
	}
}

// Likes patch every cached copy of the post, not just the feed the
// write went through.
func TestLikePatchesAllCachedCopies(t *testing.T) {
	rs := newFakeRemote()
	e, _ := newTestEngine(t, rs)
	ctx := context.Background()

	post, _ := e.CreatePost(ctx, "g1", "m1", "popular")
	e.CacheData("pinned_posts", []models.Post{post})

	if err := e.LikePost(ctx, post.ID, "m2"); err != nil {
		t.Fatalf("like: %v", err)
	}

	feed, _ := GetCachedData[[]models.Post](e, GroupPostsKey("g1"))
	pinned, _ := GetCachedData[[]models.Post](e, "pinned_posts")
	if feed[0].LikeCount != 1 || !feed[0].LikedByMember("m2") {
		t.Errorf("feed copy not patched: %+v", feed[0])
	}
	if pinned[0].LikeCount != 1 {
		t.Errorf("pinned copy not patched: %+v", pinned[0])
	}

	// Liking again is a no-op everywhere.
	if err := e.LikePost(ctx, post.ID, "m2"); err != nil {
		t.Fatalf("second like: %v", err)
	}
	feed, _ = GetCachedData[[]models.Post](e, GroupPostsKey("g1"))
	if feed[0].LikeCount != 1 {
		t.Errorf("double like counted twice: %d", feed[0].LikeCount)
	}
}

func TestMarkNotificationAsReadOffline(t *testing.T) {
	rs := newFakeRemote()
	e, _ := newTestEngine(t, rs)
	ctx := context.Background()

	rs.SetDocument(ctx, "notifications", "n1", models.Notification{
		ID: "n1", MemberID: "m1", Title: "badge earned",
	}.Fields())
	inbox := e.GetMemberNotifications(ctx, "m1")
	if len(inbox) != 1 || inbox[0].Read {
		t.Fatalf("unexpected inbox: %v", inbox)
	}

	rs.setOffline(true)
	if err := e.MarkNotificationAsRead(ctx, "n1"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	inbox, _ = GetCachedData[[]models.Notification](e, MemberNotificationsKey("m1"))
	if !inbox[0].Read {
		t.Error("cached notification not marked read")
	}
	if e.PendingOperationsCount() != 1 {
		t.Fatalf("expected queued mark-read, got %d pending", e.PendingOperationsCount())
	}

	rs.setOffline(false)
	e.ForceSyncWhenOnline()
	fields, _ := rs.doc("notifications", "n1")
	if fields[models.FieldRead] != true {
		t.Error("mark-read never replayed")
	}
}

func TestStreamsAreSharedPerKey(t *testing.T) {
	rs := newFakeRemote()
	e, _ := newTestEngine(t, rs)

	a := e.StreamGroupPosts("g1")
	b := e.StreamGroupPosts("g1")
	if a != b {
		t.Error("same group produced two streams")
	}
	if a.Key() != GroupPostsKey("g1") {
		t.Errorf("stream key = %s", a.Key())
	}

	other := e.StreamGroupPosts("g2")
	if other == a {
		t.Error("different groups share a stream")
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	rs := newFakeRemote()
	e, _ := newTestEngine(t, rs)

	e.StreamGroupPosts("g1")
	e.StreamEvent("e1")

	e.Dispose()
	e.Dispose()
}

// An open circuit is an outage, not a rejection of the operation:
// draining against it must preserve the queued write no matter how
// many drains run.
func TestReplayPreservesQueueWhileCircuitOpen(t *testing.T) {
	rs := newFakeRemote()
	rs.setOffline(true)
	bs := remote.NewBreakerStore(rs)
	e, m := newTestEngine(t, bs)
	ctx := context.Background()

	// Trip the breaker with repeated failing reads.
	for i := 0; i < 30; i++ {
		bs.GetDocument(ctx, "posts", "p1")
	}

	if err := e.MarkNotificationAsRead(ctx, "n1"); err != nil {
		t.Fatalf("offline mark-read surfaced an error: %v", err)
	}
	if got := e.PendingOperationsCount(); got != 1 {
		t.Fatalf("pending = %d, want 1", got)
	}

	// Run more drains than the attempt budget allows. The short-circuit
	// classifies as unavailable, so the budget never burns down.
	for i := 0; i < 4; i++ {
		if n := e.ForceSyncWhenOnline(); n != 0 {
			t.Fatalf("drain %d replayed %d operations through an open circuit", i, n)
		}
	}
	if got := e.PendingOperationsCount(); got != 1 {
		t.Errorf("pending = %d after draining against an open circuit, want 1", got)
	}
	if got := m.Current(); got == stream.StatusConnected {
		t.Errorf("status = %s while the gateway is unreachable", got)
	}
}

// Concurrent posts into the same group must all land in the cached
// feed projection.
func TestConcurrentCreatePostsAllCached(t *testing.T) {
	rs := newFakeRemote()
	e, _ := newTestEngine(t, rs)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.CreatePost(ctx, "g1", "m1", fmt.Sprintf("post %d", i)); err != nil {
				t.Errorf("create post %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	feed, ok := GetCachedData[[]models.Post](e, GroupPostsKey("g1"))
	if !ok || len(feed) != writers {
		t.Fatalf("cached feed has %d posts, want %d", len(feed), writers)
	}
}
