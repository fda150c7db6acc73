// Rallypoint - Team Engagement & Events Platform
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/rallypoint

package models

import "time"

// Post is a message published into a group feed.
type Post struct {
	ID           string    `json:"id"`
	GroupID      string    `json:"groupId"`
	AuthorID     string    `json:"authorId"`
	Content      string    `json:"content"`
	LikeCount    int       `json:"likeCount"`
	LikedBy      []string  `json:"likedBy,omitempty"`
	CommentCount int       `json:"commentCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EntityID implements Entity.
func (p Post) EntityID() string { return p.ID }

// LikedByMember reports whether the member already liked the post.
func (p Post) LikedByMember(memberID string) bool {
	for _, m := range p.LikedBy {
		if m == memberID {
			return true
		}
	}
	return false
}

// Fields encodes the post as a flat document field map for the remote store.
func (p Post) Fields() map[string]any {
	return map[string]any{
		FieldID:           p.ID,
		FieldGroupID:      p.GroupID,
		FieldAuthorID:     p.AuthorID,
		FieldContent:      p.Content,
		FieldLikeCount:    p.LikeCount,
		FieldLikedBy:      p.LikedBy,
		FieldCommentCount: p.CommentCount,
		FieldCreatedAt:    p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// PostFromFields decodes a remote document into a Post.
func PostFromFields(id string, f map[string]any) Post {
	return Post{
		ID:           id,
		GroupID:      stringField(f, FieldGroupID),
		AuthorID:     stringField(f, FieldAuthorID),
		Content:      stringField(f, FieldContent),
		LikeCount:    intField(f, FieldLikeCount),
		LikedBy:      stringSliceField(f, FieldLikedBy),
		CommentCount: intField(f, FieldCommentCount),
		CreatedAt:    timeField(f, FieldCreatedAt),
	}
}

// Comment is a reply attached to a post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c Comment) EntityID() string { return c.ID }

func (c Comment) Fields() map[string]any {
	return map[string]any{
		FieldID:        c.ID,
		FieldPostID:    c.PostID,
		FieldAuthorID:  c.AuthorID,
		FieldContent:   c.Content,
		FieldCreatedAt: c.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func CommentFromFields(id string, f map[string]any) Comment {
	return Comment{
		ID:        id,
		PostID:    stringField(f, FieldPostID),
		AuthorID:  stringField(f, FieldAuthorID),
		Content:   stringField(f, FieldContent),
		CreatedAt: timeField(f, FieldCreatedAt),
	}
}

// Notification is a member-directed alert (badge earned, event reminder,
// moderation notice). Read state is the only mutable field.
type Notification struct {
	ID        string    `json:"id"`
	MemberID  string    `json:"memberId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

func (n Notification) EntityID() string { return n.ID }

func (n Notification) Fields() map[string]any {
	return map[string]any{
		FieldID:        n.ID,
		FieldMemberID:  n.MemberID,
		FieldTitle:     n.Title,
		FieldBody:      n.Body,
		FieldRead:      n.Read,
		FieldCreatedAt: n.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func NotificationFromFields(id string, f map[string]any) Notification {
	return Notification{
		ID:        id,
		MemberID:  stringField(f, FieldMemberID),
		Title:     stringField(f, FieldTitle),
		Body:      stringField(f, FieldBody),
		Read:      boolField(f, FieldRead),
		CreatedAt: timeField(f, FieldCreatedAt),
	}
}

// LeaderboardEntry is one member's standing in an event leaderboard.
type LeaderboardEntry struct {
	ID       string `json:"id"`
	EventID  string `json:"eventId"`
	MemberID string `json:"memberId"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

func (l LeaderboardEntry) EntityID() string { return l.ID }

func (l LeaderboardEntry) Fields() map[string]any {
	return map[string]any{
		FieldID:       l.ID,
		FieldEventID:  l.EventID,
		FieldMemberID: l.MemberID,
		FieldScore:    l.Score,
		FieldRank:     l.Rank,
	}
}

func LeaderboardEntryFromFields(id string, f map[string]any) LeaderboardEntry {
	return LeaderboardEntry{
		ID:       id,
		EventID:  stringField(f, FieldEventID),
		MemberID: stringField(f, FieldMemberID),
		Score:    intField(f, FieldScore),
		Rank:     intField(f, FieldRank),
	}
}

// Submission is a judged entry a member submits into an event.
type Submission struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	MemberID  string    `json:"memberId"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s Submission) EntityID() string { return s.ID }

func (s Submission) Fields() map[string]any {
	return map[string]any{
		FieldID:        s.ID,
		FieldEventID:   s.EventID,
		FieldMemberID:  s.MemberID,
		FieldTitle:     s.Title,
		FieldStatus:    s.Status,
		FieldCreatedAt: s.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func SubmissionFromFields(id string, f map[string]any) Submission {
	return Submission{
		ID:        id,
		EventID:   stringField(f, FieldEventID),
		MemberID:  stringField(f, FieldMemberID),
		Title:     stringField(f, FieldTitle),
		Status:    stringField(f, FieldStatus),
		CreatedAt: timeField(f, FieldCreatedAt),
	}
}

// Event is a scheduled team event (hackathon, game night, contest).
type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

func (e Event) EntityID() string { return e.ID }

func (e Event) Fields() map[string]any {
	return map[string]any{
		FieldID:       e.ID,
		FieldTitle:    e.Title,
		FieldStatus:   e.Status,
		FieldStartsAt: e.StartsAt.UTC().Format(time.RFC3339Nano),
		FieldEndsAt:   e.EndsAt.UTC().Format(time.RFC3339Nano),
	}
}

func EventFromFields(id string, f map[string]any) Event {
	return Event{
		ID:       id,
		Title:    stringField(f, FieldTitle),
		Status:   stringField(f, FieldStatus),
		StartsAt: timeField(f, FieldStartsAt),
		EndsAt:   timeField(f, FieldEndsAt),
	}
}
