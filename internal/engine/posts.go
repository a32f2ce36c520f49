package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/events"
	"vfxhub/internal/repo"
)

func (e Engine) CreatePost(ctx context.Context, authorID, body string, tags []string) (domain.Post, error) {
	body, err := requireText("body", body)
	if err != nil {
		return domain.Post{}, err
	}
	if len(body) > maxMessageLength {
		return domain.Post{}, invalid("body", "must be at most %d bytes", maxMessageLength)
	}
	var p domain.Post
	err = e.inTx(ctx, func(t *txn) error {
		author, err := e.Actor(ctx, t.Tx, authorID)
		if err != nil {
			return err
		}
		p = domain.Post{ID: uuid.NewString(), AuthorID: author.ID, Body: body, Tags: cleanList(tags), CreatedAt: t.now}
		if err := e.Repo.InsertPost(ctx, t.Tx, p); err != nil {
			return fmt.Errorf("insert post: %w", err)
		}
		return t.emit(ctx, events.Record{Table: "posts", Op: events.OpInsert, RecordID: p.ID, ActorID: author.ID, Payload: p}, domain.ScopePosts)
	})
	return p, err
}

func (e Engine) DeletePost(ctx context.Context, id, actorID string) error {
	return e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		p, err := e.Repo.GetPost(ctx, t.Tx, id)
		if err != nil {
			return err
		}
		if p.AuthorID != actor.ID && !auth.IsAdmin(actor) {
			return auth.ForbiddenError{Permission: "post.delete"}
		}
		if err := e.Repo.DeletePost(ctx, t.Tx, id); err != nil {
			return err
		}
		return t.emit(ctx, events.Record{Table: "posts", Op: events.OpDelete, RecordID: id, ActorID: actor.ID}, domain.ScopePosts)
	})
}

// LikePost is idempotent: liking twice returns the post unchanged.
func (e Engine) LikePost(ctx context.Context, postID, actorID string) (domain.Post, error) {
	return e.toggleLike(ctx, postID, actorID, true)
}

func (e Engine) UnlikePost(ctx context.Context, postID, actorID string) (domain.Post, error) {
	return e.toggleLike(ctx, postID, actorID, false)
}

func (e Engine) toggleLike(ctx context.Context, postID, actorID string, like bool) (domain.Post, error) {
	var p domain.Post
	err := e.inTx(ctx, func(t *txn) error {
		actor, err := e.Actor(ctx, t.Tx, actorID)
		if err != nil {
			return err
		}
		if _, err := e.Repo.GetPost(ctx, t.Tx, postID); err != nil {
			return err
		}
		var changed bool
		op := events.OpInsert
		if like {
			changed, err = e.Repo.LikePost(ctx, t.Tx, postID, actor.ID)
		} else {
			op = events.OpDelete
			changed, err = e.Repo.UnlikePost(ctx, t.Tx, postID, actor.ID)
		}
		if err != nil {
			return err
		}
		if p, err = e.Repo.GetPost(ctx, t.Tx, postID); err != nil {
			return err
		}
		if !changed {
			return nil
		}
		return t.emit(ctx, events.Record{Table: "post_likes", Op: op, RecordID: postID, ActorID: actor.ID,
			Payload: map[string]any{"post_id": postID, "user_id": actor.ID, "likes": p.Likes}}, domain.ScopePosts)
	})
	return p, err
}

func (e Engine) ListPosts(ctx context.Context, authorID string, page repo.Page) ([]domain.Post, error) {
	return e.Repo.ListPosts(ctx, authorID, page)
}
