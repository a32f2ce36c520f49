package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/events"
	"vfxhub/internal/repo"
)

const maxMessageLength = 4000

func messageContent(v string) (string, error) {
	content, err := requireText("content", v)
	if err != nil {
		return "", err
	}
	if len(content) > maxMessageLength {
		return "", invalid("content", "must be at most %d bytes", maxMessageLength)
	}
	return content, nil
}

// SendDirectMessage stores a message between two users and notifies the
// receiver.
func (e Engine) SendDirectMessage(ctx context.Context, senderID, receiverID, content string) (domain.Message, error) {
	content, err := messageContent(content)
	if err != nil {
		return domain.Message{}, err
	}
	if receiverID == "" || receiverID == senderID {
		return domain.Message{}, invalid("receiver_id", "must be another user")
	}
	var m domain.Message
	err = e.inTx(ctx, func(t *txn) error {
		sender, err := e.Actor(ctx, t.Tx, senderID)
		if err != nil {
			return err
		}
		if _, err := e.Repo.GetProfile(ctx, t.Tx, receiverID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return invalid("receiver_id", "unknown user %s", receiverID)
			}
			return err
		}
		receiver := receiverID
		m = domain.Message{ID: uuid.NewString(), SenderID: sender.ID, ReceiverID: &receiver, Content: content, CreatedAt: t.now}
		if err := e.Repo.InsertMessage(ctx, t.Tx, m); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if err := t.emit(ctx, events.Record{Table: "messages", Op: events.OpInsert, RecordID: m.ID, ActorID: sender.ID, Payload: m},
			domain.ConversationScope(sender.ID, receiverID)); err != nil {
			return err
		}
		return t.notify(ctx, sender.ID, domain.Notification{
			UserID: receiverID, Kind: "message.direct", Title: "New message from " + sender.DisplayName,
			Body: preview(content), ResourceKind: "conversation", ResourceID: sender.ID,
		})
	})
	return m, err
}

// SendProjectMessage posts to a project's thread. Only participants may
// write.
func (e Engine) SendProjectMessage(ctx context.Context, senderID, projectID, content string) (domain.Message, error) {
	content, err := messageContent(content)
	if err != nil {
		return domain.Message{}, err
	}
	var m domain.Message
	err = e.inTx(ctx, func(t *txn) error {
		sender, err := e.Actor(ctx, t.Tx, senderID)
		if err != nil {
			return err
		}
		p, err := e.Repo.GetProject(ctx, t.Tx, projectID)
		if err != nil {
			return err
		}
		ok, err := e.Auth.CanViewProject(ctx, t.Tx, p, sender)
		if err != nil {
			return err
		}
		if !ok {
			return auth.ForbiddenError{Permission: "project.message"}
		}
		pid := p.ID
		m = domain.Message{ID: uuid.NewString(), SenderID: sender.ID, ProjectID: &pid, Content: content, CreatedAt: t.now}
		if err := e.Repo.InsertMessage(ctx, t.Tx, m); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return t.emit(ctx, events.Record{Table: "messages", Op: events.OpInsert, RecordID: m.ID, ActorID: sender.ID, Payload: m},
			domain.ProjectScope(p.ID))
	})
	return m, err
}

// Conversation lists the direct messages between the actor and another user.
func (e Engine) Conversation(ctx context.Context, actorID, otherID string, page repo.Page) ([]domain.Message, error) {
	if _, err := e.Actor(ctx, nil, actorID); err != nil {
		return nil, err
	}
	if otherID == "" {
		return nil, invalid("user_id", "is required")
	}
	return e.Repo.ListConversation(ctx, actorID, otherID, page)
}

func (e Engine) ProjectMessages(ctx context.Context, actorID, projectID string, page repo.Page) ([]domain.Message, error) {
	actor, err := e.Actor(ctx, nil, actorID)
	if err != nil {
		return nil, err
	}
	p, err := e.Repo.GetProject(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	ok, err := e.Auth.CanViewProject(ctx, nil, p, actor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, auth.ForbiddenError{Permission: "project.message"}
	}
	return e.Repo.ListProjectMessages(ctx, projectID, page)
}

func (e Engine) ConversationPartners(ctx context.Context, actorID string) ([]string, error) {
	return e.Repo.ConversationPartners(ctx, actorID)
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= 80 {
		return s
	}
	return string(r[:77]) + "..."
}
