package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
	"vfxhub/internal/engine/auth"
	"vfxhub/internal/filters"
	"vfxhub/internal/repo"
)

func registerMessages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conversations",
		Method:      http.MethodGet,
		Path:        "/conversations",
		Summary:     "Users the current user has exchanged direct messages with",
	}, func(ctx context.Context, _ *struct{}) (*output[PartnersResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ids, err := e.ConversationPartners(ctx, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PartnersResponse{Items: nonNilSlice(ids)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-direct-messages",
		Method:      http.MethodGet,
		Path:        "/conversations/{user_id}/messages",
		Summary:     "Latest page of direct messages with another user, oldest first (offset skips the newest)",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		PageParams
	}) (*output[[]domain.Message], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Conversation(ctx, userID, input.UserID, input.page())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-direct-message",
		Method:        http.MethodPost,
		Path:          "/conversations/{user_id}/messages",
		Summary:       "Send a direct message",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string         `path:"user_id"`
		Body   MessageRequest `json:"body"`
	}) (*output[domain.Message], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SendDirectMessage(ctx, userID, input.UserID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-messages",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/messages",
		Summary:     "Latest page of a project thread, oldest first (offset skips the newest)",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		PageParams
	}) (*output[[]domain.Message], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ProjectMessages(ctx, userID, input.ProjectID, input.page())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-project-message",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/messages",
		Summary:       "Post to a project thread",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      MessageRequest `json:"body"`
	}) (*output[domain.Message], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SendProjectMessage(ctx, userID, input.ProjectID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "Notifications for the current user, newest first",
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		PageParams
	}) (*output[[]domain.Notification], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListNotifications(ctx, userID, input.Unread, input.page())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/notifications/{id}/read",
		Summary:       "Mark a notification as read",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkNotificationRead(ctx, userID, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerPosts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-posts",
		Method:      http.MethodGet,
		Path:        "/posts",
		Summary:     "Community feed, newest first",
	}, func(ctx context.Context, input *struct {
		AuthorID string `query:"author_id"`
		PageParams
	}) (*output[[]domain.Post], error) {
		items, err := e.ListPosts(ctx, input.AuthorID, input.page())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-post",
		Method:        http.MethodPost,
		Path:          "/posts",
		Summary:       "Publish a post",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body PostRequest `json:"body"`
	}) (*output[domain.Post], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePost(ctx, userID, input.Body.Body, input.Body.Tags)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-post",
		Method:        http.MethodDelete,
		Path:          "/posts/{post_id}",
		Summary:       "Delete a post (author or admin)",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PostID string `path:"post_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePost(ctx, input.PostID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	type likeInput struct {
		PostID string `path:"post_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "like-post",
		Method:      http.MethodPut,
		Path:        "/posts/{post_id}/like",
		Summary:     "Like a post",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *likeInput) (*output[domain.Post], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.LikePost(ctx, input.PostID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlike-post",
		Method:      http.MethodDelete,
		Path:        "/posts/{post_id}/like",
		Summary:     "Remove a like",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *likeInput) (*output[domain.Post], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UnlikePost(ctx, input.PostID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

func registerMachines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-machines",
		Method:      http.MethodGet,
		Path:        "/machines",
		Summary:     "Render machine pool",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*output[[]domain.Machine], error) {
		items, err := e.ListMachines(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-machine",
		Method:        http.MethodPost,
		Path:          "/machines",
		Summary:       "Register a machine (admin)",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body RegisterMachineRequest `json:"body"`
	}) (*output[domain.Machine], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.RegisterMachine(ctx, input.Body.Name, input.Body.Specs, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-machine",
		Method:      http.MethodPost,
		Path:        "/machines/{machine_id}/assign",
		Summary:     "Assign a machine to a user (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		MachineID string               `path:"machine_id"`
		Body      AssignMachineRequest `json:"body"`
	}) (*output[domain.Machine], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AssignMachine(ctx, input.MachineID, input.Body.UserID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-machine",
		Method:      http.MethodPost,
		Path:        "/machines/{machine_id}/release",
		Summary:     "Return a machine to the pool",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		MachineID string `path:"machine_id"`
	}) (*output[domain.Machine], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ReleaseMachine(ctx, input.MachineID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-machine-status",
		Method:      http.MethodPost,
		Path:        "/machines/{machine_id}/status",
		Summary:     "Take a machine offline or back (admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MachineID string               `path:"machine_id"`
		Body      MachineStatusRequest `json:"body"`
	}) (*output[domain.Machine], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.SetMachineStatus(ctx, input.MachineID, input.Body.Status, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(m), nil
	})
}

// coinSubject resolves whose ledger is read: the caller's own unless an
// admin asks for someone else's.
func coinSubject(ctx context.Context, e engine.Engine, requested string) (string, error) {
	userID, authErr := userIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	if requested == "" || requested == userID {
		return userID, nil
	}
	actor, err := e.Actor(ctx, nil, userID)
	if err != nil {
		return "", err
	}
	if !auth.IsAdmin(actor) {
		return "", auth.ForbiddenError{Permission: "coins.read"}
	}
	return requested, nil
}

func registerCoins(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "coin-balance",
		Method:      http.MethodGet,
		Path:        "/coins/balance",
		Summary:     "Current coin balance",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*output[BalanceResponse], error) {
		subject, err := coinSubject(ctx, e, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		balance, err := e.Balance(ctx, subject)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(BalanceResponse{UserID: subject, Balance: balance}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "coin-history",
		Method:      http.MethodGet,
		Path:        "/coins/transactions",
		Summary:     "Ledger entries, newest first",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		PageParams
	}) (*output[[]domain.Transaction], error) {
		subject, err := coinSubject(ctx, e, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.CoinHistory(ctx, subject, input.page())
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "coin-summary",
		Method:      http.MethodGet,
		Path:        "/coins/summary",
		Summary:     "Earned and spent totals per transaction type",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
	}) (*output[filters.Ledger], error) {
		subject, err := coinSubject(ctx, e, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.CoinHistory(ctx, subject, repo.Page{})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(filters.LedgerSummary(items)), nil
	})

	// The coin procedure always answers 200 with a tagged result; failures
	// are reported in the body so callers branch on one shape.
	huma.Register(api, huma.Operation{
		OperationID: "apply-coin-transaction",
		Method:      http.MethodPost,
		Path:        "/rpc/coins",
		Summary:     "Apply a coin transaction",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CoinRequest `json:"body"`
	}) (*output[engine.CoinResult], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		target := input.Body.UserID
		if target == "" {
			target = userID
		}
		tx, err := e.ApplyCoinTransaction(ctx, engine.CoinRequest{
			UserID:         target,
			Type:           input.Body.Type,
			Amount:         input.Body.Amount,
			CounterpartyID: input.Body.CounterpartyID,
			Reference:      input.Body.Reference,
			ActorID:        userID,
		})
		return reply(engine.CoinResultFor(tx, err)), nil
	})
}
