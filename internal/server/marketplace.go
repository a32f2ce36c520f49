package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
	"vfxhub/internal/filters"
	"vfxhub/internal/repo"
)

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-profiles",
		Method:      http.MethodGet,
		Path:        "/profiles",
		Summary:     "List profiles",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Role  string `query:"role"`
		Skill string `query:"skill"`
		PageParams
	}) (*output[[]domain.Profile], error) {
		items, err := e.ListProfiles(ctx, repo.ProfileFilters{Role: input.Role, Skill: input.Skill, Page: input.page()})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-profile",
		Method:      http.MethodGet,
		Path:        "/profiles/{id}",
		Summary:     "Get profile",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.Profile], error) {
		p, err := e.GetProfile(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-profile",
		Method:      http.MethodPut,
		Path:        "/profiles/{id}",
		Summary:     "Create or update a profile (self or admin)",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ProfileRequest `json:"body"`
	}) (*output[domain.Profile], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpsertProfile(ctx, engine.ProfileInput{
			ID:          input.ID,
			DisplayName: input.Body.DisplayName,
			Role:        input.Body.Role,
			Skills:      input.Body.Skills,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})
}

type projectListInput struct {
	OwnerID        string `query:"owner_id"`
	Status         string `query:"status" doc:"Comma separated statuses"`
	Query          string `query:"q"`
	MinBudget      string `query:"min_budget"`
	MaxBudget      string `query:"max_budget"`
	Skills         string `query:"skills" doc:"Comma separated skills"`
	MatchAllSkills bool   `query:"match_all"`
	CreatedAfter   string `query:"created_after"`
	CreatedBefore  string `query:"created_before"`
	DeadlineBefore string `query:"deadline_before"`
	Sort           string `query:"sort" enum:"created_at,budget,deadline,title"`
	Order          string `query:"order" enum:"asc,desc"`
	PageParams
}

func (in projectListInput) filter() (filters.ProjectFilter, huma.StatusError) {
	f := filters.ProjectFilter{
		Statuses:       splitList(in.Status),
		Query:          in.Query,
		Skills:         splitList(in.Skills),
		MatchAllSkills: in.MatchAllSkills,
		SortBy:         in.Sort,
		Descending:     in.Order == "desc",
	}
	var err huma.StatusError
	if f.MinBudget, err = parseInt64Param("min_budget", in.MinBudget); err != nil {
		return f, err
	}
	if f.MaxBudget, err = parseInt64Param("max_budget", in.MaxBudget); err != nil {
		return f, err
	}
	if f.CreatedAfter, err = parseTimeParam("created_after", in.CreatedAfter); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = parseTimeParam("created_before", in.CreatedBefore); err != nil {
		return f, err
	}
	if f.DeadlineBefore, err = parseTimeParam("deadline_before", in.DeadlineBefore); err != nil {
		return f, err
	}
	return f, nil
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*output[domain.Project], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Budget:      input.Body.Budget,
			Deadline:    input.Body.Deadline,
			Skills:      input.Body.Skills,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects with filters",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *projectListInput) (*output[[]domain.Project], error) {
		f, ferr := input.filter()
		if ferr != nil {
			return nil, ferr
		}
		base := repo.ProjectFilters{OwnerID: input.OwnerID}
		if len(f.Statuses) == 1 {
			base.Status = f.Statuses[0]
		}
		items, err := e.ListProjects(ctx, base, f)
		if err != nil {
			return nil, handleError(err)
		}
		items = paginate(items, input.PageParams)
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*output[domain.Project], error) {
		p, err := e.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*output[domain.Project], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, engine.ProjectUpdateOptions{
			ID:          input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Budget:      input.Body.Budget,
			Deadline:    input.Body.Deadline,
			Skills:      input.Body.Skills,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.ProjectID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats",
		Summary:     "Task and bid aggregates for a project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*output[ProjectStatsResponse], error) {
		stats, err := e.ProjectStats(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(stats), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*output[domain.Task], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ProjectID:   input.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Budget:      input.Body.Budget,
			DueAt:       input.Body.DueAt,
			AssigneeID:  input.Body.AssigneeID,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks of a project",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Status     string `query:"status" doc:"Comma separated statuses"`
		AssigneeID string `query:"assignee_id"`
		Query      string `query:"q"`
		DueBefore  string `query:"due_before"`
		PageParams
	}) (*output[[]domain.Task], error) {
		if _, err := e.GetProject(ctx, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		due, perr := parseTimeParam("due_before", input.DueBefore)
		if perr != nil {
			return nil, perr
		}
		items, err := e.ListTasks(ctx,
			repo.TaskFilters{ProjectID: input.ProjectID, Page: input.page()},
			filters.TaskFilter{Statuses: splitList(input.Status), AssigneeID: input.AssigneeID, Query: input.Query, DueBefore: due})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*output[domain.Task], error) {
		task, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*output[domain.Task], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := e.UpdateTask(ctx, engine.TaskUpdateOptions{
			ID:          input.TaskID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Assign:      input.Body.AssigneeID,
			Budget:      input.Body.Budget,
			DueAt:       input.Body.DueAt,
			ActorID:     userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(task), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{task_id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerBids(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "place-bid",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/bids",
		Summary:       "Bid on a task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   PlaceBidRequest `json:"body"`
	}) (*output[domain.Bid], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bid, err := e.PlaceBid(ctx, engine.BidOptions{TaskID: input.TaskID, Amount: input.Body.Amount, Note: input.Body.Note, ActorID: userID})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(bid), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/bids",
		Summary:     "List visible bids",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID    string `query:"task_id"`
		ProjectID string `query:"project_id"`
		ArtistID  string `query:"artist_id"`
		Status    string `query:"status"`
		PageParams
	}) (*output[[]domain.Bid], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListBids(ctx, userID, repo.BidFilters{
			TaskID:    input.TaskID,
			ProjectID: input.ProjectID,
			ArtistID:  input.ArtistID,
			Status:    input.Status,
			Page:      input.page(),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/review",
		Summary:     "Approve or reject a bid",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BidID string        `path:"bid_id"`
		Body  ReviewRequest `json:"body"`
	}) (*output[domain.Bid], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bid, err := e.ReviewBid(ctx, input.BidID, input.Body.Approve, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(bid), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-bid",
		Method:      http.MethodPost,
		Path:        "/bids/{bid_id}/withdraw",
		Summary:     "Withdraw a pending bid",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		BidID string `path:"bid_id"`
	}) (*output[domain.Bid], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		bid, err := e.WithdrawBid(ctx, input.BidID, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(bid), nil
	})
}

func registerShares(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-share",
		Method:        http.MethodPost,
		Path:          "/shares",
		Summary:       "Request or grant access to a project or task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Body ShareRequest `json:"body"`
	}) (*output[domain.Share], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		share, err := e.RequestShare(ctx, engine.ShareRequest{
			ResourceKind: input.Body.ResourceKind,
			ResourceID:   input.Body.ResourceID,
			GranteeID:    input.Body.GranteeID,
			ActorID:      userID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(share), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-shares",
		Method:      http.MethodGet,
		Path:        "/shares",
		Summary:     "List shares the current user owns or holds",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OwnerID      string `query:"owner_id"`
		GranteeID    string `query:"grantee_id"`
		ResourceKind string `query:"resource_kind"`
		ResourceID   string `query:"resource_id"`
		Status       string `query:"status"`
	}) (*output[[]domain.Share], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListShares(ctx, userID, repo.ShareFilters{
			OwnerID:      input.OwnerID,
			GranteeID:    input.GranteeID,
			ResourceKind: input.ResourceKind,
			ResourceID:   input.ResourceID,
			Status:       input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(nonNilSlice(items)), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-share",
		Method:      http.MethodPost,
		Path:        "/shares/{share_id}/review",
		Summary:     "Approve or reject a share request",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ShareID string        `path:"share_id"`
		Body    ReviewRequest `json:"body"`
	}) (*output[domain.Share], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		share, err := e.ReviewShare(ctx, input.ShareID, input.Body.Approve, userID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(share), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-share",
		Method:        http.MethodDelete,
		Path:          "/shares/{share_id}",
		Summary:       "Revoke a share",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ShareID string `path:"share_id"`
	}) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeShare(ctx, input.ShareID, userID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// paginate slices a list that was filtered in memory.
func paginate[T any](items []T, p PageParams) []T {
	if p.Offset >= len(items) {
		return nil
	}
	items = items[p.Offset:]
	if limit := normalizeLimit(p.Limit); len(items) > limit {
		items = items[:limit]
	}
	return items
}
