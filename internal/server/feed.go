package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"vfxhub/internal/domain"
	"vfxhub/internal/engine"
	"vfxhub/internal/realtime"
	"vfxhub/internal/repo"
)

func parseScope(raw string) huma.StatusError {
	if _, err := domain.ParseScope(raw); err != nil {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"scope": raw})
	}
	return nil
}

// registerRealtime mounts the websocket outside Huma: the handshake is not
// a JSON operation.
func registerRealtime(r chi.Router, basePath string, cfg Config, logger *slog.Logger) {
	e := cfg.Engine
	r.Get(path.Join(basePath, "realtime"), func(w http.ResponseWriter, req *http.Request) {
		if cfg.Hub == nil {
			respondStatusError(w, newAPIError(http.StatusServiceUnavailable, "unavailable", "realtime disabled", nil))
			return
		}
		userID, authErr := userIDFromContext(req.Context())
		if authErr != nil {
			respondStatusError(w, authErr)
			return
		}
		q := req.URL.Query()
		scope := q.Get("scope")
		if se := parseScope(scope); se != nil {
			respondStatusError(w, se)
			return
		}
		actor, err := e.Actor(req.Context(), nil, userID)
		if err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		if err := e.Auth.CanSubscribe(req.Context(), actor, scope); err != nil {
			respondStatusError(w, handleError(err))
			return
		}
		var tables []string
		for _, t := range q["table"] {
			tables = append(tables, splitList(t)...)
		}
		logger.Debug("realtime subscribe", "user", userID, "scope", scope, "tables", tables)
		realtime.Handler{Hub: cfg.Hub, Heartbeat: cfg.Heartbeat, Logger: logger}.Serve(w, req, scope, tables)
	})
}

func registerFeed(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "scope-version",
		Method:      http.MethodGet,
		Path:        "/scopes/{scope}/version",
		Summary:     "Latest change sequence of a scope",
		Description: "Cheap polling signal: refetch only when the version moved.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Scope string `path:"scope"`
	}) (*output[VersionResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if se := parseScope(input.Scope); se != nil {
			return nil, se
		}
		v, err := e.ScopeVersion(ctx, userID, input.Scope)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(VersionResponse{Scope: input.Scope, Version: v}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-changes",
		Method:      http.MethodGet,
		Path:        "/changes",
		Summary:     "Change log after a cursor",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Scope string `query:"scope"`
		Table string `query:"table" doc:"Comma separated table names"`
		After int64  `query:"after" minimum:"0"`
		Limit int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*output[ChangesResponse], error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Scope != "" {
			if se := parseScope(input.Scope); se != nil {
				return nil, se
			}
		}
		items, err := e.Changes(ctx, userID, repo.ChangeFilters{
			Scope:    input.Scope,
			Tables:   splitList(input.Table),
			AfterSeq: input.After,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := input.After
		if len(items) > 0 {
			next = items[len(items)-1].Seq
		}
		return reply(ChangesResponse{Items: nonNilSlice(items), NextCursor: next}), nil
	})
}
