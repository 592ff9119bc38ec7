package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"gopkg.in/yaml.v3"

	"idealine/internal/config"
	"idealine/internal/domain"
	"idealine/internal/engine"
	"idealine/internal/repo"
)

func registerReview(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "review-queue",
		Method:      http.MethodGet,
		Path:        "/review",
		Summary:     "Ideas awaiting review, oldest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Idea `json:"body"`
	}, error) {
		ideas, err := e.ReviewQueue(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Idea `json:"body"`
		}{Body: nonNilSlice(ideas)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fix-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/fix",
		Summary:     "Apply reviewer corrections",
		Description: "Clears needs_review and marks the idea's audit entries reviewed. The stage never changes.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string     `path:"id"`
		Body FixRequest `json:"body"`
	}) (*struct {
		Body domain.Idea `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		idea, err := e.Fix(ctx, input.ID, fixInput(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Idea `json:"body"`
		}{Body: idea}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List classification audit entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		IdeaID      string `query:"idea_id"`
		NeedsReview string `query:"needs_review"`
		Reviewed    string `query:"reviewed"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.AuditFilters{
			IdeaID:          input.IdeaID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		if filter.NeedsReview, err = boolQuery(input.NeedsReview); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "needs_review"})
		}
		if filter.Reviewed, err = boolQuery(input.Reviewed); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": "reviewed"})
		}
		entries, err := e.ListAudit(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []domain.AuditEntry{}}
		if len(entries) > limit {
			last := entries[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			entries = entries[:limit]
		}
		resp.Items = nonNilSlice(entries)
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-audit",
		Method:      http.MethodPost,
		Path:        "/audit/{id}/reviewed",
		Summary:     "Mark an audit entry reviewed",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.AuditEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.MarkAuditReviewed(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AuditEntry `json:"body"`
		}{Body: entry}, nil
	})
}

func registerDelegations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-delegation",
		Method:        http.MethodPost,
		Path:          "/delegations",
		Summary:       "Record a delegation",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateDelegationRequest `json:"body"`
	}) (*struct {
		Body domain.Delegation `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CreateDelegation(ctx, engine.DelegationInput{
			IdeaID:      input.Body.IdeaID,
			DelegatedTo: input.Body.DelegatedTo,
			Description: input.Body.Description,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Delegation `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-delegations",
		Method:      http.MethodGet,
		Path:        "/delegations",
		Summary:     "List delegations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,completed"`
		IdeaID string `query:"idea_id"`
	}) (*struct {
		Body []domain.Delegation `json:"body"`
	}, error) {
		items, err := e.ListDelegations(ctx, input.Status, input.IdeaID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Delegation `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-delegation",
		Method:      http.MethodPost,
		Path:        "/delegations/{id}/complete",
		Summary:     "Complete a pending delegation",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Delegation `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.CompleteDelegation(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Delegation `json:"body"`
		}{Body: d}, nil
	})
}

func registerAreas(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-area",
		Method:        http.MethodPost,
		Path:          "/areas",
		Summary:       "Create area",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateAreaRequest `json:"body"`
	}) (*struct {
		Body domain.Area `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateArea(ctx, domain.Area{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Horizon:     input.Body.Horizon,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Area `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-areas",
		Method:      http.MethodGet,
		Path:        "/areas",
		Summary:     "List areas",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"active,archived"`
	}) (*struct {
		Body []domain.Area `json:"body"`
	}, error) {
		items, err := e.ListAreas(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Area `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-area",
		Method:      http.MethodPost,
		Path:        "/areas/{name}/archive",
		Summary:     "Archive an area",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name"`
	}) (*struct {
		Body domain.Area `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.ArchiveArea(ctx, input.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Area `json:"body"`
		}{Body: a}, nil
	})
}

func registerKnowledge(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-knowledge",
		Method:        http.MethodPost,
		Path:          "/knowledge",
		Summary:       "Add a knowledge entry",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body AddKnowledgeRequest `json:"body"`
	}) (*struct {
		Body domain.KnowledgeEntry `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, err := e.AddKnowledge(ctx, engine.KnowledgeInput{
			Key:      input.Body.Key,
			Content:  input.Body.Content,
			Category: input.Body.Category,
			PARAType: input.Body.PARAType,
			IdeaID:   input.Body.IdeaID,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.KnowledgeEntry `json:"body"`
		}{Body: k}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-knowledge",
		Method:      http.MethodGet,
		Path:        "/knowledge",
		Summary:     "Recent knowledge, or a full-text search when q is set",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Query string `query:"q"`
		Limit int    `query:"limit" default:"20"`
	}) (*struct {
		Body []domain.KnowledgeEntry `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var items []domain.KnowledgeEntry
		var err error
		if strings.TrimSpace(input.Query) != "" {
			items, err = e.SearchKnowledge(ctx, input.Query, limit)
		} else {
			items, err = e.ListKnowledge(ctx, limit)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.KnowledgeEntry `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerPeople(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-person",
		Method:      http.MethodPut,
		Path:        "/people/{username}",
		Summary:     "Create or update a person",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Username string           `path:"username"`
		Body     SetPersonRequest `json:"body"`
	}) (*struct {
		Body domain.Person `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetPerson(ctx, domain.Person{
			Username:   input.Username,
			Role:       input.Body.Role,
			Department: input.Body.Department,
			Expertise:  input.Body.Expertise,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Person `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-person",
		Method:      http.MethodGet,
		Path:        "/people/{username}",
		Summary:     "Get person",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Username string `path:"username"`
	}) (*struct {
		Body domain.Person `json:"body"`
	}, error) {
		p, err := e.GetPerson(ctx, input.Username)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Person `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-people",
		Method:      http.MethodGet,
		Path:        "/people",
		Summary:     "List people",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Person `json:"body"`
	}, error) {
		items, err := e.ListPeople(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Person `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Issue an API key for the current actor",
		Description:   "The secret is only returned once.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body *CreateAPIKeyRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var name string
		if input.Body != nil {
			name = input.Body.Name
		}
		key, secret, err := e.CreateAPIKey(ctx, actorID, name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{Key: key, Secret: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the current actor's API keys",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Revoke one of the current actor's API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		owned := false
		for _, k := range keys {
			if k.ID == input.ID {
				owned = true
				break
			}
		}
		if !owned {
			return nil, newAPIError(http.StatusNotFound, "not_found", "api key not found", nil)
		}
		if err := e.RevokeAPIKey(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerConfig(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Active configuration as YAML",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ConfigResponse `json:"body"`
	}, error) {
		cfg, err := e.Repo.GetConfig(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			cfg, err = e.Config, nil
		}
		if err != nil {
			return nil, handleError(err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigResponse `json:"body"`
		}{Body: ConfigResponse{Format: "yaml", Content: string(data)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-config",
		Method:      http.MethodPut,
		Path:        "/config",
		Summary:     "Import configuration",
		Description: "Stores the config and seeds its areas. Classifier and agent changes apply on the next start.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ImportConfigRequest `json:"body"`
	}) (*struct {
		Body ConfigResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var cfg *config.Config
		var err error
		switch input.Body.Format {
		case "toml":
			cfg, err = config.FromTOML([]byte(input.Body.Content))
		default:
			cfg, err = config.FromYAML([]byte(input.Body.Content))
		}
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_config", err.Error(), nil)
		}
		if err := e.ImportConfig(ctx, cfg, actorID); err != nil {
			return nil, handleError(err)
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ConfigResponse `json:"body"`
		}{Body: ConfigResponse{Format: "yaml", Content: string(data)}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"idea,audit,delegation,area,knowledge,person,config,apikey"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, limit+1, cursorID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
