package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"idealine/internal/agents"
	"idealine/internal/domain"
	"idealine/internal/engine"
	"idealine/internal/repo"
)

type ideaPath struct {
	ID string `path:"id"`
}

func registerCaptures(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "capture",
		Method:        http.MethodPost,
		Path:          "/captures",
		Summary:       "Capture and triage raw input",
		Description:   "Stores the input as a captured idea and triages it. A classifier failure still returns 201 with the error classification set; the idea stays captured.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CaptureRequest `json:"body"`
	}) (*struct {
		Body TriageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := classificationsFromMaps(input.Body.Items)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid items", map[string]any{"error": err.Error()})
		}
		speaker := strings.TrimSpace(input.Body.Speaker)
		if speaker == "" {
			speaker = actorID
		}
		out, err := e.Capture(ctx, engine.CaptureInput{
			Text:     input.Body.Text,
			Speaker:  speaker,
			Source:   input.Body.Source,
			AudioRef: input.Body.AudioRef,
			Items:    items,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriageResponse `json:"body"`
		}{Body: triageResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "preview-capture",
		Method:      http.MethodPost,
		Path:        "/captures/preview",
		Summary:     "Classify input without storing it",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		Body PreviewRequest `json:"body"`
	}) (*struct {
		Body PreviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		speaker := strings.TrimSpace(input.Body.Speaker)
		if speaker == "" {
			speaker = actorID
		}
		res, err := e.Preview(ctx, input.Body.Text, speaker)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := classificationMaps(res.Items)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreviewResponse `json:"body"`
		}{Body: PreviewResponse{Kind: string(res.Kind), Items: items}}, nil
	})
}

func registerIdeas(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ideas",
		Method:      http.MethodGet,
		Path:        "/ideas",
		Summary:     "List ideas",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage       string `query:"stage" enum:"captured,organized,distilled,expressed"`
		NeedsReview string `query:"needs_review"`
		Completed   string `query:"completed"`
		IsProject   string `query:"is_project"`
		ParentID    string `query:"parent_id"`
		AssignedTo  string `query:"assigned_to"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedIdeas `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filter := repo.IdeaFilters{
			Stage:           input.Stage,
			ParentID:        input.ParentID,
			AssignedTo:      input.AssignedTo,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		for _, q := range []struct {
			name string
			raw  string
			dst  **bool
		}{
			{"needs_review", input.NeedsReview, &filter.NeedsReview},
			{"completed", input.Completed, &filter.Completed},
			{"is_project", input.IsProject, &filter.IsProject},
		} {
			v, err := boolQuery(q.raw)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": q.name})
			}
			*q.dst = v
		}
		ideas, err := e.ListIdeas(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedIdeas{Items: []domain.Idea{}}
		if len(ideas) > limit {
			last := ideas[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			ideas = ideas[:limit]
		}
		resp.Items = nonNilSlice(ideas)
		return &struct {
			Body paginatedIdeas `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-idea",
		Method:      http.MethodGet,
		Path:        "/ideas/{id}",
		Summary:     "Get idea",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ideaPath) (*struct {
		Body domain.Idea `json:"body"`
	}, error) {
		idea, err := e.GetIdea(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Idea `json:"body"`
		}{Body: idea}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-subtasks",
		Method:      http.MethodGet,
		Path:        "/ideas/{id}/subtasks",
		Summary:     "List sub-tasks of a project in order",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ideaPath) (*struct {
		Body []domain.Idea `json:"body"`
	}, error) {
		children, err := e.SubTasks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Idea `json:"body"`
		}{Body: nonNilSlice(children)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "retriage-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/triage",
		Summary:     "Re-run triage for an existing idea",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body *RetriageRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TriageResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var text, speaker string
		if input.Body != nil {
			text = input.Body.Text
			speaker = strings.TrimSpace(input.Body.Speaker)
		}
		if speaker == "" {
			speaker = actorID
		}
		out, err := e.Triage(ctx, input.ID, text, speaker)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriageResponse `json:"body"`
		}{Body: triageResponse(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-gtd",
		Method:      http.MethodPatch,
		Path:        "/ideas/{id}/gtd",
		Summary:     "Update GTD fields",
		Description: "Absent fields are left alone; an empty string clears the field. The stage never changes.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body UpdateGTDRequest `json:"body"`
	}) (*struct {
		Body domain.Idea `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(rawBodyMap(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "no fields to update", nil)
		}
		idea, err := e.UpdateGTD(ctx, input.ID, gtdPatch(input.Body), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Idea `json:"body"`
		}{Body: idea}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stage-counts",
		Method:      http.MethodGet,
		Path:        "/stats/stages",
		Summary:     "Idea counts per lifecycle stage",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		counts, err := e.StageCounts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		for _, stage := range []string{domain.StageCaptured, domain.StageOrganized, domain.StageDistilled, domain.StageExpressed} {
			if _, ok := counts[stage]; !ok {
				counts[stage] = 0
			}
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: counts}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/complete",
		Summary:     "Mark an idea complete",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ideaPath) (*struct {
		Body domain.Idea `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		idea, err := e.Complete(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Idea `json:"body"`
		}{Body: idea}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/reopen",
		Summary:     "Reopen a completed idea",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ideaPath) (*struct {
		Body domain.Idea `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		idea, err := e.Reopen(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Idea `json:"body"`
		}{Body: idea}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "distill-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/distill",
		Summary:     "Distill an organized idea",
		Description: "When the classifier fails a fallback distillation is returned with fallback=true and the idea is not advanced.",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *ideaPath) (*struct {
		Body DistillResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Distill(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DistillResponse `json:"body"`
		}{Body: distillResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "express-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/express",
		Summary:     "Record the expressed output of an idea",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ExpressRequest `json:"body"`
	}) (*struct {
		Body domain.Idea `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		idea, err := e.Express(ctx, input.ID, input.Body.Output, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Idea `json:"body"`
		}{Body: idea}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "decompose-idea",
		Method:        http.MethodPost,
		Path:          "/ideas/{id}/decompose",
		Summary:       "Decompose a project into sub-tasks",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *ideaPath) (*struct {
		Body engine.DecomposeResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Decompose(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res.SubTaskIDs = nonNilSlice(res.SubTaskIDs)
		res.SubTasks = nonNilSlice(res.SubTasks)
		return &struct {
			Body engine.DecomposeResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerExecution(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "execute-idea",
		Method:      http.MethodPost,
		Path:        "/ideas/{id}/execute",
		Summary:     "Run an agent over an idea",
		Description: "A failed run is recorded on the idea with execution_status=failed and returned with 200 so it can be retried.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body *ExecuteRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body domain.Idea `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.ExecuteOptions{IdeaID: input.ID, ActorID: actorID}
		if input.Body != nil {
			opts.AgentKey = input.Body.Agent
			opts.Skills = input.Body.Skills
			opts.Context = input.Body.Context
			opts.Force = input.Body.Force
		}
		idea, err := e.Execute(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Idea `json:"body"`
		}{Body: idea}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-execution",
		Method:      http.MethodGet,
		Path:        "/ideas/{id}/execution",
		Summary:     "Execution state of an idea",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *ideaPath) (*struct {
		Body engine.ExecutionView `json:"body"`
	}, error) {
		view, err := e.Execution(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ExecutionView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List configured agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []agents.Agent `json:"body"`
	}, error) {
		return &struct {
			Body []agents.Agent `json:"body"`
		}{Body: nonNilSlice(e.Agents.List())}, nil
	})
}
