package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/engine/auth"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_current_phase"`
	Message string         `json:"message" example:"phase review is not the current phase"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"retryable\":true}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// service carries what every operation handler needs.
type service struct {
	engine engine.Engine
	log    *slog.Logger
}

// New returns an HTTP handler exposing the phase workflow API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine.Catalog == nil {
		return nil, errors.New("server: engine has no catalog")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors are 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, err := range errs {
				msgs = append(msgs, err.Error())
			}
			details = map[string]any{"errors": msgs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Studioflow Phase API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := service{engine: cfg.Engine, log: logger}
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, s)
	registerCatalog(group, s)
	registerProjects(group, s)
	registerPhase(group, s)
	registerActions(group, s)
	registerAudit(group, s)
	registerRules(group, s)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// fail maps an engine failure onto the error envelope.
func (s service) fail(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var we *engine.Error
	if errors.As(err, &we) {
		switch we.Kind {
		case engine.KindPrecondition:
			return newAPIError(http.StatusConflict, we.Code, we.Message, nil)
		case engine.KindNotFound:
			return newAPIError(http.StatusNotFound, we.Code, we.Message, nil)
		case engine.KindInvalid:
			return newAPIError(http.StatusBadRequest, we.Code, we.Message, nil)
		case engine.KindForbidden:
			var details map[string]any
			var fe auth.ForbiddenError
			if errors.As(err, &fe) {
				details = map[string]any{"permission": fe.Permission}
			}
			return newAPIError(http.StatusForbidden, we.Code, we.Message, details)
		case engine.KindTransient:
			s.log.Warn("store unavailable", "error", err)
			return newAPIError(http.StatusServiceUnavailable, we.Code, we.Message, map[string]any{"retryable": true})
		case engine.KindIntegrity:
			s.log.Error("integrity failure", "code", we.Code, "error", err)
			return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusServiceUnavailable, "timeout", "request timed out", map[string]any{"retryable": true})
	}
	s.log.Error("unhandled error", "error", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// visible authenticates the caller and checks it may see the project.
func (s service) visible(ctx context.Context, projectID string) (domain.Actor, huma.StatusError) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return actor, authErr
	}
	if _, err := s.engine.ProjectFor(ctx, projectID, actor); err != nil {
		return actor, s.fail(err)
	}
	return actor, nil
}

func (s service) requireAdmin(ctx context.Context) (domain.Actor, huma.StatusError) {
	actor, authErr := actorFromContext(ctx)
	if authErr != nil {
		return actor, authErr
	}
	resolved, err := s.engine.Auth.Resolve(ctx, actor)
	if err == nil {
		err = auth.RequireAdmin(resolved, auth.PermRulesManage)
	}
	if err != nil {
		var fe auth.ForbiddenError
		if errors.As(err, &fe) {
			return actor, newAPIError(http.StatusForbidden, "forbidden", fe.Error(), map[string]any{"permission": fe.Permission})
		}
		return actor, s.fail(err)
	}
	return resolved, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Patch,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", basePath, "openapi.json")
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Studioflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

var commonErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
	http.StatusServiceUnavailable,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerMe(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		actor, err := s.engine.Auth.Resolve(ctx, principal.Actor())
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: actor.ID, Admin: actor.Admin, Source: principal.Source}}, nil
	})
}

func registerCatalog(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-phases",
		Method:      http.MethodGet,
		Path:        "/catalog/phases",
		Summary:     "List pipeline phases with their actions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PhaseResponse `json:"body"`
	}, error) {
		return &struct {
			Body []PhaseResponse `json:"body"`
		}{Body: phaseResponses(s.engine.Catalog)}, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project and start it at the first phase",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body CreateProjectResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, state, err := s.engine.CreateProject(ctx, engine.NewProject{
			ID:      strings.TrimSpace(input.Body.ID),
			Name:    input.Body.Name,
			OwnerID: strings.TrimSpace(input.Body.OwnerID),
		}, actor)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body CreateProjectResponse `json:"body"`
		}{Body: CreateProjectResponse{Project: p, State: state}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List visible projects",
		Errors:      commonErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ProjectListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor, err := s.engine.Auth.Resolve(ctx, actor)
		if err != nil {
			return nil, s.fail(err)
		}
		owner := actor.ID
		if actor.Admin {
			owner = ""
		}
		items, err := s.engine.Repo.ListProjects(ctx, owner)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body ProjectListResponse `json:"body"`
		}{Body: ProjectListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := s.engine.ProjectFor(ctx, input.ProjectID, actor)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Soft-delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.engine.DeleteProject(ctx, input.ProjectID, actor); err != nil {
			return nil, s.fail(err)
		}
		return &struct{}{}, nil
	})
}

type stateOutput struct {
	Body domain.PhaseState `json:"body"`
}

func registerPhase(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-phase",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/phase",
		Summary:     "Current phase state",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*stateOutput, error) {
		if _, err := s.visible(ctx, input.ProjectID); err != nil {
			return nil, err
		}
		state, err := s.engine.GetCurrentState(ctx, input.ProjectID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &stateOutput{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "phase-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/phase/history",
		Summary:     "Phase transition history, newest first",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" minimum:"0" maximum:"200"`
		Offset    int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body HistoryResponse `json:"body"`
	}, error) {
		if _, err := s.visible(ctx, input.ProjectID); err != nil {
			return nil, err
		}
		page, err := s.engine.ListHistory(ctx, input.ProjectID, normalizeLimit(input.Limit), input.Offset)
		if err != nil {
			return nil, s.fail(err)
		}
		page.Entries = nonNilSlice(page.Entries)
		return &struct {
			Body HistoryResponse `json:"body"`
		}{Body: page}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "initialize-phase",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/phase/initialize",
		Summary:       "Create phase tracking for an existing project",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *projectPath) (*stateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := s.engine.Initialize(ctx, input.ProjectID, actor)
		if err != nil {
			return nil, s.fail(err)
		}
		return &stateOutput{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "advance-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phase/advance",
		Summary:     "Advance to the next phase",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      *AdvanceRequest `json:"body,omitempty" required:"false"`
	}) (*stateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reason := ""
		if input.Body != nil {
			reason = input.Body.Reason
		}
		state, err := s.engine.Advance(ctx, input.ProjectID, actor, reason)
		if err != nil {
			return nil, s.fail(err)
		}
		return &stateOutput{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "jump-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phase/jump",
		Summary:     "Move to any phase (administrators)",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string      `path:"project_id"`
		Body      JumpRequest `json:"body"`
	}) (*stateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := s.engine.JumpTo(ctx, input.ProjectID, input.Body.Phase, actor, input.Body.Reason)
		if err != nil {
			return nil, s.fail(err)
		}
		return &stateOutput{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phase/approve",
		Summary:     "Approve the current phase",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      ApproveRequest `json:"body"`
	}) (*stateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := s.engine.Approve(ctx, input.ProjectID, input.Body.Phase, actor, input.Body.Notes)
		if err != nil {
			return nil, s.fail(err)
		}
		return &stateOutput{Body: state}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-phase",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/phase/reject",
		Summary:     "Request changes on the current phase",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string        `path:"project_id"`
		Body      RejectRequest `json:"body"`
	}) (*stateOutput, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		state, err := s.engine.Reject(ctx, input.ProjectID, input.Body.Phase, actor, input.Body.Feedback)
		if err != nil {
			return nil, s.fail(err)
		}
		return &stateOutput{Body: state}, nil
	})
}

func registerActions(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "set-action",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/actions/{action}",
		Summary:     "Mark an action complete or incomplete",
		Description: "action is an action id or a key; keys resolve within the current phase first.",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Action    string           `path:"action"`
		Body      SetActionRequest `json:"body"`
	}) (*struct {
		Body engine.ActionResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := s.engine.SetActionStatus(ctx, engine.ActionUpdate{
			ProjectID: input.ProjectID,
			Action:    input.Action,
			Completed: input.Body.Completed,
			Notes:     input.Body.Notes,
		}, actor)
		if err != nil {
			return nil, s.fail(err)
		}
		res.State.Actions = nonNilSlice(res.State.Actions)
		return &struct {
			Body engine.ActionResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerAudit(api huma.API, s service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/decisions",
		Summary:     "Approvals and change requests",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body DecisionListResponse `json:"body"`
	}, error) {
		if _, err := s.visible(ctx, input.ProjectID); err != nil {
			return nil, err
		}
		items, err := s.engine.Decisions(ctx, input.ProjectID)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body DecisionListResponse `json:"body"`
		}{Body: DecisionListResponse{Items: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activity",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/activity",
		Summary:     "Project activity log",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Limit     int    `query:"limit" minimum:"0" maximum:"200"`
	}) (*struct {
		Body ActivityListResponse `json:"body"`
	}, error) {
		if _, err := s.visible(ctx, input.ProjectID); err != nil {
			return nil, err
		}
		items, err := s.engine.ActivityLog(ctx, input.ProjectID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body ActivityListResponse `json:"body"`
		}{Body: ActivityListResponse{Items: nonNilSlice(items)}}, nil
	})
}

func registerRules(api huma.API, s service) {
	type rulePath struct {
		RuleID string `path:"rule_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/admin/rules",
		Summary:     "List automation rules",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Phase string `query:"phase"`
	}) (*struct {
		Body RuleListResponse `json:"body"`
	}, error) {
		if _, err := s.requireAdmin(ctx); err != nil {
			return nil, err
		}
		rules, err := s.engine.ListRules(ctx, input.Phase)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body RuleListResponse `json:"body"`
		}{Body: RuleListResponse{Items: nonNilSlice(rules)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/admin/rules",
		Summary:       "Create automation rule",
		DefaultStatus: http.StatusCreated,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.AutomationRule `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		active := true
		if input.Body.Active != nil {
			active = *input.Body.Active
		}
		rule, err := s.engine.CreateRule(ctx, engine.RuleInput{
			PhaseKey:     input.Body.Phase,
			AutoAdvance:  input.Body.AutoAdvance,
			AutoComplete: input.Body.AutoComplete,
			Active:       active,
		}, actor)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.AutomationRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/admin/rules/{rule_id}",
		Summary:     "Update automation rule",
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		RuleID string            `path:"rule_id"`
		Body   UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.AutomationRule `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rule, err := s.engine.UpdateRule(ctx, input.RuleID, engine.RulePatch{
			AutoAdvance:  input.Body.AutoAdvance,
			AutoComplete: input.Body.AutoComplete,
			Active:       input.Body.Active,
		}, actor)
		if err != nil {
			return nil, s.fail(err)
		}
		return &struct {
			Body domain.AutomationRule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-rule",
		Method:        http.MethodDelete,
		Path:          "/admin/rules/{rule_id}",
		Summary:       "Delete automation rule",
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *rulePath) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.engine.DeleteRule(ctx, input.RuleID, actor); err != nil {
			return nil, s.fail(err)
		}
		return &struct{}{}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
