package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
	"taskline/internal/scheduler"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"cannot change status from pending to completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerTaskDetails(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerJobs(group, cfg.Engine, cfg.Scheduler)
	registerOpenAPI(router, api, basePath)

	return router, nil
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var de auth.DeniedError
	if errors.As(err, &de) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"operation": de.Operation})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		code := "validation_failed"
		if strings.Contains(ve.Msg, "cannot change status from") {
			code = "invalid_transition"
		}
		return newAPIError(http.StatusUnprocessableEntity, code, err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

// requireAdmin loads the calling actor and rejects non-admins.
func requireAdmin(ctx context.Context, e engine.Engine) (string, huma.StatusError) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return "", authErr
	}
	actor, err := e.Directory.GetUser(ctx, actorID)
	if err != nil {
		return "", handleError(err)
	}
	if actor.Role != domain.RoleAdmin {
		return "", newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
	}
	return actorID, nil
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

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			Title:      input.Body.Title,
			AssigneeID: input.Body.AssigneeID,
			CreatorID:  actorID,
			Deadline:   input.Body.Deadline,
		}
		if input.Body.Description != nil {
			opts.Description = *input.Body.Description
		}
		if input.Body.Priority != nil {
			opts.Priority = domain.Priority(*input.Body.Priority)
		}
		if input.Body.Source != nil {
			opts.Source = *input.Body.Source
		}
		if input.Body.SourceRef != nil {
			opts.SourceRef = *input.Body.SourceRef
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Description: "Lists the caller's tasks by tab: personal, assigned, delegated or unit.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Tab    string `query:"tab" enum:"personal,assigned,delegated,unit" default:"assigned"`
		Status string `query:"status" enum:"pending,in_progress,completed,verified,cancelled"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		actor, err := e.Directory.GetUser(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		var tasks []domain.Task
		switch input.Tab {
		case "personal":
			tasks, err = e.Repo.PersonalTasks(ctx, actorID)
		case "delegated":
			tasks, err = e.Repo.DelegatedTasks(ctx, actorID)
		case "unit":
			if actor.Role.Rank() < domain.RoleManager.Rank() {
				return nil, newAPIError(http.StatusForbidden, "forbidden", "unit view requires manager role", nil)
			}
			tasks, err = e.Repo.TasksInUnit(ctx, actor.Unit)
		default:
			tasks, err = e.Repo.AssignedTasks(ctx, actorID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" {
			filtered := tasks[:0]
			for _, t := range tasks {
				if t.Status == domain.Status(input.Status) {
					filtered = append(filtered, t)
				}
			}
			tasks = filtered
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{ref}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ViewTask(ctx, input.Ref, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{ref}",
		Summary:     "Update task fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string            `path:"ref"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		upd := engine.TaskUpdate{
			Title:         input.Body.Title,
			Description:   input.Body.Description,
			Deadline:      input.Body.Deadline,
			ClearDeadline: input.Body.ClearDeadline,
		}
		if input.Body.Priority != nil {
			p := domain.Priority(*input.Body.Priority)
			upd.Priority = &p
		}
		t, err := e.UpdateTask(ctx, input.Ref, actorID, upd)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "change-task-status",
		Method:      http.MethodPost,
		Path:        "/tasks/{ref}/status",
		Summary:     "Change task status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string              `path:"ref"`
		Body ChangeStatusRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ChangeStatus(ctx, input.Ref, actorID, domain.Status(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reassign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{ref}/reassign",
		Summary:     "Reassign task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string          `path:"ref"`
		Body ReassignRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Reassign(ctx, input.Ref, actorID, input.Body.AssigneeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{ref}/cancel",
		Summary:     "Cancel task",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string        `path:"ref"`
		Body CancelRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.Cancel(ctx, input.Ref, actorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t, e.Now())}, nil
	})
}

func registerTaskDetails(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/tasks/{ref}/comments",
		Summary:       "Add comment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string            `path:"ref"`
		Body AddCommentRequest `json:"body"`
	}) (*struct {
		Body CommentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, input.Ref, actorID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CommentResponse `json:"body"`
		}{Body: commentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/tasks/{ref}/comments",
		Summary:     "List comments",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body []CommentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ViewTask(ctx, input.Ref, actorID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListComments(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []CommentResponse `json:"body"`
		}{Body: mapComments(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-file",
		Method:      http.MethodPut,
		Path:        "/tasks/{ref}/attachment",
		Summary:     "Add or replace the task attachment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref  string            `path:"ref"`
		Body AttachFileRequest `json:"body"`
	}) (*struct {
		Body AttachmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AttachFile(ctx, input.Ref, actorID, input.Body.Filename, input.Body.Size)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentResponse `json:"body"`
		}{Body: attachmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-attachment",
		Method:      http.MethodGet,
		Path:        "/tasks/{ref}/attachment",
		Summary:     "Get attachment metadata",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct {
		Body AttachmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ViewTask(ctx, input.Ref, actorID); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetAttachment(ctx, input.Ref)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AttachmentResponse `json:"body"`
		}{Body: attachmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-attachment",
		Method:      http.MethodDelete,
		Path:        "/tasks/{ref}/attachment",
		Summary:     "Remove the task attachment",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Ref string `path:"ref"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveAttachment(ctx, input.Ref, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-activity",
		Method:      http.MethodGet,
		Path:        "/tasks/{ref}/activity",
		Summary:     "Task activity trail",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ref   string `path:"ref"`
		Limit int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.ViewTask(ctx, input.Ref, actorID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListActivities(ctx, input.Ref, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: mapActivities(items)}, nil
	})
}

func registerUsers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Create user",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		role := domain.Role(input.Body.Role)
		if !role.Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown role %q", input.Body.Role), nil)
		}
		u := domain.User{
			ID:        newUserID(),
			Name:      strings.TrimSpace(input.Body.Name),
			Email:     strings.ToLower(strings.TrimSpace(input.Body.Email)),
			Role:      role,
			Unit:      strings.TrimSpace(input.Body.Unit),
			Active:    true,
			CreatedAt: e.Now().UTC(),
		}
		if u.Name == "" || u.Email == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name and email are required", nil)
		}
		if err := e.Repo.InsertUser(ctx, u); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-users",
		Method:      http.MethodGet,
		Path:        "/users",
		Summary:     "List users",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListUsers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-user",
		Method:      http.MethodDelete,
		Path:        "/users/{id}",
		Summary:     "Deactivate user",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		if err := e.Repo.SetUserActive(ctx, input.ID, false); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assignable-users",
		Method:      http.MethodGet,
		Path:        "/users/assignable",
		Summary:     "Users the caller may assign tasks to",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.AssignableUsers(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: mapUsers(items)}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		u, err := e.Directory.GetUser(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-task-counts",
		Method:      http.MethodGet,
		Path:        "/me/counts",
		Summary:     "Dashboard task counts",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body TaskCountsResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountTasksForUser(ctx, actorID, e.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskCountsResponse `json:"body"`
		}{Body: countsResponse(counts)}, nil
	})
}

// registerReports exposes the reporting dashboard queries. Scoping is
// decided in the engine: unit leads see their own unit, senior oversight and
// admins take an optional unit filter, everyone else is refused.
func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "report-summary",
		Method:      http.MethodGet,
		Path:        "/reports/summary",
		Summary:     "Task counts by status",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Unit string `query:"unit"`
	}) (*struct {
		Body repo.SummaryStats `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.ReportSummary(ctx, actorID, input.Unit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.SummaryStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-users",
		Method:      http.MethodGet,
		Path:        "/reports/users",
		Summary:     "Per-user task breakdown",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Unit string `query:"unit"`
	}) (*struct {
		Body []repo.UserTaskStats `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rows, err := e.ReportUserBreakdown(ctx, actorID, input.Unit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []repo.UserTaskStats `json:"body"`
		}{Body: rows}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-overdue",
		Method:      http.MethodGet,
		Path:        "/reports/overdue",
		Summary:     "Most overdue tasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Unit  string `query:"unit"`
		Limit int    `query:"limit" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ReportOverdue(ctx, actorID, input.Unit, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks, e.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-escalated",
		Method:      http.MethodGet,
		Path:        "/reports/escalated",
		Summary:     "Escalated tasks",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Unit  string `query:"unit"`
		Limit int    `query:"limit" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tasks, err := e.ReportEscalated(ctx, actorID, input.Unit, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(tasks, e.Now())}, nil
	})
}

// registerJobs exposes manual triggers for the escalation sweeps. Admin only;
// the sweeps are idempotent so a manual run alongside the ticker is safe.
func registerJobs(api huma.API, e engine.Engine, s *scheduler.Scheduler) {
	if s == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "run-deadline-reminders",
		Method:      http.MethodPost,
		Path:        "/jobs/deadline-reminders",
		Summary:     "Run the deadline reminder sweep",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scheduler.ReminderStats `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		stats, err := s.RunDeadlineReminders(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.ReminderStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-overdue-check",
		Method:      http.MethodPost,
		Path:        "/jobs/overdue-check",
		Summary:     "Run the overdue escalation sweep",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scheduler.OverdueStats `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		stats, err := s.RunOverdueCheck(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.OverdueStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-daily-digest",
		Method:      http.MethodPost,
		Path:        "/jobs/daily-digest",
		Summary:     "Run the daily digest sweep",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body scheduler.DigestStats `json:"body"`
	}, error) {
		if _, authErr := requireAdmin(ctx, e); authErr != nil {
			return nil, authErr
		}
		stats, err := s.RunDailyDigest(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body scheduler.DigestStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
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
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Taskline API Docs</title>
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

func newUserID() string { return uuid.New().String() }
