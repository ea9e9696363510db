package server

import (
	"aide/internal/agent/ports"
)

// APIResponse is the envelope every /api endpoint replies with.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateTaskRequest is the POST /api/tasks body.
type CreateTaskRequest struct {
	Goal           string                     `json:"goal" binding:"required"`
	Owner          string                     `json:"owner,omitempty"`
	IterationLimit int                        `json:"iteration_limit,omitempty"`
	WorkspacePath  string                     `json:"workspace_path,omitempty"`
	Metadata       map[string]string          `json:"metadata,omitempty"`
	Verification   *ports.VerificationRequest `json:"verification,omitempty"`
}

func (r CreateTaskRequest) options() ports.SubmitOptions {
	return ports.SubmitOptions{
		Owner:          r.Owner,
		IterationLimit: r.IterationLimit,
		WorkspacePath:  r.WorkspacePath,
		Metadata:       r.Metadata,
		Verification:   r.Verification,
	}
}

// TaskListResponse is the GET /api/tasks payload.
type TaskListResponse struct {
	Tasks []*ports.Task `json:"tasks"`
	Total int           `json:"total"`
}

// HealthResponse is the GET /healthz payload.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Tasks  int    `json:"tasks"`
}
