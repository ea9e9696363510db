package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"aide/internal/agent/ports"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Tasks:  len(s.coordinator.Tasks()),
	})
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks := s.coordinator.Tasks()
	if status := c.Query("status"); status != "" {
		filtered := make([]*ports.Task, 0, len(tasks))
		for _, task := range tasks {
			if task.Status == ports.TaskStatus(status) {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []*ports.Task{}
	}
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    TaskListResponse{Tasks: tasks, Total: len(tasks)},
	})
}

func (s *Server) handleGetTask(c *gin.Context) {
	id := c.Param("id")
	task, ok := s.coordinator.Task(id)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{
			Success: false,
			Error:   "task not found: " + id,
		})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: task})
}

func (s *Server) handleGetInterruption(c *gin.Context) {
	id := c.Param("id")
	if s.interruptions == nil {
		c.JSON(http.StatusInternalServerError, APIResponse{
			Success: false,
			Error:   "interruption store not configured",
		})
		return
	}
	record, err := s.interruptions.Interruption(c.Request.Context(), id)
	if errors.Is(err, ports.ErrNoInterruption) {
		c.JSON(http.StatusNotFound, APIResponse{
			Success: false,
			Error:   "no interruption recorded for task " + id,
		})
		return
	}
	if err != nil {
		s.logger.Error("Interruption lookup for %s failed: %v", id, err)
		c.JSON(http.StatusInternalServerError, APIResponse{
			Success: false,
			Error:   "interruption lookup failed",
		})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: record})
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "invalid request: " + err.Error(),
		})
		return
	}
	goal := strings.TrimSpace(req.Goal)
	if goal == "" {
		c.JSON(http.StatusBadRequest, APIResponse{
			Success: false,
			Error:   "goal is required",
		})
		return
	}

	task, err := s.coordinator.SubmitAsync(c.Request.Context(), goal, req.options())
	if errors.Is(err, ports.ErrDraining) {
		c.JSON(http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   err.Error(),
		})
		return
	}
	if err != nil {
		s.logger.Error("Task submission failed: %v", err)
		c.JSON(http.StatusInternalServerError, APIResponse{
			Success: false,
			Error:   "task submission failed: " + err.Error(),
		})
		return
	}

	s.logger.Info("Accepted task %s: %s", task.ID, truncateGoal(goal))
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Message: "task accepted",
		Data:    task,
	})
}

func truncateGoal(goal string) string {
	const max = 80
	if len(goal) <= max {
		return goal
	}
	return goal[:max] + "..."
}
