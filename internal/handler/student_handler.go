package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/response"
)

type studentService interface {
	Create(ctx context.Context, trainerID string, req dto.CreateStudentRequest) (*dto.StudentResponse, error)
	Get(ctx context.Context, trainerID, id string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
}

type studentActivation interface {
	Assign(ctx context.Context, trainerID, studentID string) (*dto.AssignmentResult, error)
	Deactivate(ctx context.Context, trainerID, studentID string, reason models.TransitionReason) (*models.Student, bool, error)
}

// StudentHandler exposes the roster and per-student activation.
type StudentHandler struct {
	students   studentService
	activation studentActivation
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService, activation studentActivation) *StudentHandler {
	return &StudentHandler{students: students, activation: activation}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param status query string false "active | inactive"
// @Param search query string false "Search by name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size := pageParams(c)
	filter := models.StudentFilter{
		TrainerID: trainerID,
		Status:    models.StudentStatus(strings.TrimSpace(c.Query("status"))),
		Search:    strings.TrimSpace(c.Query("search")),
		Page:      page,
		PageSize:  size,
	}
	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	student, err := h.students.Get(c.Request.Context(), trainerID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, student)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body dto.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.CreateStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	student, err := h.students.Create(c.Request.Context(), trainerID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Activate godoc
// @Summary Activate or reactivate a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id}/activate [post]
func (h *StudentHandler) Activate(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.activation.Assign(c.Request.Context(), trainerID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Deactivate godoc
// @Summary Deactivate a student
// @Description The student's unit stays consumed until an administrator releases it.
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/deactivate [post]
func (h *StudentHandler) Deactivate(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	student, changed, err := h.activation.Deactivate(c.Request.Context(), trainerID, c.Param("id"), models.ReasonManualDeactivation)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil, map[string]interface{}{"changed": changed})
}
