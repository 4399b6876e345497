package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/logger"
)

type studentStore interface {
	Create(ctx context.Context, student *models.Student) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

type studentAssigner interface {
	AssignWithinTx(ctx context.Context, trainerID, studentID string) (*dto.AssignmentResult, error)
	WithAssignmentRetry(ctx context.Context, trainerID string, fn func(ctx context.Context) error) error
}

// StudentService manages a trainer's roster.
type StudentService struct {
	repo      studentStore
	assigner  studentAssigner
	cache     capacityCacheInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs the service.
func NewStudentService(repo studentStore, assigner studentAssigner, cache capacityCacheInvalidator, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{repo: repo, assigner: assigner, cache: cache, validator: validate, logger: logger}
}

// Create adds a student. With Activate set the student is created and bound
// in the same transaction, so a trainer without capacity gets an error and
// no new row.
func (s *StudentService) Create(ctx context.Context, trainerID string, req dto.CreateStudentRequest) (*dto.StudentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	var (
		studentID  string
		assignment *dto.AssignmentResult
	)
	err := s.assigner.WithAssignmentRetry(ctx, trainerID, func(ctx context.Context) error {
		student := &models.Student{
			ID:        studentID,
			TrainerID: trainerID,
			FullName:  strings.TrimSpace(req.FullName),
			Email:     req.Email,
			Phone:     req.Phone,
			Status:    models.StudentInactive,
		}
		if err := s.repo.Create(ctx, student); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		}
		studentID = student.ID
		if !req.Activate {
			return nil
		}
		result, err := s.assigner.AssignWithinTx(ctx, trainerID, student.ID)
		if err != nil {
			return err
		}
		assignment = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	student, err := s.repo.FindByID(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if assignment != nil && s.cache != nil {
		s.cache.InvalidateTrainer(ctx, trainerID)
	}
	logger.WithContext(ctx, s.logger).Info("student created",
		zap.String("trainer_id", trainerID), zap.String("student_id", student.ID), zap.Bool("activated", assignment != nil))
	return &dto.StudentResponse{Student: *student, Assignment: assignment}, nil
}

// Get returns one of the trainer's students.
func (s *StudentService) Get(ctx context.Context, trainerID, id string) (*models.Student, error) {
	student, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if student.TrainerID != trainerID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
	}
	return student, nil
}

// List pages through the trainer's roster.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error) {
	switch filter.Status {
	case "", models.StudentActive, models.StudentInactive:
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "status must be active or inactive")
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	if students == nil {
		students = []models.Student{}
	}
	page, size := normalisePage(filter.Page, filter.PageSize)
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func normalisePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
