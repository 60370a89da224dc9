package handler

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/vectaconvert/api/internal/middleware"
	"github.com/vectaconvert/api/internal/model"
	"github.com/vectaconvert/api/internal/service"
	"github.com/vectaconvert/api/pkg/response"
)

type JobHandler struct {
	service   *service.JobService
	validator *validator.Validate
}

func NewJobHandler(svc *service.JobService, v *validator.Validate) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", validationDetails(err))
	}

	result, err := h.service.CreateJob(c.Context(), middleware.SessionToken(c), &req)
	if err != nil {
		return h.fail(c, err)
	}
	return response.Created(c, result)
}

// Start handles POST /api/jobs/:id/start
func (h *JobHandler) Start(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	// The body is optional; an empty one means start everything.
	var req model.StartJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return response.ValidationError(c, "Invalid request body", nil)
		}
	}

	err := h.service.StartJob(c.Context(), jobID, middleware.SessionToken(c), req.ExcludeFileIDs)
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, fiber.Map{"started": true})
}

// Status handles GET /api/jobs/:id
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.Context(), jobID, middleware.SessionToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, result)
}

// Download handles GET /api/jobs/:id/download/:fileId
func (h *JobHandler) Download(c *fiber.Ctx) error {
	jobID := c.Params("id")
	fileID := c.Params("fileId")
	if jobID == "" || fileID == "" {
		return response.ValidationError(c, "Job ID and file ID are required", nil)
	}

	result, err := h.service.GetDownloadURL(c.Context(), jobID, fileID, middleware.SessionToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, result)
}

// DownloadAll handles GET /api/jobs/:id/download and streams a zip of every
// completed output. Preconditions run before the body starts; a storage
// failure mid-stream can only truncate the archive.
func (h *JobHandler) DownloadAll(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, files, err := h.service.PrepareArchive(c.Context(), jobID, middleware.SessionToken(c))
	if err != nil {
		return h.fail(c, err)
	}

	fileName := fmt.Sprintf("converted-%s.zip", time.Now().Format("20060102-150405"))
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+fileName+`"`)
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		if err := h.service.WriteArchive(context.Background(), job, files, w); err != nil {
			log.Printf("Archive stream for job %s aborted: %v", job.ID, err)
		}
	})
	return nil
}

func (h *JobHandler) fail(c *fiber.Ctx, err error) error {
	log.Printf("%s %s failed: %v", c.Method(), c.Path(), err)
	return response.FromError(c, err)
}

func validationDetails(err error) interface{} {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = fe.Tag()
	}
	return details
}
