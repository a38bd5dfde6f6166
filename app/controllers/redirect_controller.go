package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/app/repository"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/ManuelReschke/Redirector/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Redirector/internal/pkg/mapping"
)

// MappingJobs is the redirect mapping job subsystem
type MappingJobs interface {
	SubmitFromFile(ctx context.Context, applicationID, redirectID, filePath string) (*jobqueue.Job, error)
	SubmitFromPayload(ctx context.Context, applicationID, redirectID string, doc mapping.Document) (*jobqueue.Job, error)
	GetJob(ctx context.Context, queue string, jobID int64, applicationID, redirectID string) (*jobqueue.Job, error)
	GetCurrentMapping(ctx context.Context, applicationID, redirectID string) ([]mapping.Pair, error)
}

type RedirectController struct {
	redirects repository.RedirectRepository
	jobs      MappingJobs
	tmpDir    string
}

// NewRedirectController creates the controller. Uploads are buffered in
// tmpDir (os.TempDir when empty) until the job subsystem staged them.
func NewRedirectController(redirects repository.RedirectRepository, jobs MappingJobs, tmpDir string) *RedirectController {
	return &RedirectController{redirects: redirects, jobs: jobs, tmpDir: tmpDir}
}

type createRedirectRequest struct {
	HostSources    []string `json:"hostSources"`
	TargetHost     string   `json:"targetHost"`
	TargetProtocol string   `json:"targetProtocol"`
}

type jobResponse struct {
	Queue      string             `json:"queue"`
	JobID      int64              `json:"jobId"`
	Status     jobqueue.JobStatus `json:"status"`
	Result     []mapping.Pair     `json:"result,omitempty"`
	Error      *jobqueue.JobError `json:"error,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	StartedAt  *time.Time         `json:"startedAt,omitempty"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
}

func jobView(job *jobqueue.Job) jobResponse {
	return jobResponse{
		Queue:      job.Queue,
		JobID:      job.ID,
		Status:     job.Status,
		Result:     job.Result,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

func (rc *RedirectController) HandleCreateRedirect(c *fiber.Ctx) error {
	var req createRedirectRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	redirect := &models.Redirect{
		ApplicationID:  c.Params("applicationId"),
		TargetHost:     strings.ToLower(strings.TrimSpace(req.TargetHost)),
		TargetProtocol: strings.ToLower(strings.TrimSpace(req.TargetProtocol)),
	}
	if redirect.TargetProtocol == "" {
		redirect.TargetProtocol = models.TargetProtocolHTTPS
	}
	for _, host := range req.HostSources {
		redirect.HostSources = append(redirect.HostSources, strings.ToLower(strings.TrimSpace(host)))
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	if err := rc.redirects.Create(ctx, redirect); err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(redirect)
}

// HandleSubmitMapping accepts a mapping table as multipart upload (field
// "file"), raw octet-stream body or JSON document and answers with the
// queued job.
func (rc *RedirectController) HandleSubmitMapping(c *fiber.Ctx) error {
	const op = "redirects.submit_mapping"

	applicationID := c.Params("applicationId")
	redirectID := c.Params("redirectId")
	contentType := strings.ToLower(string(c.Request().Header.ContentType()))

	ctx, cancel := requestContext(c)
	defer cancel()

	var job *jobqueue.Job
	var err error
	switch {
	case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
		fh, ferr := c.FormFile("file")
		if ferr != nil {
			return badRequest(c, "Missing upload field \"file\"")
		}
		path, cleanup, terr := rc.tempFile(filepath.Ext(fh.Filename))
		if terr != nil {
			return respondError(c, apperror.JobSubmission(op, terr))
		}
		defer cleanup()
		if serr := c.SaveFile(fh, path); serr != nil {
			return respondError(c, apperror.JobSubmission(op, fmt.Errorf("failed to save upload: %w", serr)))
		}
		job, err = rc.jobs.SubmitFromFile(ctx, applicationID, redirectID, path)

	case strings.HasPrefix(contentType, fiber.MIMEOctetStream):
		path, cleanup, terr := rc.tempFile(filepath.Ext(c.Query("filename")))
		if terr != nil {
			return respondError(c, apperror.JobSubmission(op, terr))
		}
		defer cleanup()
		if werr := os.WriteFile(path, c.Body(), 0600); werr != nil {
			return respondError(c, apperror.JobSubmission(op, fmt.Errorf("failed to save upload: %w", werr)))
		}
		job, err = rc.jobs.SubmitFromFile(ctx, applicationID, redirectID, path)

	case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
		var doc mapping.Document
		dec := json.NewDecoder(bytes.NewReader(c.Body()))
		dec.DisallowUnknownFields()
		if derr := dec.Decode(&doc); derr != nil {
			return badRequest(c, "Invalid mapping document: "+derr.Error())
		}
		job, err = rc.jobs.SubmitFromPayload(ctx, applicationID, redirectID, doc)

	default:
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error":   "UnsupportedMediaType",
			"message": "Send the mapping as multipart/form-data, application/octet-stream or application/json.",
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(jobView(job))
}

func (rc *RedirectController) HandleGetMapping(c *fiber.Ctx) error {
	ctx, cancel := requestContext(c)
	defer cancel()

	pairs, err := rc.jobs.GetCurrentMapping(ctx, c.Params("applicationId"), c.Params("redirectId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(mapping.Document{FromTo: pairs})
}

func (rc *RedirectController) HandleGetJob(c *fiber.Ctx) error {
	jobID, err := strconv.ParseInt(c.Params("jobId"), 10, 64)
	if err != nil {
		return respondError(c, apperror.NotFound("redirects.get_job", "Job does not exist."))
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	job, err := rc.jobs.GetJob(ctx, c.Params("queue"), jobID, c.Params("applicationId"), c.Params("redirectId"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(jobView(job))
}

// tempFile reserves a file for an upload. ext is kept when it names a
// supported format.
func (rc *RedirectController) tempFile(ext string) (string, func(), error) {
	switch strings.ToLower(ext) {
	case ".csv", ".json", ".txt":
	default:
		ext = ""
	}
	f, err := os.CreateTemp(rc.tmpDir, "fromto-*"+ext)
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	return path, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Warnf("[API] Failed to remove temp upload %s: %v", path, err)
		}
	}, nil
}
