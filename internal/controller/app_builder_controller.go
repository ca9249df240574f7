package controller

import (
	"bytes"
	"io"
	"strconv"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/pkg/apperror"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/internal/pkg/serverutils"
	"apk-builder-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAppBuilderController interface {
	RegisterRoutes(r fiber.Router)
	PreFetch(ctx *fiber.Ctx) error
	Upload(ctx *fiber.Ctx) error
	UploadStatus(ctx *fiber.Ctx) error
	Verify(ctx *fiber.Ctx) error
	State(ctx *fiber.Ctx) error
	Logs(ctx *fiber.Ctx) error
}

type appBuilderController struct {
	sessionService  service.ISessionService
	pipelineService service.IPipelineService
	uploadService   service.IUploadService
	verifyService   service.IVerifyService
	logger          logger.ILogger
}

func NewAppBuilderController(
	sessionService service.ISessionService,
	pipelineService service.IPipelineService,
	uploadService service.IUploadService,
	verifyService service.IVerifyService,
	logger logger.ILogger,
) IAppBuilderController {
	return &appBuilderController{
		sessionService:  sessionService,
		pipelineService: pipelineService,
		uploadService:   uploadService,
		verifyService:   verifyService,
		logger:          logger,
	}
}

func (c *appBuilderController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/app-builder")
	h.Post("/pre-fetch", c.PreFetch)
	h.Post("/upload", c.Upload)
	h.Get("/upload/status", c.UploadStatus)
	h.Post("/verify", c.Verify)
	h.Get("/state", c.State)
	h.Get("/logs", c.Logs)
}

func (c *appBuilderController) PreFetch(ctx *fiber.Ctx) error {
	var req dto.PreFetchRequest
	if err := ctx.BodyParser(&req); err != nil {
		return apperror.Wrap(apperror.CodeStructuralValidation, "invalid body", err)
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.sessionService.Create(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success create connection", res))
}

func (c *appBuilderController) Upload(ctx *fiber.Ctx) error {
	query, err := parseSessionQuery(ctx)
	if err != nil {
		return err
	}

	req := dto.UploadRequest{
		ConnectionID:  query.ConnectionID,
		Hash:          query.Hash,
		ContentRange:  ctx.Get(fiber.HeaderContentRange),
		ContentLength: int64(ctx.Request().Header.ContentLength()),
	}
	if raw := ctx.Get("X-File-Size"); raw != "" {
		size, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || size < 0 {
			return apperror.Newf(apperror.CodeStructuralValidation, "invalid X-File-Size %q", raw)
		}
		req.FileSize = size
	}

	// With StreamRequestBody every request has a stream. Body() would drain it
	// and swallow read errors into the body, so it is only the fallback.
	var body io.Reader
	if stream := ctx.Context().RequestBodyStream(); stream != nil {
		body = stream
	} else {
		body = bytes.NewReader(ctx.Body())
	}

	res, err := c.uploadService.Upload(ctx.UserContext(), &req, body)
	if err != nil {
		return err
	}

	if res.Complete {
		verification, err := c.verifyService.Verify(ctx.UserContext(), req.ConnectionID, req.Hash)
		if err != nil {
			// The upload itself succeeded; the client can re-run /verify.
			c.logger.Warn("APP_BUILDER", "Post-upload verification failed", map[string]interface{}{
				"connection_id": req.ConnectionID,
				"error":         err.Error(),
			})
		} else {
			res.Verification = verification
		}
	}

	return ctx.JSON(serverutils.SuccessResponse("Success upload range", res))
}

func (c *appBuilderController) UploadStatus(ctx *fiber.Ctx) error {
	query, err := parseSessionQuery(ctx)
	if err != nil {
		return err
	}

	res, err := c.uploadService.Status(ctx.UserContext(), query.ConnectionID, query.Hash)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get upload status", res))
}

func (c *appBuilderController) Verify(ctx *fiber.Ctx) error {
	query, err := parseSessionQuery(ctx)
	if err != nil {
		return err
	}

	res, err := c.verifyService.Verify(ctx.UserContext(), query.ConnectionID, query.Hash)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success verify upload", res))
}

func (c *appBuilderController) State(ctx *fiber.Ctx) error {
	var query dto.StateQuery
	if err := ctx.QueryParser(&query); err != nil {
		return apperror.Wrap(apperror.CodeStructuralValidation, "invalid query", err)
	}
	if err := serverutils.ValidateRequest(query); err != nil {
		return err
	}

	res, err := c.pipelineService.Snapshot(query.ConnectionID)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get state", res))
}

func (c *appBuilderController) Logs(ctx *fiber.Ctx) error {
	var query dto.LogQuery
	if err := ctx.QueryParser(&query); err != nil {
		return apperror.Wrap(apperror.CodeStructuralValidation, "invalid query", err)
	}
	if query.Limit <= 0 {
		query.Limit = 100
	}

	logs, err := c.logger.GetLogs(logger.LogFilter{
		Level:  query.Level,
		Module: query.Module,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get logs", logs))
}

func parseSessionQuery(ctx *fiber.Ctx) (*dto.SessionQuery, error) {
	var query dto.SessionQuery
	if err := ctx.QueryParser(&query); err != nil {
		return nil, apperror.Wrap(apperror.CodeStructuralValidation, "invalid query", err)
	}
	if err := serverutils.ValidateRequest(query); err != nil {
		return nil, err
	}
	return &query, nil
}
