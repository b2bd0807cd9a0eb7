package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reportline/backend/internal/domain"
	"reportline/backend/internal/middleware"
	"reportline/backend/internal/monitoring"
	"reportline/backend/internal/pool"
	"reportline/backend/internal/service"
)

const (
	// acquireTimeout 等待上传名额的最长时间
	acquireTimeout = 5 * time.Second

	// maxFieldBytes 单个文本表单字段的读取上限，容纳最长正文的多字节编码
	maxFieldBytes = 4 * service.MaxMessageLength
)

var (
	errInvalidJSON        = errors.New("invalid json body")
	errInvalidForm        = errors.New("invalid multipart form")
	errDuplicateFile      = errors.New("more than one attachment")
	errAttachmentTooLarge = errors.New("attachment exceeds limit")
	errFieldTooLarge      = errors.New("form field exceeds limit")
)

// ReportHandler 举报提交与状态查询
type ReportHandler struct {
	reports       *service.ReportService
	uploads       *pool.UploadLimiter
	metrics       *monitoring.Metrics
	maxAttachment int64
	logger        *zap.Logger
}

// NewReportHandler 创建举报处理器
//
// maxAttachment 为附件明文上限，读取时据此截断，与校验策略保持一致
func NewReportHandler(reports *service.ReportService, uploads *pool.UploadLimiter, metrics *monitoring.Metrics, maxAttachment int64, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if uploads == nil {
		uploads = pool.NewUploadLimiter(pool.DefaultMaxUploads)
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &ReportHandler{
		reports:       reports,
		uploads:       uploads,
		metrics:       metrics,
		maxAttachment: maxAttachment,
		logger:        logger.Named("report_handler"),
	}
}

// submitRequest JSON 提交格式
type submitRequest struct {
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Anonymous bool   `json:"anonymous"`
	Email     string `json:"email"`
}

type submitResponse struct {
	TrackingID string `json:"trackingId"`
}

// Submit godoc
// @Summary 提交举报
// @Description 接收 JSON 或 multipart 表单，加密保存后返回追踪编号；匿名提交时不保存邮箱
// @Tags Reports
// @Accept json,mpfd
// @Produce json
// @Param subject formData string true "标题"
// @Param message formData string true "正文"
// @Param anonymous formData bool false "是否匿名"
// @Param email formData string false "联系邮箱"
// @Param attachment formData file false "附件"
// @Success 201 {object} Response{data=submitResponse}
// @Failure 400 {object} Response
// @Failure 413 {object} Response
// @Failure 503 {object} Response
// @Failure 500 {object} Response
// @Router /v1/reports [post]
func (h *ReportHandler) Submit(c *gin.Context) {
	var (
		input service.SubmitInput
		err   error
	)

	if strings.HasPrefix(strings.ToLower(c.ContentType()), "multipart/") {
		release, acquireErr := h.acquireUpload(c.Request.Context())
		if acquireErr != nil {
			h.metrics.RecordSubmission(monitoring.OutcomeBusy)
			ServiceUnavailable(c, MsgUploadBusy)
			return
		}
		defer release()
		input, err = h.readMultipart(c)
	} else {
		input, err = h.readJSON(c)
	}
	if err != nil {
		h.rejectInput(c, err)
		return
	}

	if input.Attachment != nil {
		h.metrics.RecordAttachmentSize(int64(len(input.Attachment.Data)))
	}

	trackingID, err := h.reports.Submit(c.Request.Context(), input)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			h.metrics.RecordSubmission(monitoring.OutcomeValidation)
		} else {
			h.metrics.RecordSubmission(monitoring.OutcomeFailure)
			h.metrics.RecordError("submit_failed", "report")
		}
		RespondError(c, err)
		return
	}

	h.metrics.RecordSubmission(monitoring.OutcomeSuccess)
	CreatedWithMsg(c, MsgReportCreated, submitResponse{TrackingID: trackingID})
}

// Status godoc
// @Summary 查询举报状态
// @Description 凭追踪编号查询标题、提交时间和联系邮箱，不返回正文和附件
// @Tags Reports
// @Produce json
// @Param trackingId path string true "追踪编号"
// @Success 200 {object} Response{data=domain.Status}
// @Failure 404 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /v1/reports/{trackingId} [get]
func (h *ReportHandler) Status(c *gin.Context) {
	status, err := h.reports.Status(c.Request.Context(), c.Param("trackingId"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			h.metrics.RecordStatusLookup(monitoring.OutcomeNotFound)
		} else {
			h.metrics.RecordStatusLookup(monitoring.OutcomeFailure)
			h.metrics.RecordError("status_failed", "report")
		}
		RespondError(c, err)
		return
	}

	h.metrics.RecordStatusLookup(monitoring.OutcomeSuccess)
	Success(c, status)
}

// acquireUpload 获取上传名额并同步在途数量指标
func (h *ReportHandler) acquireUpload(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	release, err := h.uploads.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	h.metrics.UploadsInFlight.Set(float64(h.uploads.InFlight()))

	return func() {
		release()
		h.metrics.UploadsInFlight.Set(float64(h.uploads.InFlight()))
	}, nil
}

func (h *ReportHandler) readJSON(c *gin.Context) (service.SubmitInput, error) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return service.SubmitInput{}, fmt.Errorf("%w: %w", errInvalidJSON, err)
	}
	return service.SubmitInput{
		Subject:   req.Subject,
		Message:   req.Message,
		Anonymous: req.Anonymous,
		Email:     req.Email,
	}, nil
}

// readMultipart 流式读取表单，附件读取超过上限即停止
func (h *ReportHandler) readMultipart(c *gin.Context) (service.SubmitInput, error) {
	var input service.SubmitInput

	mr, err := c.Request.MultipartReader()
	if err != nil {
		return input, errInvalidForm
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return input, err
		}

		err = h.readPart(part.FormName(), part.FileName(), part, &input)
		part.Close()
		if err != nil {
			return input, err
		}
	}
	return input, nil
}

func (h *ReportHandler) readPart(field, filename string, r io.Reader, input *service.SubmitInput) error {
	switch field {
	case "attachment":
		if filename == "" {
			// 浏览器在未选择文件时也会提交空的文件字段
			_, err := io.Copy(io.Discard, r)
			return err
		}
		if input.Attachment != nil {
			return errDuplicateFile
		}
		data, err := io.ReadAll(io.LimitReader(r, h.maxAttachment+1))
		if err != nil {
			return err
		}
		if int64(len(data)) > h.maxAttachment {
			return errAttachmentTooLarge
		}
		input.Attachment = &service.AttachmentInput{Filename: filename, Data: data}
		return nil

	case "subject", "message", "email", "anonymous":
		value, err := readField(r)
		if err != nil {
			return err
		}
		switch field {
		case "subject":
			input.Subject = value
		case "message":
			input.Message = value
		case "email":
			input.Email = value
		case "anonymous":
			input.Anonymous = parseFormBool(value)
		}
		return nil

	default:
		_, err := io.Copy(io.Discard, r)
		return err
	}
}

func readField(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxFieldBytes+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxFieldBytes {
		return "", errFieldTooLarge
	}
	return string(data), nil
}

// parseFormBool 解析复选框取值，无法识别时按未勾选处理
func parseFormBool(v string) bool {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "on") {
		return true
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// rejectInput 请求体未能解析为提交内容
func (h *ReportHandler) rejectInput(c *gin.Context, err error) {
	switch {
	case middleware.IsBodyTooLarge(err), errors.Is(err, errFieldTooLarge):
		h.metrics.RecordSubmission(monitoring.OutcomeTooLarge)
		PayloadTooLarge(c, MsgBodyTooLarge)
	case errors.Is(err, errAttachmentTooLarge):
		h.metrics.RecordSubmission(monitoring.OutcomeTooLarge)
		PayloadTooLarge(c, MsgAttachmentLarge)
	case errors.Is(err, errInvalidJSON):
		h.logger.Debug("unreadable json body", zap.Error(err))
		h.metrics.RecordSubmission(monitoring.OutcomeValidation)
		BadRequest(c, MsgInvalidJSON)
	case errors.Is(err, errDuplicateFile), errors.Is(err, errInvalidForm):
		h.metrics.RecordSubmission(monitoring.OutcomeValidation)
		BadRequest(c, MsgInvalidForm)
	default:
		h.logger.Debug("unreadable submission body", zap.Error(err))
		h.metrics.RecordSubmission(monitoring.OutcomeValidation)
		BadRequest(c, MsgInvalidRequest)
	}
}
