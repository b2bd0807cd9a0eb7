package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"reportline/backend/internal/crypto"
	"reportline/backend/internal/domain"
	"reportline/backend/internal/storage"
	"reportline/backend/internal/tracking"
)

// maxIDAttempts 追踪编号冲突时的最大重试次数
const maxIDAttempts = 5

// rollbackTimeout 回滚附件时使用的独立超时，请求上下文可能已取消
const rollbackTimeout = 5 * time.Second

// ErrIDExhausted 连续生成的追踪编号都已存在
var ErrIDExhausted = errors.New("tracking id attempts exhausted")

// AttachmentInput 提交时携带的附件
type AttachmentInput struct {
	Filename string
	Data     []byte
}

// SubmitInput 定义提交举报所需的输入。
type SubmitInput struct {
	Subject    string
	Message    string
	Anonymous  bool
	Email      string
	Attachment *AttachmentInput
}

// ReportService 封装举报的提交与查询。
type ReportService struct {
	store       storage.BlobStore
	gateway     *crypto.Gateway
	attachments *AttachmentStore
	validator   *SubmissionValidator
	log         *zap.Logger
	newID       func() (string, error)
	now         func() time.Time
}

// NewReportService 创建举报业务服务。
func NewReportService(store storage.BlobStore, gateway *crypto.Gateway, attachments *AttachmentStore, log *zap.Logger) *ReportService {
	if log == nil {
		log = zap.NewNop()
	}
	if attachments == nil {
		attachments = NewAttachmentStore(store, gateway, nil)
	}
	return &ReportService{
		store:       store,
		gateway:     gateway,
		attachments: attachments,
		validator:   NewSubmissionValidator(),
		log:         log.Named("report"),
		newID:       tracking.New,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit 校验、加密并保存举报，成功后返回追踪编号。
//
// 附件先写入，报告记录最后写入作为发布步骤；记录写入失败时删除已写入的附件。
func (s *ReportService) Submit(ctx context.Context, input SubmitInput) (string, error) {
	report, att, err := s.prepare(input)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.allocateID(ctx)
		if err != nil {
			return "", err
		}

		err = s.write(ctx, id, report, att)
		if errors.Is(err, storage.ErrObjectExists) {
			// Exists 与 Put 之间被其它请求抢先写入
			s.log.Warn("tracking id taken during write, regenerating", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return "", err
		}

		s.log.Info("report submitted",
			zap.Bool("anonymous", report.Email == nil),
			zap.Bool("attachment", report.Attachment != nil),
		)
		return id, nil
	}
	return "", fmt.Errorf("%w: %w", domain.ErrStorage, ErrIDExhausted)
}

// write 以 id 写入附件和报告记录，返回 storage.ErrObjectExists 表示需要换编号重试
func (s *ReportService) write(ctx context.Context, id string, report *domain.Report, att *checkedAttachment) error {
	report.TrackingID = id
	report.Attachment = nil

	var meta *domain.AttachmentMeta
	if att != nil {
		var err error
		meta, err = s.attachments.put(ctx, id, att)
		if errors.Is(err, storage.ErrObjectExists) {
			return err
		}
		if err != nil {
			s.log.Error("failed to store attachment", zap.Error(err))
			return fmt.Errorf("%w: attachment write", domain.ErrStorage)
		}
		report.Attachment = meta
	}

	err := s.publish(ctx, report)
	if err == nil {
		return nil
	}

	s.rollback(meta)
	if errors.Is(err, storage.ErrObjectExists) {
		return err
	}
	s.log.Error("failed to store report record", zap.Error(err))
	return fmt.Errorf("%w: record write", domain.ErrStorage)
}

// prepare 完成全部校验，有任何错误时返回 ValidationError 且不产生写入
func (s *ReportService) prepare(input SubmitInput) (*domain.Report, *checkedAttachment, error) {
	verr := domain.NewValidationError()

	subject := strings.TrimSpace(input.Subject)
	message := strings.TrimSpace(input.Message)
	s.validator.Text(subject, message, verr)

	// 匿名提交时无论是否填写都丢弃邮箱
	var email *string
	if !input.Anonymous {
		addr := strings.TrimSpace(input.Email)
		s.validator.Email(addr, verr)
		if addr != "" {
			email = &addr
		}
	}

	var att *checkedAttachment
	if input.Attachment != nil {
		checked, err := s.attachments.check(input.Attachment.Filename, input.Attachment.Data)
		if err != nil {
			verr.Add("attachment", attachmentMessage(err))
		}
		att = checked
	}

	if verr.HasErrors() {
		return nil, nil, verr
	}

	return &domain.Report{
		Subject:     subject,
		Message:     message,
		Email:       email,
		SubmittedAt: s.now(),
	}, att, nil
}

// allocateID 生成一个当前不存在的追踪编号
func (s *ReportService) allocateID(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", fmt.Errorf("%w: generate tracking id: %v", domain.ErrStorage, err)
		}

		exists, err := s.store.Exists(ctx, storage.ReportKey(id))
		if err != nil {
			s.log.Error("failed to check tracking id", zap.Error(err))
			return "", fmt.Errorf("%w: exists check", domain.ErrStorage)
		}
		if !exists {
			return id, nil
		}
		s.log.Warn("tracking id collision, regenerating", zap.Int("attempt", attempt))
	}
	return "", fmt.Errorf("%w: %w", domain.ErrStorage, ErrIDExhausted)
}

// publish 序列化、加密并写入报告记录
func (s *ReportService) publish(ctx context.Context, report *domain.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	plaintext, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	key := storage.ReportKey(report.TrackingID)
	envelope, err := s.gateway.Seal(plaintext, []byte(key))
	if err != nil {
		return fmt.Errorf("encrypt report: %w", err)
	}

	return s.store.Put(ctx, key, []byte(envelope))
}

func (s *ReportService) rollback(meta *domain.AttachmentMeta) {
	if meta == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()

	if err := s.attachments.Delete(ctx, meta); err != nil {
		s.log.Error("failed to roll back attachment", zap.Error(err))
	}
}

// Status 返回追踪编号对应的公开状态，只包含主题、提交时间和邮箱。
func (s *ReportService) Status(ctx context.Context, trackingID string) (*domain.Status, error) {
	report, err := s.load(ctx, trackingID)
	if err != nil {
		return nil, err
	}
	return report.PublicStatus(), nil
}

// Open 读取完整报告，仅供负责人在服务端使用，不对外暴露。
func (s *ReportService) Open(ctx context.Context, trackingID string) (*domain.Report, error) {
	return s.load(ctx, trackingID)
}

// OpenAttachment 读取报告附件，报告没有附件时返回 domain.ErrNotFound
func (s *ReportService) OpenAttachment(ctx context.Context, trackingID string) (*domain.AttachmentMeta, []byte, error) {
	report, err := s.load(ctx, trackingID)
	if err != nil {
		return nil, nil, err
	}
	if report.Attachment == nil {
		return nil, nil, domain.ErrNotFound
	}

	data, err := s.attachments.Get(ctx, report.Attachment)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			s.log.Error("attachment referenced by report is missing")
		} else {
			s.log.Error("failed to read attachment", zap.Error(err))
		}
		return nil, nil, domain.ErrInternal
	}
	return report.Attachment, data, nil
}

// load 读取并解密报告记录
//
// 编号格式错误与编号不存在都返回 ErrNotFound；其它失败统一为 ErrInternal，细节只写日志
func (s *ReportService) load(ctx context.Context, trackingID string) (*domain.Report, error) {
	if !tracking.Valid(trackingID) {
		return nil, domain.ErrNotFound
	}

	key := storage.ReportKey(trackingID)
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, domain.ErrNotFound
		}
		s.log.Error("failed to read report record", zap.Error(err))
		return nil, domain.ErrInternal
	}

	plaintext, err := s.gateway.Open(string(raw), []byte(key))
	if err != nil {
		s.log.Error("failed to decrypt report record", zap.Error(err), zap.Int("size", len(raw)))
		return nil, domain.ErrInternal
	}

	var report domain.Report
	if err := json.Unmarshal(plaintext, &report); err != nil {
		s.log.Error("failed to decode report record", zap.Error(err))
		return nil, domain.ErrInternal
	}
	if report.TrackingID != trackingID {
		s.log.Error("report record does not match its key")
		return nil, domain.ErrInternal
	}

	return &report, nil
}
