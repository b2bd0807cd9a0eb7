package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"reportline/backend/internal/domain"
	"reportline/backend/internal/security"
)

// 字段长度限制
const (
	MaxSubjectLength = 200
	MaxMessageLength = 20000
	MaxEmailLength   = 254
)

// submissionFields 参与校验的文本字段，max 按字符数计算
type submissionFields struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Message string `json:"message" validate:"required,max=20000"`
}

// SubmissionValidator 提交内容校验器
type SubmissionValidator struct {
	validate *validator.Validate
}

// NewSubmissionValidator 创建校验器，字段名取 json 标签
func NewSubmissionValidator() *SubmissionValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &SubmissionValidator{validate: v}
}

// Text 校验主题与正文，调用前应已去除首尾空白
func (sv *SubmissionValidator) Text(subject, message string, verr *domain.ValidationError) {
	err := sv.validate.Struct(submissionFields{Subject: subject, Message: message})
	sv.collect(err, verr)
}

// Email 在非匿名提交且填写了邮箱时校验格式
func (sv *SubmissionValidator) Email(email string, verr *domain.ValidationError) {
	if email == "" {
		return
	}
	err := sv.validate.Var(email, fmt.Sprintf("email,max=%d", MaxEmailLength))
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			verr.Add("email", fieldMessage(fe.Tag(), fe.Param()))
		}
	}
}

func (sv *SubmissionValidator) collect(err error, verr *domain.ValidationError) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return
	}
	for _, fe := range verrs {
		verr.Add(fe.Field(), fieldMessage(fe.Tag(), fe.Param()))
	}
}

// fieldMessage 校验规则对应的提示
func fieldMessage(tag, param string) string {
	switch tag {
	case "required":
		return "不能为空"
	case "max":
		return fmt.Sprintf("长度不能超过 %s 个字符", param)
	case "email":
		return "邮箱格式不正确"
	default:
		return "格式不正确"
	}
}

// attachmentMessage 附件策略错误对应的提示
func attachmentMessage(err error) string {
	switch {
	case errors.Is(err, security.ErrAttachmentTooLarge):
		return "附件超过大小限制"
	case errors.Is(err, security.ErrEmptyAttachment):
		return "附件不能为空"
	case errors.Is(err, security.ErrExtensionNotAllowed):
		return "不支持的附件类型"
	case errors.Is(err, security.ErrExecutableContent):
		return "附件内容不被允许"
	case errors.Is(err, security.ErrInvalidFilename):
		return "附件文件名无效"
	default:
		return "附件无效"
	}
}
