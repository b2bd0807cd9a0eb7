package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reportline/backend/internal/domain"
)

// 通用错误消息
const (
	// 请求相关
	MsgInvalidRequest   = "请求参数格式错误"
	MsgInvalidJSON      = "JSON格式错误"
	MsgInvalidForm      = "表单格式错误"
	MsgValidationFailed = "提交内容未通过校验"
	MsgBodyTooLarge     = "请求体过大"
	MsgAttachmentLarge  = "附件超过大小限制"
	MsgUploadBusy       = "上传繁忙，请稍后重试"

	// 举报相关
	MsgReportCreated  = "举报已提交，请妥善保存追踪编号"
	MsgReportNotFound = "未找到对应的举报"

	// 通用
	MsgInternalError = "服务器内部错误，请稍后重试"
)

// 错误消息映射表（业务错误 -> HTTP 状态码与中文消息）
//
// 未出现在表中的错误一律按内部错误处理，不向客户端暴露细节
var errorMessages = []struct {
	err    error
	status int
	msg    string
}{
	{domain.ErrNotFound, http.StatusNotFound, MsgReportNotFound},
	{domain.ErrInternal, http.StatusInternalServerError, MsgInternalError},
	{domain.ErrStorage, http.StatusInternalServerError, MsgInternalError},
}

// GetErrorMessage 获取错误对应的状态码和中文消息
func GetErrorMessage(err error) (int, string) {
	for _, m := range errorMessages {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// RespondError 按错误类型写出响应，ValidationError 附带字段信息
func RespondError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		ValidationFailed(c, verr.Fields)
		return
	}
	status, msg := GetErrorMessage(err)
	Error(c, status, msg)
}
