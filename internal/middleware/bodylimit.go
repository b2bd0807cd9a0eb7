package middleware

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// SmallBodyLimit 纯 JSON 请求的限制
	SmallBodyLimit = 1 * 1024 * 1024 // 1MB

	// multipartOverhead 附件之外的表单字段和 multipart 边界预留
	multipartOverhead = 1 * 1024 * 1024
)

// MsgBodyTooLarge 请求体超限提示
const MsgBodyTooLarge = "请求体过大"

// SubmissionBodyLimit 根据附件上限计算提交接口允许的请求体大小
func SubmissionBodyLimit(maxAttachmentBytes int64) int64 {
	return maxAttachmentBytes + multipartOverhead
}

// BodySizeLimit 限制请求体大小的中间件
//
// 声明的 Content-Length 超限时直接拒绝，不读取请求体；
// 未声明或声明不实时由 MaxBytesReader 在读取过程中截断
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortJSON(c, http.StatusRequestEntityTooLarge, MsgBodyTooLarge)
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))

		c.Next()
	}
}

// IsBodyTooLarge 判断读取请求体时的错误是否因为超过限制
func IsBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
