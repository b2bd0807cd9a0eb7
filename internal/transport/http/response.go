package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
type Response struct {
	Code int         `json:"code"`           // 业务状态码
	Msg  string      `json:"msg"`            // 中文提示信息
	Data interface{} `json:"data,omitempty"` // 数据载荷
}

// 业务状态码定义
const (
	CodeSuccess = 200 // 成功
	CodeCreated = 201 // 创建成功

	CodeBadRequest           = 400 // 请求参数错误
	CodeNotFound             = 404 // 资源不存在
	CodePayloadTooLarge      = 413 // 请求体过大
	CodeUnsupportedMediaType = 415 // 不支持的内容类型
	CodeTooManyRequests      = 429 // 请求过于频繁

	CodeInternalError      = 500 // 服务器内部错误
	CodeServiceUnavailable = 503 // 服务繁忙
)

// validationData 校验失败时的数据载荷
type validationData struct {
	Fields map[string]string `json:"fields"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code: CodeSuccess,
		Msg:  "成功",
		Data: data,
	})
}

// CreatedWithMsg 创建成功响应（自定义消息）
func CreatedWithMsg(c *gin.Context, msg string, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code: CodeCreated,
		Msg:  msg,
		Data: data,
	})
}

// BadRequest 请求参数错误（400）
func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, msg)
}

// ValidationFailed 字段校验失败（400），data 中列出每个字段的错误
func ValidationFailed(c *gin.Context, fields map[string]string) {
	c.JSON(http.StatusBadRequest, Response{
		Code: CodeBadRequest,
		Msg:  MsgValidationFailed,
		Data: validationData{Fields: fields},
	})
}

// NotFound 资源不存在错误（404）
func NotFound(c *gin.Context, msg string) {
	Error(c, http.StatusNotFound, msg)
}

// PayloadTooLarge 请求体过大（413）
func PayloadTooLarge(c *gin.Context, msg string) {
	Error(c, http.StatusRequestEntityTooLarge, msg)
}

// InternalError 服务器内部错误（500）
func InternalError(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, msg)
}

// ServiceUnavailable 服务繁忙（503）
func ServiceUnavailable(c *gin.Context, msg string) {
	c.Header("Retry-After", "1")
	Error(c, http.StatusServiceUnavailable, msg)
}

// Error 通用错误响应（根据HTTP状态码自动选择）
func Error(c *gin.Context, httpCode int, msg string) {
	c.JSON(httpCode, Response{
		Code: httpCode,
		Msg:  msg,
		Data: nil,
	})
}
