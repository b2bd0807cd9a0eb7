package domain

import "time"

// Report 表示一份保密举报记录，持久化前整体加密。
type Report struct {
	TrackingID  string          `json:"trackingId"`
	Subject     string          `json:"subject"`
	Message     string          `json:"message"`
	Email       *string         `json:"email"`                // 匿名提交时为 nil
	SubmittedAt time.Time       `json:"submittedAt"`
	Attachment  *AttachmentMeta `json:"attachment,omitempty"` // 无附件时为 nil
}

// AttachmentMeta 附件元数据，只保存在加密的举报记录内部。
type AttachmentMeta struct {
	Filename    string `json:"filename"`    // 清理后的原始文件名
	ContentType string `json:"contentType"` // 内容嗅探得到的 MIME 类型
	Size        int64  `json:"size"`        // 明文大小（字节）
	Key         string `json:"key"`         // 存储键
}

// Status 是通过追踪 ID 查询时唯一对外公开的字段集合。
type Status struct {
	Subject     string    `json:"subject"`
	SubmittedAt time.Time `json:"submittedAt"`
	Email       *string   `json:"email"`
}

// PublicStatus 从完整记录投影出公开状态。
func (r *Report) PublicStatus() *Status {
	return &Status{
		Subject:     r.Subject,
		SubmittedAt: r.SubmittedAt,
		Email:       r.Email,
	}
}
