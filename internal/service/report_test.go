package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"reportline/backend/internal/crypto"
	"reportline/backend/internal/domain"
	"reportline/backend/internal/storage"
	"reportline/backend/internal/storage/memory"
	"reportline/backend/internal/tracking"
)

const testSecret = "service-test-secret-with-at-least-32-characters"

// MockBlobStore 模拟存储接口
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Put(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

func (m *MockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockBlobStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func isReportKey(key string) bool     { return strings.HasPrefix(key, "reports/") }
func isAttachmentKey(key string) bool { return strings.HasPrefix(key, "attachments/") }

func newTestGateway(t *testing.T) *crypto.Gateway {
	t.Helper()
	key, err := crypto.DeriveKey(testSecret, "")
	require.NoError(t, err)
	gw, err := crypto.NewGateway(key)
	require.NoError(t, err)
	key.Destroy()
	return gw
}

func newTestService(t *testing.T, store storage.BlobStore) *ReportService {
	t.Helper()
	return NewReportService(store, newTestGateway(t), nil, nil)
}

// decryptStored 直接读取存储中的记录，验证持久化内容
func decryptStored(t *testing.T, store *memory.Store, gw *crypto.Gateway, id string) map[string]any {
	t.Helper()
	key := storage.ReportKey(id)
	raw, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	plaintext, err := gw.Open(string(raw), []byte(key))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(plaintext, &fields))
	return fields
}

func TestReportService_EndToEnd(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewStore())

	before := time.Now().UTC().Add(-time.Second)
	id, err := svc.Submit(ctx, SubmitInput{
		Subject:   "Safety concern",
		Message:   "Detail text",
		Anonymous: true,
	})
	require.NoError(t, err)
	assert.True(t, tracking.Valid(id))

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Safety concern", status.Subject)
	assert.Nil(t, status.Email)
	assert.True(t, status.SubmittedAt.After(before))
	assert.Equal(t, time.UTC, status.SubmittedAt.Location())

	body, err := json.Marshal(status)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"email":null`)
}

func TestReportService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewStore())

	id, err := svc.Submit(ctx, SubmitInput{
		Subject: "  Unsafe scaffolding  ",
		Message: "Line one\nLine two — 多语言内容",
		Email:   "reporter@example.com",
	})
	require.NoError(t, err)

	report, err := svc.Open(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, report.TrackingID)
	assert.Equal(t, "Unsafe scaffolding", report.Subject)
	assert.Equal(t, "Line one\nLine two — 多语言内容", report.Message)
	require.NotNil(t, report.Email)
	assert.Equal(t, "reporter@example.com", *report.Email)
	assert.Nil(t, report.Attachment)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, status.Email)
	assert.Equal(t, "reporter@example.com", *status.Email)
}

func TestReportService_AnonymityRedaction(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	gw := newTestGateway(t)
	svc := NewReportService(store, gw, nil, nil)

	t.Run("匿名提交丢弃邮箱", func(t *testing.T) {
		id, err := svc.Submit(ctx, SubmitInput{
			Subject:   "Harassment",
			Message:   "Details",
			Anonymous: true,
			Email:     "someone@example.com",
		})
		require.NoError(t, err)

		fields := decryptStored(t, store, gw, id)
		assert.Nil(t, fields["email"])
		assert.NotContains(t, fields, "someone@example.com")

		status, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, status.Email)
	})

	t.Run("匿名提交时不校验邮箱", func(t *testing.T) {
		_, err := svc.Submit(ctx, SubmitInput{
			Subject:   "Harassment",
			Message:   "Details",
			Anonymous: true,
			Email:     "not-an-email",
		})
		assert.NoError(t, err)
	})

	t.Run("非匿名且未填写邮箱", func(t *testing.T) {
		id, err := svc.Submit(ctx, SubmitInput{Subject: "s", Message: "m"})
		require.NoError(t, err)

		status, err := svc.Status(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, status.Email)
	})
}

func TestReportService_StatusScoping(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewStore())

	id, err := svc.Submit(ctx, SubmitInput{
		Subject:    "Fraud",
		Message:    "the-secret-message-body",
		Email:      "a@example.com",
		Attachment: &AttachmentInput{Filename: "ledger.csv", Data: []byte("the-secret-attachment-bytes")},
	})
	require.NoError(t, err)

	status, err := svc.Status(ctx, id)
	require.NoError(t, err)

	body, err := json.Marshal(status)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(body, &fields))
	assert.Len(t, fields, 3)
	assert.Contains(t, fields, "subject")
	assert.Contains(t, fields, "submittedAt")
	assert.Contains(t, fields, "email")
	assert.NotContains(t, string(body), "the-secret-message-body")
	assert.NotContains(t, string(body), "the-secret-attachment-bytes")
	assert.NotContains(t, string(body), "ledger.csv")
}

func TestReportService_UnknownID(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, memory.NewStore())

	unknown, err := tracking.New()
	require.NoError(t, err)

	for _, id := range []string{unknown, "", "not-a-tracking-id", "../../etc/passwd", strings.ToUpper(unknown)} {
		_, err := svc.Status(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound, id)
		assert.NotErrorIs(t, err, domain.ErrInternal)
	}
}

func TestReportService_UniqueIDs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping bulk submission in short mode")
	}

	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	const total = 10000
	seen := make(map[string]struct{}, total)
	for i := 0; i < total; i++ {
		id, err := svc.Submit(ctx, SubmitInput{Subject: "load", Message: "same message", Anonymous: true})
		require.NoError(t, err)
		seen[id] = struct{}{}
	}

	assert.Len(t, seen, total)
	assert.Equal(t, total, store.Len())
}

func TestReportService_FreshEnvelopes(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	// 固定编号，确保两份记录明文完全相同
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.now = func() time.Time { return at }

	id := "0b6f7f5e-3c1a-4d2b-9e8f-1a2b3c4d5e6f"
	svc.newID = func() (string, error) { return id, nil }
	_, err := svc.Submit(ctx, SubmitInput{Subject: "s", Message: "m", Anonymous: true})
	require.NoError(t, err)
	first, err := store.Get(ctx, storage.ReportKey(id))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, storage.ReportKey(id)))
	_, err = svc.Submit(ctx, SubmitInput{Subject: "s", Message: "m", Anonymous: true})
	require.NoError(t, err)
	second, err := store.Get(ctx, storage.ReportKey(id))
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestReportService_Corruption(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	submit := func() string {
		id, err := svc.Submit(ctx, SubmitInput{Subject: "s", Message: "confidential", Anonymous: true})
		require.NoError(t, err)
		return id
	}

	tests := []struct {
		name    string
		corrupt func(id string)
	}{
		{"非信封内容", func(id string) {
			store.Overwrite(storage.ReportKey(id), []byte("garbage"))
		}},
		{"空内容", func(id string) {
			store.Overwrite(storage.ReportKey(id), nil)
		}},
		{"篡改密文", func(id string) {
			raw, _ := store.Get(ctx, storage.ReportKey(id))
			if raw[len(raw)-1] == '0' {
				raw[len(raw)-1] = '1'
			} else {
				raw[len(raw)-1] = '0'
			}
			store.Overwrite(storage.ReportKey(id), raw)
		}},
		{"换用其它编号的信封", func(id string) {
			other := submit()
			raw, _ := store.Get(ctx, storage.ReportKey(other))
			store.Overwrite(storage.ReportKey(id), raw)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := submit()
			tt.corrupt(id)

			var status *domain.Status
			var err error
			assert.NotPanics(t, func() {
				status, err = svc.Status(ctx, id)
			})
			assert.ErrorIs(t, err, domain.ErrInternal)
			assert.Nil(t, status)
		})
	}
}

func TestReportService_Validation(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)

	tests := []struct {
		name   string
		input  SubmitInput
		fields []string
	}{
		{"主题为空", SubmitInput{Subject: "   ", Message: "m", Anonymous: true}, []string{"subject"}},
		{"正文为空", SubmitInput{Subject: "s", Message: "", Anonymous: true}, []string{"message"}},
		{"主题过长", SubmitInput{Subject: strings.Repeat("主", MaxSubjectLength+1), Message: "m", Anonymous: true}, []string{"subject"}},
		{"正文过长", SubmitInput{Subject: "s", Message: strings.Repeat("x", MaxMessageLength+1), Anonymous: true}, []string{"message"}},
		{"邮箱格式错误", SubmitInput{Subject: "s", Message: "m", Email: "bad@"}, []string{"email"}},
		{"不允许的附件", SubmitInput{
			Subject: "s", Message: "m", Anonymous: true,
			Attachment: &AttachmentInput{Filename: "run.exe", Data: []byte("MZ")},
		}, []string{"attachment"}},
		{"多个字段同时出错", SubmitInput{Subject: "", Message: "", Email: "x"}, []string{"subject", "message", "email"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := svc.Submit(ctx, tt.input)
			assert.Empty(t, id)

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Len(t, verr.Fields, len(tt.fields))
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}

	t.Run("主题正好 200 个字符", func(t *testing.T) {
		_, err := svc.Submit(ctx, SubmitInput{Subject: strings.Repeat("主", MaxSubjectLength), Message: "m", Anonymous: true})
		assert.NoError(t, err)
	})

	// 校验失败不产生任何写入，上面只有最后一个用例成功
	assert.Equal(t, 1, store.Len())
}

func TestReportService_Attachment(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := newTestService(t, store)
	content := []byte("column-a,column-b\n1,2\n")

	id, err := svc.Submit(ctx, SubmitInput{
		Subject:    "s",
		Message:    "m",
		Anonymous:  true,
		Attachment: &AttachmentInput{Filename: `..\..\evidence.csv`, Data: content},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	meta, data, err := svc.OpenAttachment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, "evidence.csv", meta.Filename)
	assert.Equal(t, int64(len(content)), meta.Size)
	assert.Equal(t, storage.AttachmentKey(id, "evidence.csv"), meta.Key)

	raw, err := store.Get(ctx, meta.Key)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "column-a")

	t.Run("没有附件的报告", func(t *testing.T) {
		plain, err := svc.Submit(ctx, SubmitInput{Subject: "s", Message: "m", Anonymous: true})
		require.NoError(t, err)

		_, _, err = svc.OpenAttachment(ctx, plain)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("附件对象丢失", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, meta.Key))

		_, _, err := svc.OpenAttachment(ctx, id)
		assert.ErrorIs(t, err, domain.ErrInternal)
	})
}

func TestReportService_RollbackOnRecordFailure(t *testing.T) {
	ctx := context.Background()
	store := new(MockBlobStore)
	store.On("Exists", mock.Anything, mock.MatchedBy(isReportKey)).Return(false, nil)
	store.On("Put", mock.Anything, mock.MatchedBy(isAttachmentKey), mock.Anything).Return(nil)
	store.On("Put", mock.Anything, mock.MatchedBy(isReportKey), mock.Anything).Return(errors.New("disk full"))
	store.On("Delete", mock.Anything, mock.MatchedBy(isAttachmentKey)).Return(nil)

	svc := newTestService(t, store)
	id, err := svc.Submit(ctx, SubmitInput{
		Subject:    "s",
		Message:    "m",
		Anonymous:  true,
		Attachment: &AttachmentInput{Filename: "note.txt", Data: []byte("hello")},
	})

	assert.Empty(t, id)
	assert.ErrorIs(t, err, domain.ErrStorage)
	store.AssertCalled(t, "Delete", mock.Anything, mock.MatchedBy(isAttachmentKey))
}

func TestReportService_AttachmentWriteFailure(t *testing.T) {
	ctx := context.Background()
	store := new(MockBlobStore)
	store.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
	store.On("Put", mock.Anything, mock.MatchedBy(isAttachmentKey), mock.Anything).Return(errors.New("quota exceeded"))

	svc := newTestService(t, store)
	id, err := svc.Submit(ctx, SubmitInput{
		Subject:    "s",
		Message:    "m",
		Anonymous:  true,
		Attachment: &AttachmentInput{Filename: "note.txt", Data: []byte("hello")},
	})

	assert.Empty(t, id)
	assert.ErrorIs(t, err, domain.ErrStorage)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.MatchedBy(isReportKey), mock.Anything)
}

func TestReportService_Collision(t *testing.T) {
	ctx := context.Background()

	t.Run("已存在的编号会重新生成", func(t *testing.T) {
		store := memory.NewStore()
		svc := newTestService(t, store)

		taken := "11111111-1111-4111-8111-111111111111"
		fresh := "22222222-2222-4222-8222-222222222222"
		require.NoError(t, store.Put(ctx, storage.ReportKey(taken), []byte("existing")))

		ids := []string{taken, fresh}
		svc.newID = func() (string, error) {
			id := ids[0]
			ids = ids[1:]
			return id, nil
		}

		id, err := svc.Submit(ctx, SubmitInput{Subject: "s", Message: "m", Anonymous: true})
		require.NoError(t, err)
		assert.Equal(t, fresh, id)

		raw, err := store.Get(ctx, storage.ReportKey(taken))
		require.NoError(t, err)
		assert.Equal(t, []byte("existing"), raw)
	})

	t.Run("写入时被抢占会重新生成", func(t *testing.T) {
		store := new(MockBlobStore)
		store.On("Exists", mock.Anything, mock.Anything).Return(false, nil)
		store.On("Put", mock.Anything, mock.MatchedBy(isReportKey), mock.Anything).Return(storage.ErrObjectExists).Once()
		store.On("Put", mock.Anything, mock.MatchedBy(isReportKey), mock.Anything).Return(nil).Once()

		svc := newTestService(t, store)
		id, err := svc.Submit(ctx, SubmitInput{Subject: "s", Message: "m", Anonymous: true})
		require.NoError(t, err)
		assert.True(t, tracking.Valid(id))
		store.AssertNumberOfCalls(t, "Put", 2)
	})

	t.Run("重试次数耗尽", func(t *testing.T) {
		store := new(MockBlobStore)
		store.On("Exists", mock.Anything, mock.Anything).Return(true, nil)

		svc := newTestService(t, store)
		id, err := svc.Submit(ctx, SubmitInput{Subject: "s", Message: "m", Anonymous: true})
		assert.Empty(t, id)
		assert.ErrorIs(t, err, domain.ErrStorage)
		assert.ErrorIs(t, err, ErrIDExhausted)
		store.AssertNumberOfCalls(t, "Exists", maxIDAttempts)
	})
}

func TestReportService_CancelledSubmission(t *testing.T) {
	store := memory.NewStore()
	svc := newTestService(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, input := range []SubmitInput{
		{Subject: "s", Message: "m", Anonymous: true},
		{Subject: "s", Message: "m", Anonymous: true, Attachment: &AttachmentInput{Filename: "a.txt", Data: []byte("x")}},
	} {
		id, err := svc.Submit(ctx, input)
		assert.Empty(t, id)
		assert.ErrorIs(t, err, domain.ErrStorage)
	}
	assert.Equal(t, 0, store.Len())
}

func TestReportService_ReadFailure(t *testing.T) {
	store := new(MockBlobStore)
	store.On("Get", mock.Anything, mock.Anything).Return(nil, errors.New("i/o timeout"))

	svc := newTestService(t, store)
	id, err := tracking.New()
	require.NoError(t, err)

	_, err = svc.Status(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestReportService_LogsOmitSensitiveData(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := memory.NewStore()
	svc := NewReportService(store, newTestGateway(t), nil, zap.New(core))
	ctx := context.Background()

	id, err := svc.Submit(ctx, SubmitInput{
		Subject: "subject-marker",
		Message: "message-marker",
		Email:   "marker@example.com",
	})
	require.NoError(t, err)

	store.Overwrite(storage.ReportKey(id), []byte("garbage"))
	_, err = svc.Status(ctx, id)
	require.ErrorIs(t, err, domain.ErrInternal)

	require.NotZero(t, logs.Len())
	for _, entry := range logs.All() {
		line := entry.Message
		for _, f := range entry.Context {
			line += " " + f.String
			if f.Interface != nil {
				if e, ok := f.Interface.(error); ok {
					line += " " + e.Error()
				}
			}
		}
		for _, secret := range []string{id, "subject-marker", "message-marker", "marker@example.com", testSecret} {
			assert.NotContains(t, line, secret)
		}
	}
}
