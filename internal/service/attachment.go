package service

import (
	"context"
	"errors"
	"fmt"

	"reportline/backend/internal/crypto"
	"reportline/backend/internal/domain"
	"reportline/backend/internal/security"
	"reportline/backend/internal/storage"
)

// AttachmentStore 负责附件的加密存取，附件与报告正文使用同一 Gateway。
type AttachmentStore struct {
	store   storage.BlobStore
	gateway *crypto.Gateway
	policy  *security.AttachmentPolicy
}

// NewAttachmentStore 创建附件存储
func NewAttachmentStore(store storage.BlobStore, gateway *crypto.Gateway, policy *security.AttachmentPolicy) *AttachmentStore {
	if policy == nil {
		policy = security.NewAttachmentPolicy(0, nil)
	}
	return &AttachmentStore{
		store:   store,
		gateway: gateway,
		policy:  policy,
	}
}

// checkedAttachment 已通过策略检查的附件
type checkedAttachment struct {
	filename    string
	contentType string
	data        []byte
}

func (a *AttachmentStore) check(filename string, data []byte) (*checkedAttachment, error) {
	clean, contentType, err := a.policy.Check(filename, data)
	if err != nil {
		return nil, err
	}
	return &checkedAttachment{filename: clean, contentType: contentType, data: data}, nil
}

// Put 检查并加密附件后写入，同一追踪编号下的同名附件已存在时返回 storage.ErrObjectExists
func (a *AttachmentStore) Put(ctx context.Context, trackingID, filename string, data []byte) (*domain.AttachmentMeta, error) {
	checked, err := a.check(filename, data)
	if err != nil {
		return nil, err
	}
	return a.put(ctx, trackingID, checked)
}

func (a *AttachmentStore) put(ctx context.Context, trackingID string, att *checkedAttachment) (*domain.AttachmentMeta, error) {
	key := storage.AttachmentKey(trackingID, att.filename)

	envelope, err := a.gateway.Seal(att.data, []byte(key))
	if err != nil {
		return nil, fmt.Errorf("encrypt attachment: %w", err)
	}

	if err := a.store.Put(ctx, key, []byte(envelope)); err != nil {
		return nil, err
	}

	return &domain.AttachmentMeta{
		Filename:    att.filename,
		ContentType: att.contentType,
		Size:        int64(len(att.data)),
		Key:         key,
	}, nil
}

// Get 读取并解密附件，对象不存在时返回 storage.ErrObjectNotFound
func (a *AttachmentStore) Get(ctx context.Context, meta *domain.AttachmentMeta) ([]byte, error) {
	if meta == nil {
		return nil, storage.ErrObjectNotFound
	}

	raw, err := a.store.Get(ctx, meta.Key)
	if err != nil {
		return nil, err
	}

	data, err := a.gateway.Open(string(raw), []byte(meta.Key))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != meta.Size {
		return nil, fmt.Errorf("%w: attachment size mismatch", crypto.ErrDecryption)
	}
	return data, nil
}

// Delete 删除附件，不存在时不报错
func (a *AttachmentStore) Delete(ctx context.Context, meta *domain.AttachmentMeta) error {
	if meta == nil {
		return nil
	}
	err := a.store.Delete(ctx, meta.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil
	}
	return err
}
