package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportline/backend/internal/storage"
)

const testID = "0f8fad5b-d9cb-469f-a165-70867728950e"

// 测试辅助函数：创建临时测试目录
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

// listTempFiles 列出根目录下所有临时文件
func listTempFiles(t *testing.T, base string) []string {
	t.Helper()
	var found []string
	_ = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasPrefix(info.Name(), tempPrefix) {
			found = append(found, path)
		}
		return nil
	})
	return found
}

// TestNewStore 测试创建文件系统存储实例
func TestNewStore(t *testing.T) {
	t.Run("create store creates base directory if not exists", func(t *testing.T) {
		newPath := filepath.Join(t.TempDir(), "new", "nested", "path")
		store, err := NewStore(newPath, nil)
		require.NoError(t, err)
		assert.NotNil(t, store)

		info, err := os.Stat(newPath)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("reject traversal in base path", func(t *testing.T) {
		_, err := NewStore("../outside", nil)
		assert.Error(t, err)
	})

	t.Run("reject empty base path", func(t *testing.T) {
		_, err := NewStore("  ", nil)
		assert.Error(t, err)
	})
}

// TestPutGet 测试写入与读取
func TestPutGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := storage.ReportKey(testID)

	t.Run("put and get", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, key, []byte("envelope-1")))

		content, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("envelope-1"), content)

		// 对象落在确定的路径上
		_, err = os.Stat(filepath.Join(store.basePath, "reports", testID+".enc"))
		assert.NoError(t, err)
		assert.Empty(t, listTempFiles(t, store.basePath))
	})

	t.Run("put never overwrites", func(t *testing.T) {
		err := store.Put(ctx, key, []byte("envelope-2"))
		assert.ErrorIs(t, err, storage.ErrObjectExists)

		content, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("envelope-1"), content)
		assert.Empty(t, listTempFiles(t, store.basePath))
	})

	t.Run("get missing object", func(t *testing.T) {
		content, err := store.Get(ctx, storage.ReportKey("6f1c2a47-52a8-4a8e-9d2b-0d9b0e4c7a11"))
		assert.ErrorIs(t, err, storage.ErrObjectNotFound)
		assert.Nil(t, content)
	})

	t.Run("nested attachment key", func(t *testing.T) {
		attKey := storage.AttachmentKey(testID, "evidence.pdf")
		require.NoError(t, store.Put(ctx, attKey, []byte("attachment")))
		content, err := store.Get(ctx, attKey)
		require.NoError(t, err)
		assert.Equal(t, []byte("attachment"), content)
	})

	t.Run("objects are private to the owner", func(t *testing.T) {
		info, err := os.Stat(filepath.Join(store.basePath, "reports", testID+".enc"))
		require.NoError(t, err)
		if store.platformUtils.IsCaseSensitive() {
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
		}
	})
}

// TestExistsDelete 测试存在检查与删除
func TestExistsDelete(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := storage.ReportKey(testID)

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, key, []byte("x")))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key), "deleting a missing object is not an error")

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

// TestInvalidKeys 测试非法键被拒绝
func TestInvalidKeys(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"../escape.enc", "reports/../../escape", "reports/.tmp-x", ""} {
		assert.ErrorIs(t, store.Put(ctx, key, []byte("x")), storage.ErrInvalidKey, key)
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrInvalidKey, key)
	}
}

// TestCancelledPut 测试取消的写入不会留下可见对象
func TestCancelledPut(t *testing.T) {
	store := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key := storage.ReportKey(testID)
	err := store.Put(ctx, key, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)

	exists, err := store.Exists(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, listTempFiles(t, store.basePath))
}

// TestConcurrentPutSameKey 测试并发写入同一键只有一个成功
func TestConcurrentPutSameKey(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	key := storage.ReportKey(testID)

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results <- store.Put(ctx, key, []byte{byte(n)})
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, storage.ErrObjectExists)
	}
	assert.Equal(t, 1, succeeded)
	assert.Empty(t, listTempFiles(t, store.basePath))
}

// TestCleanupStaleTemp 测试清理遗留临时文件
func TestCleanupStaleTemp(t *testing.T) {
	store := setupTestStore(t)
	dir := filepath.Join(store.basePath, "reports")
	require.NoError(t, os.MkdirAll(dir, 0o700))

	stale := filepath.Join(dir, tempPrefix+"stale")
	fresh := filepath.Join(dir, tempPrefix+"fresh")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o600))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	require.NoError(t, store.Put(context.Background(), storage.ReportKey(testID), []byte("keep")))

	count, err := store.CleanupStaleTemp(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)

	exists, err := store.Exists(context.Background(), storage.ReportKey(testID))
	require.NoError(t, err)
	assert.True(t, exists)
}

// TestGetStorageStats 测试存储统计
func TestGetStorageStats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, storage.ReportKey(testID), []byte("12345")))
	require.NoError(t, store.Put(ctx, storage.AttachmentKey(testID, "a.pdf"), []byte("123")))

	stats, err := store.GetStorageStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ReportCount)
	assert.Equal(t, 1, stats.AttachmentCount)
	assert.Equal(t, 0, stats.PendingTemp)
	assert.Equal(t, int64(8), stats.TotalSizeBytes)

	require.NoError(t, store.Ping(ctx))
}
