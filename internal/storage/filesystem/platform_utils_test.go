package filesystem

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlatformUtils_ValidatePath(t *testing.T) {
	p := NewPlatformUtils()

	assert.NoError(t, p.ValidatePath("./data/reports"))
	assert.NoError(t, p.ValidatePath("/var/lib/reportline"))
	assert.NoError(t, p.ValidatePath("./data/..hidden"), "dots inside a name are not traversal")

	assert.Error(t, p.ValidatePath(""))
	assert.Error(t, p.ValidatePath("../data"))
	assert.Error(t, p.ValidatePath("data/../../etc"))
	assert.Error(t, p.ValidatePath(strings.Repeat("a", p.GetMaxPathLength()+1)))
}

func TestPlatformUtils_NormalizePath(t *testing.T) {
	p := NewPlatformUtils()

	normalized := p.NormalizePath("data/./reports/")
	assert.True(t, filepath.IsAbs(normalized))
	assert.False(t, strings.HasSuffix(normalized, string(filepath.Separator)))
}
