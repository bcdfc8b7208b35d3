package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataDirDefault(t *testing.T) {
	os.Unsetenv("GRID_DATA_DIR")

	dir, err := dataDir()
	assert.NoError(t, err)
	assert.Equal(t, "./data", dir)
	os.RemoveAll("./data")
}

func TestDataDirFromEnv(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "grids")
	os.Setenv("GRID_DATA_DIR", tempDir)
	defer os.Unsetenv("GRID_DATA_DIR")

	dir, err := dataDir()
	assert.NoError(t, err)
	assert.Equal(t, tempDir, dir)

	info, err := os.Stat(tempDir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
}
