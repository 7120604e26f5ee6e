package naming

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBaseName(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	base, err := BuildBaseName(now, DeviceOS, 256, 2)
	require.NoError(t, err)
	assert.Equal(t, "20250314T092653_os_s256_i2", base)
}

func TestBuildBaseNameRejectsBadInput(t *testing.T) {
	now := time.Now()
	_, err := BuildBaseName(now, Device("floppy"), 256, 1)
	assert.Error(t, err)
	_, err = BuildBaseName(now, DeviceTrueRNG, 0, 1)
	assert.Error(t, err)
	_, err = BuildBaseName(now, DeviceTrueRNG, 256, 0)
	assert.Error(t, err)
}

func TestWithExt(t *testing.T) {
	assert.Equal(t, "x.bin", WithExt("x", "bin"))
	assert.Equal(t, "x.bin", WithExt("x", ".bin"))
	assert.Equal(t, "x", WithExt("x", ""))
}

func TestBuildBinCSVPaths(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	binPath, csvPath, err := BuildBinCSVPaths("data", now, DevicePseudo, 32, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("data", "20250314T092653_pseudo_s32_i1.bin"), binPath)
	assert.Equal(t, filepath.Join("data", "20250314T092653_pseudo_s32_i1.csv"), csvPath)
}
