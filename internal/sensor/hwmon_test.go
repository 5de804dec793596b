package sensor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"forgecore/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestHwmonSource_Read(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temp1_input")
	writeFile(t, path, "85250\n")

	temp, err := NewHwmonSource("plate", path).Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Temperature(853), temp)

	writeFile(t, path, "garbage")
	_, err = NewHwmonSource("plate", path).Read(context.Background())
	assert.ErrorIs(t, err, ErrSensorFault)

	_, err = NewHwmonSource("missing", filepath.Join(dir, "nope")).Read(context.Background())
	assert.ErrorIs(t, err, ErrSensorFault)
}

func TestDiscoverHwmon(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hwmon0", "name"), "coretemp\n")
	writeFile(t, filepath.Join(root, "hwmon0", "temp1_input"), "40000")
	writeFile(t, filepath.Join(root, "hwmon1", "name"), "max31855\n")
	writeFile(t, filepath.Join(root, "hwmon1", "temp1_input"), "90000")
	writeFile(t, filepath.Join(root, "hwmon1", "temp2_input"), "91000")

	sources, err := DiscoverHwmon(root, "max31855")
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "max31855-hwmon1-temp1", sources[0].ID())
	assert.Equal(t, "max31855-hwmon1-temp2", sources[1].ID())

	temp, err := sources[1].Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.Celsius(91), temp)

	_, err = DiscoverHwmon(root, "absent")
	assert.Error(t, err)
}
