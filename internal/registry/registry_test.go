package registry

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
  "fetchedAt": "2025-01-01T10:00:00Z",
  "devices": {
    "dev1": {"name": "Bathroom Thermostat", "roomId": "hz_2", "type": "RTH"},
    "dev2": {"name": "Hallway Plug"}
  },
  "rooms": {
    "hz_2": {"name": "Bathroom", "iconId": "icon_room_bathroom"}
  }
}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "registry.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	r, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC), r.FetchedAt())

	d, ok := r.Device("dev1")
	require.True(t, ok)
	assert.Equal(t, Device{Name: "Bathroom Thermostat", RoomID: "hz_2", Type: "RTH"}, d)

	room, ok := r.Room("hz_2")
	require.True(t, ok)
	assert.Equal(t, "Bathroom", room.Name)

	_, ok = r.Device("missing")
	assert.False(t, ok)

	devices, rooms := r.Len()
	assert.Equal(t, 2, devices)
	assert.Equal(t, 1, rooms)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestLoad_Malformed(t *testing.T) {
	_, err := Load(writeFile(t, `{"devices": [`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestLoadOrEmpty_WarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	r := LoadOrEmpty(filepath.Join(t.TempDir(), "nope.json"), logger)
	require.NotNil(t, r)

	_, ok := r.Device("dev1")
	assert.False(t, ok)
	assert.Equal(t, 1, strings.Count(buf.String(), "level=WARN"))
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	_, ok := r.Device("dev1")
	assert.False(t, ok)
	_, ok = r.Room("hz_1")
	assert.False(t, ok)
	assert.True(t, r.FetchedAt().IsZero())
}

func TestNew_CopiesMaps(t *testing.T) {
	devices := map[string]Device{"d": {Name: "A"}}
	r := New(time.Time{}, devices, nil)

	devices["d"] = Device{Name: "B"}
	d, _ := r.Device("d")
	assert.Equal(t, "A", d.Name)
}
