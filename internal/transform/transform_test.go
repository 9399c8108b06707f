package transform

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/homehawk/internal/event"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/registry"
)

func testRegistry() *registry.Registry {
	return registry.New(time.Now(),
		map[string]registry.Device{
			"dev1":    {Name: "Bathroom Thermostat", RoomID: "hz_2", Type: "RTH"},
			"orphan":  {Name: "Garage Sensor", RoomID: "hz_missing"},
			"no-room": {Name: "Plug"},
		},
		map[string]registry.Room{
			"hz_2": {Name: "Bathroom", IconID: "icon_room_bathroom"},
			"hz_1": {Name: "Living Room"},
		},
	)
}

const humidityLine = `{"@type":"DeviceServiceData","time":"2025-01-01T00:00:00Z","id":"HumidityLevel","deviceId":"dev1","path":"/x","state":{"@type":"s","humidity":42.71}}`

func TestTransform_DeviceServiceDataEnriched(t *testing.T) {
	tr := New(testRegistry(), logging.Discard())

	res, err := tr.TransformLine([]byte(humidityLine))
	require.NoError(t, err)

	assert.Equal(t, "DeviceServiceData-dev1-HumidityLevel-2025-01-01T00:00:00Z", res.ID)
	assert.Equal(t, &Document{
		Timestamp: "2025-01-01T00:00:00Z",
		Type:      "DeviceServiceData",
		ID:        "HumidityLevel",
		DeviceID:  "dev1",
		Path:      "/x",
		Device:    &DeviceInfo{Name: "Bathroom Thermostat", Type: "RTH"},
		Room:      &RoomInfo{ID: "hz_2", Name: "Bathroom"},
		Metric:    &event.Metric{Name: "humidity", Value: 42.71},
	}, res.Document)
}

func TestTransform_PartialEnrichment(t *testing.T) {
	tr := New(testRegistry(), logging.Discard())

	res, err := tr.TransformLine([]byte(`{"@type":"DeviceServiceData","time":"t","id":"Temp","deviceId":"orphan","state":{"temperature":5}}`))
	require.NoError(t, err)
	require.NotNil(t, res.Document.Device)
	assert.Equal(t, "Garage Sensor", res.Document.Device.Name)
	assert.Nil(t, res.Document.Room)

	res, err = tr.TransformLine([]byte(`{"@type":"DeviceServiceData","time":"t","id":"Temp","deviceId":"ghost","state":{"temperature":5}}`))
	require.NoError(t, err)
	assert.Nil(t, res.Document.Device)
	assert.Nil(t, res.Document.Room)
	assert.Equal(t, "ghost", res.Document.DeviceID)
	assert.NotNil(t, res.Document.Metric)
}

func TestTransform_RoomEvent(t *testing.T) {
	tr := New(testRegistry(), logging.Discard())

	res, err := tr.TransformLine([]byte(`{"@type":"room","time":"t","id":"hz_1","name":"Wohnzimmer","extProperties":{"humidity":"39.8"}}`))
	require.NoError(t, err)

	assert.Equal(t, "room-hz_1-t", res.ID)
	assert.Equal(t, &RoomInfo{ID: "hz_1", Name: "Living Room"}, res.Document.Room)
	assert.Equal(t, &event.Metric{Name: "humidity", Value: 39.8}, res.Document.Metric)
	assert.Nil(t, res.Document.Device)
}

func TestTransform_WithoutRegistry(t *testing.T) {
	tr := New(nil, logging.Discard())

	res, err := tr.TransformLine([]byte(humidityLine))
	require.NoError(t, err)
	assert.Nil(t, res.Document.Device)
	assert.Nil(t, res.Document.Room)
	assert.Equal(t, 42.71, res.Document.Metric.Value)
}

func TestTransform_UnknownWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	tr := New(testRegistry(), slog.New(slog.NewTextHandler(&buf, nil)))

	res, err := tr.TransformLine([]byte(`{"@type":"xyz","id":"abc","time":"t1"}`))
	require.NoError(t, err)

	assert.Equal(t, "xyz-abc-t1", res.ID)
	assert.Nil(t, res.Document.Metric)
	assert.Equal(t, "abc", res.Document.ID)
	assert.Equal(t, 1, strings.Count(buf.String(), "level=WARN"))
}

func TestTransform_NonObjectStateStillIndexed(t *testing.T) {
	tr := New(testRegistry(), logging.Discard())

	res, err := tr.TransformLine([]byte(`{"@type":"DeviceServiceData","time":"t1","id":"PowerSwitch","deviceId":"dev1","state":"ON"}`))
	require.NoError(t, err)
	assert.Equal(t, "DeviceServiceData-dev1-PowerSwitch-t1", res.ID)
	assert.Nil(t, res.Document.Metric)
	require.NotNil(t, res.Document.Device)
	assert.Equal(t, "Bathroom Thermostat", res.Document.Device.Name)
}

func TestTransform_ParseError(t *testing.T) {
	tr := New(nil, logging.Discard())

	_, err := tr.TransformLine([]byte(`{"time":"t"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrParse)
}

func TestDocument_JSONShape(t *testing.T) {
	tr := New(nil, logging.Discard())

	res, err := tr.TransformLine([]byte(`{"@type":"light","time":"t","id":"l1","name":"Lamp"}`))
	require.NoError(t, err)

	data, err := json.Marshal(res.Document)
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":"t","type":"light","id":"l1"}`, string(data))
}
