package event

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DeviceServiceData(t *testing.T) {
	line := `{"@type":"DeviceServiceData","time":"2025-01-01T00:00:00Z","id":"HumidityLevel","deviceId":"dev1","path":"/x","state":{"@type":"s","humidity":42.71}}`

	ev, err := Parse([]byte(line))
	require.NoError(t, err)

	dsd, ok := ev.(*DeviceServiceData)
	require.True(t, ok, "expected *DeviceServiceData, got %T", ev)
	assert.Equal(t, TypeDeviceServiceData, dsd.Type())
	assert.Equal(t, "2025-01-01T00:00:00Z", dsd.Time())
	assert.Equal(t, "HumidityLevel", dsd.ID)
	assert.Equal(t, "dev1", dsd.DeviceID)
	assert.Equal(t, "/x", dsd.Path)
	require.Len(t, dsd.State, 2)
	assert.Equal(t, "@type", dsd.State[0].Key)
	assert.Equal(t, "humidity", dsd.State[1].Key)
	assert.Equal(t, 42.71, dsd.State[1].Value)
}

func TestParse_KnownVariants(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
	}{
		{
			name: "device",
			line: `{"@type":"device","time":"t","id":"d1","name":"Sensor","deviceModel":"TRV","roomId":"r1"}`,
			want: &Device{Envelope: Envelope{Tag: "device", Timestamp: "t"}, ID: "d1", Name: "Sensor", DeviceModel: "TRV", RoomID: "r1"},
		},
		{
			name: "message with object code",
			line: `{"@type":"message","time":"t","id":"m1","messageCode":{"name":"LOW_BATTERY","category":"WARNING"},"sourceType":"DEVICE","sourceId":"d1"}`,
			want: &Message{Envelope: Envelope{Tag: "message", Timestamp: "t"}, ID: "m1", Code: "LOW_BATTERY", SourceType: "DEVICE", SourceID: "d1"},
		},
		{
			name: "client",
			line: `{"@type":"client","time":"t","id":"c1","name":"App","clientType":"MOBILE"}`,
			want: &Client{Envelope: Envelope{Tag: "client", Timestamp: "t"}, ID: "c1", Name: "App", ClientType: "MOBILE"},
		},
		{
			name: "light",
			line: `{"@type":"light","time":"t","id":"l1","name":"Lamp"}`,
			want: &Light{Envelope: Envelope{Tag: "light", Timestamp: "t"}, ID: "l1", Name: "Lamp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestParse_Room(t *testing.T) {
	ev, err := Parse([]byte(`{"@type":"room","time":"t","id":"hz_1","name":"Living","iconId":"icon_room_living","extProperties":{"humidity":"39.8","temperature":"21"}}`))
	require.NoError(t, err)

	room, ok := ev.(*Room)
	require.True(t, ok)
	assert.Equal(t, "hz_1", room.ID)
	assert.Equal(t, "icon_room_living", room.IconID)
	require.Len(t, room.ExtProperties, 2)
	assert.Equal(t, "humidity", room.ExtProperties[0].Key)
}

func TestParse_Unknown(t *testing.T) {
	ev, err := Parse([]byte(`{"@type":"xyz","id":"abc","time":"t1","extra":{"a":1}}`))
	require.NoError(t, err)

	u, ok := ev.(*Unknown)
	require.True(t, ok)
	assert.True(t, u.HasID)
	assert.Equal(t, "abc", u.ID)
	assert.False(t, u.HasDeviceID)
	assert.Contains(t, string(u.Payload), `"extra"`)
}

func TestParse_UnknownNonStringIDs(t *testing.T) {
	ev, err := Parse([]byte(`{"@type":"xyz","time":"t1","deviceId":{"b":2, "a":1}}`))
	require.NoError(t, err)

	u := ev.(*Unknown)
	assert.False(t, u.HasID)
	assert.True(t, u.HasDeviceID)
	assert.Equal(t, `{"b":2,"a":1}`, u.DeviceID)

	ev, err = Parse([]byte(`{"@type":"xyz","time":"t1","id":123}`))
	require.NoError(t, err)
	assert.Equal(t, "123", ev.(*Unknown).ID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "not json", line: `{"@type": "device", "time": `},
		{name: "array", line: `[1,2,3]`},
		{name: "null", line: `null`},
		{name: "missing type", line: `{"time":"t","id":"a"}`},
		{name: "non-string type", line: `{"@type":5,"time":"t"}`},
		{name: "empty type", line: `{"@type":"","time":"t"}`},
		{name: "missing time", line: `{"@type":"device","id":"a"}`},
		{name: "numeric time", line: `{"@type":"device","time":1700000000}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(tt.line))
			assert.Nil(t, ev)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrParse))

			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.NotEmpty(t, pe.Preview)
		})
	}
}

func TestParse_NonObjectPayloadIsLenient(t *testing.T) {
	ev, err := Parse([]byte(`{"@type":"DeviceServiceData","time":"t1","id":"Power","deviceId":"dev1","state":"ON"}`))
	require.NoError(t, err)
	d, ok := ev.(*DeviceServiceData)
	require.True(t, ok)
	assert.Empty(t, d.State)
	assert.Nil(t, ExtractMetric(ev))
	assert.Equal(t, "DeviceServiceData-dev1-Power-t1", Identity(ev))

	ev, err = Parse([]byte(`{"@type":"room","time":"t2","id":"hz_1","extProperties":[]}`))
	require.NoError(t, err)
	r, ok := ev.(*Room)
	require.True(t, ok)
	assert.Empty(t, r.ExtProperties)
	assert.Nil(t, ExtractMetric(ev))
	assert.Equal(t, "room-hz_1-t2", Identity(ev))
}

func TestPreview_Truncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	p := Preview([]byte(long))
	assert.Equal(t, previewLen+1, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "…"))

	assert.Equal(t, "short", Preview([]byte("  short \n")))
}

func TestFields_RoundTripKeepsOrder(t *testing.T) {
	var f Fields
	require.NoError(t, f.UnmarshalJSON([]byte(`{"z":1,"a":"two","m":{"k":true}}`)))
	require.Len(t, f, 3)
	assert.Equal(t, []string{"z", "a", "m"}, []string{f[0].Key, f[1].Key, f[2].Key})

	v, ok := f.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "two", v)

	out, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":1,"a":"two","m":{"k":true}}`, string(out))
}
