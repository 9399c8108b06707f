// Package registry loads the device/room snapshot used to enrich events.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/telhawk-systems/homehawk/internal/logging"
)

// ErrUnavailable is returned when the registry file is absent or unreadable.
var ErrUnavailable = errors.New("registry unavailable")

// Device is the registry entry of one device.
type Device struct {
	Name   string `json:"name"`
	RoomID string `json:"roomId,omitempty"`
	Type   string `json:"type,omitempty"`
}

// Room is the registry entry of one room.
type Room struct {
	Name   string `json:"name"`
	IconID string `json:"iconId,omitempty"`
}

// Registry is an immutable snapshot. It is never modified after Load
// returns, so concurrent readers need no locking. A nil *Registry is a
// valid empty registry.
type Registry struct {
	fetchedAt time.Time
	devices   map[string]Device
	rooms     map[string]Room
}

type file struct {
	FetchedAt time.Time         `json:"fetchedAt"`
	Devices   map[string]Device `json:"devices"`
	Rooms     map[string]Room   `json:"rooms"`
}

// New builds a registry from in-memory maps. The maps are copied.
func New(fetchedAt time.Time, devices map[string]Device, rooms map[string]Room) *Registry {
	r := &Registry{
		fetchedAt: fetchedAt,
		devices:   make(map[string]Device, len(devices)),
		rooms:     make(map[string]Room, len(rooms)),
	}
	for id, d := range devices {
		r.devices[id] = d
	}
	for id, room := range rooms {
		r.rooms[id] = room
	}
	return r
}

// Load reads the registry JSON document at path.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrUnavailable, path, err)
	}

	return New(f.FetchedAt, f.Devices, f.Rooms), nil
}

// LoadOrEmpty loads the registry and degrades to an empty one, logging a
// single warning, when it cannot be read.
func LoadOrEmpty(path string, logger *slog.Logger) *Registry {
	logger = logging.OrDefault(logger)

	r, err := Load(path)
	if err != nil {
		logger.Warn("registry could not be loaded, continuing without enrichment",
			logging.File(path), logging.Error(err))
		return New(time.Time{}, nil, nil)
	}

	devices, rooms := r.Len()
	logger.Info("registry loaded",
		logging.File(path),
		slog.Int("devices", devices),
		slog.Int("rooms", rooms),
		slog.Time("fetched_at", r.FetchedAt()))
	return r
}

// FetchedAt is the time the snapshot was taken from the controller.
func (r *Registry) FetchedAt() time.Time {
	if r == nil {
		return time.Time{}
	}
	return r.fetchedAt
}

// Device looks up a device by id.
func (r *Registry) Device(id string) (Device, bool) {
	if r == nil || id == "" {
		return Device{}, false
	}
	d, ok := r.devices[id]
	return d, ok
}

// Room looks up a room by id.
func (r *Registry) Room(id string) (Room, bool) {
	if r == nil || id == "" {
		return Room{}, false
	}
	room, ok := r.rooms[id]
	return room, ok
}

// Len returns the number of devices and rooms.
func (r *Registry) Len() (devices, rooms int) {
	if r == nil {
		return 0, 0
	}
	return len(r.devices), len(r.rooms)
}
