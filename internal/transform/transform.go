// Package transform turns parsed events into the documents stored in the
// index, enriching them from the registry snapshot.
package transform

import (
	"log/slog"

	"github.com/telhawk-systems/homehawk/internal/event"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/metrics"
	"github.com/telhawk-systems/homehawk/internal/registry"
)

// Document is the normalized form of one event.
type Document struct {
	Timestamp string        `json:"timestamp"`
	Type      string        `json:"type"`
	ID        string        `json:"id,omitempty"`
	DeviceID  string        `json:"deviceId,omitempty"`
	Path      string        `json:"path,omitempty"`
	Device    *DeviceInfo   `json:"device,omitempty"`
	Room      *RoomInfo     `json:"room,omitempty"`
	Metric    *event.Metric `json:"metric,omitempty"`
}

// DeviceInfo is the registry data attached to device events.
type DeviceInfo struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// RoomInfo is the registry data attached to device and room events.
type RoomInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Result pairs a document with the identity it is stored under.
type Result struct {
	ID       string
	Document *Document
}

// Transformer applies the enrichment. It holds no mutable state and is safe
// for concurrent use.
type Transformer struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a transformer reading from reg. A nil registry disables
// enrichment.
func New(reg *registry.Registry, logger *slog.Logger) *Transformer {
	return &Transformer{
		registry: reg,
		logger:   logging.OrDefault(logger),
	}
}

// Transform normalizes ev. It never fails: missing registry entries simply
// leave the enrichment fields empty.
func (t *Transformer) Transform(ev event.Event) Result {
	doc := &Document{
		Timestamp: ev.Time(),
		Type:      ev.Type(),
	}

	v := enrichVisitor{doc: doc, registry: t.registry}
	ev.Accept(&v)

	if u, ok := ev.(*event.Unknown); ok {
		metrics.UnknownEvents.Inc()
		t.logger.Warn("unknown event type, indexing with fallback identity",
			logging.EventType(u.Type()),
			slog.Bool("has_id", u.HasID),
			slog.Bool("has_device_id", u.HasDeviceID))
	}

	doc.Metric = event.ExtractMetric(ev)

	return Result{ID: event.Identity(ev), Document: doc}
}

// TransformLine parses and transforms one NDJSON line.
func (t *Transformer) TransformLine(line []byte) (Result, error) {
	ev, err := event.Parse(line)
	if err != nil {
		return Result{}, err
	}
	return t.Transform(ev), nil
}

type enrichVisitor struct {
	doc      *Document
	registry *registry.Registry
}

func (v *enrichVisitor) VisitDeviceServiceData(e *event.DeviceServiceData) {
	v.doc.ID = e.ID
	v.doc.DeviceID = e.DeviceID
	v.doc.Path = e.Path

	d, ok := v.registry.Device(e.DeviceID)
	if !ok {
		return
	}
	v.doc.Device = &DeviceInfo{Name: d.Name, Type: d.Type}

	if room, ok := v.registry.Room(d.RoomID); ok {
		v.doc.Room = &RoomInfo{ID: d.RoomID, Name: room.Name}
	}
}

func (v *enrichVisitor) VisitRoom(e *event.Room) {
	v.doc.ID = e.ID
	if room, ok := v.registry.Room(e.ID); ok {
		v.doc.Room = &RoomInfo{ID: e.ID, Name: room.Name}
	}
}

func (v *enrichVisitor) VisitDevice(e *event.Device)   { v.doc.ID = e.ID }
func (v *enrichVisitor) VisitMessage(e *event.Message) { v.doc.ID = e.ID }
func (v *enrichVisitor) VisitClient(e *event.Client)   { v.doc.ID = e.ID }
func (v *enrichVisitor) VisitLight(e *event.Light)     { v.doc.ID = e.ID }

func (v *enrichVisitor) VisitUnknown(e *event.Unknown) {
	if e.HasID {
		v.doc.ID = e.ID
	}
}
