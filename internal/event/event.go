// Package event models the raw records written by the smart home controller
// and derives the two values every record needs downstream: its metric and
// its document identity.
package event

// TypeTag is the JSON key carrying the variant discriminator.
const TypeTag = "@type"

// Known type tags.
const (
	TypeDeviceServiceData = "DeviceServiceData"
	TypeDevice            = "device"
	TypeRoom              = "room"
	TypeMessage           = "message"
	TypeClient            = "client"
	TypeLight             = "light"
)

// Event is one parsed record. The concrete types are DeviceServiceData,
// Device, Room, Message, Client, Light and Unknown.
type Event interface {
	// Type returns the type tag as received.
	Type() string
	// Time returns the source timestamp as received.
	Time() string
	// Accept dispatches to the Visitor method matching the concrete type.
	Accept(v Visitor)
}

// Visitor handles every variant. Adding a variant adds a method here, which
// breaks every handler until it is taught about the new type.
type Visitor interface {
	VisitDeviceServiceData(e *DeviceServiceData)
	VisitDevice(e *Device)
	VisitRoom(e *Room)
	VisitMessage(e *Message)
	VisitClient(e *Client)
	VisitLight(e *Light)
	VisitUnknown(e *Unknown)
}

// Envelope holds the fields shared by all variants.
type Envelope struct {
	Tag       string
	Timestamp string
}

func (e Envelope) Type() string { return e.Tag }
func (e Envelope) Time() string { return e.Timestamp }

// DeviceServiceData reports the state of one service of one device.
type DeviceServiceData struct {
	Envelope
	ID       string // service name, e.g. "HumidityLevel"
	DeviceID string
	Path     string
	State    Fields
}

func (e *DeviceServiceData) Accept(v Visitor) { v.VisitDeviceServiceData(e) }

// Device announces a device and its model.
type Device struct {
	Envelope
	ID          string
	Name        string
	DeviceModel string
	RoomID      string
}

func (e *Device) Accept(v Visitor) { v.VisitDevice(e) }

// Room announces a room. ExtProperties carries string-encoded readings.
type Room struct {
	Envelope
	ID            string
	Name          string
	IconID        string
	ExtProperties Fields
}

func (e *Room) Accept(v Visitor) { v.VisitRoom(e) }

// Message is a controller notification.
type Message struct {
	Envelope
	ID         string
	Code       string
	SourceType string
	SourceID   string
}

func (e *Message) Accept(v Visitor) { v.VisitMessage(e) }

// Client is an app or integration registered with the controller.
type Client struct {
	Envelope
	ID         string
	Name       string
	ClientType string
}

func (e *Client) Accept(v Visitor) { v.VisitClient(e) }

// Light is a lighting entity update.
type Light struct {
	Envelope
	ID   string
	Name string
}

func (e *Light) Accept(v Visitor) { v.VisitLight(e) }

// Unknown keeps records whose type tag is not recognised. HasID and
// HasDeviceID distinguish absent fields from empty ones.
type Unknown struct {
	Envelope
	ID          string
	HasID       bool
	DeviceID    string
	HasDeviceID bool
	Payload     []byte
}

func (e *Unknown) Accept(v Visitor) { v.VisitUnknown(e) }
