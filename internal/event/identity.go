package event

import "strings"

const (
	idSeparator = "-"

	// UnknownIDPlaceholder stands in for the entity id of an Unknown event
	// that carries neither id nor deviceId.
	UnknownIDPlaceholder = "unknown"
)

// Identity returns the document key for e. It is a pure function of the
// type tag, the primary entity id and the source timestamp, so re-ingesting
// the same record always targets the same document.
func Identity(e Event) string {
	var v identityVisitor
	e.Accept(&v)
	parts := append([]string{e.Type()}, v.ids...)
	parts = append(parts, e.Time())
	return strings.Join(parts, idSeparator)
}

type identityVisitor struct {
	ids []string
}

func (v *identityVisitor) VisitDeviceServiceData(e *DeviceServiceData) {
	v.ids = []string{e.DeviceID, e.ID}
}

func (v *identityVisitor) VisitDevice(e *Device)   { v.ids = []string{e.ID} }
func (v *identityVisitor) VisitRoom(e *Room)       { v.ids = []string{e.ID} }
func (v *identityVisitor) VisitMessage(e *Message) { v.ids = []string{e.ID} }
func (v *identityVisitor) VisitClient(e *Client)   { v.ids = []string{e.ID} }
func (v *identityVisitor) VisitLight(e *Light)     { v.ids = []string{e.ID} }

func (v *identityVisitor) VisitUnknown(e *Unknown) {
	switch {
	case e.HasID:
		v.ids = []string{e.ID}
	case e.HasDeviceID:
		v.ids = []string{e.DeviceID}
	default:
		v.ids = []string{UnknownIDPlaceholder}
	}
}
