package event

import (
	"math"
	"strconv"
	"strings"
)

// Metric is a single normalized sensor reading.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// ExtractMetric returns the reading carried by e, or nil when the variant
// carries none. For payloads with several numeric entries the first one in
// received order wins.
func ExtractMetric(e Event) *Metric {
	var v metricVisitor
	e.Accept(&v)
	return v.metric
}

type metricVisitor struct {
	metric *Metric
}

func (v *metricVisitor) VisitDeviceServiceData(e *DeviceServiceData) {
	for _, f := range e.State {
		if f.Key == TypeTag {
			continue
		}
		if n, ok := f.Value.(float64); ok {
			v.metric = &Metric{Name: f.Key, Value: n}
			return
		}
	}
}

func (v *metricVisitor) VisitRoom(e *Room) {
	for _, f := range e.ExtProperties {
		if n, ok := parseFinite(f.Value); ok {
			v.metric = &Metric{Name: f.Key, Value: n}
			return
		}
	}
}

func (v *metricVisitor) VisitDevice(*Device)   {}
func (v *metricVisitor) VisitMessage(*Message) {}
func (v *metricVisitor) VisitClient(*Client)   {}
func (v *metricVisitor) VisitLight(*Light)     {}
func (v *metricVisitor) VisitUnknown(*Unknown) {}

func parseFinite(value any) (float64, bool) {
	var n float64
	switch val := value.(type) {
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	case float64:
		n = val
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
