package berth

import "sort"

// ServiceState is the coarse lifecycle state a claimed service reports
// about itself.
type ServiceState string

const (
	ServiceStarting ServiceState = "starting"
	ServiceRunning  ServiceState = "running"
	ServiceDraining ServiceState = "draining"
	ServiceStopped  ServiceState = "stopped"
)

// Live reports whether the state counts as serving for resolver
// strategies that filter on liveness.
func (s ServiceState) Live() bool {
	return s == ServiceRunning
}

// ServiceStatus is the state a service publishes, with an optional
// free-form message.
type ServiceStatus struct {
	State   ServiceState `json:"state"`
	Message string       `json:"message,omitempty"`
}

// Endpoint describes one network endpoint published by a claimed
// service. Name is unique within the coordinate.
type Endpoint struct {
	Name     string            `json:"name"`
	Protocol string            `json:"protocol,omitempty"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// StatusAndEndpoints is the document stored on a coordinate's status
// node: the service status plus its published endpoints keyed by name.
type StatusAndEndpoints struct {
	Status    ServiceStatus       `json:"status"`
	Endpoints map[string]Endpoint `json:"endpoints"`
}

// EndpointList returns the endpoints sorted by name.
func (se *StatusAndEndpoints) EndpointList() []Endpoint {
	out := make([]Endpoint, 0, len(se.Endpoints))
	for _, ep := range se.Endpoints {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Logger is the logging interface the library writes through. Pass nil
// to Connect for no logging.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field is a structured key/value attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Warn(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }

// Metrics receives operational measurements. Pass nil to Connect for
// no metrics.
type Metrics interface {
	IncCounter(name string, value float64, labels ...Label)
	SetGauge(name string, value float64, labels ...Label)
	ObserveHistogram(name string, value float64, labels ...Label)
}

// Label is a metric dimension.
type Label struct {
	Name  string
	Value string
}

type nopMetrics struct{}

func (nopMetrics) IncCounter(string, float64, ...Label)       {}
func (nopMetrics) SetGauge(string, float64, ...Label)         {}
func (nopMetrics) ObserveHistogram(string, float64, ...Label) {}

// NopMetrics returns a Metrics sink that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
