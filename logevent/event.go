// Package logevent defines the wire contract for log events exchanged
// with the log archiving pipeline. The library does not produce or
// consume these itself; it pins down the fields, the consistency
// levels, and what makes an event valid, so producers and the archiver
// agree.
package logevent

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ConsistencyLevel is the durability the sender asked for.
type ConsistencyLevel string

const (
	// ConsistencyBestEffort events may be dropped; they are the only
	// events allowed to omit an ID.
	ConsistencyBestEffort ConsistencyLevel = "besteffort"
	// ConsistencySync events are acknowledged after a durable local
	// write.
	ConsistencySync ConsistencyLevel = "sync"
	// ConsistencyReplicated events are acknowledged after replication.
	ConsistencyReplicated ConsistencyLevel = "replicated"
)

func (c ConsistencyLevel) valid() bool {
	switch c {
	case ConsistencyBestEffort, ConsistencySync, ConsistencyReplicated:
		return true
	}
	return false
}

// Level is the event severity.
type Level int32

const (
	LevelDebug Level = 10
	LevelInfo  Level = 20
	LevelWarn  Level = 30
	LevelError Level = 40
	LevelFatal Level = 50
)

// Payload is one named chunk of opaque event data.
type Payload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Event is a single log event. ID identifies the event end to end and
// is mandatory for every consistency level above best effort; without
// it delivery can neither be tracked nor acknowledged.
type Event struct {
	TimestampMillis int64            `json:"timestamp"`
	Consistency     ConsistencyLevel `json:"consistency"`
	Level           Level            `json:"level"`
	Host            string           `json:"host"`
	ServiceName     string           `json:"serviceName"`
	Source          string           `json:"source"`
	Type            string           `json:"type"`
	ID              string           `json:"id,omitempty"`
	PID             int32            `json:"pid,omitempty"`
	TID             int32            `json:"tid,omitempty"`
	Payloads        []Payload        `json:"payloads,omitempty"`
}

// Validate reports whether the event is complete enough to put on the
// wire.
func (e *Event) Validate() error {
	if e.TimestampMillis <= 0 {
		return errors.New("logevent: timestamp missing")
	}
	if !e.Consistency.valid() {
		return fmt.Errorf("logevent: bad consistency level %q", e.Consistency)
	}
	if e.Host == "" {
		return errors.New("logevent: host missing")
	}
	if e.ServiceName == "" {
		return errors.New("logevent: service name missing")
	}
	if e.Source == "" {
		return errors.New("logevent: source missing")
	}
	if e.Type == "" {
		return errors.New("logevent: type missing")
	}
	if e.ID == "" && e.Consistency != ConsistencyBestEffort {
		return fmt.Errorf("logevent: id required at consistency %q", e.Consistency)
	}
	for i, p := range e.Payloads {
		if p.Name == "" {
			return fmt.Errorf("logevent: payload %d has no name", i)
		}
	}
	return nil
}

// Marshal encodes the event for the wire after validating it.
func (e *Event) Marshal() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Unmarshal decodes and validates an event from the wire.
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("logevent: decode: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
