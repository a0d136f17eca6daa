package logevent

import (
	"strings"
	"testing"
)

func validEvent() Event {
	return Event{
		TimestampMillis: 1700000000000,
		Consistency:     ConsistencySync,
		Level:           LevelInfo,
		Host:            "node1",
		ServiceName:     "gateway",
		Source:          "gateway.log",
		Type:            "applog",
		ID:              "evt-1",
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{name: "valid", mutate: func(e *Event) {}},
		{name: "no timestamp", mutate: func(e *Event) { e.TimestampMillis = 0 }, wantErr: "timestamp"},
		{name: "bad consistency", mutate: func(e *Event) { e.Consistency = "eventual" }, wantErr: "consistency"},
		{name: "empty consistency", mutate: func(e *Event) { e.Consistency = "" }, wantErr: "consistency"},
		{name: "no host", mutate: func(e *Event) { e.Host = "" }, wantErr: "host"},
		{name: "no service", mutate: func(e *Event) { e.ServiceName = "" }, wantErr: "service"},
		{name: "no source", mutate: func(e *Event) { e.Source = "" }, wantErr: "source"},
		{name: "no type", mutate: func(e *Event) { e.Type = "" }, wantErr: "type"},
		{name: "sync without id", mutate: func(e *Event) { e.ID = "" }, wantErr: "id required"},
		{
			name: "replicated without id",
			mutate: func(e *Event) {
				e.Consistency = ConsistencyReplicated
				e.ID = ""
			},
			wantErr: "id required",
		},
		{
			name: "besteffort without id",
			mutate: func(e *Event) {
				e.Consistency = ConsistencyBestEffort
				e.ID = ""
			},
		},
		{
			name:    "unnamed payload",
			mutate:  func(e *Event) { e.Payloads = []Payload{{Data: []byte("x")}} },
			wantErr: "payload",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := validEvent()
			tc.mutate(&e)
			err := e.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	e := validEvent()
	e.Payloads = []Payload{{Name: "body", ContentType: "text/plain", Data: []byte("line")}}

	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.ID != e.ID || back.Consistency != e.Consistency || back.Level != e.Level {
		t.Fatalf("round trip = %+v", back)
	}
	if len(back.Payloads) != 1 || back.Payloads[0].Name != "body" || string(back.Payloads[0].Data) != "line" {
		t.Fatalf("payloads = %+v", back.Payloads)
	}
}

func TestMarshalRejectsInvalid(t *testing.T) {
	e := validEvent()
	e.ID = ""
	if _, err := e.Marshal(); err == nil {
		t.Fatal("marshal accepted invalid event")
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"timestamp":0}`)); err == nil {
		t.Fatal("unmarshal accepted invalid event")
	}
	if _, err := Unmarshal([]byte("{")); err == nil {
		t.Fatal("unmarshal accepted bad json")
	}
}
