package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestConnectedAtJSON(t *testing.T) {
	instant := NewISOTime(time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC))

	tests := []struct {
		name string
		in   ConnectedAt
		want string
	}{
		{name: "never connected", in: ConnectedAt{}, want: "false"},
		{name: "promoted", in: ConnectedAt{instant}, want: `"2024-05-02T10:30:00.000Z"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("marshal = %s, want %s", got, tt.want)
			}
			var back ConnectedAt
			if err := json.Unmarshal(got, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !back.Equal(tt.in.Time) {
				t.Errorf("round trip = %v, want %v", back.Time, tt.in.Time)
			}
		})
	}
}

func TestFreshRecordShape(t *testing.T) {
	timeout := NewISOTime(time.Date(2024, 5, 2, 10, 31, 0, 0, time.UTC))
	rec := ConnectionRecord{
		ID:        "6f1c2a34-0000-4000-8000-000000000001",
		ClientID:  "cliX",
		TokenID:   "tok-1",
		ReportURL: "http://localhost:8081/providers/connection/connect",
		Timeout:   &timeout,
		Open:      true,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"connected":false`) {
		t.Errorf("fresh record must serialize connected as false, got %s", s)
	}
	for _, absent := range []string{"serverId", "disconnected", "lastHeartbeat"} {
		if strings.Contains(s, absent) {
			t.Errorf("fresh record must omit %s, got %s", absent, s)
		}
	}
}

func TestIsLive(t *testing.T) {
	now := time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)
	past := NewISOTime(now.Add(-time.Minute))
	future := NewISOTime(now.Add(time.Minute))

	tests := []struct {
		name string
		rec  ConnectionRecord
		want bool
	}{
		{name: "closed", rec: ConnectionRecord{Open: false, Connected: ConnectedAt{NewISOTime(now)}}, want: false},
		{name: "promoted", rec: ConnectionRecord{Open: true, Connected: ConnectedAt{NewISOTime(now)}}, want: true},
		{name: "issued within window", rec: ConnectionRecord{Open: true, Timeout: &future}, want: true},
		{name: "issued expired", rec: ConnectionRecord{Open: true, Timeout: &past}, want: false},
		{name: "issued without timeout", rec: ConnectionRecord{Open: true}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.IsLive(now); got != tt.want {
				t.Errorf("IsLive() = %v, want %v", got, tt.want)
			}
		})
	}
}
