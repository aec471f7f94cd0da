package model

import "testing"

func TestServerInstance_String(t *testing.T) {
	tests := []struct {
		s    ServerInstance
		want string
	}{
		{ServerInstance{Hostname: "srv1", Port: 8080}, "srv1:8080"},
		{ServerInstance{Hostname: "srv1", Port: 8080, Sequence: 1}, "srv1:8080#1"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
	}
}

func TestNewSegmentIDSet(t *testing.T) {
	set := NewSegmentIDSet("seg0", "seg1", "seg0")

	if len(set) != 2 {
		t.Errorf("expected 2 unique segments, got %d", len(set))
	}
}

func TestSegmentIDSet_Add(t *testing.T) {
	set := NewSegmentIDSet()
	set.Add("seg0")
	set.Add("seg0")

	if len(set) != 1 {
		t.Errorf("expected 1 segment after duplicate add, got %d", len(set))
	}
}

func TestSegmentIDSet_Names(t *testing.T) {
	set := NewSegmentIDSet("seg0", "seg1")
	names := set.Names()

	if len(names) != 2 {
		t.Errorf("expected 2 names, got %d", len(names))
	}
}
