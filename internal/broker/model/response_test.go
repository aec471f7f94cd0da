package model

import "testing"

func TestBrokerResponse_AddException(t *testing.T) {
	r := &BrokerResponse{}
	r.AddException(200, "gather failure")

	if len(r.Exceptions) != 1 {
		t.Fatalf("expected 1 exception, got %d", len(r.Exceptions))
	}
	if r.Exceptions[0].ErrorCode != 200 || r.Exceptions[0].Message != "gather failure" {
		t.Errorf("unexpected exception: %+v", r.Exceptions[0])
	}
}

func TestEmpty(t *testing.T) {
	r := Empty()
	if r.Selection == nil {
		t.Fatal("expected Empty() to carry a non-nil Selection shape")
	}
	if len(r.Selection.Rows) != 0 {
		t.Error("expected Empty() to carry zero rows")
	}
}

func TestQueryState_Terminal(t *testing.T) {
	tests := []struct {
		state QueryState
		want  bool
	}{
		{QueryStateCompiled, false},
		{QueryStateCompileFailed, true},
		{QueryStateValidated, false},
		{QueryStateValidateFailed, true},
		{QueryStateRouted, false},
		{QueryStateScattered, false},
		{QueryStateGathered, false},
		{QueryStateReduced, false},
		{QueryStateReturned, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}
