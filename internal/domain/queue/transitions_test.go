package queue

import (
	"errors"
	"testing"
)

func TestNextStatus_ValidEdges(t *testing.T) {
	tests := []struct {
		action Action
		from   Status
		want   Status
	}{
		{ActionCall, StatusWaiting, StatusCalled},
		{ActionServe, StatusCalled, StatusServing},
		{ActionComplete, StatusServing, StatusCompleted},
	}
	for _, tt := range tests {
		got, err := NextStatus(tt.action, tt.from)
		if err != nil {
			t.Errorf("%s from %s: unexpected error %v", tt.action, tt.from, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s from %s = %s, want %s", tt.action, tt.from, got, tt.want)
		}
	}
}

func TestNextStatus_InvalidEdges(t *testing.T) {
	tests := []struct {
		action Action
		from   Status
	}{
		{ActionServe, StatusWaiting},
		{ActionComplete, StatusWaiting},
		{ActionCall, StatusCalled},
		{ActionComplete, StatusCalled},
		{ActionCall, StatusServing},
		{ActionServe, StatusCompleted},
		{ActionCall, StatusCompleted},
		{Action("skip"), StatusWaiting},
	}
	for _, tt := range tests {
		if _, err := NextStatus(tt.action, tt.from); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s from %s: expected ErrInvalidTransition, got %v", tt.action, tt.from, err)
		}
	}
}

func TestValidTransition(t *testing.T) {
	statuses := []Status{StatusWaiting, StatusCalled, StatusServing, StatusCompleted}
	valid := map[[2]Status]bool{
		{StatusWaiting, StatusCalled}:    true,
		{StatusCalled, StatusServing}:    true,
		{StatusServing, StatusCompleted}: true,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := valid[[2]Status{from, to}]
			if got := ValidTransition(from, to); got != want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestActionFor(t *testing.T) {
	if a, err := ActionFor(StatusServing); err != nil || a != ActionServe {
		t.Errorf("ActionFor(serving) = %s, %v", a, err)
	}
	if _, err := ActionFor(StatusWaiting); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected no action to lead to waiting, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" Serving "); err != nil || s != StatusServing {
		t.Errorf("ParseStatus = %s, %v", s, err)
	}
	if _, err := ParseStatus("skipped"); err == nil {
		t.Error("expected error for unknown status")
	}
}
