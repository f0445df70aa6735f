package app

import (
	"errors"
	"testing"
)

func TestNewSyncOperation(t *testing.T) {
	tests := []struct {
		name       string
		operation  string
		parameters string
	}{
		{
			name:       "with parameters",
			operation:  "Pull",
			parameters: "pid=7",
		},
		{
			name:       "empty parameters",
			operation:  "Scan",
			parameters: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewSyncOperation(tt.operation, tt.parameters)

			if op.Operation != tt.operation {
				t.Errorf("Operation = %q, want %q", op.Operation, tt.operation)
			}
			if op.Parameters != tt.parameters {
				t.Errorf("Parameters = %q, want %q", op.Parameters, tt.parameters)
			}
			if op.Status != StatusSuccess {
				t.Errorf("Status = %q, want %q", op.Status, StatusSuccess)
			}
			if op.ID != 0 {
				t.Errorf("ID = %d, want 0", op.ID)
			}
		})
	}
}

func TestSyncOperation_Persisted(t *testing.T) {
	tests := []struct {
		name string
		id   int64
		want bool
	}{
		{name: "not persisted when ID is 0", id: 0, want: false},
		{name: "persisted when ID is positive", id: 1, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &SyncOperation{ID: tt.id}
			if got := op.Persisted(); got != tt.want {
				t.Errorf("Persisted() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSyncOperation_Record(t *testing.T) {
	tests := []struct {
		name  string
		steps []struct {
			err     error
			partial bool
		}
		want string
	}{
		{
			name: "clean run",
			steps: []struct {
				err     error
				partial bool
			}{{nil, false}},
			want: StatusSuccess,
		},
		{
			name: "partial result",
			steps: []struct {
				err     error
				partial bool
			}{{nil, true}},
			want: StatusPartial,
		},
		{
			name: "error after partial",
			steps: []struct {
				err     error
				partial bool
			}{{nil, true}, {errors.New("boom"), false}},
			want: StatusError,
		},
		{
			name: "partial never downgrades an error",
			steps: []struct {
				err     error
				partial bool
			}{{errors.New("boom"), false}, {nil, true}},
			want: StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := NewSyncOperation("Pull", "")
			for _, s := range tt.steps {
				op.Record(s.err, s.partial)
			}
			if op.Status != tt.want {
				t.Errorf("Status = %q, want %q", op.Status, tt.want)
			}
		})
	}
}
