package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsAny(t *testing.T) {
	tests := []struct {
		name       string
		have, want []string
		expected   bool
	}{
		{"overlap", []string{"viewer", "admin"}, []string{"admin"}, true},
		{"disjoint", []string{"viewer"}, []string{"admin", "editor"}, false},
		{"no roles", nil, []string{"admin"}, false},
		{"nothing wanted", []string{"admin"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContainsAny(tt.have, tt.want))
		})
	}
}
