package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSyncDuration(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want string
	}{
		{"zero", 0, "0s"},
		{"negative", -time.Second, "0s"},
		{"sub-millisecond passes through", 250 * time.Microsecond, "250µs"},
		{"sub-millisecond noise truncated", 1500*time.Millisecond + 123*time.Microsecond, "1.5s"},
		{"minutes", 10 * time.Minute, "10m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatSyncDuration(tt.in))
		})
	}
}
