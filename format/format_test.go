package format

import (
	"testing"
	"time"
)

func TestHumanBytes(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{999, "999 B"},
		{1000, "1.0 KB"},
		{1500, "1.5 KB"},
		{3_438_000_000, "3.4 GB"},
		{1_724_000_000_000, "1.7 TB"},
	}

	for _, tt := range tests {
		if got := HumanBytes(tt.input); got != tt.want {
			t.Errorf("HumanBytes(%d) = %q, erwartet %q", tt.input, got, tt.want)
		}
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{1400 * time.Millisecond, "1s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute + 10*time.Second, "2h5m"},
		{120 * time.Hour, "99h+"},
	}

	for _, tt := range tests {
		if got := HumanDuration(tt.input); got != tt.want {
			t.Errorf("HumanDuration(%s) = %q, erwartet %q", tt.input, got, tt.want)
		}
	}
}
