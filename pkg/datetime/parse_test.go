package datetime

import (
	"testing"
	"time"
)

func TestMustParseTime(t *testing.T) {
	tests := []struct {
		name     string
		layout   string
		dateStr  string
		expected string
	}{
		{
			name:     "Plain date",
			layout:   DateLayout,
			dateStr:  "2026-01-31",
			expected: "2026-01-31",
		},
		{
			name:     "Timestamp",
			layout:   time.RFC3339,
			dateStr:  "2026-03-02T09:30:00Z",
			expected: "2026-03-02T09:30:00Z",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MustParseTime(tt.layout, tt.dateStr)
			if result.Format(tt.layout) != tt.expected {
				t.Errorf("MustParseTime() = %s, expected %s", result.Format(tt.layout), tt.expected)
			}
		})
	}
}

func TestMustParseTimePanic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParseTime() should panic on invalid input")
		}
	}()
	MustParseTime(DateLayout, "31/01/2026")
}

func TestParseBound(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		upper    bool
		expected time.Time
		wantErr  bool
	}{
		{
			name:     "Plain lower bound",
			value:    "2026-02-01",
			expected: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Plain upper bound covers the day",
			value:    "2026-02-01",
			upper:    true,
			expected: time.Date(2026, 2, 1, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:     "Timestamp upper bound is exact",
			value:    "2026-02-01T12:00:00Z",
			upper:    true,
			expected: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:    "Invalid",
			value:   "yesterday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBound(tt.value, tt.upper)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseBound() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseBound() error = %v", err)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("ParseBound() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestEffectiveDate(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 4, 5, 0, time.FixedZone("AEST", 10*3600))

	got, err := EffectiveDate("", now)
	if err != nil {
		t.Fatalf("EffectiveDate() error = %v", err)
	}
	if want := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("EffectiveDate() = %v, expected %v", got, want)
	}

	got, err = EffectiveDate("2026-07-01", now)
	if err != nil {
		t.Fatalf("EffectiveDate() error = %v", err)
	}
	if got.Format(DateLayout) != "2026-07-01" {
		t.Errorf("EffectiveDate() = %v, expected 2026-07-01", got)
	}

	if _, err := EffectiveDate("07/01/2026", now); err == nil {
		t.Error("EffectiveDate() expected error for a non-ISO date")
	}
}
