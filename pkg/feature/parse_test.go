package feature

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2021, 8, 17, 5, 29, 26, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch seconds", `1629178166`, want},
		{"epoch millis", `1629178166000`, want},
		{"epoch seconds string", `"1629178166"`, want},
		{"rfc3339", `"2021-08-17T05:29:26Z"`, want},
		{"rfc3339 offset", `"2021-08-17T07:29:26+02:00"`, want},
		{"naive iso", `"2021-08-17T05:29:26"`, want},
		{"colon-less offset", `"2021-08-17T05:29:26.000+0000"`, want},
		{"colon-less offset no fraction", `"2021-08-17T07:29:26+0200"`, want},
		{"space separated", `"2021-08-17 05:29:26"`, want},
		{"date only", `"2021-08-17"`, time.Date(2021, 8, 17, 0, 0, 0, 0, time.UTC)},
		{"wrapped string", `{"$date": "2021-08-17T05:29:26.000Z"}`, want},
		{"wrapped millis", `{"$date": 1629178166000}`, want},
		{"wrapped number long", `{"$date": {"$numberLong": "1629178166000"}}`, want},
		{"not a date", `"not-a-date"`, time.Time{}},
		{"empty string", `""`, time.Time{}},
		{"null", `null`, time.Time{}},
		{"missing", ``, time.Time{}},
		{"bool", `true`, time.Time{}},
		{"array", `[1]`, time.Time{}},
		{"object without date", `{"ts": 1}`, time.Time{}},
		{"wrapped garbage", `{"$date": "yesterday"}`, time.Time{}},
		{"overflow", `1e300`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseTimestamp(json.RawMessage(tt.raw))
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestCoerceAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`10`, 10},
		{`"10"`, 10},
		{`" 2.5 "`, 2.5},
		{`"2000000000000000000"`, 2e18},
		{`-3`, -3},
		{`1e3`, 1000},
		{`"abc"`, 0},
		{`""`, 0},
		{`null`, 0},
		{`true`, 0},
		{`{"v": 1}`, 0},
		{`[1]`, 0},
		{``, 0},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.InDelta(t, tt.want, CoerceAmount(json.RawMessage(tt.raw)), 1e-9)
		})
	}
}
