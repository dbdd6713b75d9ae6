package xtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		exp    time.Duration
		expErr string
	}{
		{name: "ok/seconds", input: "30s", exp: 30 * time.Second},
		{name: "ok/compound", input: "1m30s", exp: 90 * time.Second},
		{name: "ok/days", input: "2d", exp: 48 * time.Hour},
		{name: "ok/upper_units", input: "1W2D", exp: 9 * day},
		{name: "ok/fraction", input: "1.5h", exp: 90 * time.Minute},
		{name: "ok/negative", input: "-1.5w", exp: -252 * time.Hour},
		{name: "ok/plus", input: "+5m", exp: 5 * time.Minute},
		{name: "ok/zero", input: "0", exp: 0},
		{name: "ok/small", input: "1ms500µs", exp: 1500 * time.Microsecond},
		{name: "err/empty", input: "", expErr: "invalid duration ''"},
		{name: "err/sign_only", input: "-", expErr: "invalid duration '-'"},
		{name: "err/no_unit", input: "90", expErr: "invalid duration '90'"},
		{name: "err/unknown_unit", input: "5y", expErr: "invalid duration '5y'"},
		{name: "err/trailing", input: "5m3", expErr: "invalid duration '5m3'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := ParseDuration(tt.input)
			if tt.expErr != "" {
				assert.EqualError(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.exp, d)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		d     time.Duration
		round time.Duration
		exp   string
	}{
		{name: "zero", d: 0, round: time.Second, exp: "0s"},
		{name: "weeks", d: 9*day + 3*time.Hour + 5*time.Minute, round: time.Second, exp: "1w2d3h5m"},
		{name: "minutes", d: 90 * time.Second, round: time.Second, exp: "1m30s"},
		{name: "negative", d: -3 * time.Hour, exp: "-3h"},
		{name: "rounded", d: 1500 * time.Millisecond, round: time.Second, exp: "2s"},
		{name: "unrounded", d: 1500 * time.Millisecond, exp: "1s500ms"},
		{name: "round_minute", d: time.Hour + 30*time.Minute + 59*time.Second, round: time.Minute, exp: "1h31m"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FormatDuration(tt.d, tt.round)
			assert.Equal(t, tt.exp, got)

			parsed, err := ParseDuration(got)
			require.NoError(t, err)
			if tt.round > 0 {
				assert.Equal(t, tt.d.Round(tt.round), parsed)
			} else {
				assert.Equal(t, tt.d, parsed)
			}
		})
	}
}

func TestParsePositive(t *testing.T) {
	t.Parallel()

	d, err := ParsePositive("5m")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	_, err = ParsePositive("0")
	assert.ErrorIs(t, err, ErrNegative)
	assert.EqualError(t, err, "duration must be positive: 0")

	_, err = ParsePositive("-1m")
	assert.ErrorIs(t, err, ErrNegative)

	_, err = ParsePositive("soon")
	assert.EqualError(t, err, "invalid duration 'soon'")
}
