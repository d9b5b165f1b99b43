package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDateOnly(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	assert.NoError(t, err)

	cases := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			"UTC afternoon",
			time.Date(2024, 1, 15, 15, 4, 5, 123, time.UTC),
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			"already midnight",
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			"local calendar day is kept",
			time.Date(2024, 1, 15, 1, 30, 0, 0, moscow),
			time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DateOnly(tc.in)
			assert.True(t, got.Equal(tc.want), "got %s, want %s", got, tc.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}
