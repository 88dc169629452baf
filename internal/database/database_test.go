package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"SELECT * FROM patterns WHERE name = ?", "SELECT * FROM patterns WHERE name = $1"},
		{"INSERT INTO affinities VALUES (?, ?, ?)", "INSERT INTO affinities VALUES ($1, $2, $3)"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rebind(tc.in))
	}
}
