package market

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePortEntries(t *testing.T) {
	ports := parsePortEntries([]string{
		"203.0.113.1=9735,203.0.113.2=9736",
		"malformed",
		"203.0.113.3=not-a-number",
	})

	require.Equal(t, map[string]uint16{
		"203.0.113.1": 9735,
		"203.0.113.2": 9736,
	}, ports)
}

func TestParsePortEntriesEmpty(t *testing.T) {
	require.Empty(t, parsePortEntries(nil))
}
