package sequence

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCode(t *testing.T) {
	require.Equal(t, "CMP-250301-001AB", FormatCode("CMP", "250301", 1, "AB"))
	require.Equal(t, "CMP-250301-00ZXY", FormatCode("CMP", "250301", 35, "XY"))
	require.Equal(t, "CMP-250301-1000K2", FormatCode("CMP", "250301", 46656, "K2"))
}

func TestRandomAlphaNumeric(t *testing.T) {
	s, err := randomAlphaNumeric(6)
	require.NoError(t, err)
	require.Len(t, s, 6)
	require.NotContains(t, s, "0")
	require.NotContains(t, s, "O")
}
