package gen

import (
	"testing"

	"clinic-engagement/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNewNode(t *testing.T) {
	node, err := NewNode(&config.Config{NodeID: 3})
	require.NoError(t, err)
	require.NotEqual(t, node.Generate().String(), node.Generate().String())

	_, err = NewNode(&config.Config{NodeID: 5000})
	require.Error(t, err)
}
