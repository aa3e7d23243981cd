package msgutils_test

import (
	"testing"

	"github.com/habiliai/parley/internal/msgutils"
	"github.com/stretchr/testify/require"
)

func TestExtractMentions(t *testing.T) {
	require.Equal(t, []string{"dev"}, msgutils.ExtractMentions("@dev please look"))
	require.Equal(t, []string{"qa-bot", "designer"}, msgutils.ExtractMentions("cc @qa-bot, @designer"))
	require.Empty(t, msgutils.ExtractMentions("no mentions here"))
	require.Equal(t, []string{"dev"}, msgutils.ExtractMentions("(@dev)"))
}
