package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessageContent(t *testing.T) {
	assert.NoError(t, ValidateMessageContent("hello"))
	assert.NoError(t, ValidateMessageContent(strings.Repeat("a", 100000)))

	assert.Error(t, ValidateMessageContent(""))
	assert.Error(t, ValidateMessageContent(strings.Repeat("a", 100001)))
	assert.Error(t, ValidateMessageContent("bad \xff utf8"))
}

func TestValidateTitle(t *testing.T) {
	assert.NoError(t, ValidateTitle(""))
	assert.NoError(t, ValidateTitle("My Chat"))
	assert.NoError(t, ValidateTitle(strings.Repeat("a", 200)))

	assert.Error(t, ValidateTitle(strings.Repeat("a", 201)))
	assert.Error(t, ValidateTitle("bad \xff utf8"))
}

func TestParseConversationID(t *testing.T) {
	id, err := ParseConversationID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "0", "-5", "1.5"} {
		_, err := ParseConversationID(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}
