package format

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeMarkdown(t *testing.T) {
	assert.Equal(t, `user\_name \*x\* \[a]`, MD("user_name *x* [a]"))

	v2, err := EscapeMarkdown("1.5 (x)!", MarkdownV2)
	require.NoError(t, err)
	assert.Equal(t, `1\.5 \(x\)\!`, v2)

	_, err = EscapeMarkdown("x", 3)
	assert.Error(t, err)
}
