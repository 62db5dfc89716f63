package router

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type codedErr struct{}

func (codedErr) Error() string { return "x" }
func (codedErr) Code() string  { return "out of stock" }

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "OUT_OF_STOCK", errorCode(fmt.Errorf("confirm: %w", codedErr{})))
	assert.Equal(t, "ERRORSTRING", errorCode(errors.New("plain")))
}

func TestNormalizeHandlerName(t *testing.T) {
	assert.Equal(t, "start", normalizeHandlerName(" /Start "))
	assert.Equal(t, "unknown", normalizeHandlerName(""))
}
