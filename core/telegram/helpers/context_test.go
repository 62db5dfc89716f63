package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/numbershop/core/logger"
)

type stubContext struct {
	tele.Context
	store map[string]any
}

func (s *stubContext) Update() tele.Update     { return tele.Update{ID: 11} }
func (s *stubContext) Sender() *tele.User      { return &tele.User{ID: 22} }
func (s *stubContext) Chat() *tele.Chat        { return &tele.Chat{ID: 33} }
func (s *stubContext) Get(key string) any      { return s.store[key] }
func (s *stubContext) Set(key string, val any) { s.store[key] = val }

func TestBuildContextCachesMetadata(t *testing.T) {
	c := &stubContext{store: map[string]any{}}
	ctx := BuildContext(c)
	assert.Equal(t, 11, logger.UpdateIDFrom(ctx))
	assert.Equal(t, int64(22), logger.UserIDFrom(ctx))
	assert.Equal(t, int64(33), logger.ChatIDFrom(ctx))
	assert.NotEmpty(t, logger.RIDFrom(ctx))

	same := BuildContext(c)
	assert.Equal(t, logger.RIDFrom(ctx), logger.RIDFrom(same))

	ctx = WithHandler(c, "buy")
	assert.Equal(t, "buy", logger.HandlerFrom(ctx))
}

func TestBuildContextNil(t *testing.T) {
	assert.NotNil(t, BuildContext(nil))
}
