package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/newsfeeds/internal/newsfeed"
)

var _ newsfeed.Clock = (*Clock)(nil)

func TestNowIsCurrentUTC(t *testing.T) {
	t.Parallel()

	got := New().Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.WithinDuration(t, time.Now(), got, time.Second)
}

func TestNowDoesNotGoBackwards(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	assert.False(t, clk.Now().Before(first))
}
