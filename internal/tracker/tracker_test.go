package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/shopmonkeyus/go-common/logger"
	"github.com/stretchr/testify/assert"
)

func newTestTracker(t *testing.T) *Tracker {
	tr, err := NewTracker(TrackerConfig{
		Context: context.Background(),
		Logger:  logger.NewTestLogger(),
		Dir:     t.TempDir(),
	})
	if err != nil {
		t.Fatalf("error creating tracker: %s", err)
	}
	return tr
}

func TestTrackerSetGet(t *testing.T) {
	tracker := newTestTracker(t)
	defer tracker.Close()

	ok, val, err := tracker.GetKey("registry:p7_products")
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Empty(t, val)

	assert.NoError(t, tracker.SetKey("registry:p7_products", "7", time.Microsecond))
	time.Sleep(time.Millisecond * 2)
	ok, val, err = tracker.GetKey("registry:p7_products")
	assert.NoError(t, err)
	assert.Empty(t, val)
	assert.False(t, ok)

	assert.NoError(t, tracker.SetKey("registry:p7_products", "7", 0))
	ok, val, err = tracker.GetKey("registry:p7_products")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "7", val)
}

func TestTrackerDeleteMissing(t *testing.T) {
	tracker := newTestTracker(t)
	defer tracker.Close()

	assert.NoError(t, tracker.SetKey("registry:p7_products", "7", 0))
	assert.NoError(t, tracker.DeleteKey("registry:p7_products", "registry:never_set"))
	ok, val, err := tracker.GetKey("registry:p7_products")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)
}
