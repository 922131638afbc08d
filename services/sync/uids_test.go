package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/inboxline/mailsync/interfaces"
)

func TestRemoteMetadataUIDs(t *testing.T) {
	m := remoteMetadata{
		9: interfaces.GMetadata{},
		1: interfaces.GMetadata{},
		5: interfaces.GMetadata{},
	}

	assert.Equal(t, []uint32{1, 5, 9}, m.uids())
}

func TestRemoteMetadataMerge(t *testing.T) {
	m := remoteMetadata{1: interfaces.GMetadata{MsgID: 10}}

	m.merge(map[uint32]interfaces.GMetadata{
		1: {MsgID: 11},
		2: {MsgID: 12},
	})

	assert.Equal(t, uint64(11), m[1].MsgID)
	assert.Equal(t, uint64(12), m[2].MsgID)
}

func TestSubtractUIDs(t *testing.T) {
	xs := []uint32{5, 1, 9, 3}

	assert.Equal(t, []uint32{5, 9}, subtractUIDs(xs, []uint32{1, 3}))
	assert.Equal(t, xs, subtractUIDs(xs, nil))
	assert.Empty(t, subtractUIDs(nil, []uint32{1}))
}

func TestPartitionUIDs(t *testing.T) {
	newUIDs, updated := partitionUIDs([]uint32{1, 2, 3, 4}, []uint32{2, 4})

	assert.Equal(t, []uint32{1, 3}, newUIDs)
	assert.Equal(t, []uint32{2, 4}, updated)
}

func TestPercentDone(t *testing.T) {
	assert.Equal(t, float64(100), percentDone(0, 0))
	assert.Equal(t, float64(50), percentDone(1, 2))
	assert.Equal(t, float64(100), percentDone(3, 3))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
