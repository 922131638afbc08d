package sync

import (
	"context"
	"sort"
	"time"

	"github.com/inboxline/mailsync/interfaces"
	"github.com/inboxline/mailsync/internal/models"
)

// remoteMetadata maps folder UIDs to their provider message and thread ids.
// On plain IMAP both ids are zero.
type remoteMetadata map[uint32]interfaces.GMetadata

// uids returns the map's keys in ascending order.
func (m remoteMetadata) uids() []uint32 {
	out := make([]uint32, 0, len(m))
	for uid := range m {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// merge copies every entry of other into m.
func (m remoteMetadata) merge(other map[uint32]interfaces.GMetadata) {
	for uid, meta := range other {
		m[uid] = meta
	}
}

// subtractUIDs returns the elements of xs not present in ys, preserving
// the order of xs.
func subtractUIDs(xs, ys []uint32) []uint32 {
	if len(ys) == 0 {
		return xs
	}
	drop := make(map[uint32]bool, len(ys))
	for _, y := range ys {
		drop[y] = true
	}
	out := make([]uint32, 0, len(xs))
	for _, x := range xs {
		if !drop[x] {
			out = append(out, x)
		}
	}
	return out
}

// partitionUIDs splits changed into UIDs unseen locally and UIDs already
// bound to a folder item.
func partitionUIDs(changed, local []uint32) (newUIDs, updated []uint32) {
	known := make(map[uint32]bool, len(local))
	for _, uid := range local {
		known[uid] = true
	}
	for _, uid := range changed {
		if known[uid] {
			updated = append(updated, uid)
		} else {
			newUIDs = append(newUIDs, uid)
		}
	}
	return newUIDs, updated
}

func percentDone(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) / float64(total) * 100
}

func messageIDs(messages []*models.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return ids
}

// sleepContext waits d unless ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
