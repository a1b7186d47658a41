package book

import (
	"hash/crc32"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rbear69/system-of-monelith/internal/model"
)

func i64(v int64) *int64 { return &v }

func snapshotUpdate(seq int64, bids, asks [][]string) model.BookUpdate {
	return model.BookUpdate{
		Action:      "snapshot",
		TimestampMs: "1709290800000",
		SeqID:       seq,
		Bids:        bids,
		Asks:        asks,
	}
}

func Test_ApplySnapshot_ReplacesState(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.False(t, b.Initialized())

	err := b.ApplySnapshot(snapshotUpdate(10,
		[][]string{{"100", "5", "0", "1"}, {"99", "2", "0", "1"}},
		[][]string{{"101", "3", "0", "1"}}))
	require.NoError(t, err)
	require.True(t, b.Initialized())

	// Second snapshot fully replaces, old levels do not linger.
	err = b.ApplySnapshot(snapshotUpdate(20,
		[][]string{{"200", "1", "0", "1"}},
		[][]string{{"201", "1", "0", "1"}}))
	require.NoError(t, err)

	snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 400, false)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "200", snap.Bids[0][0])
	require.NotNil(t, snap.SeqID)
	assert.Equal(t, int64(20), *snap.SeqID)
}

func Test_ApplySnapshot_InvalidLevelRejectsWhole(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(10,
		[][]string{{"100", "5", "0", "1"}},
		[][]string{{"101", "3", "0", "1"}})))

	err := b.ApplySnapshot(snapshotUpdate(20,
		[][]string{{"200"}},
		[][]string{{"201", "1", "0", "1"}}))
	require.Error(t, err)

	// State unchanged by the rejected snapshot.
	snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 400, false)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "100", snap.Bids[0][0])
	require.NotNil(t, snap.SeqID)
	assert.Equal(t, int64(10), *snap.SeqID)
}

func Test_ApplyDelta(t *testing.T) {
	tests := []struct {
		name         string
		delta        model.BookUpdate
		expectedBids [][]string
	}{
		{
			name: "qty update replaces level",
			delta: model.BookUpdate{
				SeqID: 11,
				Bids:  [][]string{{"100", "9", "0", "1"}},
			},
			expectedBids: [][]string{{"100", "9"}, {"99", "2"}},
		},
		{
			name: "zero qty deletes level",
			delta: model.BookUpdate{
				SeqID: 11,
				Bids:  [][]string{{"99", "0", "0", "0"}},
			},
			expectedBids: [][]string{{"100", "5"}},
		},
		{
			name: "short level skipped",
			delta: model.BookUpdate{
				SeqID: 11,
				Bids:  [][]string{{"98"}, {"97", "4", "0", "1"}},
			},
			expectedBids: [][]string{{"100", "5"}, {"99", "2"}, {"97", "4"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("BTC-USDT-SWAP")
			require.NoError(t, b.ApplySnapshot(snapshotUpdate(10,
				[][]string{{"100", "5", "0", "1"}, {"99", "2", "0", "1"}},
				[][]string{{"101", "3", "0", "1"}})))

			require.NoError(t, b.ApplyDelta(tt.delta))
			snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 400, false)
			assert.Equal(t, tt.expectedBids, snap.Bids)
		})
	}
}

func Test_ApplyDelta_BeforeSnapshot(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	err := b.ApplyDelta(model.BookUpdate{SeqID: 5})
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func Test_DetectGap(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(100,
		[][]string{{"100", "5", "0", "1"}},
		[][]string{{"101", "3", "0", "1"}})))

	assert.False(t, b.DetectGap(model.BookUpdate{SeqID: 101, PrevSeqID: i64(100)}))
	assert.True(t, b.DetectGap(model.BookUpdate{SeqID: 105, PrevSeqID: i64(103)}))
	assert.False(t, b.DetectGap(model.BookUpdate{SeqID: 101}), "missing prevSeqId is not a gap")

	b.Clear()
	assert.False(t, b.DetectGap(model.BookUpdate{SeqID: 1, PrevSeqID: i64(0)}), "cleared book has no expectation")
	assert.False(t, b.Initialized())
}

func Test_GapRecoveryCycle(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(100,
		[][]string{{"100", "5", "0", "1"}},
		[][]string{{"101", "3", "0", "1"}})))

	gapped := model.BookUpdate{SeqID: 105, PrevSeqID: i64(103), Bids: [][]string{{"100", "9", "0", "1"}}}
	require.True(t, b.DetectGap(gapped))

	// The last good state is flagged and the book reset, exactly once.
	snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 400, true)
	assert.True(t, snap.GapDetected)
	assert.Equal(t, [][]string{{"100", "5"}}, snap.Bids)

	b.Clear()
	require.ErrorIs(t, b.ApplyDelta(gapped), ErrNotInitialized)

	require.NoError(t, b.ApplySnapshot(snapshotUpdate(200,
		[][]string{{"102", "1", "0", "1"}},
		[][]string{{"103", "1", "0", "1"}})))
	resumed := b.Snapshot("2024-03-01T10:00:02.000000Z", 400, false)
	assert.False(t, resumed.GapDetected)
	require.NotNil(t, resumed.SeqID)
	assert.Equal(t, int64(200), *resumed.SeqID)
}

func Test_Snapshot_CarriesPrevSeqID(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(100,
		[][]string{{"100", "5", "0", "1"}},
		[][]string{{"101", "3", "0", "1"}})))

	// Snapshot messages carry no prevSeqId.
	snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 400, false)
	assert.Nil(t, snap.PrevSeqID)

	require.NoError(t, b.ApplyDelta(model.BookUpdate{
		SeqID:     101,
		PrevSeqID: i64(100),
		Bids:      [][]string{{"100", "9", "0", "1"}},
	}))

	snap = b.Snapshot("2024-03-01T10:00:01.000000Z", 400, false)
	require.NotNil(t, snap.PrevSeqID)
	assert.Equal(t, int64(100), *snap.PrevSeqID)
	require.NotNil(t, snap.SeqID)
	assert.Equal(t, int64(101), *snap.SeqID)

	// A gap-flagged snapshot records the chain expected at the gap too.
	gapped := b.Snapshot("2024-03-01T10:00:02.000000Z", 400, true)
	require.NotNil(t, gapped.PrevSeqID)
	assert.Equal(t, int64(100), *gapped.PrevSeqID)

	b.Clear()
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(200,
		[][]string{{"102", "1", "0", "1"}},
		[][]string{{"103", "1", "0", "1"}})))
	fresh := b.Snapshot("2024-03-01T10:00:03.000000Z", 400, false)
	assert.Nil(t, fresh.PrevSeqID)
}

func Test_ValidateChecksum(t *testing.T) {
	b := New("BTC-USDT-SWAP")

	bids := [][]string{{"100.5", "5", "0", "1"}, {"100.4", "2", "0", "1"}}
	asks := [][]string{{"100.6", "3", "0", "1"}, {"100.7", "1", "0", "1"}}

	payload := strings.Join([]string{
		"100.5", "5", "100.6", "3",
		"100.4", "2", "100.7", "1",
	}, ":")
	sum := int32(crc32.ChecksumIEEE([]byte(payload)))

	u := snapshotUpdate(10, bids, asks)
	u.Checksum = &sum
	require.NoError(t, b.ApplySnapshot(u))
	assert.True(t, b.ValidateChecksum())

	wrong := sum + 1
	u.Checksum = &wrong
	require.NoError(t, b.ApplySnapshot(u))
	assert.False(t, b.ValidateChecksum())
}

func Test_ValidateChecksum_UnevenSides(t *testing.T) {
	b := New("BTC-USDT-SWAP")

	// One bid, two asks: the leftover ask still enters the payload.
	payload := strings.Join([]string{"100", "5", "101", "3", "102", "1"}, ":")
	sum := int32(crc32.ChecksumIEEE([]byte(payload)))

	u := snapshotUpdate(10,
		[][]string{{"100", "5", "0", "1"}},
		[][]string{{"101", "3", "0", "1"}, {"102", "1", "0", "1"}})
	u.Checksum = &sum
	require.NoError(t, b.ApplySnapshot(u))
	assert.True(t, b.ValidateChecksum())
}

func Test_ValidateChecksum_NoStoredChecksum(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(10,
		[][]string{{"100", "5", "0", "1"}},
		[][]string{{"101", "3", "0", "1"}})))
	assert.True(t, b.ValidateChecksum())
}

func Test_Snapshot_TopOfBook(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(10,
		[][]string{{"99", "2", "0", "1"}, {"100", "5", "0", "1"}},
		[][]string{{"102", "1", "0", "1"}, {"101", "3", "0", "1"}})))

	snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 400, false)
	require.NotNil(t, snap.BestBid)
	require.NotNil(t, snap.BestAsk)
	require.NotNil(t, snap.MidPrice)
	assert.Equal(t, "100", *snap.BestBid)
	assert.Equal(t, "101", *snap.BestAsk)
	assert.Equal(t, "100.5", *snap.MidPrice)
}

func Test_Snapshot_EmptySide(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(10,
		[][]string{{"100", "5", "0", "1"}},
		nil)))

	snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 400, false)
	require.NotNil(t, snap.BestBid)
	assert.Nil(t, snap.BestAsk)
	assert.Nil(t, snap.MidPrice)
}

func Test_Snapshot_DepthTruncation(t *testing.T) {
	b := New("BTC-USDT-SWAP")
	require.NoError(t, b.ApplySnapshot(snapshotUpdate(10,
		[][]string{{"100", "1", "0", "1"}, {"99", "1", "0", "1"}, {"98", "1", "0", "1"}},
		[][]string{{"101", "1", "0", "1"}})))

	snap := b.Snapshot("2024-03-01T10:00:00.000000Z", 2, false)
	assert.Len(t, snap.Bids, 2)
	assert.Equal(t, "100", snap.Bids[0][0])
	assert.Equal(t, "99", snap.Bids[1][0])
}
