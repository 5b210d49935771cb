package streaming

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type passthroughDeserializer struct {
	skipOffsets map[uint64]bool
}

func (d passthroughDeserializer) Decode(raw ConsumerRecord) (ConsumerRecord, bool, error) {
	if d.skipOffsets[raw.Offset] {
		return ConsumerRecord{}, true, nil
	}
	return raw, false, nil
}

type fixedExtractor struct {
	overrides map[uint64]int64
}

func (e fixedExtractor) Extract(record ConsumerRecord, _ int64) (int64, error) {
	if ts, ok := e.overrides[record.Offset]; ok {
		return ts, nil
	}
	return record.Timestamp, nil
}

func rec(offset uint64, ts int64) ConsumerRecord {
	return ConsumerRecord{Topic: "orders", Partition: 0, Offset: offset, Timestamp: ts, Value: []byte("v")}
}

func TestAddRawRecordsMaterializesHeadLazily(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{})

	size, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100), rec(1, 200)})
	require.NoError(t, err)
	assert.Equal(t, 2, size) // one materialized head + one still raw in the fifo
	assert.Equal(t, int64(100), q.HeadRecordTimestamp())
}

func TestPollReturnsInFIFOOrderAndAdvancesPartitionTime(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{})
	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100), rec(1, 200), rec(2, 150)})
	require.NoError(t, err)

	first, err := q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first.Record.Offset)
	assert.Equal(t, int64(100), q.PartitionTime())

	second, err := q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second.Record.Offset)
	assert.Equal(t, int64(200), q.PartitionTime())

	third, err := q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), third.Record.Offset)
	// partitionTime is a running max, not the latest record's timestamp.
	assert.Equal(t, int64(200), q.PartitionTime())

	assert.True(t, q.IsEmpty())
}

func TestPollWithNoHeadIsAnError(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{})
	_, err := q.Poll()
	assert.Error(t, err)
}

func TestSkippedRecordsDoNotBlockLaterValidOnes(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{skipOffsets: map[uint64]bool{0: true, 1: true}})

	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100), rec(1, 110), rec(2, 120)})
	require.NoError(t, err)

	// offsets 0 and 1 were skipped; the head should be the first one that
	// actually decoded, offset 2.
	offset, ok := q.HeadRecordOffset()
	require.True(t, ok)
	assert.Equal(t, uint64(2), offset)
}

func TestAllRecordsSkippedInstallsCorruptedHead(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{skipOffsets: map[uint64]bool{0: true, 1: true}})

	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100), rec(1, 110)})
	require.NoError(t, err)

	offset, ok := q.HeadRecordOffset()
	require.True(t, ok)
	// the corrupted head remembers the *last* undecodable record seen.
	assert.Equal(t, uint64(1), offset)
	assert.Equal(t, UnknownTimestamp, q.HeadRecordTimestamp())

	polled, err := q.Poll()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), polled.Record.Offset)
	assert.Equal(t, UnknownTimestamp, polled.Timestamp)
	assert.True(t, q.IsEmpty())
}

// A corrupted head must report UnknownTimestamp even once partitionTime has
// already advanced past -1 from an earlier poll - the corrupted head itself
// never carries a real timestamp, so it must not leak the watermark.
func TestCorruptedHeadTimestampIsUnknownEvenAfterPartitionTimeAdvanced(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{skipOffsets: map[uint64]bool{1: true}})

	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100)})
	require.NoError(t, err)
	_, err = q.Poll()
	require.NoError(t, err)
	require.Equal(t, int64(100), q.PartitionTime())

	_, err = q.AddRawRecords([]ConsumerRecord{rec(1, 200)})
	require.NoError(t, err)

	offset, ok := q.HeadRecordOffset()
	require.True(t, ok)
	assert.Equal(t, uint64(1), offset)
	assert.Equal(t, UnknownTimestamp, q.HeadRecordTimestamp())
}

func TestNegativeExtractedTimestampDropsTheRecord(t *testing.T) {
	q := NewRecordQueue(0, "orders", fixedExtractor{overrides: map[uint64]int64{0: -1}}, passthroughDeserializer{})

	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100), rec(1, 200)})
	require.NoError(t, err)

	offset, ok := q.HeadRecordOffset()
	require.True(t, ok)
	assert.Equal(t, uint64(1), offset)
}

type explodingExtractor struct{}

func (explodingExtractor) Extract(ConsumerRecord, int64) (int64, error) {
	return 0, errors.New("boom")
}

type frameworkFatalExtractor struct{}

func (frameworkFatalExtractor) Extract(ConsumerRecord, int64) (int64, error) {
	return 0, &ExtractorError{Framework: true, Err: errors.New("already framework-fatal")}
}

// A plain error from the extractor gets wrapped with offset context and
// reported as a non-framework ExtractorError.
func TestExtractorFailureIsWrappedWithContext(t *testing.T) {
	q := NewRecordQueue(0, "orders", explodingExtractor{}, passthroughDeserializer{})

	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100)})
	require.Error(t, err)

	var extractorErr *ExtractorError
	require.ErrorAs(t, err, &extractorErr)
	assert.False(t, extractorErr.Framework)
}

// An ExtractorError the extractor already raised as framework-fatal is
// re-raised verbatim, not re-wrapped.
func TestFrameworkFatalExtractorErrorIsReraisedVerbatim(t *testing.T) {
	q := NewRecordQueue(0, "orders", frameworkFatalExtractor{}, passthroughDeserializer{})

	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100)})
	require.Error(t, err)

	var extractorErr *ExtractorError
	require.ErrorAs(t, err, &extractorErr)
	assert.True(t, extractorErr.Framework)
}

func TestClearResetsAllState(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{})
	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100), rec(1, 200)})
	require.NoError(t, err)
	_, err = q.Poll()
	require.NoError(t, err)

	q.Clear()

	assert.True(t, q.IsEmpty())
	assert.Equal(t, UnknownTimestamp, q.PartitionTime())
	assert.Equal(t, int64(0), q.TotalBytesBuffered())
}

func TestSetPartitionTimeOverridesWatermark(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{})
	q.SetPartitionTime(500)
	assert.Equal(t, int64(500), q.PartitionTime())
}

func TestTotalBytesBufferedTracksQueueContents(t *testing.T) {
	q := NewRecordQueue(0, "orders", WallClockExtractor{}, passthroughDeserializer{})
	_, err := q.AddRawRecords([]ConsumerRecord{rec(0, 100)})
	require.NoError(t, err)

	before := q.TotalBytesBuffered()
	assert.Greater(t, before, int64(0))

	_, err = q.Poll()
	require.NoError(t, err)
	assert.Equal(t, int64(0), q.TotalBytesBuffered())
}
