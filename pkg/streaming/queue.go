package streaming

import (
	"fmt"
	"strconv"

	"github.com/quanta-mq/broker/pkg/metrics"
	"github.com/quanta-mq/broker/util"
)

// UnknownTimestamp is the sentinel partitionTime value before any record
// has ever produced a valid extracted timestamp.
const UnknownTimestamp int64 = -1

// RecordQueue buffers raw records for one partition and exposes at most one
// decoded, timestamp-validated head at a time. It is single-threaded
// cooperative state, not safe for concurrent access - unlike the other
// stateful types in this repo (DiskHandler, Partition, ISRManager),
// which guard themselves with a mutex because they're
// genuinely shared across goroutines, this one is owned entirely by
// whichever goroutine drives the partition's stream processing.
type RecordQueue struct {
	source       string
	partition    int32
	deserializer DeserializationExceptionHandler
	extractor    TimestampExtractor

	fifo               []ConsumerRecord
	head               RecordOrCorrupted
	headRawSize        int
	partitionTime      int64
	totalBytesBuffered int64

	// droppedRecordLogEvery throttles the Warn log emitted for each record
	// dropped for a negative extracted timestamp; the metric counts every
	// drop regardless. Defaults to 1 (log every drop) until SetDroppedRecordLogEvery
	// is called, matching the behavior before this was configurable.
	droppedRecordLogEvery int
	droppedSinceLog       int
}

// NewRecordQueue builds an empty queue for one partition. extractor and
// deser must not be nil.
func NewRecordQueue(partition int32, source string, extractor TimestampExtractor, deser DeserializationExceptionHandler) *RecordQueue {
	return &RecordQueue{
		source:                source,
		partition:             partition,
		deserializer:          deser,
		extractor:             extractor,
		partitionTime:         UnknownTimestamp,
		droppedRecordLogEvery: 1,
	}
}

// SetDroppedRecordLogEvery throttles the Warn log line emitted when a
// record is dropped for a negative extracted timestamp to once every n
// drops. n <= 0 is treated as 1 (log every drop).
func (q *RecordQueue) SetDroppedRecordLogEvery(n int) {
	if n <= 0 {
		n = 1
	}
	q.droppedRecordLogEvery = n
}

// AddRawRecords appends records to the tail, accounts for their encoded
// size, attempts to materialize a head if one isn't already present, and
// returns the resulting queue size. A non-nil error means the deserializer
// or timestamp extractor raised a framework-fatal error while trying to
// materialize the head; the queue is left as-is (the offending record
// already consumed) and the caller should treat this the same as any other
// unrecoverable stream-processing failure.
func (q *RecordQueue) AddRawRecords(records []ConsumerRecord) (int, error) {
	for _, r := range records {
		q.fifo = append(q.fifo, r)
		q.totalBytesBuffered += int64(encodedSize(r))
	}
	if err := q.updateHead(); err != nil {
		return q.Size(), err
	}
	return q.Size(), nil
}

// Poll returns and removes the current head. It is a usage error to call
// Poll when IsEmpty reports no head - callers must check first.
func (q *RecordQueue) Poll() (StampedRecord, error) {
	if q.head == nil {
		return StampedRecord{}, fmt.Errorf("streaming: poll called with no head record")
	}

	switch h := q.head.(type) {
	case *StampedRecord:
		q.totalBytesBuffered -= int64(q.headRawSize)
		if h.Timestamp > q.partitionTime {
			q.partitionTime = h.Timestamp
		}
		result := *h
		q.head = nil
		q.headRawSize = 0
		err := q.updateHead()
		return result, err
	case *CorruptedRecord:
		q.totalBytesBuffered -= int64(q.headRawSize)
		result := StampedRecord{
			Record: ConsumerRecord{
				Topic:     h.Topic,
				Partition: h.Partition,
				Offset:    h.Offset,
			},
			Timestamp: UnknownTimestamp,
		}
		q.head = nil
		q.headRawSize = 0
		err := q.updateHead()
		return result, err
	default:
		return StampedRecord{}, fmt.Errorf("streaming: unknown head type %T", h)
	}
}

// Clear drops all buffered and head state and resets partitionTime.
func (q *RecordQueue) Clear() {
	q.fifo = nil
	q.head = nil
	q.headRawSize = 0
	q.totalBytesBuffered = 0
	q.partitionTime = UnknownTimestamp
}

// Size is the number of buffered raw records plus one if a head is
// currently materialized.
func (q *RecordQueue) Size() int {
	n := len(q.fifo)
	if q.head != nil {
		n++
	}
	return n
}

func (q *RecordQueue) IsEmpty() bool {
	return q.Size() == 0
}

// HeadRecordTimestamp returns the head's timestamp, or UnknownTimestamp if
// there is no head.
func (q *RecordQueue) HeadRecordTimestamp() int64 {
	switch h := q.head.(type) {
	case *StampedRecord:
		return h.Timestamp
	case *CorruptedRecord:
		return UnknownTimestamp
	default:
		return UnknownTimestamp
	}
}

// HeadRecordOffset returns the head's offset, if any.
func (q *RecordQueue) HeadRecordOffset() (uint64, bool) {
	switch h := q.head.(type) {
	case *StampedRecord:
		return h.Record.Offset, true
	case *CorruptedRecord:
		return h.Offset, true
	default:
		return 0, false
	}
}

func (q *RecordQueue) Source() string {
	return q.source
}

func (q *RecordQueue) Partition() int32 {
	return q.partition
}

func (q *RecordQueue) PartitionTime() int64 {
	return q.partitionTime
}

// SetPartitionTime overrides the running partition-time watermark, used
// when restoring from a checkpoint rather than deriving it from records
// actually seen.
func (q *RecordQueue) SetPartitionTime(t int64) {
	q.partitionTime = t
}

func (q *RecordQueue) TotalBytesBuffered() int64 {
	return q.totalBytesBuffered
}

// updateHead is the only place deserialization and timestamp extraction
// happen. It drains raw records from the FIFO until either a valid head is
// materialized or the FIFO is empty; a run of undecodable records that
// never yields a valid head still gets represented as a CorruptedRecord
// head so callers can advance committed offsets past it.
func (q *RecordQueue) updateHead() error {
	var lastCorrupted *ConsumerRecord

	for q.head == nil && len(q.fifo) > 0 {
		raw := q.fifo[0]
		q.fifo = q.fifo[1:]

		decoded, skip, err := q.deserializer.Decode(raw)
		if err != nil {
			return &ExtractorError{Framework: true, Err: fmt.Errorf("streaming: deserializer error for %s-%d offset %d: %w", raw.Topic, raw.Partition, raw.Offset, err)}
		}
		if skip {
			corrupted := raw
			lastCorrupted = &corrupted
			continue
		}

		ts, err := q.extractor.Extract(decoded, q.partitionTime)
		if err != nil {
			if extractorErr, ok := err.(*ExtractorError); ok && extractorErr.Framework {
				return extractorErr
			}
			return &ExtractorError{
				Framework: false,
				Err:       fmt.Errorf("streaming: timestamp extractor failed on %s-%d offset %d: %w", decoded.Topic, decoded.Partition, decoded.Offset, err),
			}
		}

		if ts < 0 {
			metrics.StreamDroppedRecordsTotal.WithLabelValues(decoded.Topic, strconv.Itoa(int(decoded.Partition))).Inc()
			q.droppedSinceLog++
			if q.droppedSinceLog >= q.droppedRecordLogEvery {
				util.Warn("streaming: dropping record %s-%d offset %d, extractor produced negative timestamp %d (%d drops since last log)", decoded.Topic, decoded.Partition, decoded.Offset, ts, q.droppedSinceLog)
				q.droppedSinceLog = 0
			}
			continue
		}

		q.head = &StampedRecord{Record: decoded, Timestamp: ts}
		q.headRawSize = encodedSize(raw)
	}

	if q.head == nil && lastCorrupted != nil {
		q.head = &CorruptedRecord{
			Topic:     lastCorrupted.Topic,
			Partition: lastCorrupted.Partition,
			Offset:    lastCorrupted.Offset,
		}
		q.headRawSize = encodedSize(*lastCorrupted)
	}
	return nil
}

// encodedSize follows spec's byte-accounting formula: key + value +
// 8 (timestamp) + 8 (offset) + topic name length + 4 (partition) + the sum
// over headers of (key length + value length).
func encodedSize(r ConsumerRecord) int {
	size := len(r.Key) + len(r.Value) + 8 + 8 + len(r.Topic) + 4
	for _, h := range r.Headers {
		size += len(h.Key)
		if h.Value != nil {
			size += len(h.Value)
		}
	}
	return size
}
