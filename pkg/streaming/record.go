package streaming

// ConsumerRecord is one raw record handed to a RecordQueue before
// deserialization and timestamp extraction have run on it. Fields mirror
// the topic/partition/offset/timestamp/key/value/headers shape used across
// the broker's message path, with the uint64 offset used by
// pkg/types.Message and an int64 timestamp (Partition fills it with the
// broadcast time in Unix milliseconds).
type ConsumerRecord struct {
	Topic     string
	Partition int32
	Offset    uint64
	Timestamp int64
	Key       []byte
	Value     []byte
	Headers   []RecordHeader
}

type RecordHeader struct {
	Key   string
	Value []byte
}

// StampedRecord is a ConsumerRecord that has passed deserialization and
// timestamp extraction - the only thing a RecordQueue will ever hand back
// from Poll.
type StampedRecord struct {
	Record    ConsumerRecord
	Timestamp int64
}

// CorruptedRecord stands in for a raw record the deserializer could not
// decode. It carries only enough to let a caller advance past it - topic,
// partition, offset - never the payload that failed to decode.
type CorruptedRecord struct {
	Topic     string
	Partition int32
	Offset    uint64
}

// RecordOrCorrupted is implemented by *StampedRecord and *CorruptedRecord -
// the two things a RecordQueue's head slot can ever hold.
type RecordOrCorrupted interface {
	isHead()
}

func (*StampedRecord) isHead()   {}
func (*CorruptedRecord) isHead() {}

// TimestampExtractor assigns a record its stream-time timestamp given the
// partition's current watermark. Implementations that only trust the
// record's own wire timestamp can just return record.Timestamp.
type TimestampExtractor interface {
	Extract(record ConsumerRecord, partitionTime int64) (int64, error)
}

// DeserializationExceptionHandler decides, per raw record, whether a decode
// failure should be swallowed (skip=true, the record becomes a candidate
// for a CorruptedRecord head) or treated as fatal (err != nil).
type DeserializationExceptionHandler interface {
	Decode(raw ConsumerRecord) (decoded ConsumerRecord, skip bool, err error)
}

// ExtractorError wraps a failure from a TimestampExtractor. Framework=true
// means the extractor already raised a framework-fatal error and it should
// be re-raised verbatim; Framework=false means some other error was wrapped
// with context identifying the offending record.
type ExtractorError struct {
	Framework bool
	Err       error
}

func (e *ExtractorError) Error() string {
	return e.Err.Error()
}

func (e *ExtractorError) Unwrap() error {
	return e.Err
}

// WallClockExtractor is the simplest TimestampExtractor: trust the record's
// own timestamp field unconditionally.
type WallClockExtractor struct{}

func (WallClockExtractor) Extract(record ConsumerRecord, _ int64) (int64, error) {
	return record.Timestamp, nil
}

// NoOpDeserializer never rejects a record - every raw record is treated as
// already decoded. Used where the broker hands a RecordQueue records it has
// already validated on the way in, so there's nothing left to deserialize.
type NoOpDeserializer struct{}

func (NoOpDeserializer) Decode(raw ConsumerRecord) (ConsumerRecord, bool, error) {
	return raw, false, nil
}
