package wire

import "google.golang.org/protobuf/encoding/protowire"

// BatchInfo field numbers.
const (
	BatchInfoSimulationRunIDField protowire.Number = 1
	BatchInfoStoragePathField     protowire.Number = 2
	BatchInfoTickStartField       protowire.Number = 3
	BatchInfoTickEndField         protowire.Number = 4
	BatchInfoWrittenAtMsField     protowire.Number = 5
)

// BatchInfo is the pub/sub payload announcing one written batch file.
type BatchInfo struct {
	SimulationRunID string
	StoragePath     string
	TickStart       int64
	TickEnd         int64
	WrittenAtMs     int64
}

// Marshal encodes the batch announcement as a protobuf message.
func (m BatchInfo) Marshal() []byte {
	var b []byte
	b = appendStringField(b, BatchInfoSimulationRunIDField, m.SimulationRunID)
	b = appendStringField(b, BatchInfoStoragePathField, m.StoragePath)
	b = appendInt64Field(b, BatchInfoTickStartField, m.TickStart)
	b = appendInt64Field(b, BatchInfoTickEndField, m.TickEnd)
	b = appendInt64Field(b, BatchInfoWrittenAtMsField, m.WrittenAtMs)
	return b
}

// UnmarshalBatchInfo decodes a BatchInfo produced by Marshal.
func UnmarshalBatchInfo(b []byte) (BatchInfo, error) {
	var m BatchInfo
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return m, err
		}
		b = b[n:]
		switch num {
		case BatchInfoSimulationRunIDField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, errTruncated
			}
			b = b[n:]
			m.SimulationRunID = s
		case BatchInfoStoragePathField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, errTruncated
			}
			b = b[n:]
			m.StoragePath = s
		case BatchInfoTickStartField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errTruncated
			}
			b = b[n:]
			m.TickStart = int64(val)
		case BatchInfoTickEndField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errTruncated
			}
			b = b[n:]
			m.TickEnd = int64(val)
		case BatchInfoWrittenAtMsField:
			val, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errTruncated
			}
			b = b[n:]
			m.WrittenAtMs = int64(val)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, errTruncated
			}
			b = b[n:]
		}
	}
	return m, nil
}

// TopicEnvelope field numbers.
const (
	EnvelopeMessageIDField protowire.Number = 1
	EnvelopePayloadField   protowire.Number = 2
)

// TopicEnvelope wraps every message that crosses the pub/sub layer.
type TopicEnvelope struct {
	MessageID string
	Payload   []byte
}

// Marshal encodes the envelope as a protobuf message.
func (e TopicEnvelope) Marshal() []byte {
	var b []byte
	b = appendStringField(b, EnvelopeMessageIDField, e.MessageID)
	b = appendBytesField(b, EnvelopePayloadField, e.Payload)
	return b
}

// UnmarshalTopicEnvelope decodes an envelope produced by Marshal.
func UnmarshalTopicEnvelope(b []byte) (TopicEnvelope, error) {
	var e TopicEnvelope
	for len(b) > 0 {
		num, typ, n, err := consumeTag(b)
		if err != nil {
			return e, err
		}
		b = b[n:]
		switch num {
		case EnvelopeMessageIDField:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return e, errTruncated
			}
			b = b[n:]
			e.MessageID = s
		case EnvelopePayloadField:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return e, errTruncated
			}
			b = b[n:]
			e.Payload = append([]byte(nil), raw...)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return e, errTruncated
			}
			b = b[n:]
		}
	}
	return e, nil
}
