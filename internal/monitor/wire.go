package monitor

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of proto/crashwatch.proto. Zero scalars are omitted, as
// proto3 does.
const (
	frameFieldNumber     protowire.Number = 1
	frameFieldTimestamp  protowire.Number = 2
	frameFieldObjects    protowire.Number = 3
	frameFieldCrash      protowire.Number = 4
	frameFieldConfidence protowire.Number = 5
	frameFieldDetections protowire.Number = 6
	frameFieldEvents     protowire.Number = 7
	frameFieldVersion    protowire.Number = 8

	detFieldBBox       protowire.Number = 1
	detFieldClassID    protowire.Number = 2
	detFieldLabel      protowire.Number = 3
	detFieldConfidence protowire.Number = 4
	detFieldCrash      protowire.Number = 5

	boxFieldX1 protowire.Number = 1
	boxFieldY1 protowire.Number = 2
	boxFieldX2 protowire.Number = 3
	boxFieldY2 protowire.Number = 4

	eventFieldType       protowire.Number = 1
	eventFieldClassA     protowire.Number = 2
	eventFieldClassB     protowire.Number = 3
	eventFieldIoU        protowire.Number = 4
	eventFieldConfidence protowire.Number = 5
	eventFieldIndexA     protowire.Number = 6
	eventFieldIndexB     protowire.Number = 7
)

// marshalFrameEvent encodes a FrameEvent as a crashwatch.FrameEvent message.
func marshalFrameEvent(ev *FrameEvent) []byte {
	var b []byte
	b = appendUvarint(b, frameFieldNumber, ev.FrameNumber)
	b = appendDouble(b, frameFieldTimestamp, ev.Timestamp)
	b = appendUvarint(b, frameFieldObjects, uint64(ev.ObjectsDetected))
	b = appendBool(b, frameFieldCrash, ev.PotentialCrash)
	b = appendFloat(b, frameFieldConfidence, ev.ConfidenceAvg)
	for i := range ev.Detections {
		b = protowire.AppendTag(b, frameFieldDetections, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDetection(&ev.Detections[i]))
	}
	for _, e := range ev.CrashEvents {
		var m []byte
		m = appendString(m, eventFieldType, e.Type)
		m = appendUvarint(m, eventFieldClassA, uint64(e.ClassA))
		m = appendUvarint(m, eventFieldClassB, uint64(e.ClassB))
		m = appendFloat(m, eventFieldIoU, e.IoU)
		m = appendFloat(m, eventFieldConfidence, e.Confidence)
		m = appendUvarint(m, eventFieldIndexA, uint64(e.Pair[0]))
		m = appendUvarint(m, eventFieldIndexB, uint64(e.Pair[1]))
		b = protowire.AppendTag(b, frameFieldEvents, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	b = appendUvarint(b, frameFieldVersion, uint64(ev.Version))
	return b
}

func marshalDetection(d *Detection) []byte {
	var box []byte
	box = appendFloat(box, boxFieldX1, d.BBox.X1)
	box = appendFloat(box, boxFieldY1, d.BBox.Y1)
	box = appendFloat(box, boxFieldX2, d.BBox.X2)
	box = appendFloat(box, boxFieldY2, d.BBox.Y2)

	var b []byte
	b = protowire.AppendTag(b, detFieldBBox, protowire.BytesType)
	b = protowire.AppendBytes(b, box)
	b = appendUvarint(b, detFieldClassID, uint64(d.ClassID))
	b = appendString(b, detFieldLabel, d.ClassName)
	b = appendFloat(b, detFieldConfidence, d.Confidence)
	b = appendBool(b, detFieldCrash, d.Crash)
	return b
}

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(float32(v)))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}
