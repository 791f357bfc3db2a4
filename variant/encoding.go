package variant

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// ErrMalformedRecord is returned when a descriptor record cannot be decoded.
var ErrMalformedRecord = errors.New("variant: malformed descriptor record")

// MaxRecordSize is the largest record a collection file may hold.
const MaxRecordSize = 1 << 20

// Record field limits. Records exceeding them are malformed.
const (
	maxStringLen     = 1 << 12
	maxKeywords      = 256
	maxVertexBuffers = 32
	maxAttributes    = 64
)

// MarshalBinary returns the canonical record encoding of the normalized
// descriptor.
//
// Layout (all integers are unsigned varints unless noted):
//
//	kind            1 byte
//	vertex          string shader, string entry point
//	fragment        string shader, string entry point
//	compute         string shader, string entry point
//	keywords        count, strings
//	vertex buffers  count, {stride, step mode, count, {format, offset, location}}
//	topology, front face, cull mode
//	color format, depth format
//	depth write     1 byte
//	depth compare
//	blend           1 byte presence, then 6 values (color src/dst/op, alpha src/dst/op)
//	sample count
//
// Strings are a length followed by UTF-8 bytes. Decoders ignore bytes that
// follow the known fields so later versions can append to the record.
func (d *Descriptor) MarshalBinary() ([]byte, error) {
	n := d.Normalized()
	return n.appendRecord(nil), nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (d *Descriptor) UnmarshalBinary(data []byte) error {
	r := recordReader{buf: data}
	var out Descriptor

	out.Kind = Kind(r.readByte())
	out.Vertex = r.stage()
	out.Fragment = r.stage()
	out.Compute = r.stage()

	if n := r.count(maxKeywords); n > 0 {
		out.Keywords = make([]string, n)
		for i := range out.Keywords {
			out.Keywords[i] = r.readString()
		}
	}

	if n := r.count(maxVertexBuffers); n > 0 {
		out.VertexBuffers = make([]gputypes.VertexBufferLayout, n)
		for i := range out.VertexBuffers {
			vb := &out.VertexBuffers[i]
			vb.ArrayStride = r.uvarint()
			vb.StepMode = gputypes.VertexStepMode(r.readUint32())
			if m := r.count(maxAttributes); m > 0 {
				vb.Attributes = make([]gputypes.VertexAttribute, m)
				for j := range vb.Attributes {
					a := &vb.Attributes[j]
					a.Format = gputypes.VertexFormat(r.readUint32())
					a.Offset = r.uvarint()
					a.ShaderLocation = r.readUint32()
				}
			}
		}
	}

	out.Topology = gputypes.PrimitiveTopology(r.readUint32())
	out.FrontFace = gputypes.FrontFace(r.readUint32())
	out.CullMode = gputypes.CullMode(r.readUint32())
	out.ColorFormat = gputypes.TextureFormat(r.readUint32())
	out.DepthFormat = gputypes.TextureFormat(r.readUint32())
	out.DepthWriteEnabled = r.readBool()
	out.DepthCompare = gputypes.CompareFunction(r.readUint32())

	if r.readBool() {
		out.Blend = &gputypes.BlendState{
			Color: r.blendComponent(),
			Alpha: r.blendComponent(),
		}
	}
	out.SampleCount = r.readUint32()

	if r.err != nil {
		return r.err
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedRecord, err)
	}

	*d = out
	return nil
}

// appendRecord appends the record encoding of d, which must be normalized.
func (d *Descriptor) appendRecord(buf []byte) []byte {
	buf = append(buf, byte(d.Kind))
	buf = appendStage(buf, d.Vertex)
	buf = appendStage(buf, d.Fragment)
	buf = appendStage(buf, d.Compute)

	buf = binary.AppendUvarint(buf, uint64(len(d.Keywords)))
	for _, kw := range d.Keywords {
		buf = appendString(buf, kw)
	}

	buf = binary.AppendUvarint(buf, uint64(len(d.VertexBuffers)))
	for i := range d.VertexBuffers {
		vb := &d.VertexBuffers[i]
		buf = binary.AppendUvarint(buf, vb.ArrayStride)
		buf = binary.AppendUvarint(buf, uint64(vb.StepMode))
		buf = binary.AppendUvarint(buf, uint64(len(vb.Attributes)))
		for j := range vb.Attributes {
			a := &vb.Attributes[j]
			buf = binary.AppendUvarint(buf, uint64(a.Format))
			buf = binary.AppendUvarint(buf, a.Offset)
			buf = binary.AppendUvarint(buf, uint64(a.ShaderLocation))
		}
	}

	buf = binary.AppendUvarint(buf, uint64(d.Topology))
	buf = binary.AppendUvarint(buf, uint64(d.FrontFace))
	buf = binary.AppendUvarint(buf, uint64(d.CullMode))
	buf = binary.AppendUvarint(buf, uint64(d.ColorFormat))
	buf = binary.AppendUvarint(buf, uint64(d.DepthFormat))
	buf = appendBool(buf, d.DepthWriteEnabled)
	buf = binary.AppendUvarint(buf, uint64(d.DepthCompare))

	buf = appendBool(buf, d.Blend != nil)
	if d.Blend != nil {
		buf = appendBlendComponent(buf, d.Blend.Color)
		buf = appendBlendComponent(buf, d.Blend.Alpha)
	}

	return binary.AppendUvarint(buf, uint64(d.SampleCount))
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendStage(buf []byte, s Stage) []byte {
	buf = appendString(buf, s.Shader)
	return appendString(buf, s.EntryPoint)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendBlendComponent(buf []byte, c gputypes.BlendComponent) []byte {
	buf = binary.AppendUvarint(buf, uint64(c.SrcFactor))
	buf = binary.AppendUvarint(buf, uint64(c.DstFactor))
	return binary.AppendUvarint(buf, uint64(c.Operation))
}

// recordReader decodes record fields. The first error sticks; subsequent
// reads return zero values.
type recordReader struct {
	buf []byte
	err error
}

func (r *recordReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated or invalid %s", ErrMalformedRecord, what)
	}
}

func (r *recordReader) readByte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.buf) == 0 {
		r.fail("byte")
		return 0
	}
	b := r.buf[0]
	r.buf = r.buf[1:]
	return b
}

func (r *recordReader) readBool() bool {
	switch r.readByte() {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail("bool")
		return false
	}
}

func (r *recordReader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf)
	if n <= 0 {
		r.fail("varint")
		return 0
	}
	r.buf = r.buf[n:]
	return v
}

func (r *recordReader) readUint32() uint32 {
	v := r.uvarint()
	if v > 1<<32-1 {
		r.fail("uint32")
		return 0
	}
	return uint32(v)
}

func (r *recordReader) count(limit int) int {
	v := r.uvarint()
	if v > uint64(limit) {
		r.fail("count")
		return 0
	}
	return int(v)
}

func (r *recordReader) readString() string {
	n := r.count(maxStringLen)
	if r.err != nil {
		return ""
	}
	if len(r.buf) < n {
		r.fail("string")
		return ""
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s
}

func (r *recordReader) stage() Stage {
	return Stage{Shader: r.readString(), EntryPoint: r.readString()}
}

func (r *recordReader) blendComponent() gputypes.BlendComponent {
	return gputypes.BlendComponent{
		SrcFactor: gputypes.BlendFactor(r.readUint32()),
		DstFactor: gputypes.BlendFactor(r.readUint32()),
		Operation: gputypes.BlendOperation(r.readUint32()),
	}
}
