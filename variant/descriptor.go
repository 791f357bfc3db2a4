// Package variant defines the descriptor that identifies one compiled
// pipeline configuration.
//
// A Descriptor names the shader stages and keyword set of a pipeline together
// with the fixed-function state that forces a separate compile: vertex input
// layout, primitive assembly, attachment formats, depth and blend state and
// sample count. Two descriptors describe the same variant exactly when their
// Keys are equal. Keys are derived from the canonical record encoding of the
// normalized descriptor, so they are stable within a process and across a
// save/load round trip.
package variant

import (
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"strings"

	"github.com/gogpu/gputypes"
)

// Descriptor errors.
var (
	// ErrInvalidKind is returned for descriptors that are neither render nor compute.
	ErrInvalidKind = errors.New("variant: invalid pipeline kind")

	// ErrMissingShader is returned when a required stage has no shader name.
	ErrMissingShader = errors.New("variant: missing shader for required stage")

	// ErrTooLarge is returned when a descriptor exceeds a record limit and
	// could not be read back from a collection file.
	ErrTooLarge = errors.New("variant: descriptor exceeds record limits")
)

// Default entry points applied by Normalize.
const (
	DefaultVertexEntryPoint   = "vs_main"
	DefaultFragmentEntryPoint = "fs_main"
	DefaultComputeEntryPoint  = "main"
)

// Kind is the pipeline kind of a variant.
type Kind uint8

// Pipeline kinds.
const (
	KindRender Kind = iota + 1
	KindCompute
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindRender:
		return "render"
	case KindCompute:
		return "compute"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Stage names a shader and its entry point.
type Stage struct {
	// Shader is the name of the shader in the backend's shader library.
	Shader string

	// EntryPoint is the entry point function name.
	EntryPoint string
}

// IsZero reports whether the stage is unused.
func (s Stage) IsZero() bool {
	return s.Shader == "" && s.EntryPoint == ""
}

func (s Stage) String() string {
	return s.Shader + ":" + s.EntryPoint
}

// Descriptor identifies one distinct pipeline configuration.
//
// Render variants use Vertex (required), Fragment (optional) and the
// fixed-function fields. Compute variants use Compute only.
type Descriptor struct {
	Kind Kind

	Vertex   Stage
	Fragment Stage
	Compute  Stage

	// Keywords is the feature/keyword combination the shaders were
	// specialised with. Order and duplicates are irrelevant to identity.
	Keywords []string

	VertexBuffers []gputypes.VertexBufferLayout

	Topology  gputypes.PrimitiveTopology
	FrontFace gputypes.FrontFace
	CullMode  gputypes.CullMode

	ColorFormat gputypes.TextureFormat

	// DepthFormat is TextureFormatUndefined when there is no depth attachment.
	DepthFormat       gputypes.TextureFormat
	DepthWriteEnabled bool
	DepthCompare      gputypes.CompareFunction

	// Blend is nil when the color target replaces the destination.
	Blend *gputypes.BlendState

	// SampleCount is 1 for non-MSAA targets. Zero is treated as 1.
	SampleCount uint32
}

// Key is the identity of a descriptor. It is the canonical record encoding
// of the normalized descriptor.
type Key string

// Validate checks that the descriptor has a known kind and the shaders its
// kind requires, and that its normalized record stays within the limits
// enforced by UnmarshalBinary.
func (d *Descriptor) Validate() error {
	switch d.Kind {
	case KindRender:
		if d.Vertex.Shader == "" {
			return fmt.Errorf("%w: vertex", ErrMissingShader)
		}
	case KindCompute:
		if d.Compute.Shader == "" {
			return fmt.Errorf("%w: compute", ErrMissingShader)
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidKind, d.Kind)
	}

	n := d.Normalized()
	return n.checkLimits()
}

// checkLimits reports the first record limit d exceeds. d must be normalized.
func (d *Descriptor) checkLimits() error {
	for _, s := range [...]Stage{d.Vertex, d.Fragment, d.Compute} {
		if len(s.Shader) > maxStringLen || len(s.EntryPoint) > maxStringLen {
			return fmt.Errorf("%w: shader name or entry point longer than %d bytes", ErrTooLarge, maxStringLen)
		}
	}
	if len(d.Keywords) > maxKeywords {
		return fmt.Errorf("%w: %d keywords, max %d", ErrTooLarge, len(d.Keywords), maxKeywords)
	}
	for _, kw := range d.Keywords {
		if len(kw) > maxStringLen {
			return fmt.Errorf("%w: keyword longer than %d bytes", ErrTooLarge, maxStringLen)
		}
	}
	if len(d.VertexBuffers) > maxVertexBuffers {
		return fmt.Errorf("%w: %d vertex buffers, max %d", ErrTooLarge, len(d.VertexBuffers), maxVertexBuffers)
	}
	for i := range d.VertexBuffers {
		if m := len(d.VertexBuffers[i].Attributes); m > maxAttributes {
			return fmt.Errorf("%w: vertex buffer %d has %d attributes, max %d", ErrTooLarge, i, m, maxAttributes)
		}
	}
	if size := len(d.appendRecord(nil)); size > MaxRecordSize {
		return fmt.Errorf("%w: record is %d bytes, max %d", ErrTooLarge, size, MaxRecordSize)
	}
	return nil
}

// Normalized returns a deep copy with defaults applied and keywords sorted
// and deduplicated. Fields that do not apply to the kind are cleared.
func (d *Descriptor) Normalized() Descriptor {
	n := d.Clone()

	if len(n.Keywords) > 0 {
		slices.Sort(n.Keywords)
		n.Keywords = slices.Compact(n.Keywords)
	}

	switch n.Kind {
	case KindRender:
		n.Compute = Stage{}
		if n.Vertex.EntryPoint == "" {
			n.Vertex.EntryPoint = DefaultVertexEntryPoint
		}
		if n.Fragment.Shader != "" && n.Fragment.EntryPoint == "" {
			n.Fragment.EntryPoint = DefaultFragmentEntryPoint
		}
		if n.SampleCount == 0 {
			n.SampleCount = 1
		}
	case KindCompute:
		keywords := n.Keywords
		n = Descriptor{Kind: KindCompute, Compute: n.Compute, Keywords: keywords}
		if n.Compute.EntryPoint == "" {
			n.Compute.EntryPoint = DefaultComputeEntryPoint
		}
	}

	return n
}

// Clone returns a deep copy of the descriptor.
func (d *Descriptor) Clone() Descriptor {
	c := *d
	c.Keywords = slices.Clone(d.Keywords)
	if d.VertexBuffers != nil {
		c.VertexBuffers = make([]gputypes.VertexBufferLayout, len(d.VertexBuffers))
		for i := range d.VertexBuffers {
			c.VertexBuffers[i] = d.VertexBuffers[i]
			c.VertexBuffers[i].Attributes = slices.Clone(d.VertexBuffers[i].Attributes)
		}
	}
	if d.Blend != nil {
		b := *d.Blend
		c.Blend = &b
	}
	return c
}

// Key returns the identity of the descriptor.
func (d *Descriptor) Key() Key {
	n := d.Normalized()
	return Key(n.appendRecord(nil))
}

// Hash returns the FNV-1a hash of the descriptor key.
func (d *Descriptor) Hash() uint64 {
	return d.Key().Hash()
}

// Hash returns the FNV-1a hash of the key.
func (k Key) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k))
	return h.Sum64()
}

// HasKeyword reports whether the (normalized) keyword set contains kw.
func (d *Descriptor) HasKeyword(kw string) bool {
	return slices.Contains(d.Keywords, kw)
}

// String returns a compact human readable form of the descriptor.
func (d *Descriptor) String() string {
	n := d.Normalized()

	var sb strings.Builder
	sb.WriteString(n.Kind.String())
	switch n.Kind {
	case KindRender:
		fmt.Fprintf(&sb, " vs=%s", n.Vertex)
		if !n.Fragment.IsZero() {
			fmt.Fprintf(&sb, " fs=%s", n.Fragment)
		}
	case KindCompute:
		fmt.Fprintf(&sb, " cs=%s", n.Compute)
	}
	if len(n.Keywords) > 0 {
		fmt.Fprintf(&sb, " kw=[%s]", strings.Join(n.Keywords, ","))
	}
	if n.Kind != KindRender {
		return sb.String()
	}

	fmt.Fprintf(&sb, " buffers=%d topology=%s cull=%s color=%s",
		len(n.VertexBuffers), n.Topology, n.CullMode, n.ColorFormat)
	if n.DepthFormat != gputypes.TextureFormatUndefined {
		fmt.Fprintf(&sb, " depth=%s/%s", n.DepthFormat, n.DepthCompare)
		if n.DepthWriteEnabled {
			sb.WriteString("+write")
		}
	}
	if n.Blend != nil {
		fmt.Fprintf(&sb, " blend=%s/%s", n.Blend.Color.SrcFactor, n.Blend.Color.DstFactor)
	}
	if n.SampleCount > 1 {
		fmt.Fprintf(&sb, " msaa=%d", n.SampleCount)
	}
	return sb.String()
}
