package variant

import (
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

// spriteDescriptor returns a typical alpha-blended render variant.
func spriteDescriptor(keywords ...string) Descriptor {
	blend := gputypes.BlendStateAlpha()
	return Descriptor{
		Kind:     KindRender,
		Vertex:   Stage{Shader: "sprite", EntryPoint: "vs_main"},
		Fragment: Stage{Shader: "sprite", EntryPoint: "fs_main"},
		Keywords: keywords,
		VertexBuffers: []gputypes.VertexBufferLayout{
			{
				ArrayStride: 20,
				StepMode:    gputypes.VertexStepModeVertex,
				Attributes: []gputypes.VertexAttribute{
					{ShaderLocation: 0, Format: gputypes.VertexFormatFloat32x3, Offset: 0},
					{ShaderLocation: 1, Format: gputypes.VertexFormatFloat32x2, Offset: 12},
				},
			},
		},
		Topology:    gputypes.PrimitiveTopologyTriangleList,
		CullMode:    gputypes.CullModeBack,
		ColorFormat: gputypes.TextureFormatBGRA8Unorm,
		Blend:       &blend,
		SampleCount: 1,
	}
}

// =============================================================================
// Identity Tests
// =============================================================================

func TestDescriptor_KeyIgnoresKeywordOrderAndDuplicates(t *testing.T) {
	a := spriteDescriptor("FOG", "SHADOWS")
	b := spriteDescriptor("SHADOWS", "FOG", "FOG")

	if a.Key() != b.Key() {
		t.Error("expected equal keys for the same keyword set")
	}
	if a.Hash() != b.Hash() {
		t.Error("expected equal hashes for the same keyword set")
	}
}

func TestDescriptor_KeyAppliesDefaults(t *testing.T) {
	explicit := spriteDescriptor()
	implicit := spriteDescriptor()
	implicit.Vertex.EntryPoint = ""
	implicit.Fragment.EntryPoint = ""
	implicit.SampleCount = 0

	if explicit.Key() != implicit.Key() {
		t.Error("expected defaults to produce the same key as explicit values")
	}
}

func TestDescriptor_KeyDistinguishesState(t *testing.T) {
	base := spriteDescriptor()

	tests := []struct {
		name   string
		mutate func(d *Descriptor)
	}{
		{"keyword", func(d *Descriptor) { d.Keywords = []string{"FOG"} }},
		{"color format", func(d *Descriptor) { d.ColorFormat = gputypes.TextureFormatRGBA8Unorm }},
		{"depth format", func(d *Descriptor) { d.DepthFormat = gputypes.TextureFormatDepth32Float }},
		{"cull mode", func(d *Descriptor) { d.CullMode = gputypes.CullModeNone }},
		{"topology", func(d *Descriptor) { d.Topology = gputypes.PrimitiveTopologyLineList }},
		{"no blend", func(d *Descriptor) { d.Blend = nil }},
		{"msaa", func(d *Descriptor) { d.SampleCount = 4 }},
		{"fragment shader", func(d *Descriptor) { d.Fragment.Shader = "sprite_lit" }},
		{"attribute offset", func(d *Descriptor) { d.VertexBuffers[0].Attributes[1].Offset = 16 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base.Clone()
			tt.mutate(&d)
			if d.Key() == base.Key() {
				t.Errorf("expected %s to change the key", tt.name)
			}
		})
	}
}

func TestDescriptor_NormalizedClearsComputeRenderState(t *testing.T) {
	d := Descriptor{
		Kind:        KindCompute,
		Compute:     Stage{Shader: "cull"},
		ColorFormat: gputypes.TextureFormatRGBA8Unorm,
		Vertex:      Stage{Shader: "ignored"},
	}
	n := d.Normalized()

	if n.Compute.EntryPoint != DefaultComputeEntryPoint {
		t.Errorf("expected default compute entry point, got %q", n.Compute.EntryPoint)
	}
	if n.ColorFormat != gputypes.TextureFormatUndefined || !n.Vertex.IsZero() {
		t.Error("expected render state to be cleared for compute variants")
	}

	plain := Descriptor{Kind: KindCompute, Compute: Stage{Shader: "cull", EntryPoint: "main"}}
	if d.Key() != plain.Key() {
		t.Error("expected render-only fields to be ignored for compute identity")
	}
}

func TestDescriptor_CloneIsDeep(t *testing.T) {
	d := spriteDescriptor("FOG")
	c := d.Clone()

	c.Keywords[0] = "RAIN"
	c.VertexBuffers[0].Attributes[0].Offset = 99
	c.Blend.Color.SrcFactor = gputypes.BlendFactorZero

	if d.Keywords[0] != "FOG" {
		t.Error("clone shares keywords")
	}
	if d.VertexBuffers[0].Attributes[0].Offset != 0 {
		t.Error("clone shares vertex attributes")
	}
	if d.Blend.Color.SrcFactor == gputypes.BlendFactorZero {
		t.Error("clone shares blend state")
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name string
		desc Descriptor
		want error
	}{
		{"render ok", spriteDescriptor(), nil},
		{"compute ok", Descriptor{Kind: KindCompute, Compute: Stage{Shader: "cull"}}, nil},
		{"zero kind", Descriptor{}, ErrInvalidKind},
		{"render without vertex", Descriptor{Kind: KindRender, Fragment: Stage{Shader: "x"}}, ErrMissingShader},
		{"compute without shader", Descriptor{Kind: KindCompute}, ErrMissingShader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

// sized returns a string of n bytes that starts with the decimal index i.
func sized(i, n int) string {
	s := strconv.Itoa(i) + "_"
	return s + strings.Repeat("k", n-len(s))
}

func keywords(count, size int) []string {
	kws := make([]string, count)
	for i := range kws {
		kws[i] = sized(i, size)
	}
	return kws
}

func vertexBuffers(count, attrs int) []gputypes.VertexBufferLayout {
	vbs := make([]gputypes.VertexBufferLayout, count)
	for i := range vbs {
		vbs[i].ArrayStride = 16
		vbs[i].StepMode = gputypes.VertexStepModeVertex
		vbs[i].Attributes = make([]gputypes.VertexAttribute, attrs)
		for j := range vbs[i].Attributes {
			vbs[i].Attributes[j] = gputypes.VertexAttribute{
				ShaderLocation: uint32(j),
				Format:         gputypes.VertexFormatFloat32,
			}
		}
	}
	return vbs
}

func TestDescriptor_ValidateLimits(t *testing.T) {
	compute := func(mod func(*Descriptor)) Descriptor {
		d := Descriptor{Kind: KindCompute, Compute: Stage{Shader: "cull"}}
		mod(&d)
		return d
	}
	render := func(mod func(*Descriptor)) Descriptor {
		d := spriteDescriptor()
		mod(&d)
		return d
	}

	tests := []struct {
		name string
		desc Descriptor
		want error
	}{
		{"shader at limit", compute(func(d *Descriptor) { d.Compute.Shader = sized(0, maxStringLen) }), nil},
		{"shader over limit", compute(func(d *Descriptor) { d.Compute.Shader = sized(0, maxStringLen+1) }), ErrTooLarge},
		{"entry point at limit", render(func(d *Descriptor) { d.Fragment.EntryPoint = sized(0, maxStringLen) }), nil},
		{"entry point over limit", render(func(d *Descriptor) { d.Fragment.EntryPoint = sized(0, maxStringLen+1) }), ErrTooLarge},
		{"keyword at limit", compute(func(d *Descriptor) { d.Keywords = []string{sized(0, maxStringLen)} }), nil},
		{"keyword over limit", compute(func(d *Descriptor) { d.Keywords = []string{sized(0, maxStringLen+1)} }), ErrTooLarge},
		{"keywords at limit", compute(func(d *Descriptor) { d.Keywords = keywords(maxKeywords, 8) }), nil},
		{"keywords over limit", compute(func(d *Descriptor) { d.Keywords = keywords(maxKeywords+1, 8) }), ErrTooLarge},
		{"duplicate keywords collapse", compute(func(d *Descriptor) {
			d.Keywords = append(keywords(maxKeywords, 8), keywords(4, 8)...)
		}), nil},
		{"vertex buffers at limit", render(func(d *Descriptor) { d.VertexBuffers = vertexBuffers(maxVertexBuffers, 1) }), nil},
		{"vertex buffers over limit", render(func(d *Descriptor) { d.VertexBuffers = vertexBuffers(maxVertexBuffers+1, 1) }), ErrTooLarge},
		{"attributes at limit", render(func(d *Descriptor) { d.VertexBuffers = vertexBuffers(1, maxAttributes) }), nil},
		{"attributes over limit", render(func(d *Descriptor) { d.VertexBuffers = vertexBuffers(1, maxAttributes+1) }), ErrTooLarge},
		{"record under limit", compute(func(d *Descriptor) { d.Keywords = keywords(maxKeywords-1, maxStringLen) }), nil},
		{"record over limit", compute(func(d *Descriptor) { d.Keywords = keywords(maxKeywords, maxStringLen) }), ErrTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				// Anything Validate accepts must decode again.
				data, _ := tt.desc.MarshalBinary()
				var got Descriptor
				if err := got.UnmarshalBinary(data); err != nil {
					t.Fatalf("UnmarshalBinary() error = %v", err)
				}
				if got.Key() != tt.desc.Key() {
					t.Error("decoded descriptor has a different key")
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDescriptor_String(t *testing.T) {
	d := spriteDescriptor("SHADOWS", "FOG")
	s := d.String()

	for _, want := range []string{"render", "vs=sprite:vs_main", "fs=sprite:fs_main", "kw=[FOG,SHADOWS]"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

// =============================================================================
// Encoding Tests
// =============================================================================

func TestDescriptor_BinaryRoundTrip(t *testing.T) {
	descs := []Descriptor{
		spriteDescriptor(),
		spriteDescriptor("FOG", "SHADOWS"),
		{Kind: KindCompute, Compute: Stage{Shader: "cull"}, Keywords: []string{"WIDE"}},
		{
			Kind:              KindRender,
			Vertex:            Stage{Shader: "depth_only"},
			DepthFormat:       gputypes.TextureFormatDepth24PlusStencil8,
			DepthWriteEnabled: true,
			DepthCompare:      gputypes.CompareFunctionLess,
		},
	}

	for _, d := range descs {
		data, err := d.MarshalBinary()
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}

		var got Descriptor
		if err := got.UnmarshalBinary(data); err != nil {
			t.Fatalf("unmarshal %s: %v", d.String(), err)
		}
		if got.Key() != d.Key() {
			t.Errorf("round trip changed identity of %s", d.String())
		}
	}
}

func TestDescriptor_UnmarshalIgnoresTrailingFields(t *testing.T) {
	d := spriteDescriptor("FOG")
	data, _ := d.MarshalBinary()
	data = append(data, 0x7f, 0x01, 0x02)

	var got Descriptor
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Key() != d.Key() {
		t.Error("trailing bytes changed identity")
	}
}

func TestDescriptor_UnmarshalRejectsMalformed(t *testing.T) {
	d := spriteDescriptor("FOG")
	data, _ := d.MarshalBinary()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", data[:len(data)/2]},
		{"invalid kind", append([]byte{9}, data[1:]...)},
		{"oversized string", []byte{byte(KindRender), 0xff, 0xff, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Descriptor
			err := got.UnmarshalBinary(tt.data)
			if !errors.Is(err, ErrMalformedRecord) {
				t.Fatalf("expected ErrMalformedRecord, got %v", err)
			}
		})
	}
}
