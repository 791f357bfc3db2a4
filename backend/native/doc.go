// Package native implements the gstate backend over a gogpu/wgpu HAL device.
//
// Shaders are registered as WGSL in a ShaderLibrary. A shader refers to its
// keywords as boolean identifiers named KW_<KEYWORD> without declaring them;
// the library declares one constant per referenced keyword, true when the
// variant enables it, and translates the result to SPIR-V with naga.
// Translations are kept in an LRU cache and pipelines in a PipelineCache
// keyed by variant identity.
//
// The host binds pipelines through Backend.BindPipeline. While a capture is
// armed, every bound variant is reported to the capture sink. A bind that
// misses the pipeline cache compiles on the spot and is counted as a stall;
// warm-up exists to drive that count to zero.
//
//	lib := native.NewShaderLibrary(0)
//	if _, err := lib.LoadDir("shaders"); err != nil {
//	    return err
//	}
//	b, err := native.Register(device, lib)
package native
