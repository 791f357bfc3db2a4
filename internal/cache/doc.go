// Package cache provides a generic thread-safe LRU cache.
//
//	c := cache.New[string, []uint32](64)
//	c.Set("sprite|FOG", words)
//	words, ok := c.Get("sprite|FOG")
//
// The native backend keeps translated SPIR-V modules here so that variants
// sharing a shader and keyword set are translated once.
package cache
