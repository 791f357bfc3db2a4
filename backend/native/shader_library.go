package native

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/naga"

	"github.com/gogpu/gstate/internal/cache"
)

// ShaderExtension is the file extension LoadDir picks up.
const ShaderExtension = ".wgsl"

// DefaultSPIRVCacheSize is the number of translated modules kept by default.
const DefaultSPIRVCacheSize = 256

// keywordPrefix prefixes the WGSL constant generated for a keyword.
const keywordPrefix = "KW_"

var (
	keywordRef   = regexp.MustCompile(`\bKW_([A-Za-z0-9_]+)\b`)
	keywordValid = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
)

// shaderSource is a registered WGSL shader and the keywords it references.
type shaderSource struct {
	wgsl     string
	keywords []string
}

func (s *shaderSource) declares(kw string) bool {
	_, ok := slices.BinarySearch(s.keywords, kw)
	return ok
}

// ShaderLibrary holds WGSL shaders by name and translates keyword
// specializations of them to SPIR-V.
//
// ShaderLibrary is safe for concurrent use.
type ShaderLibrary struct {
	mu      sync.RWMutex
	sources map[string]*shaderSource

	spirv   *cache.Cache[string, []uint32]
	compile func(string) ([]byte, error)
}

// NewShaderLibrary creates an empty library keeping up to cacheSize
// translated modules. Zero selects DefaultSPIRVCacheSize.
func NewShaderLibrary(cacheSize int) *ShaderLibrary {
	if cacheSize <= 0 {
		cacheSize = DefaultSPIRVCacheSize
	}
	return &ShaderLibrary{
		sources: make(map[string]*shaderSource),
		spirv:   cache.New[string, []uint32](cacheSize),
		compile: naga.Compile,
	}
}

// Add registers or replaces the WGSL source of a shader.
func (l *ShaderLibrary) Add(name, wgsl string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownShader)
	}

	var keywords []string
	for _, m := range keywordRef.FindAllStringSubmatch(wgsl, -1) {
		keywords = append(keywords, m[1])
	}
	slices.Sort(keywords)
	keywords = slices.Compact(keywords)

	l.mu.Lock()
	_, replaced := l.sources[name]
	l.sources[name] = &shaderSource{wgsl: wgsl, keywords: keywords}
	l.mu.Unlock()

	if replaced {
		// Translations of the old source are stale.
		l.spirv.Clear()
	}
	return nil
}

// LoadDir registers every *.wgsl file in dir under its base name.
// It returns the number of shaders loaded.
func (l *ShaderLibrary) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("native: load shaders: %w", err)
	}

	n := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ShaderExtension {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, fmt.Errorf("native: load shaders: %w", err)
		}
		if err := l.Add(strings.TrimSuffix(e.Name(), ShaderExtension), string(src)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Names returns the registered shader names in sorted order.
func (l *ShaderLibrary) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.sources))
	for name := range l.sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Keywords returns the keywords a shader references.
func (l *ShaderLibrary) Keywords(name string) ([]string, error) {
	src, err := l.source(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(src.keywords), nil
}

func (l *ShaderLibrary) source(name string) (*shaderSource, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	src, ok := l.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownShader, name)
	}
	return src, nil
}

// CheckKeywords verifies that every keyword is declared by at least one
// of the named shaders.
func (l *ShaderLibrary) CheckKeywords(keywords []string, shaders ...string) error {
	srcs := make([]*shaderSource, 0, len(shaders))
	for _, name := range shaders {
		src, err := l.source(name)
		if err != nil {
			return err
		}
		srcs = append(srcs, src)
	}

	for _, kw := range keywords {
		if !keywordValid.MatchString(kw) {
			return fmt.Errorf("%w: %q", ErrInvalidKeyword, kw)
		}
		declared := false
		for _, src := range srcs {
			if src.declares(kw) {
				declared = true
				break
			}
		}
		if !declared {
			return fmt.Errorf("%w: %q in %v", ErrUnknownKeyword, kw, shaders)
		}
	}
	return nil
}

// SPIRV returns the SPIR-V of shader name specialized for keywords.
// Keywords the shader does not reference are ignored, so stages sharing
// a keyword set share translations.
func (l *ShaderLibrary) SPIRV(name string, keywords []string) ([]uint32, error) {
	src, err := l.source(name)
	if err != nil {
		return nil, err
	}

	enabled := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if src.declares(kw) {
			enabled = append(enabled, kw)
		}
	}
	slices.Sort(enabled)
	enabled = slices.Compact(enabled)

	key := name + "|" + strings.Join(enabled, ",")
	return l.spirv.GetOrCreate(key, func() ([]uint32, error) {
		code, err := compileToSPIRV(l.compile, src.specialize(enabled))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrShaderCompile, name, err)
		}
		return code, nil
	})
}

// specialize prepends one boolean constant per referenced keyword.
func (s *shaderSource) specialize(enabled []string) string {
	if len(s.keywords) == 0 {
		return s.wgsl
	}

	var sb strings.Builder
	for _, kw := range s.keywords {
		_, on := slices.BinarySearch(enabled, kw)
		fmt.Fprintf(&sb, "const %s%s: bool = %t;\n", keywordPrefix, kw, on)
	}
	sb.WriteString(s.wgsl)
	return sb.String()
}

// CacheStats reports the SPIR-V cache counters.
func (l *ShaderLibrary) CacheStats() (size int, hits, misses uint64) {
	s := l.spirv.Stats()
	return s.Len, s.Hits, s.Misses
}

// compileToSPIRV translates WGSL and packs the little-endian result into words.
func compileToSPIRV(compile func(string) ([]byte, error), wgsl string) ([]uint32, error) {
	spirvBytes, err := compile(wgsl)
	if err != nil {
		return nil, err
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V size %d is not a multiple of 4", len(spirvBytes))
	}

	code := make([]uint32, len(spirvBytes)/4)
	for i := range code {
		code[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return code, nil
}
