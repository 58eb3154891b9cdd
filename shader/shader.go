// Package shader reads SPIR-V bytecode for pipeline stages.
package shader

//go:generate glslc ../shaders/vertex_shader.vert -o ../shaders/vertex_shader.spv
//go:generate glslc ../shaders/fragment_shader.frag -o ../shaders/fragment_shader.spv

import (
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// MagicNumber opens every SPIR-V module
const MagicNumber uint32 = 0x07230203

var ErrInvalidBytecode = errors.New("invalid SPIR-V bytecode")

// Loader reads shader files from a file system. Paths are slash-separated
// and relative to its root.
type Loader struct {
	FS fs.FS
}

// NewLoader reads shaders from the directory root
func NewLoader(root string) *Loader {
	return &Loader{FS: os.DirFS(root)}
}

func (l *Loader) ReadFile(name string) ([]byte, error) {
	b, err := fs.ReadFile(l.FS, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open shader %s", name)
	}
	return b, nil
}

// Load reads and decodes every named shader concurrently. The result is in
// the order of names.
func (l *Loader) Load(names ...string) ([][]uint32, error) {
	code := make([][]uint32, len(names))

	var group errgroup.Group
	for i, name := range names {
		idx, name := i, name
		group.Go(func() error {
			b, err := l.ReadFile(name)
			if err != nil {
				return err
			}

			code[idx], err = Bytecode(b)
			return errors.Wrapf(err, "decoding shader %s", name)
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return code, nil
}

// Bytecode converts little-endian SPIR-V bytes into the words a shader
// module is created from
func Bytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Mark(errors.Newf("length %d is not a positive multiple of 4", len(b)), ErrInvalidBytecode)
	}

	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	if byteCode[0] != MagicNumber {
		return nil, errors.Mark(errors.Newf("magic number %#08x, want %#08x", byteCode[0], MagicNumber), ErrInvalidBytecode)
	}

	return byteCode, nil
}
