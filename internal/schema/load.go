package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadFile compiles a single CUE file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	return Compile(v)
}

// Load compiles the CUE package in dir. All .cue files of the package are
// unified, so tables may be spread over several files.
func Load(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("load schema: not a directory: %s", dir)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("load schema: no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("load schema: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	return Compile(v)
}

// LoadPath loads a directory with Load and anything else with LoadFile.
func LoadPath(path string) (*Schema, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if info.IsDir() {
		return Load(path)
	}
	return LoadFile(path)
}
