package shaders

import (
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

//go:embed *.wgsl
var files embed.FS

//go:embed marching_cubes.wgsl
var MarchingCubesWGSL string

const (
	// MarchingCubesPath is the logical asset path of the mesh compute program.
	MarchingCubesPath  = "shaders/marching_cubes.wgsl"
	MarchingCubesEntry = "main"

	// WorkgroupSize is the shader's local size along each axis.
	WorkgroupSize = 4
)

// Load resolves a logical shader path. When dir is set, a file at
// dir/<name> overrides the embedded copy.
func Load(dir, logicalPath string) (string, error) {
	name := strings.TrimPrefix(path.Clean(logicalPath), "shaders/")
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("shaders: read %s: %w", logicalPath, err)
		}
	}
	data, err := files.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("shaders: unknown asset %s: %w", logicalPath, err)
	}
	return string(data), nil
}
