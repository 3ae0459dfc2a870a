// Package stl turns a segment of a label volume into a closed triangle
// surface and writes it as binary STL.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"voxelseg/internal/models"
	"voxelseg/pkg/voxel"
)

// Triangle is one facet with its outward unit normal.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// Mesher extracts the boundary faces of a segment. Every face between a
// voxel of the segment and a voxel outside it (or the volume edge) becomes
// two triangles, so the result is watertight.
type Mesher struct {
	labels voxel.Reader
	dims   models.Dimensions
	scale  [3]float32
}

// NewMesher creates a mesher with unit voxel spacing.
func NewMesher(labels voxel.Reader, dims models.Dimensions) *Mesher {
	return &Mesher{labels: labels, dims: dims, scale: [3]float32{1, 1, 1}}
}

// SetScale sets the physical voxel spacing along each axis.
func (m *Mesher) SetScale(x, y, z float64) {
	m.scale = [3]float32{float32(x), float32(y), float32(z)}
}

// face directions: -x +x -y +y -z +z
var neighbours = [6]models.Coord{
	{X: -1}, {X: 1}, {Y: -1}, {Y: 1}, {Z: -1}, {Z: 1},
}

// corners of each face in counter-clockwise order seen from outside
var faceCorners = [6][4][3]float32{
	{{0, 0, 0}, {0, 0, 1}, {0, 1, 1}, {0, 1, 0}},
	{{1, 0, 0}, {1, 1, 0}, {1, 1, 1}, {1, 0, 1}},
	{{0, 0, 0}, {1, 0, 0}, {1, 0, 1}, {0, 0, 1}},
	{{0, 1, 0}, {0, 1, 1}, {1, 1, 1}, {1, 1, 0}},
	{{0, 0, 0}, {0, 1, 0}, {1, 1, 0}, {1, 0, 0}},
	{{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1}},
}

// Generate returns the surface of segment. An absent segment yields no
// triangles.
func (m *Mesher) Generate(segment models.SegmentIndex) ([]Triangle, error) {
	if m.labels.Len() != m.dims.Len() {
		return nil, fmt.Errorf("labels hold %d voxels, dimensions need %d", m.labels.Len(), m.dims.Len())
	}
	var triangles []Triangle
	for i := 0; i < m.dims.Len(); i++ {
		v, err := m.labels.Get(i)
		if err != nil {
			return nil, err
		}
		if v != segment {
			continue
		}
		c := m.dims.Coord(i)
		for f, d := range neighbours {
			n := models.Coord{X: c.X + d.X, Y: c.Y + d.Y, Z: c.Z + d.Z}
			if m.dims.Contains(n) {
				nv, err := m.labels.Get(m.dims.Index(n))
				if err != nil {
					return nil, err
				}
				if nv == segment {
					continue
				}
			}
			triangles = append(triangles, m.face(c, f)...)
		}
	}
	return triangles, nil
}

func (m *Mesher) face(c models.Coord, f int) []Triangle {
	var p [4][3]float32
	for k, corner := range faceCorners[f] {
		p[k] = [3]float32{
			(float32(c.X) + corner[0]) * m.scale[0],
			(float32(c.Y) + corner[1]) * m.scale[1],
			(float32(c.Z) + corner[2]) * m.scale[2],
		}
	}
	d := neighbours[f]
	normal := [3]float32{float32(d.X), float32(d.Y), float32(d.Z)}
	return []Triangle{
		{Normal: normal, Vertex1: p[0], Vertex2: p[1], Vertex3: p[2]},
		{Normal: normal, Vertex1: p[0], Vertex2: p[2], Vertex3: p[3]},
	}
}

// SaveToSTL writes triangles as a binary STL file.
func SaveToSTL(filename string, triangles []Triangle) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create STL file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	header := make([]byte, 80)
	copy(header, "voxelseg segment surface")
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write STL header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("failed to write triangle count: %w", err)
	}

	buf := make([]byte, 50)
	for _, t := range triangles {
		off := 0
		for _, v := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, x := range v {
				binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(x))
				off += 4
			}
		}
		// attribute byte count stays zero
		buf[48], buf[49] = 0, 0
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("failed to write triangle: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush STL file: %w", err)
	}
	return nil
}
