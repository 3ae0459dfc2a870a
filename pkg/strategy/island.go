package strategy

import "voxelseg/internal/models"

// IslandFilter removes disconnected fragments from the preview once the
// stroke ends. Components are 6-connected sets of preview voxels holding
// the operation's write value. A component is dropped when it has fewer
// than Island.MinSize voxels, or when seeds were given and it contains
// none of them.
type IslandFilter struct{}

func (IslandFilter) Kind() Kind { return KindIslandFilter }
func (IslandFilter) sealed()    {}

// Finish deletes the rejected components from the preview buffer.
func (IslandFilter) Finish(op *OperationData) error {
	write := op.WriteValue()
	painted := make(map[int]struct{})
	for index, v := range op.Preview.Entries() {
		if v == write {
			painted[index] = struct{}{}
		}
	}

	seeds := make(map[int]struct{}, len(op.Seeds))
	for _, s := range op.Seeds {
		seeds[s] = struct{}{}
	}

	visited := make(map[int]struct{}, len(painted))
	for _, start := range op.Preview.Indices() {
		if _, ok := painted[start]; !ok {
			continue
		}
		if _, ok := visited[start]; ok {
			continue
		}
		component := floodComponent(op.Dims, start, painted, visited)
		if keepComponent(op, component, seeds) {
			continue
		}
		for _, i := range component {
			op.Preview.Delete(i)
		}
		op.Stats.Removed += len(component)
	}
	return nil
}

func keepComponent(op *OperationData, component []int, seeds map[int]struct{}) bool {
	if len(component) < op.Island.MinSize {
		return false
	}
	if len(seeds) == 0 {
		return true
	}
	for _, i := range component {
		if _, ok := seeds[i]; ok {
			return true
		}
	}
	return false
}

// floodComponent collects the component containing start with a
// breadth-first search over face neighbours.
func floodComponent(dims models.Dimensions, start int, members, visited map[int]struct{}) []int {
	queue := []int{start}
	visited[start] = struct{}{}
	var component []int
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		component = append(component, cur)
		for _, n := range faceNeighbors(dims, cur) {
			if _, ok := members[n]; !ok {
				continue
			}
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	return component
}

var faceOffsets = [6]models.Coord{
	{X: -1}, {X: 1}, {Y: -1}, {Y: 1}, {Z: -1}, {Z: 1},
}

func faceNeighbors(dims models.Dimensions, index int) []int {
	c := dims.Coord(index)
	out := make([]int, 0, len(faceOffsets))
	for _, d := range faceOffsets {
		n := models.Coord{X: c.X + d.X, Y: c.Y + d.Y, Z: c.Z + d.Z}
		if dims.Contains(n) {
			out = append(out, dims.Index(n))
		}
	}
	return out
}
