package scoring

import "github.com/mcoot/islandgame/internal/model"

// Scores holds the largest connected region for each slot
type Scores struct {
	AreaA int
	AreaB int
}

// Result compares the two areas
func (s Scores) Result() model.GameResult {
	return model.ResultFromAreas(s.AreaA, s.AreaB)
}

// Service scores grids
type Service struct{}

// New creates a new scoring Service
func New() *Service {
	return &Service{}
}

// ScoreGrid computes the largest region owned by each slot
func (s *Service) ScoreGrid(grid model.Grid) Scores {
	return Scores{
		AreaA: MaxArea(grid.Mask(model.SlotA)),
		AreaB: MaxArea(grid.Mask(model.SlotB)),
	}
}

var neighbours = [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}}

// MaxArea returns the size of the largest 4-connected group of set cells.
// Diagonal cells are not adjacent.
func MaxArea(mask [model.GridCells]bool) int {
	var visited [model.GridCells]bool
	best := 0
	stack := make([]int, 0, model.GridCells)

	for start := range mask {
		if !mask[start] || visited[start] {
			continue
		}
		visited[start] = true
		stack = append(stack[:0], start)
		area := 0
		for len(stack) > 0 {
			cell := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			area++

			row, col := cell/model.GridSize, cell%model.GridSize
			for _, d := range neighbours {
				r, c := row+d[0], col+d[1]
				if r < 0 || r >= model.GridSize || c < 0 || c >= model.GridSize {
					continue
				}
				next := r*model.GridSize + c
				if mask[next] && !visited[next] {
					visited[next] = true
					stack = append(stack, next)
				}
			}
		}
		best = max(best, area)
	}
	return best
}
