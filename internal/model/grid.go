package model

// Grid dimensions
const (
	GridSize  = 5
	GridCells = GridSize * GridSize
)

// Slot identifies one of the two seats in a game. SlotNone marks an
// unclaimed cell.
type Slot uint8

const (
	SlotNone Slot = iota
	SlotA
	SlotB
)

// Other returns the opposing slot
func (s Slot) Other() Slot {
	switch s {
	case SlotA:
		return SlotB
	case SlotB:
		return SlotA
	default:
		return SlotNone
	}
}

// Valid reports whether s is a real seat
func (s Slot) Valid() bool {
	return s == SlotA || s == SlotB
}

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "A"
	case SlotB:
		return "B"
	default:
		return "-"
	}
}

// Grid is the 5x5 board in row-major order: cell i is at row i/5, column i%5
type Grid [GridCells]Slot

// InBounds reports whether index addresses a cell
func InBounds(index int) bool {
	return index >= 0 && index < GridCells
}

// Claimed returns the number of claimed cells
func (g *Grid) Claimed() int {
	n := 0
	for _, c := range g {
		if c != SlotNone {
			n++
		}
	}
	return n
}

// Full reports whether every cell is claimed
func (g *Grid) Full() bool {
	return g.Claimed() == GridCells
}

// Mask returns which cells are owned by slot
func (g *Grid) Mask(slot Slot) [GridCells]bool {
	var mask [GridCells]bool
	for i, c := range g {
		mask[i] = c == slot
	}
	return mask
}
