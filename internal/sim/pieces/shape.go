package pieces

import (
	"fmt"
	"math"
)

// Shape is an immutable 0/1 occupancy matrix, rows by columns. Row index
// grows downward, column index grows rightward, matching board coordinates.
type Shape [][]bool

// FromInts converts a 0/1 integer matrix into a Shape.
func FromInts(rows [][]int) (Shape, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("shape: empty matrix")
	}
	w := len(rows[0])
	if w == 0 {
		return nil, fmt.Errorf("shape: empty row")
	}
	s := make(Shape, len(rows))
	for r, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("shape: row %d has %d cells, want %d", r, len(row), w)
		}
		s[r] = make([]bool, w)
		for c, v := range row {
			switch v {
			case 0:
			case 1:
				s[r][c] = true
			default:
				return nil, fmt.Errorf("shape: cell (%d,%d) is %d, want 0 or 1", r, c, v)
			}
		}
	}
	return s, nil
}

// Dims returns width (columns) and height (rows).
func (s Shape) Dims() (w, h int) {
	if len(s) == 0 {
		return 0, 0
	}
	return len(s[0]), len(s)
}

// Ints converts the shape back to a 0/1 matrix for wire payloads.
func (s Shape) Ints() [][]int {
	out := make([][]int, len(s))
	for r := range s {
		out[r] = make([]int, len(s[r]))
		for c, set := range s[r] {
			if set {
				out[r][c] = 1
			}
		}
	}
	return out
}

func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	for r := range s {
		out[r] = append([]bool(nil), s[r]...)
	}
	return out
}

// Mirror flips the matrix across its vertical axis and returns a new Shape.
func (s Shape) Mirror() Shape {
	w, h := s.Dims()
	out := make(Shape, h)
	for r := 0; r < h; r++ {
		out[r] = make([]bool, w)
		for c := 0; c < w; c++ {
			out[r][c] = s[r][w-1-c]
		}
	}
	return out
}

// Rotate returns a new Shape rotated clockwise by deg degrees. Multiples of
// 90 use exact index permutation; other angles resample nearest-neighbor
// around the matrix center into a recomputed bounding box. The result is
// deterministic for a given input and angle.
func (s Shape) Rotate(deg float64) Shape {
	deg = NormalizeDegrees(deg)
	if deg == 0 {
		return s.Clone()
	}
	if math.Mod(deg, 90) == 0 {
		return s.rotateQuarter(int(deg/90) & 3)
	}
	return s.resample(deg)
}

// NormalizeDegrees maps any angle onto [0,360).
func NormalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

func (s Shape) rotateQuarter(q int) Shape {
	w, h := s.Dims()
	switch q {
	case 1: // 90 clockwise: out[r][c] = in[h-1-c][r]
		out := make(Shape, w)
		for r := 0; r < w; r++ {
			out[r] = make([]bool, h)
			for c := 0; c < h; c++ {
				out[r][c] = s[h-1-c][r]
			}
		}
		return out
	case 2:
		out := make(Shape, h)
		for r := 0; r < h; r++ {
			out[r] = make([]bool, w)
			for c := 0; c < w; c++ {
				out[r][c] = s[h-1-r][w-1-c]
			}
		}
		return out
	case 3: // 270 clockwise: out[r][c] = in[c][w-1-r]
		out := make(Shape, w)
		for r := 0; r < w; r++ {
			out[r] = make([]bool, h)
			for c := 0; c < h; c++ {
				out[r][c] = s[c][w-1-r]
			}
		}
		return out
	default:
		return s.Clone()
	}
}

func (s Shape) resample(deg float64) Shape {
	w, h := s.Dims()
	rad := deg * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	fw, fh := float64(w), float64(h)

	nw := int(math.Ceil(fw*math.Abs(cos) + fh*math.Abs(sin)))
	nh := int(math.Ceil(fw*math.Abs(sin) + fh*math.Abs(cos)))
	cx, cy := fw/2, fh/2
	ncx, ncy := float64(nw)/2, float64(nh)/2

	out := make(Shape, nh)
	for r := 0; r < nh; r++ {
		out[r] = make([]bool, nw)
		for c := 0; c < nw; c++ {
			// Rotate the output cell center back into source coordinates.
			px := float64(c) + 0.5 - ncx
			py := float64(r) + 0.5 - ncy
			sx := px*cos + py*sin + cx
			sy := -px*sin + py*cos + cy
			sc := int(math.Floor(sx))
			sr := int(math.Floor(sy))
			if sr >= 0 && sr < h && sc >= 0 && sc < w && s[sr][sc] {
				out[r][c] = true
			}
		}
	}
	return out
}
