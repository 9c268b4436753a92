package movie

// Storage is the flat backing array of a Movie. Values are laid out in
// row-major order over (T, d1, ..., dk).
type Storage interface {
	// Len returns the number of stored values.
	Len() int

	// At returns the value at flat index i. The caller guarantees 0 <= i < Len().
	At(i int) float64
}

// Float64Storage keeps values in memory as float64. It is the natural backing
// for programmatically constructed movies.
type Float64Storage []float64

func (s Float64Storage) Len() int         { return len(s) }
func (s Float64Storage) At(i int) float64 { return s[i] }

// Uint16Storage keeps values in memory at the 16-bit depth of the imaging
// source.
type Uint16Storage []uint16

func (s Uint16Storage) Len() int         { return len(s) }
func (s Uint16Storage) At(i int) float64 { return float64(s[i]) }
