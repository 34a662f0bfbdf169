// Package chunker implements content-defined chunking: splitting a byte
// stream into variable-sized chunks whose boundaries depend only on the
// bytes seen so far, a seed, and three size parameters. Identical content
// produces identical boundaries regardless of surrounding edits, which is
// what lets the repository deduplicate unchanged regions of a file.
//
// The splitter is pure and incremental: callers feed it buffers (plus an
// end-of-stream flag) and it reports how many bytes it consumed, invoking
// a callback once per completed chunk. Any unconsumed tail must be
// re-presented, with more data appended, on the next call.
package chunker

import "fmt"

// gearTable is a fixed pseudo-random permutation table for the Gear
// rolling hash, seeded per-repository so that chunk boundaries cannot be
// predicted (and collided) by an adversary who doesn't know the seed.
type gearTable [256]uint64

func newGearTable(seed uint64) *gearTable {
	var t gearTable
	state := seed
	for i := range t {
		// splitmix64
		state += 0x9E3779B97F4A7C15
		z := state
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		z = z ^ (z >> 31)
		t[i] = z
	}
	return &t
}

// Chunk describes one emitted content-defined chunk.
type Chunk struct {
	// Offset is the byte offset of this chunk within the overall stream.
	Offset int64
	// Data is the chunk's plaintext bytes. The slice aliases the buffer
	// passed to Split and is only valid until the next call into the
	// Splitter; callers that retain it must copy.
	Data []byte
}

// Default engine parameters (spec.md §4.2): 2 MiB average, 1 MiB minimum,
// 8 MiB maximum.
const (
	DefaultAverage = 2 << 20
	DefaultMin     = 1 << 20
	DefaultMax     = 8 << 20
)

// Splitter performs incremental content-defined chunking over a stream
// using a Gear-style rolling hash: each byte shifts an accumulator left
// by one bit and adds a per-byte table entry, so the hash's low bits
// depend only on the most recent ~64 bytes (older bytes get shifted out
// of the 64-bit word). A boundary fires once the current chunk has
// reached the minimum size and the accumulator's low bits (masked to a
// width chosen so the expected run length matches the target average)
// are all zero, or once the chunk reaches the maximum size regardless.
type Splitter struct {
	min, max int
	table    *gearTable
	mask     uint64

	offset int64  // stream offset of the next byte to be read
	hash   uint64 // rolling accumulator for the chunk in progress
	length int    // bytes accumulated into the chunk in progress
}

// New creates a Splitter targeting the given average chunk size, with hard
// minimum and maximum bounds, keyed by seed. It requires min <= average <=
// max.
func New(average, min, max int, seed uint64) (*Splitter, error) {
	if !(min <= average && average <= max) {
		return nil, fmt.Errorf("chunker: require min <= average <= max, got %d <= %d <= %d", min, average, max)
	}
	if min <= 0 {
		return nil, fmt.Errorf("chunker: min must be positive, got %d", min)
	}

	bits := 0
	target := average - min
	if target < 1 {
		target = 1
	}
	for (1 << bits) < target {
		bits++
	}
	mask := uint64(1)<<bits - 1

	return &Splitter{
		min:   min,
		max:   max,
		table: newGearTable(seed),
		mask:  mask,
	}, nil
}

// Split consumes as much of buf as it can, emitting completed chunks via
// emit. It returns the number of bytes of buf it consumed; any remainder
// must be retained by the caller and re-presented, with more data
// appended, on the next call. When eof is true, Split additionally emits
// a final (possibly short) chunk for whatever remains buffered once the
// loop finishes, since there can be no more data to reach the minimum.
//
// emit is called with a Chunk whose Data aliases a sub-slice of buf;
// implementations that need to retain chunk bytes past the call must
// copy them.
func (s *Splitter) Split(buf []byte, eof bool, emit func(Chunk) error) (consumed int, err error) {
	start := 0

	boundary := func(end int) error {
		c := Chunk{Offset: s.offset, Data: buf[start:end]}
		if err := emit(c); err != nil {
			return err
		}
		s.offset += int64(end - start)
		start = end
		s.hash = 0
		s.length = 0
		return nil
	}

	// The first s.length bytes of buf are the re-presented tail that the
	// previous call already hashed; hashing resumes right after them.
	for i := s.length; i < len(buf); i++ {
		s.hash = (s.hash << 1) + s.table[buf[i]]
		s.length++

		if s.length >= s.max {
			if err := boundary(i + 1); err != nil {
				return 0, err
			}
			continue
		}
		if s.length >= s.min && s.hash&s.mask == 0 {
			if err := boundary(i + 1); err != nil {
				return 0, err
			}
		}
	}

	if eof && start < len(buf) {
		if err := boundary(len(buf)); err != nil {
			return 0, err
		}
	}

	return start, nil
}
