package lock

import (
	"slices"

	"github.com/roach88/universe/internal/ir"
)

// Request asks for one key in one mode.
type Request struct {
	Key    ir.ColumnKey
	Access ir.Access
}

// ReadOf is shorthand for a read request.
func ReadOf(key ir.ColumnKey) Request {
	return Request{Key: key, Access: ir.Read}
}

// WriteOf is shorthand for a write request.
func WriteOf(key ir.ColumnKey) Request {
	return Request{Key: key, Access: ir.Write}
}

func (r Request) String() string {
	return r.Key.String() + ":" + r.Access.String()
}

// Normalize sorts requests into the global acquisition order and merges
// duplicate keys, keeping the strongest access.
func Normalize(reqs []Request) []Request {
	sorted := slices.Clone(reqs)
	slices.SortFunc(sorted, func(a, b Request) int { return a.Key.Compare(b.Key) })
	out := sorted[:0]
	for _, r := range sorted {
		if n := len(out); n > 0 && out[n-1].Key == r.Key {
			out[n-1].Access = out[n-1].Access.Merge(r.Access)
			continue
		}
		out = append(out, r)
	}
	return out
}
