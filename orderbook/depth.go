package orderbook

import (
	"errors"
	"fmt"
)

var ErrSequenceGap = errors.New("orderbook: sequence gap")

// Level is one (price, volume) entry of a snapshot or diff.
type Level struct {
	Price  float64
	Volume float64
}

// Diff is one incremental update. IDs must be contiguous: the Nth diff
// carries the (N-1)th id plus one.
type Diff struct {
	ID   uint64
	Bids []Level
	Asks []Level
}

// diffBuffer is how many out-of-order diffs a book holds while waiting
// for a hole to fill before giving up and demanding a resubscribe.
const diffBuffer = 3

// Book reconstructs one venue orderbook from a snapshot plus diffs. It
// is owned by a single collector goroutine and needs no locking.
type Book struct {
	bids    map[float64]float64
	asks    map[float64]float64
	lastID  uint64
	primed  bool
	pending []Diff
}

func NewBook() *Book {
	return &Book{
		bids: make(map[float64]float64),
		asks: make(map[float64]float64),
	}
}

func (b *Book) Primed() bool   { return b.primed }
func (b *Book) LastID() uint64 { return b.lastID }

// Reset forgets everything; the collector calls it before resubscribing.
func (b *Book) Reset() {
	b.bids = make(map[float64]float64)
	b.asks = make(map[float64]float64)
	b.lastID = 0
	b.primed = false
	b.pending = nil
}

// LoadSnapshot primes the book with a full state tagged by the venue's
// last update id (or channel offset).
func (b *Book) LoadSnapshot(bids, asks []Level, id uint64) {
	b.bids = make(map[float64]float64, len(bids))
	b.asks = make(map[float64]float64, len(asks))
	for _, l := range bids {
		if l.Volume > 0 {
			b.bids[l.Price] = l.Volume
		}
	}
	for _, l := range asks {
		if l.Volume > 0 {
			b.asks[l.Price] = l.Volume
		}
	}
	b.lastID = id
	b.primed = true
	b.pending = nil
}

// Apply merges one diff. Replayed ids are dropped. A gapped id is held
// in a small buffer in case the missing diffs are still in flight; when
// the buffer fills without restoring continuity, Apply returns
// ErrSequenceGap and the caller must resubscribe.
func (b *Book) Apply(d Diff) error {
	if !b.primed {
		return fmt.Errorf("orderbook: diff %d before snapshot", d.ID)
	}
	if d.ID <= b.lastID {
		return nil
	}
	if d.ID == b.lastID+1 {
		b.applyLevels(d)
		b.drainPending()
		return nil
	}

	b.pending = append(b.pending, d)
	b.drainPending()
	if len(b.pending) >= diffBuffer {
		b.pending = nil
		return fmt.Errorf("%w: want %d, buffered through %d", ErrSequenceGap, b.lastID+1, d.ID)
	}
	return nil
}

func (b *Book) applyLevels(d Diff) {
	for _, l := range d.Bids {
		if l.Volume == 0 {
			delete(b.bids, l.Price)
		} else {
			b.bids[l.Price] = l.Volume
		}
	}
	for _, l := range d.Asks {
		if l.Volume == 0 {
			delete(b.asks, l.Price)
		} else {
			b.asks[l.Price] = l.Volume
		}
	}
	b.lastID = d.ID
}

func (b *Book) drainPending() {
	for {
		advanced := false
		keep := b.pending[:0]
		for _, d := range b.pending {
			switch {
			case d.ID <= b.lastID:
				// obsolete once the run catches up; drop
			case d.ID == b.lastID+1:
				b.applyLevels(d)
				advanced = true
			default:
				keep = append(keep, d)
			}
		}
		b.pending = keep
		if !advanced {
			return
		}
	}
}

// BestBid is the highest bid level.
func (b *Book) BestBid() (Level, bool) {
	var best Level
	found := false
	for p, v := range b.bids {
		if !found || p > best.Price {
			best = Level{Price: p, Volume: v}
			found = true
		}
	}
	return best, found
}

// BestAsk is the lowest ask level.
func (b *Book) BestAsk() (Level, bool) {
	var best Level
	found := false
	for p, v := range b.asks {
		if !found || p < best.Price {
			best = Level{Price: p, Volume: v}
			found = true
		}
	}
	return best, found
}

// Depth reports the current level counts (bids, asks).
func (b *Book) Depth() (int, int) {
	return len(b.bids), len(b.asks)
}
