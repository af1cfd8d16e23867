package bpred

import "oocoresim/internal/mop"

// tageEntry is one tagged-table slot: a partial-PC tag, a saturating
// confidence counter, a usefulness bit for replacement, and the last
// recorded direction.
type tageEntry struct {
	tag     uint32
	counter uint8
	useful  bool
	taken   bool
	valid   bool
}

// tageTable is one geometric-history component table of a Tage predictor.
type tageTable struct {
	entries    []tageEntry
	historyLen int
	indexBits  uint
}

// Tage is a multi-component tagged geometric-history branch predictor,
// generalized from a fixed 8-table/1024-entry hardware prototype to
// configurable table count/size/history lengths so it can be tuned per run
// instead of baked in at compile time. The prediction algorithm — parallel
// per-table lookup, tag+history match, longest-matching-history-wins
// selection via a hit bitmap and a leading-zero scan — is unchanged from
// the prototype it is grounded on.
type Tage struct {
	tables      []tageTable
	history     uint64
	maxCounter  uint8
	takenThresh uint8
	neutral     uint8

	// pending tracks outstanding Lookup reservations keyed by Handle.Slot
	// so Update/Recover/Flush can find which table entry provided the
	// prediction and train it (allocating a longer-history entry on a
	// mispredict).
	pending map[uint32]tagePending
	nextSlot uint32
}

type tagePending struct {
	pc        uint64
	tableIdx  int // -1 if base-only (no tagged-table hit)
	entryIdx  uint32
	predicted bool
	history   uint64
}

// TageConfig parameterizes table count, entries-per-table, and the
// geometric history-length progression. NumTables must equal
// len(HistoryLengths); HistoryLengths[0] must be 0 (the base predictor has
// no history).
type TageConfig struct {
	NumTables       int
	EntriesPerTable int
	HistoryLengths  []int
	TagBits         uint32
	CounterBits     uint8
}

// DefaultTageConfig mirrors the geometric progression used by the reference
// hardware prototype this predictor is grounded on.
func DefaultTageConfig() TageConfig {
	return TageConfig{
		NumTables:       8,
		EntriesPerTable: 1024,
		HistoryLengths:  []int{0, 4, 8, 12, 16, 24, 32, 64},
		TagBits:         13,
		CounterBits:     3,
	}
}

// NewTage builds a Tage predictor from cfg. The base table (index 0, zero
// history length) starts fully valid at weakly-not-taken so lookups always
// have a fallback that favors fallthrough until trained; tagged tables
// start empty.
func NewTage(cfg TageConfig) *Tage {
	maxCounter := uint8((1 << cfg.CounterBits) - 1)
	neutral := maxCounter/2 + 1

	t := &Tage{
		tables:      make([]tageTable, cfg.NumTables),
		maxCounter:  maxCounter,
		takenThresh: neutral,
		neutral:     neutral,
		pending:     make(map[uint32]tagePending),
	}
	for i := 0; i < cfg.NumTables; i++ {
		indexBits := bitsFor(cfg.EntriesPerTable)
		tbl := tageTable{
			entries:    make([]tageEntry, cfg.EntriesPerTable),
			historyLen: cfg.HistoryLengths[i],
			indexBits:  indexBits,
		}
		if i == 0 {
			for j := range tbl.entries {
				tbl.entries[j] = tageEntry{counter: neutral - 1, valid: true}
			}
		}
		t.tables[i] = tbl
	}
	return t
}

func bitsFor(n int) uint {
	b := uint(0)
	for (1 << b) < n {
		b++
	}
	return b
}

func hashIndex(pc, history uint64, historyLen int, indexBits uint) uint32 {
	pcBits := uint32(pc>>2) & uint32((1<<indexBits)-1)
	if historyLen == 0 {
		return pcBits
	}
	mask := uint64(1)<<uint(historyLen) - 1
	h := history & mask
	histBits := uint32(h)
	limit := uint32(1<<indexBits) - 1
	for histBits > limit {
		histBits = (histBits & limit) ^ (histBits >> indexBits)
	}
	return (pcBits ^ histBits) & limit
}

func hashTag(pc uint64, tagBits uint32) uint32 {
	return uint32(pc>>10) & ((1 << tagBits) - 1)
}

// Lookup predicts pc's direction by scanning tables from the longest
// history to the shortest and taking the first (longest) tag match; the
// base table always matches as the fallback. Matches
// TAGEPredictor.Predict's longest-match-wins semantics.
func (t *Tage) Lookup(pc uint64) (npc uint64, h mop.Handle) {
	best := -1
	var bestEntry *tageEntry
	var bestIdx uint32

	for i := len(t.tables) - 1; i >= 0; i-- {
		tbl := &t.tables[i]
		idx := hashIndex(pc, t.history, tbl.historyLen, tbl.indexBits)
		e := &tbl.entries[idx]
		if !e.valid {
			continue
		}
		if i == 0 {
			if best == -1 {
				best = 0
				bestEntry = e
				bestIdx = idx
			}
			continue
		}
		if e.tag == hashTag(pc, 13) {
			best = i
			bestEntry = e
			bestIdx = idx
			break
		}
	}

	predicted := bestEntry.counter >= t.takenThresh

	t.nextSlot++
	slot := t.nextSlot
	t.pending[slot] = tagePending{pc: pc, tableIdx: best, entryIdx: bestIdx, predicted: predicted, history: t.history}

	if predicted {
		npc = pc + 16 // placeholder fallthrough-vs-target resolved by BTB/decode
	} else {
		npc = pc + 4
	}
	return npc, mop.Handle{Slot: slot, Gen: 1}
}

// Update records the real outcome for a prior Lookup, training the table
// that produced the prediction (or allocating a new tagged entry on a
// mispredict, mirroring TAGE's allocate-on-misprediction policy) and
// shifting the global history register.
func (t *Tage) Update(h mop.Handle, pc uint64, taken bool, targetPC uint64) {
	p, ok := t.pending[h.Slot]
	if ok {
		delete(t.pending, h.Slot)
		tbl := &t.tables[p.tableIdx]
		e := &tbl.entries[p.entryIdx]
		if taken && e.counter < t.maxCounter {
			e.counter++
		} else if !taken && e.counter > 0 {
			e.counter--
		}
		e.taken = taken
		e.useful = e.useful || (p.predicted == taken)

		if p.predicted != taken {
			t.allocate(pc, taken, p.tableIdx+1)
		}
	}

	t.history <<= 1
	if taken {
		t.history |= 1
	}
}

// allocate installs a fresh tagged entry for pc in a longer-history table
// than the one that mispredicted, the TAGE allocate-on-mispredict step.
func (t *Tage) allocate(pc uint64, taken bool, from int) {
	for i := from; i < len(t.tables); i++ {
		tbl := &t.tables[i]
		idx := hashIndex(pc, t.history, tbl.historyLen, tbl.indexBits)
		e := &tbl.entries[idx]
		if !e.valid || !e.useful {
			*e = tageEntry{
				tag:     hashTag(pc, 13),
				counter: t.neutral,
				taken:   taken,
				valid:   true,
			}
			return
		}
	}
}

// Recover discards a pending Lookup's reservation without training any
// table, used when the Mop that issued it is squashed before its real
// outcome is known.
func (t *Tage) Recover(h mop.Handle) {
	delete(t.pending, h.Slot)
}

// Flush is identical to Recover for Tage: there is no separate in-flight
// speculative table state beyond the pending-reservation map.
func (t *Tage) Flush(h mop.Handle) {
	delete(t.pending, h.Slot)
}
