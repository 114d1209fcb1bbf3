package xpt

import (
	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/store"
)

// Decoder maps a checkpoint record's raw key/value bytes to a datum id,
// type, and the payload to restore (spec section 4.F.3: "an
// application-provided decoder that maps (key_bytes -> id, value_bytes ->
// typed_datum)").
type Decoder func(key, value []byte) (id int64, typ datum.Type, err error)

// RankResult reports one rank's reload outcome.
type RankResult struct {
	Rank    int
	Valid   int
	Invalid int
}

// Reload walks every rank recorded in the checkpoint file's own header
// (not the current job's server count, per spec section 4.F.3) and
// restores each valid record into st with permanent=true. Corrupt records
// are counted and skipped rather than aborting the reload.
func Reload(r *Reader, decode Decoder, st *store.Store) ([]RankResult, error) {
	var results []RankResult
	for rank := 0; rank < r.RankCount(); rank++ {
		if err := r.SelectRank(rank); err != nil {
			return nil, err
		}

		valid, invalid := 0, 0
	rankLoop:
		for {
			rec, outcome, err := r.ReadRecord()
			if err != nil {
				return nil, err
			}
			switch outcome {
			case OutcomeEndOfRank:
				break rankLoop
			case OutcomeCorrupted:
				invalid++
			case OutcomeRecord:
				id, typ, derr := decode(rec.Key, rec.Value)
				if derr != nil {
					invalid++
					continue
				}
				if err := st.Restore(id, typ, rec.Value); err != nil {
					invalid++
					continue
				}
				valid++
			}
		}

		results = append(results, RankResult{Rank: rank, Valid: valid, Invalid: invalid})
	}
	return results, nil
}
