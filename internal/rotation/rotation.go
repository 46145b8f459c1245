// Package rotation provides deterministic option rotation for questions
// that request it. Ordering is derived from an xxhash of the respondent,
// question, and a server salt, so the same respondent always sees the same
// order for a question while different respondents see different orders.
package rotation

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/quantai/surveyflow/internal/survey"
)

// subsetSize is the presentable subset length for SUBSET_6 rotation.
const subsetSize = 6

// seed returns a deterministic 64-bit seed for (respondent, question, salt).
func seed(respondentID string, questionID int64, salt string) uint64 {
	key := respondentID + ":" + fmt.Sprintf("%d", questionID) + ":" + salt
	return xxhash.Sum64String(key)
}

// Apply returns the presentable option ids for a question, honouring its
// rotation mode. Questions without rotation keep static order. The result is
// deterministic: same respondent, question, and salt always yields the same
// slice.
func Apply(q *survey.Question, respondentID, salt string) []string {
	ids := q.OptionIDs()
	switch q.Rotation {
	case survey.RotationShuffle:
		return shuffle(ids, seed(respondentID, q.ID, salt))
	case survey.RotationSubsetOf6:
		shuffled := shuffle(ids, seed(respondentID, q.ID, salt))
		if len(shuffled) > subsetSize {
			shuffled = shuffled[:subsetSize]
		}
		return shuffled
	default:
		return ids
	}
}

// shuffle permutes ids with a seeded Fisher-Yates pass. The permutation
// depends only on the seed, never on map order or wall-clock time.
func shuffle(ids []string, s uint64) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)

	state := s
	for i := len(out) - 1; i > 0; i-- {
		// xorshift64 step; cheap and deterministic across platforms.
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		j := int(state % uint64(i+1))
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Subtract removes masked ids from the presentable set, preserving order.
func Subtract(ids, masked []string) []string {
	if len(masked) == 0 {
		return ids
	}
	drop := make(map[string]struct{}, len(masked))
	for _, id := range masked {
		drop[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, hidden := drop[id]; !hidden {
			out = append(out, id)
		}
	}
	return out
}
