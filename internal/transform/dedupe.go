package transform

import "playmart/internal/model"

// DedupeByKey returns one row per distinct key, preserving input order of
// first occurrence. Which colliding row survives is first-seen here, but
// callers must not rely on more than "exactly one row per key"; the sink's
// conflict policy is the contract that matters across runs.
func DedupeByKey[T any, K comparable](rows []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// MergeUsers deduplicates user rows by user_id with the level-merge rule:
// the surviving row keeps the first-seen identity fields (first_name,
// last_name, gender) and the most-recently-seen level. This mirrors what the
// loader's upsert does across batches, so within-batch and across-batch
// behavior agree.
func MergeUsers(rows []model.User) []model.User {
	idx := make(map[int64]int, len(rows))
	out := make([]model.User, 0, len(rows))
	for _, r := range rows {
		if i, ok := idx[r.UserID]; ok {
			out[i].Level = r.Level
			continue
		}
		idx[r.UserID] = len(out)
		out = append(out, r)
	}
	return out
}
