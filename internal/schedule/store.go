package schedule

import "github.com/google/uuid"

// Merge folds a freshly parsed batch of rows into the current collection and
// returns the updated slice. The input slice is copied, never mutated;
// callers must treat the return value as authoritative.
//
// Semantics per incoming row, keyed by the business key:
//   - existing row with status deleted  → reactivated in place
//   - existing row with status active   → no-op (idempotent re-upload)
//   - no existing row                   → appended with a fresh ID, active
//
// The key index is built once up front and extended as new rows append, so
// duplicates within the same incoming batch also collapse to a single row
// and merge stays O(n+m) on large collections.
func Merge(current []StoredRow, incoming []Row) []StoredRow {
	all := make([]StoredRow, len(current))
	copy(all, current)

	byKey := make(map[RowKey]int, len(all))
	for i, row := range all {
		byKey[Key(row.Data)] = i
	}

	for _, data := range incoming {
		k := Key(data)
		if i, ok := byKey[k]; ok {
			if all[i].Status == StatusDeleted {
				all[i].Status = StatusActive
			}
			continue
		}
		all = append(all, StoredRow{
			ID:     uuid.NewString(),
			Status: StatusActive,
			Data:   data,
		})
		byKey[k] = len(all) - 1
	}
	return all
}

// DeleteByIDs soft-deletes the active rows whose ID is in ids and returns
// the updated slice plus the number of rows flipped. Rows that are already
// deleted are left untouched and not counted; order is preserved.
func DeleteByIDs(current []StoredRow, ids map[string]struct{}) ([]StoredRow, int) {
	all := make([]StoredRow, len(current))
	copy(all, current)

	deleted := 0
	for i := range all {
		if _, ok := ids[all[i].ID]; ok && all[i].Status == StatusActive {
			all[i].Status = StatusDeleted
			deleted++
		}
	}
	return all, deleted
}

// RestoreAll flips every deleted row back to active unless doing so would
// produce a second active row with the same business key. The guard set
// starts as the currently-active keys and grows with each restore, so two
// deleted duplicates of each other restore only the first. Rows that cannot
// be restored stay deleted; this is not an error, merely uncounted.
func RestoreAll(current []StoredRow) ([]StoredRow, int) {
	all := make([]StoredRow, len(current))
	copy(all, current)

	activeKeys := make(map[RowKey]struct{}, len(all))
	for _, row := range all {
		if row.Status == StatusActive {
			activeKeys[Key(row.Data)] = struct{}{}
		}
	}

	restored := 0
	for i := range all {
		if all[i].Status != StatusDeleted {
			continue
		}
		k := Key(all[i].Data)
		if _, taken := activeKeys[k]; taken {
			continue
		}
		all[i].Status = StatusActive
		activeKeys[k] = struct{}{}
		restored++
	}
	return all, restored
}

// FilterActive projects the active rows in insertion order.
func FilterActive(rows []StoredRow) []StoredRow {
	out := make([]StoredRow, 0, len(rows))
	for _, row := range rows {
		if row.Status == StatusActive {
			out = append(out, row)
		}
	}
	return out
}

// CountDeleted returns the number of soft-deleted rows.
func CountDeleted(rows []StoredRow) int {
	return len(rows) - len(FilterActive(rows))
}
