// Package reconcile keeps the local entry collection and the remote mirror
// consistent.
package reconcile

import "github.com/Tiliavir/work-hours-tracker/internal/model"

// Merge folds remote entries into local. A remote entry is matched to the
// local entry carrying its remote-origin id, or failing that to the entry with
// the same date, start and end time. It replaces that entry only when its
// timestamp is strictly newer; remote entries without a match are appended.
// Merged remote entries carry the remote-origin id. The result is sorted by
// date, newest first. Neither input is modified.
//
// Entries without a shared id and sharing a (date, start, end) key are
// indistinguishable; the first match wins.
func Merge(remote, local []model.WorkEntry) []model.WorkEntry {
	out := model.Clone(local)
	byID := make(map[string]int, len(out))
	byKey := make(map[string]int, len(out))
	for i, e := range out {
		byID[e.ID] = i
		if _, seen := byKey[e.NaturalKey()]; !seen {
			byKey[e.NaturalKey()] = i
		}
	}

	for _, r := range remote {
		tagged := r
		if !r.IsRemote() {
			tagged.ID = model.RemoteID(r.ID)
		}
		i, ok := byID[tagged.ID]
		if !ok {
			i, ok = byKey[r.NaturalKey()]
		}
		if ok {
			if r.Timestamp.After(out[i].Timestamp) {
				delete(byID, out[i].ID)
				out[i] = tagged
				byID[tagged.ID] = i
				if _, seen := byKey[r.NaturalKey()]; !seen {
					byKey[r.NaturalKey()] = i
				}
			}
			continue
		}
		byID[tagged.ID] = len(out)
		byKey[r.NaturalKey()] = len(out)
		out = append(out, tagged)
	}

	model.SortByDateDesc(out)
	return out
}

// OwnedBy returns the entries tagged with owner.
func OwnedBy(entries []model.WorkEntry, owner string) []model.WorkEntry {
	out := make([]model.WorkEntry, 0, len(entries))
	for _, e := range entries {
		if e.UserID == owner {
			out = append(out, e)
		}
	}
	return out
}
