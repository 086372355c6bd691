package replication

import (
	"time"

	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/sirupsen/logrus"
)

// CollectGarbage deletes local fragments that no live manifest references.
// A manifest is live while it is younger than the retention window, counted
// from its arrival on this node, or while some application event references
// its blob. Pinned fragments and fragments in use by an upload, fetch or
// repair are never deleted.
func (m *Manager) CollectGarbage(now time.Time) ([]string, error) {
	cids, err := m.store.Fragments()
	if err != nil {
		return nil, err
	}

	var deleted []string
	touched := make(map[string]bool)
	for _, cid := range cids {
		if m.isBusy(cid) {
			continue
		}

		pinned, err := m.store.IsPinned(cid)
		if err != nil {
			return deleted, err
		}
		if pinned {
			continue
		}

		manifests, live, err := m.fragmentUse(cid, now)
		if err != nil {
			return deleted, err
		}
		if live {
			continue
		}

		ok, err := m.deleteIdle(cid)
		if err != nil {
			return deleted, err
		}
		if !ok {
			continue
		}
		for _, id := range manifests {
			touched[id] = true
		}
		deleted = append(deleted, cid)
	}

	for id := range touched {
		if err := m.refreshHolding(id); err != nil {
			return deleted, err
		}
	}

	if len(deleted) > 0 {
		m.logger.WithFields(logrus.Fields{
			"deleted": len(deleted),
			"kept":    len(cids) - len(deleted),
		}).Info("Collected fragments")
	}

	return deleted, nil
}

// fragmentUse returns the manifests listing cid and whether any of them is
// live.
func (m *Manager) fragmentUse(cid string, now time.Time) ([]string, bool, error) {
	var ids []string

	it := m.store.Iterate(store.Query{Ref: cid, Type: event.TypeManifest}, "")
	for it.Next() {
		ev := it.Event()
		p, err := ev.DecodePayload()
		if err != nil {
			continue
		}
		mf := p.(*event.ManifestPayload)
		if mf.FragmentIndex(cid) < 0 {
			continue
		}
		ids = append(ids, ev.ID)

		live, err := m.manifestLive(ev.ID, mf, now)
		if err != nil {
			return nil, false, err
		}
		if live {
			return ids, true, nil
		}
	}

	return ids, false, it.Err()
}

func (m *Manager) manifestLive(id string, mf *event.ManifestPayload, now time.Time) (bool, error) {
	rec, err := m.store.GetRecord(id)
	if err != nil {
		return false, err
	}
	received := time.Unix(0, rec.Received*int64(time.Millisecond))
	if now.Sub(received) < m.conf.Retention {
		return true, nil
	}

	it := m.store.Iterate(store.Query{Ref: mf.BlobCID}, "")
	for it.Next() {
		switch it.Event().Type {
		case event.TypeManifest, event.TypeHolding:
		default:
			return true, nil
		}
	}

	return false, it.Err()
}

// refreshHolding rewrites the local entry of the availability table for a
// manifest after fragments were deleted.
func (m *Manager) refreshHolding(id string) error {
	mf, err := m.manifest(id)
	if err != nil {
		return err
	}

	var held []int
	for i, f := range mf.Fragments {
		ok, err := m.store.HasFragment(f.CID)
		if err != nil {
			return err
		}
		if ok {
			held = append(held, i)
		}
	}

	if err := m.store.RemoveHolder(id, m.self); err != nil {
		return err
	}
	if len(held) == 0 {
		return nil
	}
	return m.store.AddHolder(id, m.self, held)
}

// deleteIdle deletes a fragment unless an upload, fetch or repair holds it.
// The check and the delete happen under the lock taken by hold.
func (m *Manager) deleteIdle(cid string) (bool, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.busy[cid] > 0 {
		return false, nil
	}
	if err := m.store.DeleteFragment(cid); err != nil {
		return false, err
	}
	return true, nil
}
