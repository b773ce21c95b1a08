package uipcp

import (
	"go.etcd.io/bbolt"

	"github.com/rlite-project/rlite-go/pkg/kernel"
)

var (
	dftBucket       = []byte("dft")
	lowerFlowBucket = []byte("lowerflow")
)

// ribStore checkpoints each RIB's directory forwarding table and
// lower-flow database to a bbolt file, so a restarted uipcp doesn't have
// to wait out a full enrollment/resync cycle before it can route again.
// One top-level bucket per bound IPCP, keyed by its own name, holding the
// two child buckets. Modeled on the teacher's use of bbolt as a local
// cache backing store: one file, opened once, read and rewritten whole
// rather than incrementally.
type ribStore struct {
	db *bbolt.DB
}

// openRIBStore opens (creating if needed) the bbolt file at path. An
// empty path disables persistence entirely, the same convention
// newRegStore uses for its flat file.
func openRIBStore(path string) (*ribStore, error) {
	if path == "" {
		return nil, nil
	}
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	return &ribStore{db: db}, nil
}

func (s *ribStore) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ipcpBucketName(ipcp *kernel.IPCP) []byte {
	return []byte(ipcp.Name().String())
}

// checkpoint overwrites the persisted dft/lower-flow snapshot for r's
// ipcp. Called after every local mutation and every accepted gossip row,
// which keeps the cost proportional to table size rather than message
// rate; a busier RIB simply rewrites the same two buckets more often.
func (r *RIB) checkpoint() {
	store := r.container.store
	if store == nil {
		return
	}

	r.mu.Lock()
	dft := make(map[string]DFTEntry, len(r.dft))
	for k, v := range r.dft {
		dft[k] = v
	}
	lf := make(map[lowerFlowKey]*LowerFlowEntry, len(r.lowerFlows))
	for k, v := range r.lowerFlows {
		lf[k] = v
	}
	r.mu.Unlock()

	_ = store.db.Update(func(tx *bbolt.Tx) error {
		top, err := tx.CreateBucketIfNotExists(ipcpBucketName(r.ipcp))
		if err != nil {
			return err
		}

		_ = top.DeleteBucket(dftBucket)
		dftB, err := top.CreateBucket(dftBucket)
		if err != nil {
			return err
		}
		for key, e := range dft {
			if err := dftB.Put([]byte(key), encodeDFTEntry(key, e.Addr, e.Timestamp)); err != nil {
				return err
			}
		}

		_ = top.DeleteBucket(lowerFlowBucket)
		lfB, err := top.CreateBucket(lowerFlowBucket)
		if err != nil {
			return err
		}
		for key, e := range lf {
			rowKey := append(encodeAddr(key.A), encodeAddr(key.B)...)
			if err := lfB.Put(rowKey, encodeLowerFlow(key.A, key.B, e.Cost, e.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
}

// restore preloads r's dft and lower-flow maps from the last checkpoint
// taken under this ipcp's name, if any. Restored dft rows are marked
// Local based on address match rather than trusted blindly, since a
// restart may have reassigned this node's own address via ipcp-config.
func (r *RIB) restore() {
	store := r.container.store
	if store == nil {
		return
	}

	_ = store.db.View(func(tx *bbolt.Tx) error {
		top := tx.Bucket(ipcpBucketName(r.ipcp))
		if top == nil {
			return nil
		}

		r.mu.Lock()
		defer r.mu.Unlock()

		if dftB := top.Bucket(dftBucket); dftB != nil {
			_ = dftB.ForEach(func(_, v []byte) error {
				key, addr, ts, err := decodeDFTEntry(v)
				if err != nil {
					return nil
				}
				r.dft[key] = DFTEntry{Addr: addr, Timestamp: ts, Local: addr == r.ipcp.Address()}
				return nil
			})
		}
		if lfB := top.Bucket(lowerFlowBucket); lfB != nil {
			_ = lfB.ForEach(func(_, v []byte) error {
				a, b, cost, seq, err := decodeLowerFlow(v)
				if err != nil {
					return nil
				}
				r.lowerFlows[lowerFlowKey{A: a, B: b}] = &LowerFlowEntry{Cost: cost, Seq: seq}
				return nil
			})
		}
		return nil
	})
}
