package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
)

var (
	ordersBucket     = []byte("orders")
	referencesBucket = []byte("references")
)

// BoltStore is an embedded single-file Repository. Bolt serialises write transactions, so the
// read-check-write in Update is atomic per database.
type BoltStore struct {
	db      *bolt.DB
	nowFunc func() time.Time
}

// NewBoltStore opens (or creates) a Bolt database at path and ensures its buckets exist.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{ordersBucket, referencesBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db, nowFunc: time.Now}, nil
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Create stores o unless its merchant reference is already claimed; the existing order is
// returned unchanged in that case.
func (s *BoltStore) Create(ctx context.Context, o Order) (Order, bool, error) {
	var result Order
	created := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		refs := tx.Bucket(referencesBucket)
		docs := tx.Bucket(ordersBucket)

		if id := refs.Get([]byte(o.MerchantReference)); id != nil {
			existing := docs.Get(id)
			if existing == nil {
				return fmt.Errorf("reference %s points at missing order %s", o.MerchantReference, id)
			}
			return json.Unmarshal(existing, &result)
		}
		if docs.Get([]byte(o.OrderID)) != nil {
			return fmt.Errorf("order id %s already exists", o.OrderID)
		}

		now := s.nowFunc().UTC()
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		o.UpdatedAt = now

		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal order: %w", err)
		}
		if err := docs.Put([]byte(o.OrderID), data); err != nil {
			return err
		}
		result = o
		created = true
		return refs.Put([]byte(o.MerchantReference), []byte(o.OrderID))
	})
	if err != nil {
		return Order{}, false, err
	}
	return result, created, nil
}

// Get returns the order or ErrNotFound.
func (s *BoltStore) Get(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(ordersBucket).Get([]byte(orderID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetByReference resolves a merchant reference to its order or ErrNotFound.
func (s *BoltStore) GetByReference(ctx context.Context, merchantReference string) (*Order, error) {
	var o Order
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(referencesBucket).Get([]byte(merchantReference))
		if id == nil {
			return ErrNotFound
		}
		v := tx.Bucket(ordersBucket).Get(id)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// List scans every order; fine for the local/dev deployments this store targets.
func (s *BoltStore) List(ctx context.Context, f ListFilter) ([]Order, error) {
	var items []Order
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(ordersBucket).ForEach(func(k, v []byte) error {
			var o Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if f.match(&o) {
				items = append(items, o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return sortAndLimit(items, f.Limit), nil
}

// Update applies p iff cond holds, inside one write transaction.
func (s *BoltStore) Update(ctx context.Context, orderID string, cond Condition, p Patch) (*Order, error) {
	var o Order
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(ordersBucket)
		v := b.Get([]byte(orderID))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &o); err != nil {
			return err
		}
		if !cond.holds(&o) {
			return ErrStatusMismatch
		}
		if p.SupplierOrderID != nil && o.SupplierOrderID != "" {
			return ErrStatusMismatch
		}
		p.apply(&o, s.nowFunc().UTC())

		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("marshal order: %w", err)
		}
		return b.Put([]byte(orderID), data)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStatusMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("update order %s: %w", orderID, err)
	}
	return &o, nil
}
