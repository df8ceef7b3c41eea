// Package checkpoint stores optimizer state in a bolt database so an
// interrupted optimization can be resumed.
package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all checkpoints.
var MAIN = []byte("main")

// Data is a checkpoint.
type Data struct {
	Parameters map[string]float64
	Likelihood float64
	Iter       int
	Final      bool
}

// IO saves and loads checkpoints under a single key.
type IO struct {
	db      *bolt.DB
	key     []byte
	last    time.Time
	seconds float64
}

// NewIO creates a new IO. Old reports true once seconds have passed
// since the last save.
func NewIO(db *bolt.DB, key []byte, seconds float64) *IO {
	return &IO{
		db:      db,
		key:     key,
		seconds: seconds,
	}
}

// Open opens (or creates) a checkpoint database.
func Open(path string) (*bolt.DB, error) {
	return bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
}

// Save saves a checkpoint.
func (s *IO) Save(data *Data) error {
	// Even if saving fails, we do not want to run this code too often.
	s.SetNow()
	dataB, err := json.Marshal(data)
	if err != nil {
		log.Error("Error serializing checkpoint", err)
		return err
	}
	err = SaveData(s.db, s.key, dataB)
	if err != nil {
		log.Error("Error saving checkpoint", err)
		return err
	}
	log.Debugf("Saved checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	return nil
}

// Load returns the stored checkpoint or nil if there is none.
func (s *IO) Load() (*Data, error) {
	var data *Data

	b, err := LoadData(s.db, s.key)
	if err != nil || b == nil {
		return nil, err
	}

	if err = json.Unmarshal(b, &data); err != nil {
		return nil, err
	}

	if data == nil || len(data.Parameters) == 0 {
		return nil, nil
	}

	if data.Final {
		log.Noticef("Found finished likelihood optimization checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	} else {
		log.Noticef("Found unfinished likelihood optimization checkpoint (iter=%v, lnL=%v)", data.Iter, data.Likelihood)
	}

	return data, nil
}

// Old returns true if the last save was too long ago.
func (s *IO) Old() bool {
	return time.Since(s.last).Seconds() > s.seconds
}

// SetNow sets last checkpoint time to now.
func (s *IO) SetNow() {
	s.last = time.Now()
}

// SaveData saves a value in the bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// LoadData loads a value from the bolt database. Missing values are
// returned as nil.
func LoadData(db *bolt.DB, key []byte) ([]byte, error) {
	var data []byte
	if db == nil {
		return nil, nil
	}
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}

		// v is only valid within the transaction
		if v := b.Get(key); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
