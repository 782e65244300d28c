// Package checkpoint stores gradient evaluation records in a bolt
// database.
package checkpoint

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/op/go-logging"

	bolt "go.etcd.io/bbolt"
)

// log is the global logging variable.
var log = logging.MustGetLogger("checkpoint")

// MAIN is the bucket name for all records.
var MAIN = []byte("main")

// Record is a single gradient evaluation.
type Record struct {
	Run       string    `json:"run"`
	Parameter string    `json:"parameter"`
	Values    []float64 `json:"values"`
	Gradient  []float64 `json:"gradient"`
	Numeric   []float64 `json:"numeric,omitempty"`
	Report    string    `json:"report,omitempty"`
	Time      time.Time `json:"time"`
}

// RecordIO saves and loads records of a single run.
type RecordIO struct {
	db  *bolt.DB
	run string
}

// NewRecordIO creates a new RecordIO. An empty run id is replaced
// by a random one.
func NewRecordIO(db *bolt.DB, run string) *RecordIO {
	if run == "" {
		run = uuid.New().String()
	}
	return &RecordIO{db: db, run: run}
}

// Run returns the run id.
func (s *RecordIO) Run() string {
	return s.run
}

func (s *RecordIO) prefix() []byte {
	return []byte(s.run + "/")
}

func (s *RecordIO) key(parameter string) []byte {
	return append(s.prefix(), parameter...)
}

// Save stores a record. The run id and the time are set if missing.
func (s *RecordIO) Save(rec *Record) error {
	rec.Run = s.run
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	dataB, err := json.Marshal(rec)
	if err != nil {
		log.Error("Error serializing record", err)
		return err
	}
	err = SaveData(s.db, s.key(rec.Parameter), dataB)
	if err != nil {
		log.Error("Error saving record", err)
	}
	return err
}

// Load returns the record for a parameter or nil.
func (s *RecordIO) Load(parameter string) (*Record, error) {
	b, err := LoadData(s.db, s.key(parameter))
	if err != nil || b == nil {
		return nil, err
	}
	var rec *Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns all the records of the run sorted by parameter name.
func (s *RecordIO) List() ([]*Record, error) {
	var recs []*Record
	if s.db == nil {
		return nil, nil
	}
	prefix := s.prefix()
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MAIN)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var rec *Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Debugf("Found %d records for run %s", len(recs), s.run)
	return recs, nil
}

// SaveData saves values in bolt database.
func SaveData(db *bolt.DB, key []byte, data []byte) error {
	if db == nil {
		return nil
	}
	err := db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(MAIN)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return err
}

// LoadData loads data from bolt database.
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
		if v := b.Get(key); v != nil {
			// v is only valid during the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}
