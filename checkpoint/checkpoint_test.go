package checkpoint

import (
	"path/filepath"
	"testing"

	logging "github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
)

func init() {
	logging.SetLevel(logging.WARNING, "checkpoint")
}

func TestRecords(tst *testing.T) {
	db, err := bolt.Open(filepath.Join(tst.TempDir(), "records.db"), 0600, nil)
	if err != nil {
		tst.Fatal("Error opening database:", err)
	}
	defer db.Close()

	s := NewRecordIO(db, "")
	if s.Run() == "" {
		tst.Fatal("Empty run id")
	}
	other := NewRecordIO(db, "other")

	if rec, err := s.Load("re"); err != nil || rec != nil {
		tst.Error("Expected no record:", rec, err)
	}

	for _, name := range []string{"re", "beta"} {
		err := s.Save(&Record{
			Parameter: name,
			Values:    []float64{1, 2},
			Gradient:  []float64{-0.5, 0.25},
			Report:    "analytic: -0.5 0.25\n",
		})
		if err != nil {
			tst.Fatal("Error saving:", err)
		}
	}
	if err := other.Save(&Record{Parameter: "re", Gradient: []float64{3}}); err != nil {
		tst.Fatal("Error saving:", err)
	}

	rec, err := s.Load("re")
	if err != nil || rec == nil {
		tst.Fatal("Error loading:", err)
	}
	if rec.Run != s.Run() || rec.Gradient[1] != 0.25 || rec.Time.IsZero() {
		tst.Error("Wrong record:", rec)
	}

	recs, err := s.List()
	if err != nil {
		tst.Fatal("Error listing:", err)
	}
	if len(recs) != 2 || recs[0].Parameter != "beta" || recs[1].Parameter != "re" {
		tst.Error("Wrong records:", recs)
	}

	if recs, _ := NewRecordIO(nil, "x").List(); recs != nil {
		tst.Error("Expected no records without database")
	}
}
