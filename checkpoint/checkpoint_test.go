package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
)

func init() {
	logging.SetLevel(logging.WARNING, "checkpoint")
}

func TestRoundTrip(tst *testing.T) {
	db, err := Open(filepath.Join(tst.TempDir(), "check.db"))
	if err != nil {
		tst.Fatal(err)
	}
	defer db.Close()

	io := NewIO(db, []byte("run"), 0)
	data, err := io.Load()
	if err != nil || data != nil {
		tst.Fatal("expected empty database, got", data, err)
	}

	saved := &Data{
		Parameters: map[string]float64{"alpha": 0.5, "br_3": 0.01},
		Likelihood: -1234.5,
		Iter:       10,
	}
	if err := io.Save(saved); err != nil {
		tst.Fatal(err)
	}
	data, err = io.Load()
	if err != nil {
		tst.Fatal(err)
	}
	if data == nil || data.Iter != 10 || data.Likelihood != -1234.5 || data.Final ||
		data.Parameters["alpha"] != 0.5 || data.Parameters["br_3"] != 0.01 {
		tst.Errorf("wrong checkpoint: %+v", data)
	}

	other := NewIO(db, []byte("other"), 0)
	if data, err := other.Load(); err != nil || data != nil {
		tst.Error("keys are not separated:", data, err)
	}
}

func TestNilDatabase(tst *testing.T) {
	if err := SaveData(nil, []byte("k"), []byte("v")); err != nil {
		tst.Error(err)
	}
	if b, err := LoadData(nil, []byte("k")); b != nil || err != nil {
		tst.Error("expected nothing from nil database")
	}
}

func TestOld(tst *testing.T) {
	io := NewIO(nil, []byte("run"), 3600)
	if !io.Old() {
		tst.Error("never saved checkpoint should be old")
	}
	io.SetNow()
	if io.Old() {
		tst.Error("fresh checkpoint is old")
	}
}
