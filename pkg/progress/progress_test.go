package progress

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFresh(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested"))
	rec, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Counter != 1 || rec.Attempts != 0 {
		t.Errorf("fresh record: got %+v", rec)
	}
	res, err := s.LoadResult()
	if err != nil || res != nil {
		t.Errorf("LoadResult on empty store: %v, %v", res, err)
	}
}

func TestSaveLoad(t *testing.T) {
	s := New(t.TempDir())
	want := Record{
		Counter:             1234,
		Attempts:            1233,
		ConsecutiveFailures: 17,
		Recoveries:          2,
		IMEI:                "490154203237518",
		Session:             "abc",
		Started:             time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
		Updated:             time.Date(2026, 10, 17, 13, 0, 0, 0, time.UTC),
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	want.Counter++
	if err := s.Save(want); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Errorf("Load: got %+v, want %+v", got, want)
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("temp files left behind: %v", names)
	}
}

func TestLoadCorrupt(t *testing.T) {
	s := New(t.TempDir())
	if err := os.WriteFile(s.ProgressPath(), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Load()
	if err == nil {
		t.Fatalf("Load accepted a corrupt record")
	}
	if rec.Counter != 1 {
		t.Errorf("corrupt load should still return a usable record, got %+v", rec)
	}
}

func TestLoadZeroCounter(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Save(Record{Attempts: 5}); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Counter != 1 {
		t.Errorf("counter 0 not normalised: %d", rec.Counter)
	}
}

func TestFinalizeOnce(t *testing.T) {
	s := New(t.TempDir())
	res := Result{Code: "1000000000000006", IMEI: "490154203237518", Attempts: 6}
	if err := s.Finalize(res); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := s.Finalize(Result{Code: "1"}); !errors.Is(err, ErrFinalized) {
		t.Errorf("second Finalize: got %v, want ErrFinalized", err)
	}
	got, err := s.LoadResult()
	if err != nil {
		t.Fatalf("LoadResult: %v", err)
	}
	if got == nil || got.Code != res.Code {
		t.Errorf("LoadResult: got %+v", got)
	}
}

func TestReset(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset on empty store: %v", err)
	}
	if err := s.Save(Record{Counter: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(Result{Code: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	rec, _ := s.Load()
	if rec.Counter != 1 {
		t.Errorf("progress survived Reset: %+v", rec)
	}
	if res, _ := s.LoadResult(); res == nil {
		t.Errorf("Reset removed the result")
	}
}

func TestClear(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear on empty store: %v", err)
	}
	if err := s.Save(Record{Counter: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.Finalize(Result{Code: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if rec, _ := s.Load(); rec.Counter != 1 {
		t.Errorf("progress survived Clear: %+v", rec)
	}
	if res, _ := s.LoadResult(); res != nil {
		t.Errorf("result survived Clear: %+v", res)
	}
	if err := s.Finalize(Result{Code: "y"}); err != nil {
		t.Errorf("Finalize after Clear: %v", err)
	}
}
