package unlock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bootforce/bootforce/pkg/classify"
	"github.com/bootforce/bootforce/pkg/codegen"
	"github.com/bootforce/bootforce/pkg/config"
	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/progress"
)

const (
	testIMEI = "490154203237518"

	respFail    = "FAILED (remote: 'check password failed!')"
	respProtect = "FAILED (remote: 'please reboot device')"
	respSuccess = "OKAY [  0.031s]\nunlock success"
)

type reply struct {
	out string
	err error
}

// fakeChannel answers unlock commands from respond, numbering submissions
// from 1. Everything else is recorded and answered with OKAY.
type fakeChannel struct {
	respond func(n int, code string) reply
	codes   []string
	reboots int
	other   [][]string
}

func (f *fakeChannel) Submit(ctx context.Context, args ...string) (string, error) {
	if len(args) == 3 && args[0] == "oem" && args[1] == "unlock" {
		f.codes = append(f.codes, args[2])
		r := f.respond(len(f.codes), args[2])
		return r.out, r.err
	}
	if len(args) == 1 && args[0] == "reboot-bootloader" {
		f.reboots++
	}
	f.other = append(f.other, args)
	return "OKAY", nil
}

type fakeLocator struct {
	present bool
	calls   int
}

func (f *fakeLocator) Present(ctx context.Context) (bool, error) {
	f.calls++
	return f.present, nil
}

func testConfig() config.Session {
	c := config.Default()
	c.IMEI = testIMEI
	c.Quickstart = true
	c.RebootSettle = 0
	c.DeviceTimeout = 0
	c.RebootOnFinish = false
	c.AutoRebootCount = 0
	return c
}

func newDriver(t *testing.T, cfg config.Session, ch devices.Channel) *Driver {
	t.Helper()
	return &Driver{
		Config:     cfg,
		Kind:       devices.Mate30Pro,
		Channel:    ch,
		Locator:    &fakeLocator{present: true},
		Strategy:   codegen.Sequential{},
		Classifier: classify.Default(),
		Store:      progress.New(t.TempDir()),
	}
}

func seed(t *testing.T, s *progress.Store, counter uint64) {
	t.Helper()
	if err := s.Save(progress.Record{Counter: counter, IMEI: testIMEI}); err != nil {
		t.Fatalf("seeding progress: %v", err)
	}
}

func code(n uint64) string {
	return codegen.Code(n).String()
}

func codes(ns ...uint64) []string {
	var res []string
	for _, n := range ns {
		res = append(res, code(n))
	}
	return res
}

func sameCodes(t *testing.T, got, want []string) {
	t.Helper()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("submitted codes:\n got %v\nwant %v", got, want)
	}
}

func TestProtectionRecoveryScenario(t *testing.T) {
	const start = 1_000_000_000_000
	ch := &fakeChannel{respond: func(n int, _ string) reply {
		switch {
		case n <= 4:
			return reply{out: respFail}
		case n == 5:
			return reply{out: respProtect}
		case n == 6:
			return reply{out: respFail}
		}
		return reply{out: respSuccess}
	}}
	cfg := testConfig()
	cfg.AutoReboot = true
	d := newDriver(t, cfg, ch)
	seed(t, d.Store, start)

	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sameCodes(t, ch.codes, codes(start, start+1, start+2, start+3, start+4, start+4, start+5))
	if ch.reboots != 1 {
		t.Errorf("expected one reboot, got %d", ch.reboots)
	}
	if rep.State != Succeeded || rep.Code != code(start+5) {
		t.Errorf("report: %+v", rep)
	}

	res, err := d.Store.LoadResult()
	if err != nil || res == nil {
		t.Fatalf("LoadResult: %v, %v", res, err)
	}
	if res.Code != code(start+5) || res.IMEI != testIMEI {
		t.Errorf("result: %+v", res)
	}
	rec, err := d.Store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Attempts != 6 || rec.Recoveries != 1 || rec.Counter != start+6 {
		t.Errorf("progress: %+v", rec)
	}
}

func TestSuccessHaltsAndIsRecordedOnce(t *testing.T) {
	ch := &fakeChannel{respond: func(n int, _ string) reply {
		if n == 3 {
			return reply{out: respSuccess}
		}
		return reply{out: respFail}
	}}
	cfg := testConfig()
	cfg.RebootOnFinish = true
	d := newDriver(t, cfg, ch)

	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ch.codes) != 3 {
		t.Errorf("attempts continued after success: %v", ch.codes)
	}
	if len(ch.other) != 1 || ch.other[0][0] != "reboot" {
		t.Errorf("expected a final reboot, got %v", ch.other)
	}
	if rep.Code != code(3) || rep.Attempts != 3 {
		t.Errorf("report: %+v", rep)
	}

	// A second run finds the result and submits nothing.
	ch2 := &fakeChannel{respond: func(int, string) reply {
		t.Fatalf("submitted after the code was found")
		return reply{}
	}}
	d.Channel = ch2
	rep, err = d.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !rep.AlreadyFound || rep.Code != code(3) || rep.State != Succeeded {
		t.Errorf("second report: %+v", rep)
	}
}

func TestRunAfterReset(t *testing.T) {
	found := &fakeChannel{respond: func(n int, _ string) reply {
		if n == 2 {
			return reply{out: respSuccess}
		}
		return reply{out: respFail}
	}}
	d := newDriver(t, testConfig(), found)
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Reset keeps the result, nothing is submitted again.
	if err := d.Store.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	idle := &fakeChannel{respond: func(int, string) reply { return reply{out: respFail} }}
	d.Channel = idle
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run after Reset: %v", err)
	}
	if !rep.AlreadyFound || len(idle.codes) != 0 {
		t.Errorf("Run after Reset: report %+v, submitted %v", rep, idle.codes)
	}

	// Clear starts over from the first candidate.
	if err := d.Store.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	again := &fakeChannel{respond: func(int, string) reply { return reply{out: respSuccess} }}
	d.Channel = again
	rep, err = d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run after Clear: %v", err)
	}
	sameCodes(t, again.codes, codes(1))
	if rep.AlreadyFound || rep.Code != code(1) {
		t.Errorf("Run after Clear: %+v", rep)
	}
}

func TestResumeBoundary(t *testing.T) {
	const start = 500
	ctx, cancel := context.WithCancel(context.Background())
	ch := &fakeChannel{respond: func(n int, _ string) reply {
		if n == 7 {
			// Interrupt mid-transmission: attempt 7 must still count.
			cancel()
		}
		return reply{out: respFail}
	}}
	d := newDriver(t, testConfig(), ch)
	seed(t, d.Store, start)

	_, err := d.Run(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Run: got %v, want ErrInterrupted", err)
	}
	if ch.codes[0] != code(start) {
		t.Errorf("first code after resume: got %s, want %s", ch.codes[0], code(start))
	}
	rec, err := d.Store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Counter != start+7 || rec.Attempts != 7 || rec.LastCode != code(start+6) {
		t.Errorf("saved progress: %+v", rec)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	ch2 := &fakeChannel{respond: func(n int, _ string) reply {
		if n == 2 {
			cancel2()
		}
		return reply{out: respFail}
	}}
	d.Channel = ch2
	if _, err := d.Run(ctx2); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("second Run: %v", err)
	}
	sameCodes(t, ch2.codes, codes(start+7, start+8))
}

func TestPeriodicSave(t *testing.T) {
	cfg := testConfig()
	cfg.SaveEvery = 3
	var d *Driver
	var seen []uint64
	ch := &fakeChannel{respond: func(n int, _ string) reply {
		rec, err := d.Store.Load()
		if err != nil {
			t.Fatal(err)
		}
		seen = append(seen, rec.Counter)
		if n == 8 {
			return reply{out: respSuccess}
		}
		return reply{out: respFail}
	}}
	d = newDriver(t, cfg, ch)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// On disk counter while submitting candidates 1..8.
	want := []uint64{1, 1, 1, 4, 4, 4, 7, 7}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("on-disk counters: got %v, want %v", seen, want)
	}
}

func TestTimeouts(t *testing.T) {
	always := func(int, string) reply {
		return reply{out: "< waiting for any device >", err: devices.ErrTimeout}
	}

	t.Run("tolerated", func(t *testing.T) {
		ch := &fakeChannel{respond: func(n int, c string) reply {
			if n == 10 {
				return reply{out: respSuccess}
			}
			return always(n, c)
		}}
		cfg := testConfig()
		cfg.TimeoutRetries = 2
		cfg.UnknownFail = false
		d := newDriver(t, cfg, ch)

		if _, err := d.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		sameCodes(t, ch.codes, codes(1, 1, 1, 2, 2, 2, 3, 3, 3, 4))
		rec, _ := d.Store.Load()
		if rec.Counter != 5 || rec.Timeouts != 9 {
			t.Errorf("progress: %+v", rec)
		}
	})

	// A Ctrl-C reaching the tool kills it mid-command. The candidate it was
	// sending must be sent again on resume, whatever unknown_fail says.
	for _, unknownFail := range []bool{false, true} {
		t.Run(fmt.Sprintf("killed by interrupt, unknown_fail=%v", unknownFail), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			ch := &fakeChannel{respond: func(n int, c string) reply {
				if n == 3 {
					cancel()
					return reply{err: fmt.Errorf("fastboot oem unlock %s: %w (signal: interrupt)", c, devices.ErrNoAnswer)}
				}
				return reply{out: respFail}
			}}
			cfg := testConfig()
			cfg.UnknownFail = unknownFail
			d := newDriver(t, cfg, ch)

			_, err := d.Run(ctx)
			if !errors.Is(err, ErrInterrupted) {
				t.Fatalf("Run: got %v, want ErrInterrupted", err)
			}
			sameCodes(t, ch.codes, codes(1, 2, 3))
			rec, _ := d.Store.Load()
			if rec.Counter != 3 || rec.Attempts != 2 || rec.LastCode != code(2) {
				t.Errorf("progress ahead of answered attempts: %+v", rec)
			}
		})
	}

	t.Run("no answer is retried", func(t *testing.T) {
		ch := &fakeChannel{respond: func(n int, c string) reply {
			switch n {
			case 1:
				return reply{err: devices.ErrNoAnswer}
			case 2:
				return reply{out: respFail}
			}
			return reply{out: respSuccess}
		}}
		d := newDriver(t, testConfig(), ch)

		rep, err := d.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		sameCodes(t, ch.codes, codes(1, 1, 2))
		if rep.Code != code(2) {
			t.Errorf("code: got %s, want %s", rep.Code, code(2))
		}
	})

	t.Run("fatal", func(t *testing.T) {
		ch := &fakeChannel{respond: always}
		cfg := testConfig()
		cfg.TimeoutRetries = 2
		cfg.UnknownFail = true
		d := newDriver(t, cfg, ch)

		rep, err := d.Run(context.Background())
		var ue *UnclassifiedError
		if !errors.As(err, &ue) {
			t.Fatalf("Run: got %v, want UnclassifiedError", err)
		}
		if ue.Code.String() != code(1) {
			t.Errorf("unclassified code: %s", ue.Code)
		}
		sameCodes(t, ch.codes, codes(1, 1, 1))
		if rep.State != Aborted || rep.Counter != 1 {
			t.Errorf("report: %+v", rep)
		}
	})

	t.Run("device lost", func(t *testing.T) {
		ch := &fakeChannel{respond: always}
		cfg := testConfig()
		cfg.TimeoutRetries = 0
		cfg.UnknownFail = false
		d := newDriver(t, cfg, ch)
		d.Locator = &fakeLocator{present: false}

		_, err := d.Run(context.Background())
		if !errors.Is(err, ErrDeviceNotFound) {
			t.Fatalf("Run: got %v, want ErrDeviceNotFound", err)
		}
		rec, _ := d.Store.Load()
		if rec.Counter != 1 {
			t.Errorf("device loss advanced the counter: %+v", rec)
		}
	})
}

func TestUnknownResponse(t *testing.T) {
	weird := func(n int, _ string) reply {
		if n == 3 {
			return reply{out: respSuccess}
		}
		return reply{out: "FAILED (remote: 'Command not allowed')"}
	}

	cfg := testConfig()
	ch := &fakeChannel{respond: weird}
	d := newDriver(t, cfg, ch)
	_, err := d.Run(context.Background())
	var ue *UnclassifiedError
	if !errors.As(err, &ue) || ue.Response == "" {
		t.Fatalf("Run: got %v, want UnclassifiedError with response", err)
	}
	if len(ch.codes) != 1 {
		t.Errorf("continued after unknown response: %v", ch.codes)
	}

	cfg.UnknownFail = false
	ch = &fakeChannel{respond: weird}
	d = newDriver(t, cfg, ch)
	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("tolerant Run: %v", err)
	}
	if rep.Code != code(3) || rep.Attempts != 3 {
		t.Errorf("tolerant report: %+v", rep)
	}
}

func TestProtectionWithoutAutoReboot(t *testing.T) {
	ch := &fakeChannel{respond: func(n int, _ string) reply {
		if n == 3 {
			return reply{out: respProtect}
		}
		return reply{out: respFail}
	}}
	d := newDriver(t, testConfig(), ch)

	rep, err := d.Run(context.Background())
	if !errors.Is(err, ErrProtection) {
		t.Fatalf("Run: got %v, want ErrProtection", err)
	}
	if ch.reboots != 0 {
		t.Errorf("rebooted with autoreboot off")
	}
	rec, _ := d.Store.Load()
	if rec.Counter != 3 || rep.Counter != 3 {
		t.Errorf("protection should not advance past the triggering code: %+v", rec)
	}
}

func TestPersistentProtection(t *testing.T) {
	ch := &fakeChannel{respond: func(int, string) reply { return reply{out: respProtect} }}
	cfg := testConfig()
	cfg.AutoReboot = true
	d := newDriver(t, cfg, ch)

	_, err := d.Run(context.Background())
	if !errors.Is(err, ErrProtection) {
		t.Fatalf("Run: got %v, want ErrProtection", err)
	}
	if ch.reboots != maxProtectionStreak {
		t.Errorf("reboots: got %d, want %d", ch.reboots, maxProtectionStreak)
	}
	for _, c := range ch.codes {
		if c != code(1) {
			t.Fatalf("protection must retry the same code, got %v", ch.codes)
		}
	}
}

func TestRecoveryDeviceNeverReturns(t *testing.T) {
	devices.PollInterval = time.Millisecond
	ch := &fakeChannel{respond: func(int, string) reply { return reply{out: respProtect} }}
	cfg := testConfig()
	cfg.AutoReboot = true
	cfg.DeviceTimeout = 20 * time.Millisecond
	d := newDriver(t, cfg, ch)
	d.Locator = &fakeLocator{present: false}

	_, err := d.Run(context.Background())
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("Run: got %v, want ErrDeviceNotFound", err)
	}
}

func TestPreventiveReboot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &fakeChannel{respond: func(n int, _ string) reply {
		if n == 5 {
			cancel()
		}
		return reply{out: respFail}
	}}
	cfg := testConfig()
	cfg.AutoReboot = true
	cfg.AutoRebootCount = 2
	d := newDriver(t, cfg, ch)

	if _, err := d.Run(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Run: %v", err)
	}
	if ch.reboots != 2 {
		t.Errorf("preventive reboots: got %d, want 2", ch.reboots)
	}
	sameCodes(t, ch.codes, codes(1, 2, 3, 4, 5))
	rec, _ := d.Store.Load()
	if rec.Recoveries != 0 {
		t.Errorf("preventive reboots counted as recoveries: %+v", rec)
	}
}

func TestExhausted(t *testing.T) {
	ch := &fakeChannel{respond: func(int, string) reply { return reply{out: respFail} }}
	d := newDriver(t, testConfig(), ch)
	seed(t, d.Store, uint64(codegen.Limit-1))

	_, err := d.Run(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Run: got %v, want ErrExhausted", err)
	}
	sameCodes(t, ch.codes, []string{"9999999999999999"})
}

func TestIMEIValidation(t *testing.T) {
	ch := &fakeChannel{respond: func(int, string) reply {
		t.Fatalf("device contacted with an invalid IMEI")
		return reply{}
	}}

	for _, bad := range []string{"490154203237519", "4901542032375", "49015420323751x"} {
		cfg := testConfig()
		cfg.IMEI = bad
		d := newDriver(t, cfg, ch)
		rep, err := d.Run(context.Background())
		if err == nil {
			t.Errorf("IMEI %q accepted", bad)
		}
		if rep.State != Aborted {
			t.Errorf("IMEI %q: state %s", bad, rep.State)
		}
	}

	cfg := testConfig()
	cfg.IMEI = ""
	d := newDriver(t, cfg, ch)
	if _, err := d.Run(context.Background()); !errors.Is(err, ErrNoIMEI) {
		t.Errorf("no IMEI and no prompt: got %v", err)
	}
}

func TestPrompt(t *testing.T) {
	answers := []string{"12345", "490154203237519", " 490154203237518\n"}
	var reasons []error
	ch := &fakeChannel{respond: func(int, string) reply { return reply{out: respSuccess} }}
	cfg := testConfig()
	cfg.IMEI = ""
	d := newDriver(t, cfg, ch)
	d.Prompt = func(ctx context.Context, reason error) (string, error) {
		reasons = append(reasons, reason)
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}

	rep, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.IMEI != testIMEI {
		t.Errorf("IMEI: got %s", rep.IMEI)
	}
	if len(reasons) != 3 || reasons[0] != nil || reasons[1] == nil || reasons[2] == nil {
		t.Errorf("prompt reasons: %v", reasons)
	}
}

func TestForeignProgress(t *testing.T) {
	ch := &fakeChannel{respond: func(int, string) reply { return reply{out: respFail} }}
	d := newDriver(t, testConfig(), ch)
	if err := d.Store.Save(progress.Record{Counter: 10, IMEI: "356938035643809"}); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Run(context.Background()); err == nil {
		t.Fatalf("Run resumed progress recorded for another IMEI")
	}
	if len(ch.codes) != 0 {
		t.Errorf("submitted codes: %v", ch.codes)
	}
	rec, _ := d.Store.Load()
	if rec.Counter != 10 || rec.IMEI != "356938035643809" {
		t.Errorf("foreign progress was overwritten: %+v", rec)
	}
}

func TestInterval(t *testing.T) {
	cfg := testConfig()
	cfg.Interval = 20 * time.Millisecond
	ch := &fakeChannel{respond: func(n int, _ string) reply {
		if n == 4 {
			return reply{out: respSuccess}
		}
		return reply{out: respFail}
	}}
	d := newDriver(t, cfg, ch)

	start := time.Now()
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if took := time.Since(start); took < 50*time.Millisecond {
		t.Errorf("4 commands at 20ms spacing took only %s", took)
	}
}
