// Package unlock drives the bootloader unlock loop: it derives candidate
// codes, submits them to the device, classifies the answers and keeps the
// progress store consistent with the last completed attempt.
package unlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/bootforce/bootforce/pkg/classify"
	"github.com/bootforce/bootforce/pkg/codegen"
	"github.com/bootforce/bootforce/pkg/config"
	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/imei"
	"github.com/bootforce/bootforce/pkg/progress"
)

type State int

const (
	Init State = iota
	ValidatingIMEI
	Resuming
	Attempting
	ProtectionRecovery
	Succeeded
	Aborted
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case ValidatingIMEI:
		return "validating-imei"
	case Resuming:
		return "resuming"
	case Attempting:
		return "attempting"
	case ProtectionRecovery:
		return "protection-recovery"
	case Succeeded:
		return "succeeded"
	case Aborted:
		return "aborted"
	}
	return "UNKNOWN"
}

// maxProtectionStreak bounds reboots that are not followed by a single
// answered attempt.
const maxProtectionStreak = 5

// Prompter asks the operator for an IMEI. reason is why the previous answer
// was rejected, nil on the first call.
type Prompter func(ctx context.Context, reason error) (string, error)

type Driver struct {
	Config     config.Session
	Kind       devices.Kind
	Channel    devices.Channel
	Locator    devices.Locator
	Strategy   codegen.Strategy
	Classifier *classify.Table
	Store      *progress.Store
	Prompt     Prompter
}

// Report summarises a run. It is returned even when Run fails.
type Report struct {
	State      State
	IMEI       imei.IMEI
	Code       string
	Counter    uint64
	Attempts   uint64
	Recoveries uint64
	Elapsed    time.Duration
	// AlreadyFound is set when the store held a result from a previous run
	// and nothing was submitted.
	AlreadyFound bool
}

type run struct {
	*Driver
	state   State
	id      imei.IMEI
	rec     progress.Record
	limiter *rate.Limiter
	report  Report

	start          time.Time
	runAttempts    uint64
	lastPreventive uint64
	preventive     bool
	protectStreak  int
}

// Run executes one session until the code is found, the search space is
// exhausted, policy aborts it or ctx is cancelled. Cancellation is only
// observed between attempts; progress is saved before returning.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	if d.Channel == nil || d.Strategy == nil || d.Store == nil {
		return nil, fmt.Errorf("driver needs a channel, a strategy and a store")
	}
	if d.Classifier == nil {
		d.Classifier = classify.Default()
	}
	r := &run{
		Driver: d,
		state:  Init,
		start:  time.Now(),
	}
	if d.Config.Interval > 0 {
		r.limiter = rate.NewLimiter(rate.Every(d.Config.Interval), 1)
	}

	err := r.loop(ctx)

	r.report.State = r.state
	r.report.IMEI = r.id
	if !r.report.AlreadyFound {
		r.report.Counter = r.rec.Counter
		r.report.Attempts = r.rec.Attempts
		r.report.Recoveries = r.rec.Recoveries
	}
	r.report.Elapsed = time.Since(r.start)
	return &r.report, err
}

func (r *run) loop(ctx context.Context) error {
	for {
		switch r.state {
		case Init:
			r.state = ValidatingIMEI

		case ValidatingIMEI:
			id, err := r.identity(ctx)
			if err != nil {
				r.state = Aborted
				return err
			}
			r.id = id
			r.state = Resuming

		case Resuming:
			done, err := r.resume()
			if err != nil {
				r.state = Aborted
				return err
			}
			if done {
				r.state = Succeeded
				return nil
			}
			r.state = Attempting

		case Attempting:
			next, err := r.attempt(ctx)
			if next == Succeeded {
				r.state = Succeeded
				return err
			}
			if err != nil {
				return r.abort(err)
			}
			r.state = next

		case ProtectionRecovery:
			if err := r.recover(ctx); err != nil {
				return r.abort(err)
			}
			r.state = Attempting

		default:
			return fmt.Errorf("unexpected state %s", r.state)
		}
	}
}

// abort flushes the last good record and ends the session.
func (r *run) abort(err error) error {
	r.state = Aborted
	if serr := r.save(); serr != nil {
		return multierror.Append(err, serr)
	}
	return err
}

func (r *run) identity(ctx context.Context) (imei.IMEI, error) {
	if s := r.Config.IMEI; s != "" {
		id, err := imei.Parse(s)
		if err != nil {
			return "", fmt.Errorf("configured IMEI %q: %w", s, err)
		}
		slog.Info("Using static IMEI", "imei", id)
		return id, nil
	}
	if r.Prompt == nil {
		return "", ErrNoIMEI
	}

	var reason error
	for {
		s, err := r.Prompt(ctx, reason)
		if err != nil {
			return "", fmt.Errorf("reading IMEI: %w", err)
		}
		id, err := imei.Parse(strings.TrimSpace(s))
		if err == nil {
			return id, nil
		}
		slog.Warn("IMEI rejected", "err", err)
		reason = err
	}
}

// resume loads saved progress. It returns true if a previous run already
// found the code for this IMEI.
func (r *run) resume() (bool, error) {
	res, err := r.Store.LoadResult()
	if err != nil {
		return false, err
	}
	if res != nil {
		if res.IMEI != r.id.String() {
			return false, fmt.Errorf("%s holds the result for IMEI %s; use another state directory", r.Store.ResultPath(), res.IMEI)
		}
		slog.Info("Unlock code already found by a previous run", "code", res.Code, "path", r.Store.ResultPath())
		r.report.AlreadyFound = true
		r.report.Code = res.Code
		r.report.Counter = res.Counter
		r.report.Attempts = res.Attempts
		r.report.Recoveries = res.Recoveries
		return true, nil
	}

	rec, err := r.Store.Load()
	if err != nil {
		return false, fmt.Errorf("%w (run the reset command to start over)", err)
	}
	if rec.IMEI != "" && rec.IMEI != r.id.String() {
		return false, fmt.Errorf("saved progress in %s is for IMEI %s; reset it or use another state directory", r.Store.ProgressPath(), rec.IMEI)
	}
	if rec.Strategy != "" && rec.Strategy != r.Strategy.Name() {
		return false, fmt.Errorf("saved progress in %s was made with strategy %s, not %s", r.Store.ProgressPath(), rec.Strategy, r.Strategy.Name())
	}

	if rec.Session == "" {
		rec.Session = uuid.NewString()
		rec.Started = time.Now()
	}
	rec.IMEI = r.id.String()
	rec.Kind = string(r.Kind)
	rec.Strategy = r.Strategy.Name()
	r.rec = rec
	r.lastPreventive = rec.Attempts

	if rec.Attempts > 0 || rec.Counter > 1 {
		slog.Info("Resuming", "counter", rec.Counter, "attempts", humanize.Comma(int64(rec.Attempts)), "session", rec.Session)
	} else {
		slog.Info("Starting new session", "session", rec.Session, "strategy", r.Strategy.Name(), "candidates", humanize.Comma(int64(r.Strategy.Space(r.id))))
	}
	return false, nil
}

func (r *run) preventiveDue() bool {
	n := r.Config.AutoRebootCount
	return r.Config.AutoReboot && n > 0 && r.rec.Attempts > 0 && r.rec.Attempts%n == 0 && r.rec.Attempts != r.lastPreventive
}

func (r *run) attempt(ctx context.Context) (State, error) {
	if ctx.Err() != nil {
		return Aborted, ErrInterrupted
	}
	if r.preventiveDue() {
		r.preventive = true
		return ProtectionRecovery, nil
	}

	code, ok := r.Strategy.Code(r.rec.Counter, r.id)
	if !ok {
		return Aborted, ErrExhausted
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Aborted, ErrInterrupted
		}
	}

	outcome, resp, err := r.submit(ctx, code)
	if err != nil {
		return Aborted, err
	}
	slog.Debug("Tested code", "code", code, "outcome", outcome)
	if r.Config.Debug {
		slog.Info("Device response", "code", code, "response", strings.TrimSpace(resp))
	}
	if outcome != classify.ProtectionTriggered {
		r.protectStreak = 0
	}

	switch outcome {
	case classify.Success:
		return Succeeded, r.succeed(ctx, code)

	case classify.KnownFailure:
		r.advance(code)
		return Attempting, r.periodicSave()

	case classify.ProtectionTriggered:
		r.protectStreak++
		if r.protectStreak > maxProtectionStreak {
			return Aborted, fmt.Errorf("%w (still active after %d reboots)", ErrProtection, maxProtectionStreak)
		}
		slog.Warn("Bootloader protection triggered", "code", code, "consecutive_failures", r.rec.ConsecutiveFailures)
		r.preventive = false
		return ProtectionRecovery, nil
	}

	if r.Config.UnknownFail {
		return Aborted, &UnclassifiedError{Code: code, Response: resp}
	}
	slog.Warn("Unknown device response, continuing", "code", code, "response", strings.TrimSpace(resp))
	r.advance(code)
	return Attempting, r.periodicSave()
}

// submit sends code, retrying the same code when no answer arrives. When
// retries run out the outcome degrades to Unknown, unless the device has
// disappeared and does not come back. If ctx is cancelled meanwhile, code is
// left untried.
func (r *run) submit(ctx context.Context, code codegen.Code) (classify.Outcome, string, error) {
	args := devices.UnlockArgs(code.String())
	var resp string
	for try := 0; try <= r.Config.TimeoutRetries; try++ {
		out, err := r.Channel.Submit(ctx, args...)
		outcome := r.Classifier.Result(out, err)
		if outcome != classify.Timeout {
			if err != nil {
				return classify.Unknown, out, err
			}
			return outcome, out, nil
		}
		resp = out
		r.rec.Timeouts++
		if ctx.Err() != nil {
			// The tool was most likely killed by the same interrupt. code
			// stays untried.
			return classify.Unknown, resp, ErrInterrupted
		}
		slog.Warn("Device did not answer", "code", code, "try", try+1, "tries", r.Config.TimeoutRetries+1, "err", err)
	}

	if r.Locator != nil {
		ok, err := r.Locator.Present(ctx)
		if err != nil || !ok {
			slog.Warn("Device is gone, waiting for it to come back...", "timeout", r.Config.DeviceTimeout)
			if err := devices.WaitPresent(ctx, r.Locator, r.Config.DeviceTimeout); err != nil {
				return classify.Unknown, resp, waitErr(err)
			}
		}
	}
	return classify.Unknown, resp, nil
}

func (r *run) advance(code codegen.Code) {
	r.rec.LastCode = code.String()
	r.rec.Counter++
	r.rec.Attempts++
	r.rec.ConsecutiveFailures++
	r.runAttempts++
}

func (r *run) periodicSave() error {
	if r.rec.Attempts%max(r.Config.SaveEvery, 1) != 0 {
		return nil
	}
	if err := r.save(); err != nil {
		return err
	}
	r.logProgress()
	return nil
}

func (r *run) logProgress() {
	space := r.Strategy.Space(r.id)
	done := r.rec.Counter - 1
	elapsed := time.Since(r.start)
	perSec := float64(r.runAttempts) / max(elapsed.Seconds(), 1)
	args := []any{
		"code", r.rec.LastCode,
		"attempts", humanize.Comma(int64(r.rec.Attempts)),
		"progress", fmt.Sprintf("%.4f%%", float64(done)/float64(space)*100),
		"rate", fmt.Sprintf("%.1f/s", perSec),
	}
	if perSec > 0 && space > done {
		eta := time.Duration(float64(space-done)/perSec) * time.Second
		args = append(args, "eta", eta.Round(time.Minute))
	}
	slog.Info("Progress saved", args...)
}

func (r *run) save() error {
	if r.rec.Counter == 0 {
		// Nothing was loaded yet.
		return nil
	}
	r.rec.Updated = time.Now()
	return r.Store.Save(r.rec)
}

func (r *run) succeed(ctx context.Context, code codegen.Code) error {
	r.advance(code)
	r.rec.ConsecutiveFailures = 0
	r.report.Code = code.String()
	slog.Info("Bootloader unlocked!", "code", code, "attempts", humanize.Comma(int64(r.rec.Attempts)))

	var errs error
	err := r.Store.Finalize(progress.Result{
		Code:       code.String(),
		IMEI:       r.id.String(),
		Counter:    r.rec.Counter - 1,
		Attempts:   r.rec.Attempts,
		Recoveries: r.rec.Recoveries,
		Elapsed:    time.Since(r.start).Seconds(),
		Kind:       string(r.Kind),
		Session:    r.rec.Session,
		Timestamp:  time.Now(),
	})
	if err != nil {
		errs = multierror.Append(errs, err)
	} else {
		slog.Info("Result saved", "path", r.Store.ResultPath())
	}
	if err := r.save(); err != nil {
		errs = multierror.Append(errs, err)
	}

	if r.Config.RebootOnFinish {
		slog.Info("Rebooting device...")
		if _, err := r.Channel.Submit(ctx, devices.RebootArgs...); err != nil {
			slog.Warn("Could not reboot device", "err", err)
		}
	}
	return errs
}

// recover cycles the device through a reboot into fastboot mode. The
// candidate that triggered protection has not been counted, so it is tried
// again afterwards.
func (r *run) recover(ctx context.Context) error {
	if !r.Config.AutoReboot {
		return ErrProtection
	}
	if r.preventive {
		slog.Info("Preventive reboot into fastboot mode...", "attempts", humanize.Comma(int64(r.rec.Attempts)))
	} else {
		slog.Info("Rebooting into fastboot mode to clear protection...")
	}

	if _, err := r.Channel.Submit(ctx, devices.RebootBootloaderArgs...); err != nil && !errors.Is(err, devices.ErrTimeout) {
		return fmt.Errorf("reboot-bootloader: %w", err)
	}
	if r.Config.RebootSettle > 0 {
		select {
		case <-ctx.Done():
			return ErrInterrupted
		case <-time.After(r.Config.RebootSettle):
		}
	}
	if r.Locator != nil {
		if err := devices.WaitPresent(ctx, r.Locator, r.Config.DeviceTimeout); err != nil {
			return waitErr(err)
		}
	}

	if r.preventive {
		r.lastPreventive = r.rec.Attempts
		r.preventive = false
	} else {
		r.rec.Recoveries++
	}
	r.rec.ConsecutiveFailures = 0
	slog.Info("Device is back", "counter", r.rec.Counter)
	return nil
}

func waitErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrInterrupted
	}
	return err
}
