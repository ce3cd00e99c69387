// Package adb reads identifying information from a device booted into
// Android, before it is rebooted into fastboot mode.
package adb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/bootforce/bootforce/pkg/devices"
	"github.com/bootforce/bootforce/pkg/imei"
)

var ErrNoIMEI = errors.New("no IMEI reported by device")

// Client issues adb commands over a channel, usually a fastboot.Tool pointed
// at the adb binary.
type Client struct {
	Tool devices.Channel
}

var (
	digits15 = regexp.MustCompile(`\d{15}`)
	// Parcel dumps from `service call` carry the string as UTF-16 in the
	// quoted column, e.g. '..3.5.6.9.3.8.'.
	parcelText = regexp.MustCompile(`'([^']*)'`)
)

// imeiQueries are tried in order until one yields a valid IMEI.
var imeiQueries = [][]string{
	{"shell", "service", "call", "iphonesubinfo", "1"},
	{"shell", "dumpsys", "iphonesubinfo"},
	{"shell", "getprop", "gsm.baseband.imei"},
}

func (c *Client) Getprop(ctx context.Context, name string) (string, error) {
	out, err := c.Tool.Submit(ctx, "shell", "getprop", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Model returns ro.product.model.
func (c *Client) Model(ctx context.Context) (string, error) {
	return c.Getprop(ctx, "ro.product.model")
}

// DetectIMEI returns the first IMEI passing validation from any of the known
// queries.
func (c *Client) DetectIMEI(ctx context.Context) (imei.IMEI, error) {
	var errs error
	for _, q := range imeiQueries {
		out, err := c.Tool.Submit(ctx, q...)
		if err != nil {
			if errors.Is(err, devices.ErrToolMissing) {
				return "", err
			}
			errs = multierror.Append(errs, fmt.Errorf("adb %s: %w", strings.Join(q, " "), err))
			continue
		}
		for _, cand := range candidates(out) {
			id, err := imei.Parse(cand)
			if err != nil {
				slog.Debug("Ignoring IMEI candidate", "candidate", cand, "err", err)
				continue
			}
			return id, nil
		}
	}
	if errs != nil {
		return "", fmt.Errorf("%w: %v", ErrNoIMEI, errs)
	}
	return "", ErrNoIMEI
}

func candidates(out string) []string {
	var res []string
	if strings.Contains(out, "Parcel") {
		var b strings.Builder
		for _, m := range parcelText.FindAllStringSubmatch(out, -1) {
			b.WriteString(strings.ReplaceAll(m[1], ".", ""))
		}
		res = append(res, digits15.FindAllString(b.String(), -1)...)
	}
	return append(res, digits15.FindAllString(out, -1)...)
}
