// Package codegen derives candidate bootloader unlock codes from a counter.
//
// Counters are 1-based. A Strategy maps counter n to the n-th candidate of
// its search space; the mapping is a property of the device firmware, not
// of the loop submitting the codes.
package codegen

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/bootforce/bootforce/pkg/imei"
)

// Code is an unlock code candidate, always rendered as 16 digits.
type Code uint64

const (
	// Width is the number of decimal digits in a Code.
	Width = 16
	// Limit is the first value that no longer fits in Width digits.
	Limit Code = 10_000_000_000_000_000
)

func (c Code) String() string {
	return fmt.Sprintf("%0*d", Width, uint64(c))
}

type Strategy interface {
	Name() string
	// Code returns the n-th candidate for the given IMEI. ok is false once
	// the search space is exhausted, or for n == 0.
	Code(n uint64, id imei.IMEI) (c Code, ok bool)
	// Space is the number of candidates for the given IMEI.
	Space(id imei.IMEI) uint64
}

// HuaweiSqrt walks 16-digit codes starting at 1000000000000000 in steps of
// floor(sqrt(imei) * 1024).
type HuaweiSqrt struct{}

const huaweiStart Code = 1_000_000_000_000_000

func (HuaweiSqrt) Name() string { return "huawei-sqrt" }

// Increment returns the step between successive candidates.
func (HuaweiSqrt) Increment(id imei.IMEI) uint64 {
	inc := uint64(math.Sqrt(float64(id.Uint64())) * 1024)
	if inc == 0 {
		inc = 1
	}
	return inc
}

func (h HuaweiSqrt) Space(id imei.IMEI) uint64 {
	return uint64(Limit-1-huaweiStart)/h.Increment(id) + 1
}

func (h HuaweiSqrt) Code(n uint64, id imei.IMEI) (Code, bool) {
	if n == 0 || n > h.Space(id) {
		return 0, false
	}
	return huaweiStart + Code((n-1)*h.Increment(id)), true
}

// Sequential uses the counter itself as the code, for firmwares that need an
// exhaustive search or for replaying a known range.
type Sequential struct{}

func (Sequential) Name() string { return "sequential" }

func (Sequential) Space(imei.IMEI) uint64 { return uint64(Limit - 1) }

func (Sequential) Code(n uint64, _ imei.IMEI) (Code, bool) {
	if n == 0 || Code(n) >= Limit {
		return 0, false
	}
	return Code(n), true
}

var strategies = map[string]Strategy{
	HuaweiSqrt{}.Name(): HuaweiSqrt{},
	Sequential{}.Name(): Sequential{},
}

// ForName returns a registered strategy.
func ForName(name string) (Strategy, error) {
	if s, ok := strategies[name]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("unknown code strategy %q, must be one of: %s", name, strings.Join(Names(), ", "))
}

// Names lists registered strategies.
func Names() []string {
	var res []string
	for n := range strategies {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// Register makes s available to ForName. It is meant to be called from init
// functions of packages supporting other device models.
func Register(s Strategy) {
	if _, ok := strategies[s.Name()]; ok {
		panic(fmt.Sprintf("strategy %q registered twice", s.Name()))
	}
	strategies[s.Name()] = s
}
