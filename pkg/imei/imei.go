// Package imei validates International Mobile Equipment Identity numbers.
package imei

import (
	"errors"
	"fmt"
	"strconv"
)

// Length is the number of digits in an IMEI, including the check digit.
const Length = 15

var (
	// ErrInvalid is wrapped by every validation failure.
	ErrInvalid = errors.New("invalid IMEI")

	ErrWrongLength = fmt.Errorf("%w: must be %d digits", ErrInvalid, Length)
	ErrNonNumeric  = fmt.Errorf("%w: must contain only digits", ErrInvalid)
	ErrChecksum    = fmt.Errorf("%w: checksum mismatch", ErrInvalid)
)

// IMEI is a validated identifier. The zero value is not valid.
type IMEI string

func (i IMEI) String() string {
	return string(i)
}

// Uint64 returns the IMEI as a number. It cannot overflow, 15 digits fit
// comfortably.
func (i IMEI) Uint64() uint64 {
	v, _ := strconv.ParseUint(string(i), 10, 64)
	return v
}

// Validate checks length, then character set, then the Luhn check digit.
func Validate(s string) error {
	if len(s) != Length {
		return ErrWrongLength
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ErrNonNumeric
		}
	}
	want, _ := CheckDigit(s[:Length-1])
	if s[Length-1] != want {
		return ErrChecksum
	}
	return nil
}

// Parse validates s and returns it as an IMEI.
func Parse(s string) (IMEI, error) {
	if err := Validate(s); err != nil {
		return "", err
	}
	return IMEI(s), nil
}

// CheckDigit computes the Luhn check digit for body, returned as an ASCII
// digit. Starting from the rightmost digit of body, every other digit is
// doubled and the digits of the products are summed.
func CheckDigit(body string) (byte, error) {
	sum := 0
	double := true
	for i := len(body) - 1; i >= 0; i-- {
		c := body[i]
		if c < '0' || c > '9' {
			return 0, ErrNonNumeric
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte('0' + (10-sum%10)%10), nil
}
