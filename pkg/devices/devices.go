package devices

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/gousb"
)

type Kind string

const (
	Mate30Pro Kind = "mate30pro"
	Huawei    Kind = "huawei"
)

func (k Kind) String() string {
	switch k {
	case Mate30Pro:
		return "Huawei Mate 30 Pro"
	case Huawei:
		return "Huawei/Honor (generic)"
	}
	return "UNKNOWN"
}

func (k Kind) Description() Description {
	for _, d := range Descriptions {
		if d.Kind == k {
			return d
		}
	}
	panic("unreachable")
}

// InterfaceKind is the mode a device enumerates in.
type InterfaceKind string

const (
	Fastboot InterfaceKind = "fastboot"
	ADB      InterfaceKind = "adb"
)

func (i InterfaceKind) String() string {
	switch i {
	case Fastboot:
		return "Fastboot"
	case ADB:
		return "ADB"
	}
	return "UNKNOWN"
}

// InterfaceKinds in probe order.
var InterfaceKinds = []InterfaceKind{Fastboot, ADB}

type Description struct {
	VID  gousb.ID
	PIDs map[InterfaceKind]gousb.ID
	Kind Kind
	// Models are ro.product.model values reported by this kind over ADB.
	Models []string
	// Strategy names the codegen strategy used to derive candidate codes.
	Strategy string
}

var Descriptions = []Description{
	{
		VID: 0x18d1,
		PIDs: map[InterfaceKind]gousb.ID{
			Fastboot: 0xd00d,
		},
		Kind:     Mate30Pro,
		Models:   []string{"TAS-AL00", "TAS-L29", "VOG-L29", "VOG-L04"},
		Strategy: "huawei-sqrt",
	},
	{
		VID: 0x12d1,
		PIDs: map[InterfaceKind]gousb.ID{
			ADB: 0x107e,
		},
		Kind:     Huawei,
		Strategy: "huawei-sqrt",
	},
}

// ForName parses a kind as given on the command line or in a config file.
func ForName(name string) (Kind, error) {
	for _, d := range Descriptions {
		if string(d.Kind) == strings.ToLower(name) {
			return d.Kind, nil
		}
	}
	var names []string
	for _, d := range Descriptions {
		names = append(names, string(d.Kind))
	}
	sort.Strings(names)
	return "", fmt.Errorf("unknown device kind %q, must be one of: %s", name, strings.Join(names, ", "))
}

// ForModel returns the kind that lists model, or Huawei if none does.
func ForModel(model string) Kind {
	model = strings.TrimSpace(model)
	for _, d := range Descriptions {
		for _, m := range d.Models {
			if strings.EqualFold(m, model) {
				return d.Kind
			}
		}
	}
	return Huawei
}

// UnlockArgs is the fastboot invocation submitting a single candidate code.
func UnlockArgs(code string) []string {
	return []string{"oem", "unlock", code}
}

var (
	RebootBootloaderArgs = []string{"reboot-bootloader"}
	RebootArgs           = []string{"reboot"}
)
