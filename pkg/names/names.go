// Package names implements the composite-name type used to identify IPCPs,
// applications and DIFs throughout the stack: four lexicographically
// compared string components (apn, api, aen, aei).
package names

import (
	"fmt"
	"strings"
)

// Name is a composite application/process name: application process name,
// application process instance, application entity name, application
// entity instance. Equality is component-wise lexicographic.
type Name struct {
	APN string // application process name
	API string // application process instance
	AEN string // application entity name
	AEI string // application entity instance
}

// Parse splits a slash-delimited "apn/api/aen/aei" string into a Name.
// Missing trailing components default to the empty string.
func Parse(s string) Name {
	parts := strings.SplitN(s, "/", 4)
	var n Name
	if len(parts) > 0 {
		n.APN = parts[0]
	}
	if len(parts) > 1 {
		n.API = parts[1]
	}
	if len(parts) > 2 {
		n.AEN = parts[2]
	}
	if len(parts) > 3 {
		n.AEI = parts[3]
	}
	return n
}

// String renders the canonical slash-delimited form.
func (n Name) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", n.APN, n.API, n.AEN, n.AEI)
}

// Equal reports component-wise equality.
func (n Name) Equal(o Name) bool {
	return n.APN == o.APN && n.API == o.API && n.AEN == o.AEN && n.AEI == o.AEI
}

// Empty reports whether every component is the empty string.
func (n Name) Empty() bool {
	return n.APN == "" && n.API == "" && n.AEN == "" && n.AEI == ""
}

// ApplName returns a Name with only the application-process components set,
// used when matching registered applications by (apn, api) alone.
func (n Name) ApplName() Name {
	return Name{APN: n.APN, API: n.API}
}
