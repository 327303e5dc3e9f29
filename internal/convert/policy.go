package convert

import (
	"errors"
	"fmt"
	"strings"
)

// Policy decides what happens to a value that cannot be converted.
type Policy string

const (
	// PolicyUnset defers to the next level of configuration.
	PolicyUnset Policy = ""
	// PolicyException fails the resolution with a MismatchError.
	PolicyException Policy = "exception"
	// PolicyEmptyResult drops the value.
	PolicyEmptyResult Policy = "empty_result"
	// PolicyIgnore drops the value. It behaves exactly like PolicyEmptyResult.
	PolicyIgnore Policy = "ignore"
)

// ParsePolicy accepts the policy names used in definitions and config files.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyUnset, PolicyException, PolicyEmptyResult, PolicyIgnore:
		return p, nil
	}
	return PolicyUnset, fmt.Errorf("unknown mismatch policy %q", s)
}

// Or returns p, or fallback when p is unset.
func (p Policy) Or(fallback Policy) Policy {
	if p == PolicyUnset {
		return fallback
	}
	return p
}

// Absorbs reports whether err is a conversion mismatch that the policy drops.
func (p Policy) Absorbs(err error) bool {
	if p == PolicyException {
		return false
	}
	var mismatch *MismatchError
	return errors.As(err, &mismatch)
}

// MismatchError reports a raw value that could not be converted.
type MismatchError struct {
	Value string
	Type  Type
	Err   error
}

func (e *MismatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("value %q is not a valid %s: %v", e.Value, e.Type, e.Err)
	}
	return fmt.Sprintf("value %q is not a valid %s", e.Value, e.Type)
}

func (e *MismatchError) Unwrap() error {
	return e.Err
}
