package session

import (
	"net"
)

// BindingLevel selects how strictly a request context must match the
// session's registered device, network, and geography.
type BindingLevel int

const (
	// BindingNone disables binding checks.
	BindingNone BindingLevel = iota
	// BindingDevice requires the device fingerprint to match.
	BindingDevice
	// BindingDeviceIP requires fingerprint plus the same IP subnet
	// (/24 for IPv4, /64 for IPv6).
	BindingDeviceIP
	// BindingStrict requires fingerprint, exact IP, and region.
	BindingStrict
)

func (l BindingLevel) Valid() bool {
	return l >= BindingNone && l <= BindingStrict
}

// BindingContext carries the request-side attributes compared against the
// session.
type BindingContext struct {
	Fingerprint string
	IP          string
	Region      string
}

// BindingResult reports a typed mismatch reason instead of a bare bool so
// callers can choose between silent reject and a step-up challenge.
type BindingResult struct {
	OK     bool
	Reason string
}

// Mismatch reasons.
const (
	ReasonFingerprintMismatch = "Device fingerprint mismatch"
	ReasonIPSubnetMismatch    = "IP subnet mismatch"
	ReasonIPMismatch          = "IP address mismatch"
	ReasonRegionMismatch      = "Region mismatch"
)

// CheckBinding validates a request context against the session at the
// given strictness level.
func CheckBinding(level BindingLevel, sess *Session, reqCtx BindingContext) BindingResult {
	if level == BindingNone {
		return BindingResult{OK: true}
	}

	if sess.Device.Fingerprint != "" || reqCtx.Fingerprint != "" {
		if sess.Device.Fingerprint != reqCtx.Fingerprint {
			return BindingResult{Reason: ReasonFingerprintMismatch}
		}
	}
	if level == BindingDevice {
		return BindingResult{OK: true}
	}

	if level == BindingDeviceIP {
		if !sameSubnet(sess.IP, reqCtx.IP) {
			return BindingResult{Reason: ReasonIPSubnetMismatch}
		}
		return BindingResult{OK: true}
	}

	// Strict: exact IP and region.
	if sess.IP != reqCtx.IP {
		return BindingResult{Reason: ReasonIPMismatch}
	}
	var region string
	if sess.Location != nil {
		region = sess.Location.Region
	}
	if region != reqCtx.Region {
		return BindingResult{Reason: ReasonRegionMismatch}
	}
	return BindingResult{OK: true}
}

func sameSubnet(a, b string) bool {
	ipA := net.ParseIP(a)
	ipB := net.ParseIP(b)
	if ipA == nil || ipB == nil {
		return a == b
	}

	if v4A, v4B := ipA.To4(), ipB.To4(); v4A != nil && v4B != nil {
		mask := net.CIDRMask(24, 32)
		return v4A.Mask(mask).Equal(v4B.Mask(mask))
	}
	if ipA.To4() != nil || ipB.To4() != nil {
		return false
	}
	mask := net.CIDRMask(64, 128)
	return ipA.Mask(mask).Equal(ipB.Mask(mask))
}
