package domain

// ScanStatus is the state of a QR-code login
type ScanStatus int

const (
	ScanStatusUnknown ScanStatus = iota
	ScanStatusCancel
	ScanStatusWaiting
	ScanStatusScanned
	ScanStatusConfirmed
	ScanStatusTimeout
)

func (s ScanStatus) String() string {
	switch s {
	case ScanStatusCancel:
		return "cancel"
	case ScanStatusWaiting:
		return "waiting"
	case ScanStatusScanned:
		return "scanned"
	case ScanStatusConfirmed:
		return "confirmed"
	case ScanStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ParseScanStatus maps a gateway status string to a ScanStatus
func ParseScanStatus(s string) ScanStatus {
	switch s {
	case "cancel":
		return ScanStatusCancel
	case "waiting", "":
		return ScanStatusWaiting
	case "scanned":
		return ScanStatusScanned
	case "confirmed":
		return ScanStatusConfirmed
	case "timeout":
		return ScanStatusTimeout
	default:
		return ScanStatusUnknown
	}
}

// NeedsRender reports whether the QR code should be shown to the operator
func (s ScanStatus) NeedsRender() bool {
	return s == ScanStatusWaiting || s == ScanStatusTimeout
}
