package gstcamera

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// FaultCategory classifies capture pipeline errors by how the coordinator reacts
type FaultCategory int

const (
	// FaultDisconnect means the device went away (unplugged, node removed)
	FaultDisconnect FaultCategory = iota
	// FaultFatal means the device or driver is in an unrecoverable state
	FaultFatal
	// FaultTransient means a single capture failed; the stream continues
	FaultTransient
	// FaultUnknown is anything unclassified, treated as transient
	FaultUnknown
)

// String returns a human-readable representation of the fault category
func (f FaultCategory) String() string {
	switch f {
	case FaultDisconnect:
		return "disconnect"
	case FaultFatal:
		return "fatal"
	case FaultTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError analyzes a bus error and categorizes it.
//
// go-gst's GError does not expose the error domain, so classification relies
// on keyword heuristics over the message and debug string.
func ClassifyGStreamerError(gerr *gst.GError) FaultCategory {
	if gerr == nil {
		return FaultUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

// ClassifyMessage classifies an error message and its debug detail.
//
// Priority: disconnect, then fatal, then transient.
func ClassifyMessage(errMsg, debugStr string) FaultCategory {
	combined := strings.ToLower(errMsg + " " + debugStr)

	if containsAny(combined, disconnectKeywords) {
		return FaultDisconnect
	}
	if containsAny(combined, fatalKeywords) {
		return FaultFatal
	}
	if containsAny(combined, transientKeywords) {
		return FaultTransient
	}
	return FaultUnknown
}

var disconnectKeywords = []string{
	"no such device",
	"disconnected",
	"has been unplugged",
	"enodev",
	"does not exist",
	"cannot identify device",
}

var fatalKeywords = []string{
	"hardware",
	"driver",
	"permission denied",
	"device or resource busy",
	"not a capture device",
	"failed to allocate",
	"not negotiated",
}

var transientKeywords = []string{
	"timeout",
	"timed out",
	"buffer",
	"dropped",
	"corrupt",
	"try again",
	"eagain",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
