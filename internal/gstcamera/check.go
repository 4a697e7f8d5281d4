package gstcamera

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyzimmer/go-gst/gst"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
)

// RequiredElements are the GStreamer element factories a session pipeline uses.
var RequiredElements = []string{
	"v4l2src",
	"videoconvert",
	"videoscale",
	"coloreffects",
	"tee",
	"queue",
	"capsfilter",
	"appsink",
}

// Permissions checks read/write access to a V4L2 device node.
type Permissions struct {
	Device string
}

// HasCameraPermission reports whether the device node can be opened read/write.
func (p Permissions) HasCameraPermission() bool {
	f, err := os.OpenFile(DevicePath(p.Device), os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// RequestCameraPermission logs how to grant access; there is no interactive prompt.
func (p Permissions) RequestCameraPermission() {
	slog.Warn("gstcamera: no access to camera device, add the user to the video group",
		"device", DevicePath(p.Device))
}

// Availability checks the GStreamer installation.
type Availability struct{}

// CheckAvailability reports whether GStreamer and every required element are present.
func (Availability) CheckAvailability(ctx context.Context) sharedcamera.Availability {
	if err := checkGStreamerAvailable(); err != nil {
		slog.Error("gstcamera: GStreamer not available", "error", err)
		return sharedcamera.AvailabilitySupportedNotInstalled
	}
	if missing := MissingElements(); len(missing) > 0 {
		slog.Error("gstcamera: GStreamer plugins missing", "elements", missing)
		return sharedcamera.AvailabilitySupportedOutdated
	}
	return sharedcamera.AvailabilitySupportedInstalled
}

// RequestInstall logs the packages to install and reports the install as requested.
func (Availability) RequestInstall(ctx context.Context) (sharedcamera.InstallStatus, error) {
	slog.Warn("gstcamera: install gstreamer1.0-plugins-base, -good and -bad, then retry",
		"elements", RequiredElements)
	return sharedcamera.InstallRequested, nil
}

// MissingElements returns the required element factories that cannot be created.
func MissingElements() []string {
	gst.Init(nil)

	var missing []string
	for _, name := range RequiredElements {
		elem, err := gst.NewElement(name)
		if err != nil {
			missing = append(missing, name)
			continue
		}
		elem.SetState(gst.StateNull)
	}
	return missing
}

// checkGStreamerAvailable creates a trivial element to verify the installation.
func checkGStreamerAvailable() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
