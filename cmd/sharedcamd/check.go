package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	sharedcamera "github.com/e7canasta/orion-care-sensor/modules/shared-camera"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/shared-camera/internal/gstcamera"
)

func newCheckCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check GStreamer, required plugins and camera access",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cmd, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "Path to configuration file (defaults apply when empty)")
	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	ok := true

	availability := gstcamera.Availability{}.CheckAvailability(ctx)
	fmt.Fprintf(out, "gstreamer:   %s\n", availability)
	if availability != sharedcamera.AvailabilitySupportedInstalled {
		ok = false
		if missing := gstcamera.MissingElements(); len(missing) > 0 {
			fmt.Fprintf(out, "missing:     %v\n", missing)
		}
	}

	device := gstcamera.DevicePath(cfg.Camera.Device)
	perm := gstcamera.Permissions{Device: cfg.Camera.Device}.HasCameraPermission()
	fmt.Fprintf(out, "device:      %s (read/write: %t)\n", device, perm)
	if !perm {
		ok = false
	}

	if !ok {
		return fmt.Errorf("check failed")
	}
	fmt.Fprintln(out, "ok")
	return nil
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}
