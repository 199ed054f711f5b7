package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	hwc "github.com/bnema/hwcomposer"
)

var (
	deviceName string
	glVendor   string
	glRenderer string
)

var quirksCmd = &cobra.Command{
	Use:   "quirks",
	Short: "Print the quirk table for a device",
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := loadQuirks()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "device:                          %s\n", q.DeviceName())
		fmt.Fprintf(out, "gl vendor:                       %s\n", q.GPU().Vendor)
		fmt.Fprintf(out, "framebuffers:                    %d\n", q.NumFramebuffers())
		fmt.Fprintf(out, "gralloc cannot be closed safely: %t\n", q.GrallocCannotBeClosedSafely())
		fmt.Fprintf(out, "clear fb context fence:          %t\n", q.ClearFbContextFence())
		fmt.Fprintf(out, "fb gralloc bits:                 %#x\n", q.FbGrallocBits())
		fmt.Fprintf(out, "working egl sync:                %t\n", q.WorkingEGLSync())
		return nil
	},
}

var alignCmd = &cobra.Command{
	Use:   "align <width>",
	Short: "Print the framebuffer allocation width for a display width",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		width, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid width %q: %w", args[0], err)
		}
		q, err := loadQuirks()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), q.AlignedWidth(width))
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{quirksCmd, alignCmd} {
		c.Flags().StringVar(&deviceName, "device", "", "Device name, read from ro.product.device when empty")
		c.Flags().StringVar(&glVendor, "gl-vendor", "", "GL_VENDOR string of the device GPU")
		c.Flags().StringVar(&glRenderer, "gl-renderer", "", "GL_RENDERER string of the device GPU")
	}
}

func loadQuirks() (*hwc.DeviceQuirks, error) {
	opts, err := hwc.LoadQuirkOptions(v)
	if err != nil {
		return nil, err
	}
	var props hwc.PropertyStore = hwc.SystemProperties{}
	if deviceName != "" {
		props = hwc.MapProperties{hwc.ProductDeviceKey: deviceName}
	}
	return hwc.NewDeviceQuirks(props, hwc.GPUInfo{Vendor: glVendor, Renderer: glRenderer}, opts), nil
}
