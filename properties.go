package hwcomposer

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// PropertyStore is the device property lookup.
type PropertyStore interface {
	Property(key, defaultValue string) string
}

// MapProperties is a fixed PropertyStore.
type MapProperties map[string]string

func (m MapProperties) Property(key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return defaultValue
}

// SystemProperties reads Android system properties through getprop.
type SystemProperties struct {
	// Getprop is the getprop binary, "getprop" on PATH when empty.
	Getprop string
}

func (s SystemProperties) Property(key, defaultValue string) string {
	bin := s.Getprop
	if bin == "" {
		bin = "getprop"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, key).Output()
	if err != nil {
		Logger().Warn("property lookup failed", "key", key, "error", err)
		return defaultValue
	}
	if v := strings.TrimSpace(string(out)); v != "" {
		return v
	}
	return defaultValue
}

// ProductDeviceKey identifies the device model.
const ProductDeviceKey = "ro.product.device"
