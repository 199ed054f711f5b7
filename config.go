package hwcomposer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Option names as accepted on the command line, in the config file and,
// upper-cased with underscores and prefixed with HWC_, in the environment.
const (
	OptNumFramebuffersQuirk        = "enable-num-framebuffers-quirk"
	OptGrallocCannotBeClosedSafely = "enable-gralloc-cannot-be-closed-safely-quirk"
	OptWidthAlignmentQuirk         = "enable-width-alignment-quirk"
	OptFbIonHeap                   = "fb-ion-heap"
	OptEGLSync                     = "use-eglsync-quirk"
)

// EGLSyncMode selects whether the EGL reusable-sync extension is used.
type EGLSyncMode string

const (
	EGLSyncDefault  EGLSyncMode = "default"
	EGLSyncForceOn  EGLSyncMode = "force_on"
	EGLSyncForceOff EGLSyncMode = "force_off"
)

// QuirkOptions switches individual quirks. The zero value disables every
// quirk; DefaultQuirkOptions matches the documented defaults.
type QuirkOptions struct {
	NumFramebuffers             bool        `mapstructure:"enable-num-framebuffers-quirk"`
	GrallocCannotBeClosedSafely bool        `mapstructure:"enable-gralloc-cannot-be-closed-safely-quirk"`
	WidthAlignment              bool        `mapstructure:"enable-width-alignment-quirk"`
	FbIonHeap                   bool        `mapstructure:"fb-ion-heap"`
	EGLSync                     EGLSyncMode `mapstructure:"use-eglsync-quirk"`
}

// DefaultQuirkOptions enables every quirk and auto-detects EGL sync.
func DefaultQuirkOptions() QuirkOptions {
	return QuirkOptions{
		NumFramebuffers:             true,
		GrallocCannotBeClosedSafely: true,
		WidthAlignment:              true,
		FbIonHeap:                   true,
		EGLSync:                     EGLSyncDefault,
	}
}

// RegisterQuirkFlags adds the quirk options to fs with their defaults.
func RegisterQuirkFlags(fs *pflag.FlagSet) {
	d := DefaultQuirkOptions()
	fs.Bool(OptNumFramebuffersQuirk, d.NumFramebuffers,
		"[platform-specific] Enable allocating 3 framebuffers (MX3 quirk) [{true,false}]")
	fs.Bool(OptGrallocCannotBeClosedSafely, d.GrallocCannotBeClosedSafely,
		"[platform-specific] Only close gralloc if it is safe to do so (krillin quirk) [{true,false}]")
	fs.Bool(OptWidthAlignmentQuirk, d.WidthAlignment,
		"[platform-specific] Enable width alignment (vegetahd quirk) [{true,false}]")
	fs.Bool(OptFbIonHeap, d.FbIonHeap,
		"[platform-specific] device has ion heap for framebuffer allocation available [{true,false}]")
	fs.String(OptEGLSync, string(d.EGLSync),
		"[platform-specific] use KHR_reusable_sync extension [{default,force_on,force_off}]")
}

// LoadQuirkOptions reads quirk options from v, creating a fresh Viper when v
// is nil. Sources are, in order of precedence: flags bound to v, HWC_*
// environment variables, an hwc-quirks.yaml config file, and the defaults.
func LoadQuirkOptions(v *viper.Viper) (QuirkOptions, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetConfigName("hwc-quirks")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/hwc")
	v.AddConfigPath("/etc/hwc")

	d := DefaultQuirkOptions()
	v.SetDefault(OptNumFramebuffersQuirk, d.NumFramebuffers)
	v.SetDefault(OptGrallocCannotBeClosedSafely, d.GrallocCannotBeClosedSafely)
	v.SetDefault(OptWidthAlignmentQuirk, d.WidthAlignment)
	v.SetDefault(OptFbIonHeap, d.FbIonHeap)
	v.SetDefault(OptEGLSync, string(d.EGLSync))

	v.SetEnvPrefix("HWC")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return QuirkOptions{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var opts QuirkOptions
	if err := v.Unmarshal(&opts); err != nil {
		return QuirkOptions{}, fmt.Errorf("error unmarshaling config: %w", err)
	}
	switch opts.EGLSync {
	case EGLSyncDefault, EGLSyncForceOn, EGLSyncForceOff:
	default:
		return QuirkOptions{}, fmt.Errorf("invalid %s value %q", OptEGLSync, opts.EGLSync)
	}
	return opts, nil
}
