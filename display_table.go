//go:build !caf

package hwcomposer

// NumDisplayTypes is HWC_NUM_DISPLAY_TYPES for AOSP builds.
const NumDisplayTypes = 3

var displayTable = [NumDisplayTypes]DisplayName{
	0: Primary,
	1: External,
	2: Virtual,
}
