//go:build caf

package hwcomposer

// NumDisplayTypes is HWC_NUM_DISPLAY_TYPES for CodeAurora builds, which
// add a tertiary output.
const NumDisplayTypes = 4

var displayTable = [NumDisplayTypes]DisplayName{
	0: Primary,
	1: External,
	2: Tertiary,
	3: Virtual,
}
