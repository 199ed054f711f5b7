package hwcomposer

import (
	"github.com/gogpu/gputypes"
)

// HAL pixel formats from system/graphics.h.
const (
	HALPixelFormatRGBA8888 uint32 = 1
	HALPixelFormatRGBX8888 uint32 = 2
	HALPixelFormatRGB888   uint32 = 3
	HALPixelFormatRGB565   uint32 = 4
	HALPixelFormatBGRA8888 uint32 = 5
)

// Gralloc usage bits from hardware/gralloc.h.
const (
	GrallocUsageSwReadOften  uint32 = 0x00000003
	GrallocUsageSwWriteOften uint32 = 0x00000030
	GrallocUsageHwTexture    uint32 = 0x00000100
	GrallocUsageHwRender     uint32 = 0x00000200
	GrallocUsageHw2D         uint32 = 0x00000400
	GrallocUsageHwComposer   uint32 = 0x00000800
	GrallocUsageHwFB         uint32 = 0x00001000
)

// HALFormat translates a compositor pixel format. Formats the HAL cannot
// express map to 0.
func HALFormat(f gputypes.TextureFormat) uint32 {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm:
		return HALPixelFormatRGBA8888
	case gputypes.TextureFormatBGRA8Unorm:
		return HALPixelFormatBGRA8888
	default:
		return 0
	}
}

// TextureFormat is the inverse of HALFormat. RGBX is presented as RGBA.
func TextureFormat(halFormat uint32) gputypes.TextureFormat {
	switch halFormat {
	case HALPixelFormatRGBA8888, HALPixelFormatRGBX8888:
		return gputypes.TextureFormatRGBA8Unorm
	case HALPixelFormatBGRA8888:
		return gputypes.TextureFormatBGRA8Unorm
	default:
		return gputypes.TextureFormatUndefined
	}
}

// GrallocUsage translates compositor texture usage into gralloc bits.
func GrallocUsage(u gputypes.TextureUsage) uint32 {
	var bits uint32
	if u&gputypes.TextureUsageRenderAttachment != 0 {
		bits |= GrallocUsageHwRender
	}
	if u&gputypes.TextureUsageTextureBinding != 0 {
		bits |= GrallocUsageHwTexture
	}
	if u&gputypes.TextureUsageCopySrc != 0 {
		bits |= GrallocUsageSwReadOften
	}
	if u&gputypes.TextureUsageCopyDst != 0 {
		bits |= GrallocUsageSwWriteOften
	}
	return bits
}

func bytesPerPixel(halFormat uint32) int {
	switch halFormat {
	case HALPixelFormatRGB888:
		return 3
	case HALPixelFormatRGB565:
		return 2
	default:
		return 4
	}
}
