package hwcomposer

// GPUInfo is the GL vendor and renderer strings of the device GPU.
type GPUInfo struct {
	Vendor   string
	Renderer string
}

// DeviceQuirks is the per-device policy table. It is computed once by
// NewDeviceQuirks and never changes afterwards, so it is safe to share.
//
// Devices are matched by exact name; a new device needs a new table entry.
type DeviceQuirks struct {
	deviceName string
	gpu        GPUInfo

	numFramebuffers             int
	grallocCannotBeClosedSafely bool
	widthAlignment              bool
	clearFbContextFence         bool
	fbIonHeap                   bool
	workingEGLSync              bool
}

// NewDeviceQuirks evaluates the quirk table for the device named by props.
func NewDeviceQuirks(props PropertyStore, gpu GPUInfo, opts QuirkOptions) *DeviceQuirks {
	name := props.Property(ProductDeviceKey, "")
	q := &DeviceQuirks{
		deviceName:                  name,
		gpu:                         gpu,
		numFramebuffers:             numFramebuffersFor(name, opts.NumFramebuffers),
		grallocCannotBeClosedSafely: opts.GrallocCannotBeClosedSafely && name == "krillin",
		widthAlignment:              opts.WidthAlignment,
		clearFbContextFence:         clearFbContextFenceFor(name),
		fbIonHeap:                   opts.FbIonHeap && name != "Aquaris_M10_FHD",
		workingEGLSync:              workingEGLSyncFor(gpu, opts.EGLSync),
	}
	Logger().Info("device quirks",
		"device", name,
		"gl_vendor", gpu.Vendor,
		"framebuffers", q.numFramebuffers,
		"clear_fb_context_fence", q.clearFbContextFence,
		"egl_sync", q.workingEGLSync)
	return q
}

func numFramebuffersFor(name string, enabled bool) int {
	if enabled && name == "mx3" {
		return 3
	}
	// HWC2 devices that need three buffers cannot be told apart yet,
	// so everything gets three.
	return 3
}

func clearFbContextFenceFor(name string) bool {
	switch name {
	case "krillin", "arale", "manta":
		return true
	}
	return false
}

func workingEGLSyncFor(gpu GPUInfo, mode EGLSyncMode) bool {
	switch mode {
	case EGLSyncForceOn:
		return true
	case EGLSyncForceOff:
		return false
	}
	// Mali pays ~500us per sync under hybris and PowerVR misorders depth
	// buffers with KHR_fence_sync.
	return gpu.Vendor == "Qualcomm"
}

// DeviceName is the ro.product.device value the table was evaluated for.
func (q *DeviceQuirks) DeviceName() string { return q.deviceName }

func (q *DeviceQuirks) GPU() GPUInfo { return q.gpu }

func (q *DeviceQuirks) NumFramebuffers() int { return q.numFramebuffers }

func (q *DeviceQuirks) GrallocCannotBeClosedSafely() bool { return q.grallocCannotBeClosedSafely }

// AlignedWidth returns the allocation width to use for width. Only 720 on
// vegetahd is rewritten.
func (q *DeviceQuirks) AlignedWidth(width int) int {
	if q.widthAlignment && width == 720 && q.deviceName == "vegetahd" {
		return 736
	}
	return width
}

// ClearFbContextFence reports whether the driver posts framebuffers before
// their fence has signalled, requiring a synchronous wait on return.
func (q *DeviceQuirks) ClearFbContextFence() bool { return q.clearFbContextFence }

// FbGrallocBits is the usage mask for framebuffer allocations.
func (q *DeviceQuirks) FbGrallocBits() uint32 {
	if q.fbIonHeap {
		return GrallocUsageHwRender | GrallocUsageHwComposer | GrallocUsageHwFB
	}
	return GrallocUsageHwRender | GrallocUsageHwComposer | GrallocUsageHwTexture
}

func (q *DeviceQuirks) WorkingEGLSync() bool { return q.workingEGLSync }
