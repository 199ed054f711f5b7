// Command hwcquirks prints the quirk table the hardware composer layer
// would apply on a device.
package main

func main() {
	Execute()
}
