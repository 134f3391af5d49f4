//go:build !linux

package jobsched

// PinToCPU is unsupported outside Linux.
func PinToCPU(int) error {
	return ErrPinUnsupported
}
