// Package device owns the exclusive, serialized link to one physical VoxMix
// console: USB transport, initialization handshake, capability resolution
// and the single-flight command discipline.
package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/libusb"
	"go.uber.org/zap"
)

// USB identifiers of the VoxMix console family.
const (
	VendorID        = uint16(0x2D5C)
	ProductFullSize = uint16(0x4D01)
	ProductMini     = uint16(0x4D02)
)

// Vendor control transfer direction bytes (bmRequestType).
const (
	vendorRequestOutput = 0x40
	vendorRequestInput  = 0xC0
)

// The firmware multiplexes all frame traffic over a single vendor request.
const requestFrameIO = 0xA0

var (
	// ErrTransferTimeout is returned by a Transport when the console did not
	// answer within the transfer deadline. Counts against the retry budget.
	ErrTransferTimeout = errors.New("usb transfer timed out")

	// ErrDeviceGone is returned by a Transport once the console has been
	// physically removed. Terminal for the session.
	ErrDeviceGone = errors.New("usb device gone")
)

// Transport is one request/response exchange boundary with the console.
// Implementations must be safe for use by a single session; the session
// guarantees no two exchanges overlap.
type Transport interface {
	// Exchange writes one encoded request frame and reads back one encoded
	// response frame.
	Exchange(request []byte, timeout time.Duration) ([]byte, error)

	Close() error
}

// USBTransport drives the console over vendor control transfers.
type USBTransport struct {
	logger *zap.SugaredLogger

	ctx    *libusb.Context
	handle *libusb.DeviceHandle

	// control transfers must not interleave even across goroutines
	mutexUSB sync.Mutex
}

// OpenUSB opens the first attached console matching the given product id.
func OpenUSB(logger *zap.SugaredLogger, productID uint16) (*USBTransport, error) {
	logger = logger.Named("usb")

	ctx, err := libusb.NewContext()
	if err != nil {
		return nil, fmt.Errorf("create libusb context: %w", err)
	}

	_, handle, err := ctx.OpenDeviceWithVendorProduct(VendorID, productID)
	if err != nil {
		_ = ctx.Close()
		return nil, fmt.Errorf("open device %04x:%04x: %w", VendorID, productID, err)
	}

	logger.Debugw("Opened USB device", "vendorID", VendorID, "productID", productID)

	return &USBTransport{
		logger: logger,
		ctx:    ctx,
		handle: handle,
	}, nil
}

func (t *USBTransport) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
	t.mutexUSB.Lock()
	defer t.mutexUSB.Unlock()

	if t.handle == nil {
		return nil, ErrDeviceGone
	}

	timeoutMs := int(timeout.Milliseconds())

	_, err := t.handle.ControlTransfer(
		vendorRequestOutput, requestFrameIO, 0, 0, request, len(request), timeoutMs)
	if err != nil {
		return nil, classifyUSBError(err)
	}

	buffer := make([]byte, 2048)
	n, err := t.handle.ControlTransfer(
		vendorRequestInput, requestFrameIO, 0, 0, buffer, len(buffer), timeoutMs)
	if err != nil {
		return nil, classifyUSBError(err)
	}

	return buffer[:n], nil
}

func (t *USBTransport) Close() error {
	t.mutexUSB.Lock()
	defer t.mutexUSB.Unlock()

	if t.handle != nil {
		t.handle.Close()
		t.handle = nil
	}

	if t.ctx != nil {
		_ = t.ctx.Close()
		t.ctx = nil
	}

	return nil
}

// classifyUSBError maps libusb failures onto the transport error taxonomy so
// the session can tell a retriable timeout from a terminal removal.
func classifyUSBError(err error) error {
	message := strings.ToLower(err.Error())

	switch {
	case strings.Contains(message, "timeout") || strings.Contains(message, "timed out"):
		return fmt.Errorf("%w: %s", ErrTransferTimeout, err)
	case strings.Contains(message, "no device") ||
		strings.Contains(message, "no such device") ||
		strings.Contains(message, "not found"):
		return fmt.Errorf("%w: %s", ErrDeviceGone, err)
	}

	return err
}
