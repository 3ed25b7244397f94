package device

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

type nopTransport struct{}

func (nopTransport) Exchange(request []byte, timeout time.Duration) ([]byte, error) {
	return nil, errors.New("not wired")
}

func (nopTransport) Close() error { return nil }

func TestWatcherEmitsAttachOncePerPlug(t *testing.T) {
	w := NewWatcher(zap.NewNop().Sugar(), time.Hour)

	attached := map[uint16]bool{ProductFullSize: true}
	w.open = func(productID uint16) (Transport, error) {
		if !attached[productID] {
			return nil, errors.New("not attached")
		}
		return nopTransport{}, nil
	}

	w.poll()

	select {
	case event := <-w.Events():
		if event.ProductID != ProductFullSize {
			t.Errorf("productID = 0x%04X, want full-size", event.ProductID)
		}
	default:
		t.Fatal("expected an attach event after first poll")
	}

	// while the slot is held, further polls stay quiet
	w.poll()
	w.poll()
	select {
	case <-w.Events():
		t.Fatal("device in use should not be re-announced")
	default:
	}

	// release (session ended), replug is announced again
	w.Release(ProductFullSize)
	w.poll()
	select {
	case <-w.Events():
	default:
		t.Fatal("expected an attach event after release")
	}
}

func TestWatcherIgnoresAbsentProducts(t *testing.T) {
	w := NewWatcher(zap.NewNop().Sugar(), time.Hour)

	w.open = func(productID uint16) (Transport, error) {
		return nil, errors.New("not attached")
	}

	w.poll()

	select {
	case <-w.Events():
		t.Fatal("no device should have been announced")
	default:
	}
}
