//go:build !govips || !cgo

package screenshot

func Startup() error {
	return nil
}

func Shutdown() {}
