//go:build !govips || !cgo

package pipeline

const Backend = "imaging"

func Startup() error {
	return nil
}

func Shutdown() {}

func newTransformer(maxPixels int64) (Transformer, error) {
	return imagingTransformer{maxPixels: maxPixels}, nil
}
