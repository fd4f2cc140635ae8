package domain

import (
	"errors"
	"fmt"
)

var (
	ErrBadRequest             = errors.New("bad request")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrUnsupportedContentType = errors.New("unsupported content type")
	ErrFetch                  = errors.New("fetch failed")
	ErrAssetMissing           = errors.New("logo asset missing")
	ErrProcessing             = errors.New("processing failed")
)

const (
	ResourceSource = "source"
	ResourceLogo   = "logo"
)

// FetchError reports a failed download of a remote resource. StatusCode is
// zero when the request never produced a response.
type FetchError struct {
	Resource   string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s %s: status=%d", e.Resource, e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s %s: %v", e.Resource, e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s %s failed", e.Resource, e.URL)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

type ContentTypeError struct {
	URL         string
	ContentType string
}

func (e *ContentTypeError) Error() string {
	return fmt.Sprintf("source %s has content type %q", e.URL, e.ContentType)
}

func (e *ContentTypeError) Is(target error) bool { return target == ErrUnsupportedContentType }

type AssetError struct {
	Location string
	Err      error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("read logo asset %s: %v", e.Location, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

func (e *AssetError) Is(target error) bool { return target == ErrAssetMissing }

// ProcessingError wraps a decode, transform or encode failure of one stage.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessing }
