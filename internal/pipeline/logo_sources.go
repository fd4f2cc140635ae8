package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/dunamismax/pixelmask/internal/domain"
)

// LogoResolver returns the raw bytes of the mark to stamp.
type LogoResolver interface {
	Resolve(ctx context.Context, logoURL string) ([]byte, error)
}

// AssetSource provides the process-wide default logo.
type AssetSource interface {
	ReadAsset(ctx context.Context) ([]byte, error)
	Location() string
}

type logoFetcher interface {
	FetchLogo(ctx context.Context, endpoint string) ([]byte, error)
}

type objectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

// LogoSources fetches a request-supplied logo URL and otherwise falls back
// to the default asset.
type LogoSources struct {
	Remote  logoFetcher
	Default AssetSource
}

func (s LogoSources) Resolve(ctx context.Context, logoURL string) ([]byte, error) {
	if logoURL != "" && domain.IsHTTPURL(logoURL) {
		if s.Remote == nil {
			return nil, errors.New("remote logo fetcher is required")
		}
		return s.Remote.FetchLogo(ctx, logoURL)
	}

	if s.Default == nil {
		return nil, &domain.AssetError{Location: "default", Err: errors.New("no default logo configured")}
	}
	return s.Default.ReadAsset(ctx)
}

// FileAsset reads the default logo from local disk on every request.
type FileAsset struct {
	Path string
}

func (a FileAsset) Location() string {
	return a.Path
}

func (a FileAsset) ReadAsset(ctx context.Context) ([]byte, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.Path) == "" {
		return nil, &domain.AssetError{Location: a.Path, Err: errors.New("logo path is empty")}
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return nil, &domain.AssetError{Location: a.Path, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &domain.AssetError{Location: a.Path, Err: fmt.Errorf("read: %w", err)}
	}
	if len(data) == 0 {
		return nil, &domain.AssetError{Location: a.Path, Err: errors.New("file is empty")}
	}
	return data, nil
}

// ObjectStoreAsset reads the default logo from a bucket object.
type ObjectStoreAsset struct {
	Storage   objectReader
	Bucket    string
	ObjectKey string
}

func (a ObjectStoreAsset) Location() string {
	return "s3://" + path.Join(a.Bucket, a.ObjectKey)
}

func (a ObjectStoreAsset) ReadAsset(ctx context.Context) ([]byte, error) {
	if a.Storage == nil {
		return nil, &domain.AssetError{Location: a.Location(), Err: errors.New("storage client is required")}
	}
	if strings.TrimSpace(a.ObjectKey) == "" {
		return nil, &domain.AssetError{Location: a.Location(), Err: errors.New("object key is empty")}
	}

	data, err := a.Storage.ReadObject(ctx, a.ObjectKey)
	if err != nil {
		return nil, &domain.AssetError{Location: a.Location(), Err: err}
	}
	if len(data) == 0 {
		return nil, &domain.AssetError{Location: a.Location(), Err: errors.New("object is empty")}
	}
	return data, nil
}
