package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/yairfalse/permitwatch/pkg/types"
)

// AzureStore keeps the document in an Azure block blob
type AzureStore struct {
	blobURL azblob.BlockBlobURL
	display string
}

// NewAzureStore creates a store for azblob://account/container/blob. The
// account key is read from AZURE_STORAGE_KEY; without it the blob is
// accessed anonymously. An endpoint query parameter replaces the public
// blob endpoint, e.g. for a local emulator.
func NewAzureStore(loc Location) (*AzureStore, error) {
	account := loc.Host

	endpoint := loc.Query.Get("endpoint")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", account)
	}
	blobURLString := strings.TrimSuffix(endpoint, "/") + "/" + loc.Path

	parsedURL, err := url.Parse(blobURLString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Azure blob URL: %w", err)
	}

	var credential azblob.Credential = azblob.NewAnonymousCredential()
	if key := os.Getenv("AZURE_STORAGE_KEY"); key != "" {
		shared, err := azblob.NewSharedKeyCredential(account, key)
		if err != nil {
			return nil, fmt.Errorf("invalid Azure storage credentials: %w", err)
		}
		credential = shared
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	return &AzureStore{
		blobURL: azblob.NewBlockBlobURL(*parsedURL, pipeline),
		display: fmt.Sprintf("azblob://%s/%s", account, loc.Path),
	}, nil
}

func (s *AzureStore) Load(ctx context.Context) (types.Store, error) {
	response, err := s.blobURL.Download(ctx, 0, azblob.CountToEnd,
		azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		var stgErr azblob.StorageError
		if errors.As(err, &stgErr) && stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", s.display, err)
	}

	body := response.Body(azblob.RetryReaderOptions{MaxRetryRequests: 3})
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.display, err)
	}
	return decodeStore(data)
}

func (s *AzureStore) Save(ctx context.Context, store types.Store) error {
	data, err := encodeStore(store)
	if err != nil {
		return err
	}
	_, err = azblob.UploadBufferToBlockBlob(ctx, data, s.blobURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{ContentType: "application/json"},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.display, err)
	}
	return nil
}

func (s *AzureStore) Location() string {
	return s.display
}

func (s *AzureStore) Close() error {
	return nil
}
