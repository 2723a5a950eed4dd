package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// permanentCodes are service errors that retrying cannot fix.
var permanentCodes = []bloberror.Code{
	bloberror.AuthenticationFailed,
	bloberror.AuthorizationFailure,
	bloberror.AuthorizationPermissionMismatch,
	bloberror.ContainerNotFound,
	bloberror.InvalidQueryParameterValue,
}

// AzureContainer is a Container backed by an Azure Blob Storage container.
type AzureContainer struct {
	client *container.Client
	ref    ContainerRef
}

// NewAzureContainer builds a client for ref using its SAS credential.
// The SDK's own retry policy is disabled; retries belong to the caller.
func NewAzureContainer(ref ContainerRef) (*AzureContainer, error) {
	u := ref.Endpoint + "/" + ref.Container
	if ref.Credential != "" {
		u += "?" + ref.Credential
	}
	client, err := container.NewClientWithNoCredential(u, &container.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: -1},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("azure container %s: %w", ref, err)
	}
	return &AzureContainer{client: client, ref: ref}, nil
}

// List implements Container.
func (c *AzureContainer) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	pager := c.client.NewListBlobsFlatPager(&container.ListBlobsFlatOptions{Prefix: &prefix})

	var out []ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, c.classify("list", "", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := ObjectInfo{Name: *item.Name}
			if p := item.Properties; p != nil {
				if p.CreationTime != nil {
					info.Created = *p.CreationTime
				}
				if p.ContentLength != nil {
					info.Size = *p.ContentLength
				}
			}
			out = append(out, info)
		}
	}
	return out, nil
}

// Open implements Container.
func (c *AzureContainer) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	resp, err := c.client.NewBlobClient(name).DownloadStream(ctx, nil)
	if err != nil {
		return nil, c.classify("download", name, err)
	}
	return resp.Body, nil
}

// Upload implements Container.
func (c *AzureContainer) Upload(ctx context.Context, name string, r io.Reader) error {
	if _, err := c.client.NewBlockBlobClient(name).UploadStream(ctx, r, nil); err != nil {
		return c.classify("upload", name, err)
	}
	return nil
}

// classify maps an SDK error onto this package's error types.
func (c *AzureContainer) classify(op, name string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case bloberror.HasCode(err, bloberror.BlobNotFound):
		return &NotFoundError{Name: name}
	case bloberror.HasCode(err, permanentCodes...):
		return fmt.Errorf("%s %s: %w", op, c.ref, err)
	default:
		return &TransientFetchError{Op: op, Name: name, Err: err}
	}
}
