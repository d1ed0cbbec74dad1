package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
)

// errAzureNoSharedKey is returned when SAS signing is requested from a
// client that was not built with a shared key credential.
var errAzureNoSharedKey = errors.New("azure: SAS signing requires a shared key credential")

// realAzureClient wraps the official Azure SDK client to satisfy AzureBlobAPI.
type realAzureClient struct {
	client *azblob.Client
	// cred is nil unless the client authenticates with a shared key.
	cred *azblob.SharedKeyCredential
}

// newRealAzureClient creates an Azure Blob client. A connection string wins,
// then an account name and key pair, and finally DefaultAzureCredential
// (env vars, managed identity, Azure CLI).
func newRealAzureClient(accountURL, connectionString, accountName, accountKey string) (*realAzureClient, error) {
	if connectionString != "" {
		client, err := azblob.NewClientFromConnectionString(connectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client from connection string: %w", err)
		}
		return &realAzureClient{client: client}, nil
	}

	if accountName != "" && accountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
		if err != nil {
			return nil, fmt.Errorf("creating Azure shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(accountURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("creating Azure Blob client with shared key: %w", err)
		}
		return &realAzureClient{client: client, cred: cred}, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure credential: %w", err)
	}
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating Azure Blob client: %w", err)
	}
	return &realAzureClient{client: client}, nil
}

func (c *realAzureClient) blobClient(containerName, blobName string) *blob.Client {
	return c.client.ServiceClient().NewContainerClient(containerName).NewBlobClient(blobName)
}

func (c *realAzureClient) GetProperties(ctx context.Context, containerName, blobName string) (*AzureBlobProps, error) {
	resp, err := c.blobClient(containerName, blobName).GetProperties(ctx, nil)
	if err != nil {
		return nil, err
	}
	props := &AzureBlobProps{
		Size:                  derefInt64(resp.ContentLength),
		ContentType:           derefString(resp.ContentType),
		Modified:              derefTime(resp.LastModified),
		CopyStatusDescription: derefString(resp.CopyStatusDescription),
	}
	if resp.CopyStatus != nil {
		props.CopyStatus = string(*resp.CopyStatus)
	}
	return props, nil
}

func (c *realAzureClient) DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, *AzureBlobProps, error) {
	resp, err := c.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, nil, err
	}
	return resp.Body, &AzureBlobProps{
		Size:        derefInt64(resp.ContentLength),
		ContentType: derefString(resp.ContentType),
		Modified:    derefTime(resp.LastModified),
	}, nil
}

func (c *realAzureClient) UploadStream(ctx context.Context, containerName, blobName string, body io.Reader, attrs AzureUploadAttrs) error {
	opts := &azblob.UploadStreamOptions{Metadata: toAzureMetadata(attrs.Metadata)}
	if attrs.ContentType != "" || attrs.CacheControl != "" {
		headers := &blob.HTTPHeaders{}
		if attrs.ContentType != "" {
			headers.BlobContentType = &attrs.ContentType
		}
		if attrs.CacheControl != "" {
			headers.BlobCacheControl = &attrs.CacheControl
		}
		opts.HTTPHeaders = headers
	}
	_, err := c.client.UploadStream(ctx, containerName, blobName, body, opts)
	return err
}

func (c *realAzureClient) DeleteBlob(ctx context.Context, containerName, blobName string) error {
	_, err := c.client.DeleteBlob(ctx, containerName, blobName, nil)
	return err
}

// CopyBlob starts a server-side copy. The source URL carries a short-lived
// read SAS when a shared key is available so private containers work.
func (c *realAzureClient) CopyBlob(ctx context.Context, srcContainer, srcBlob, dstContainer, dstBlob string, metadata map[string]string) (string, error) {
	sourceURL := c.blobClient(srcContainer, srcBlob).URL()
	if c.cred != nil {
		signed, err := c.SignedURL(srcContainer, srcBlob, AzureSASOptions{
			Read:   true,
			Expiry: time.Now().Add(time.Hour),
		})
		if err != nil {
			return "", err
		}
		sourceURL = signed
	}
	resp, err := c.blobClient(dstContainer, dstBlob).StartCopyFromURL(ctx, sourceURL, &blob.StartCopyFromURLOptions{
		Metadata: toAzureMetadata(metadata),
	})
	if err != nil {
		return "", err
	}
	if resp.CopyStatus == nil {
		return "", nil
	}
	return string(*resp.CopyStatus), nil
}

func (c *realAzureClient) SignedURL(containerName, blobName string, opts AzureSASOptions) (string, error) {
	if c.cred == nil {
		return "", errAzureNoSharedKey
	}
	perms := sas.BlobPermissions{Read: opts.Read, Write: opts.Write, Create: opts.Write}
	values := sas.BlobSignatureValues{
		Protocol:           sas.ProtocolHTTPS,
		StartTime:          time.Now().UTC().Add(-5 * time.Minute),
		ExpiryTime:         opts.Expiry.UTC(),
		Permissions:        perms.String(),
		ContainerName:      containerName,
		BlobName:           blobName,
		ContentType:        opts.ContentType,
		ContentDisposition: opts.ContentDisposition,
	}
	qp, err := values.SignWithSharedKey(c.cred)
	if err != nil {
		return "", err
	}
	return c.blobClient(containerName, blobName).URL() + "?" + qp.Encode(), nil
}

func toAzureMetadata(md map[string]string) map[string]*string {
	if md == nil {
		return nil
	}
	out := make(map[string]*string, len(md))
	for k, v := range md {
		v := v
		out[k] = &v
	}
	return out
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefTime(p *time.Time) time.Time {
	if p == nil {
		return time.Time{}
	}
	return *p
}
