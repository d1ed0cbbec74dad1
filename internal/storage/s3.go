package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/bleepstore/bleepdrive/internal/config"
	drverr "github.com/bleepstore/bleepdrive/internal/errors"
	"github.com/bleepstore/bleepdrive/internal/signer"
)

// S3API is the subset of the AWS S3 client the adapter uses. It allows
// mocking in tests.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// S3PresignAPI is the subset of s3.PresignClient the adapter uses.
type S3PresignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Storage implements Storage on Amazon S3 and S3-compatible services.
type S3Storage struct {
	bucket    string
	region    string
	endpoint  string
	secure    bool
	pathStyle bool
	// internal keeps public URLs on the regional AWS host while the SDK
	// talks to endpoint.
	internal bool

	client    S3API
	presigner S3PresignAPI
}

// NewS3Storage builds the AWS SDK client for cfg. Static credentials are
// used when key and secret are set; otherwise the default credential chain
// applies (env vars, ~/.aws/credentials, IAM role).
func NewS3Storage(ctx context.Context, cfg config.DiskConfig) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.Key != "" && cfg.Secret != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := endpointURL(cfg.Endpoint, cfg.IsSecure())
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.PathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	// Presigned URLs of an internal disk point at the public regional host.
	presignClient := client
	if cfg.Internal {
		presignClient = s3.NewFromConfig(awsCfg)
	}

	s := &S3Storage{
		bucket:    cfg.Bucket,
		region:    region,
		endpoint:  cfg.Endpoint,
		secure:    cfg.IsSecure(),
		pathStyle: cfg.PathStyle,
		internal:  cfg.Internal,
		client:    client,
		presigner: s3.NewPresignClient(presignClient),
	}

	slog.Info("s3 disk initialized", "bucket", cfg.Bucket, "region", region, "endpoint", cfg.Endpoint)
	return s, nil
}

// NewS3StorageWithClient creates an S3Storage with pre-configured clients.
// This is primarily used for testing with mock clients.
func NewS3StorageWithClient(cfg config.DiskConfig, client S3API, presigner S3PresignAPI) *S3Storage {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return &S3Storage{
		bucket:    cfg.Bucket,
		region:    region,
		endpoint:  cfg.Endpoint,
		secure:    cfg.IsSecure(),
		pathStyle: cfg.PathStyle,
		internal:  cfg.Internal,
		client:    client,
		presigner: presigner,
	}
}

// Driver implements Storage.
func (s *S3Storage) Driver() string { return DriverS3 }

// Exists implements Storage.
func (s *S3Storage) Exists(ctx context.Context, location string) (*ExistsResponse, error) {
	out, err := s.headObject(ctx, "exists", location)
	if err != nil {
		if drverr.IsNotFound(err) {
			return &ExistsResponse{Exists: false, Raw: errors.Unwrap(err)}, nil
		}
		return nil, err
	}
	return &ExistsResponse{Exists: true, Raw: out}, nil
}

// headObject runs HeadObject. A HEAD response has no body, so a missing
// bucket and a missing key both arrive as a bare 404 NotFound. On a 404 the
// bucket is checked and a missing one is reported as NoSuchBucket.
func (s *S3Storage) headObject(ctx context.Context, op, location string) (*s3.HeadObjectOutput, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err == nil {
		return out, nil
	}
	c := classifyS3Error(err)
	if c.Kind == drverr.KindFileNotFound {
		_, berr := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		if berr != nil && classifyS3Error(berr).Kind == drverr.KindFileNotFound {
			return nil, drverr.Unknown(op, location, "NoSuchBucket", fmt.Errorf("s3: bucket %s does not exist: %w", s.bucket, err))
		}
	}
	return nil, drverr.Classify(op, location, c, err)
}

// Get implements Storage.
func (s *S3Storage) Get(ctx context.Context, location, encoding string) (*ContentResponse[string], error) {
	return getFromBuffer(ctx, s, location, encoding)
}

// GetBuffer implements Storage.
func (s *S3Storage) GetBuffer(ctx context.Context, location string) (*ContentResponse[[]byte], error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return nil, s.wrap("getBuffer", location, err)
	}
	data, err := readAllClose(out.Body)
	if err != nil {
		return nil, drverr.Unknown("getBuffer", location, "", fmt.Errorf("reading object body: %w", err))
	}
	return &ContentResponse[[]byte]{Content: data, Raw: out}, nil
}

// GetStream implements Storage.
func (s *S3Storage) GetStream(ctx context.Context, location string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	})
	if err != nil {
		return nil, s.wrap("getStream", location, err)
	}
	return out.Body, nil
}

// Put implements Storage. Non-seekable content is buffered so the SDK can
// compute the payload length and checksum.
func (s *S3Storage) Put(ctx context.Context, location string, content io.Reader, opts *PutOptions) (*Response, error) {
	body, size, err := seekableBody(content, opts.size())
	if err != nil {
		return nil, drverr.Unknown("put", location, "", fmt.Errorf("reading content: %w", err))
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(location),
		Body:          body,
		ContentLength: aws.Int64(size),
		Metadata:      opts.metadata(),
	}
	if ct := opts.contentType(); ct != "" {
		input.ContentType = aws.String(ct)
	}
	if cc := opts.cacheControl(); cc != "" {
		input.CacheControl = aws.String(cc)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return nil, s.wrap("put", location, err)
	}
	return &Response{Raw: out}, nil
}

// Delete implements Storage.
func (s *S3Storage) Delete(ctx context.Context, location string, opts *DeleteOptions) (*Response, error) {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	}
	if v := opts.versionID(); v != "" {
		input.VersionId = aws.String(v)
	}
	out, err := s.client.DeleteObject(ctx, input)
	if err != nil {
		c := classifyS3Error(err)
		if c.Kind == drverr.KindFileNotFound {
			return &Response{Raw: err}, nil
		}
		return nil, drverr.Classify("delete", location, c, err)
	}
	return &Response{Raw: out}, nil
}

// Copy implements Storage. The source is addressed as "bucket/key".
func (s *S3Storage) Copy(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	input := &s3.CopyObjectInput{
		Bucket:     aws.String(opts.destBucket(s.bucket)),
		Key:        aws.String(dest),
		CopySource: aws.String(s.bucket + "/" + signer.URIEncode(src, false)),
	}
	if ct, md := opts.contentType(), opts.metadata(); ct != "" || md != nil {
		input.MetadataDirective = types.MetadataDirectiveReplace
		input.Metadata = md
		if ct != "" {
			input.ContentType = aws.String(ct)
		}
	}
	out, err := s.client.CopyObject(ctx, input)
	if err != nil {
		return nil, s.wrap("copy", src, err)
	}
	return &Response{Raw: out}, nil
}

// Move implements Storage.
func (s *S3Storage) Move(ctx context.Context, src, dest string, opts *CopyOptions) (*Response, error) {
	return MoveObject(ctx, s, src, dest, opts)
}

// GetURL implements Storage.
//
//	default:    {proto}://{bucket}.s3.{region}.amazonaws.com/{location}
//	endpoint:   {proto}://{bucket}.{endpointHost}/{location}
//	path style: {proto}://{endpointHost}/{bucket}/{location}
func (s *S3Storage) GetURL(location string) string {
	proto := protocol(s.secure)
	if s.endpoint == "" || s.internal {
		return fmt.Sprintf("%s://%s.s3.%s.amazonaws.com/%s", proto, s.bucket, s.region, location)
	}
	host := endpointHost(s.endpoint)
	if s.pathStyle {
		return fmt.Sprintf("%s://%s/%s/%s", proto, host, s.bucket, location)
	}
	return fmt.Sprintf("%s://%s.%s/%s", proto, s.bucket, host, location)
}

// GetSignedURL implements Storage using SigV4 query presigning.
func (s *S3Storage) GetSignedURL(ctx context.Context, location string, opts *SignedURLOptions) (*SignedURLResponse, error) {
	expires := func(o *s3.PresignOptions) { o.Expires = opts.expiry() }

	var (
		req *v4.PresignedHTTPRequest
		err error
	)
	if opts.method() == http.MethodPut {
		input := &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(location),
		}
		if ct := opts.contentTypeValue(); ct != "" {
			input.ContentType = aws.String(ct)
		}
		req, err = s.presigner.PresignPutObject(ctx, input, expires)
	} else {
		input := &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(location),
		}
		if ct := opts.contentTypeValue(); ct != "" {
			input.ResponseContentType = aws.String(ct)
		}
		if cd := opts.contentDisposition(); cd != "" {
			input.ResponseContentDisposition = aws.String(cd)
		}
		req, err = s.presigner.PresignGetObject(ctx, input, expires)
	}
	if err != nil {
		return nil, s.wrap("getSignedUrl", location, err)
	}
	return &SignedURLResponse{SignedURL: req.URL, Raw: req}, nil
}

// GetStat implements Storage.
func (s *S3Storage) GetStat(ctx context.Context, location string) (*StatResponse, error) {
	out, err := s.headObject(ctx, "getStat", location)
	if err != nil {
		return nil, err
	}
	return &StatResponse{
		Size:     aws.ToInt64(out.ContentLength),
		Modified: aws.ToTime(out.LastModified),
		Raw:      out,
	}, nil
}

// Bucket implements Storage. The returned handle shares the SDK clients.
func (s *S3Storage) Bucket(name string) (Storage, error) {
	if err := checkBucketName(name); err != nil {
		return nil, err
	}
	b := *s
	b.bucket = name
	return &b, nil
}

func (s *S3Storage) wrap(op, location string, err error) error {
	return drverr.Classify(op, location, classifyS3Error(err), err)
}

// classifyS3Error inspects smithy API errors, typed S3 errors and the HTTP
// response status.
func classifyS3Error(err error) drverr.Classification {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return drverr.Classification{Kind: drverr.KindFileNotFound, Code: "NoSuchKey"}
	}

	var code string
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
	}

	var status int
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	return classifyResponse(status, code)
}

// seekableBody returns content as an io.ReadSeeker along with its length.
// Readers that already seek are used in place.
func seekableBody(content io.Reader, declared int64) (io.ReadSeeker, int64, error) {
	if rs, ok := content.(io.ReadSeeker); ok {
		if declared >= 0 {
			return rs, declared, nil
		}
		cur, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, 0, err
		}
		end, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, err
		}
		if _, err := rs.Seek(cur, io.SeekStart); err != nil {
			return nil, 0, err
		}
		return rs, end - cur, nil
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

var _ Storage = (*S3Storage)(nil)
