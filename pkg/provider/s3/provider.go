package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"

	"github.com/3leaps/nimbusfs/pkg/provider"
)

// Provider implements provider.Provider for AWS S3 and S3-compatible storage.
//
// Directories are "/"-delimited key prefixes. MakeDir writes an empty
// "<dir>/" marker object so that empty directories survive; listing hides the
// marker. S3 has no rename, so Provider deliberately does not implement
// provider.Renamer and moves fall back to copy plus delete.
type Provider struct {
	client    *s3.Client
	bucket    string
	prefix    string
	maxKeys   int
	limiter   *rate.Limiter
	chunkSize int
	spoolMem  int64
	tempDir   string
}

// Ensure Provider implements the interfaces.
var (
	_ provider.Provider         = (*Provider)(nil)
	_ provider.Remover          = (*Provider)(nil)
	_ provider.ContainerRemover = (*Provider)(nil)
	_ provider.DirMaker         = (*Provider)(nil)
	_ provider.ServerCopier     = (*Provider)(nil)
)

// New creates a new S3 provider with the given configuration.
//
// The provider uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &provider.ProviderError{
			Op:       "New",
			Provider: provider.ProviderS3,
			Path:     cfg.Bucket,
			Err:      err,
		}
	}

	// Build S3 client options
	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	return newWithClient(client, cfg), nil
}

func newWithClient(client *s3.Client, cfg Config) *Provider {
	return &Provider{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		maxKeys:   clampMaxKeys(cfg.MaxKeys, DefaultMaxKeys),
		limiter:   provider.NewLimiter(cfg.BandwidthLimit),
		chunkSize: cfg.ChunkSize,
		spoolMem:  cfg.SpoolMaxMemoryBytes,
		tempDir:   cfg.TempDir,
	}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if user set one in config.
	// Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Set profile if specified
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Apply region defaulting logic
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// Stat returns metadata for an object, or a directory entry when the path is
// a non-empty prefix or has a directory marker.
func (p *Provider) Stat(ctx context.Context, name string) (*provider.Entry, error) {
	key := p.key(name)
	if key == p.prefix {
		return &provider.Entry{IsDir: true}, nil
	}

	out, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return &provider.Entry{
			Name:    path.Base(key),
			Size:    aws.ToInt64(out.ContentLength),
			ModTime: aws.ToTime(out.LastModified),
		}, nil
	}
	if wrapped := p.wrapError("Stat", name, err); !provider.IsNotFound(wrapped) {
		return nil, wrapped
	}

	list, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, p.wrapError("Stat", name, err)
	}
	if len(list.Contents) == 0 && len(list.CommonPrefixes) == 0 {
		return nil, &provider.ProviderError{Op: "Stat", Provider: provider.ProviderS3, Path: name, Err: provider.ErrNotFound}
	}
	return &provider.Entry{Name: path.Base(key), IsDir: true}, nil
}

// List returns the objects and sub-prefixes directly under dir.
func (p *Provider) List(ctx context.Context, dir string) ([]provider.Entry, error) {
	dirKey := p.key(dir)
	listPrefix := ""
	if dirKey != "" {
		listPrefix = dirKey + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(p.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(p.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
		MaxKeys:   aws.Int32(int32(p.maxKeys)),
	})

	var entries []provider.Entry
	sawMarker := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, p.wrapError("List", dir, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if key == listPrefix {
				sawMarker = true
				continue
			}
			entries = append(entries, provider.Entry{
				Name:    strings.TrimPrefix(key, listPrefix),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), listPrefix), "/")
			if name == "" {
				continue
			}
			entries = append(entries, provider.Entry{Name: name, IsDir: true})
		}
	}

	if len(entries) == 0 && !sawMarker && dirKey != p.prefix {
		return nil, &provider.ProviderError{Op: "List", Provider: provider.ProviderS3, Path: dir, Err: provider.ErrNotFound}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Download issues a ranged GET starting at offset.
func (p *Provider) Download(ctx context.Context, name string, offset int64, w io.Writer, progress provider.ProgressFunc) (int64, error) {
	key := p.key(name)
	input := &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}

	out, err := p.client.GetObject(ctx, input)
	if err != nil {
		// Range starting at or past the end of the object.
		var apiErr smithy.APIError
		if offset > 0 && errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
			return 0, nil
		}
		return 0, p.wrapError("Download", name, err)
	}
	defer func() { _ = out.Body.Close() }()

	total := int64(-1)
	if out.ContentLength != nil {
		total = *out.ContentLength
	}
	n, err := provider.Pump(ctx, w, out.Body, provider.PumpOptions{
		Total:     total,
		Progress:  progress,
		Limiter:   p.limiter,
		ChunkSize: p.chunkSize,
	})
	if err != nil {
		return n, p.wrapError("Download", name, err)
	}
	return n, nil
}

// Upload spools r into a seekable body, then stores it with one PutObject.
// Progress reflects bytes drained from r.
func (p *Provider) Upload(ctx context.Context, name string, r io.Reader, size int64, progress provider.ProgressFunc) (int64, error) {
	key := p.key(name)
	if key == p.prefix {
		return 0, p.wrapError("Upload", name, provider.ErrIsDirectory)
	}

	body, err := spool(ctx, r, size, p.spoolMem, p.tempDir, provider.PumpOptions{
		Progress:  progress,
		Limiter:   p.limiter,
		ChunkSize: p.chunkSize,
	})
	if err != nil {
		return 0, p.wrapError("Upload", name, err)
	}
	defer func() { _ = body.Close() }()

	length := body.Size()
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          body.Reader(),
		ContentLength: &length,
	})
	if err != nil {
		return 0, p.wrapError("Upload", name, err)
	}
	return length, nil
}

// Remove deletes one object. S3 deletes are idempotent, so existence is
// checked first to report ErrNotFound.
func (p *Provider) Remove(ctx context.Context, name string) error {
	key := p.key(name)
	if _, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)}); err != nil {
		return p.wrapError("Remove", name, err)
	}
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)})
	if err != nil {
		return p.wrapError("Remove", name, err)
	}
	return nil
}

// RemoveDir deletes the directory marker once nothing else lives under it.
func (p *Provider) RemoveDir(ctx context.Context, name string) error {
	key := p.key(name)
	if key == p.prefix {
		return p.wrapError("RemoveDir", name, provider.ErrAccessDenied)
	}
	marker := key + "/"

	out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(p.bucket),
		Prefix:  aws.String(marker),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return p.wrapError("RemoveDir", name, err)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != marker {
			return p.wrapError("RemoveDir", name, provider.ErrNotEmpty)
		}
	}

	_, err = p.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(marker)})
	if err != nil {
		return p.wrapError("RemoveDir", name, err)
	}
	return nil
}

// MakeDir writes an empty "<dir>/" marker object.
func (p *Provider) MakeDir(ctx context.Context, name string) error {
	key := p.key(name)
	if key == p.prefix {
		return nil
	}
	if _, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(p.bucket), Key: aws.String(key)}); err == nil {
		return p.wrapError("MakeDir", name, provider.ErrAlreadyExists)
	}

	var zero int64
	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key + "/"),
		Body:          strings.NewReader(""),
		ContentLength: &zero,
	})
	if err != nil {
		return p.wrapError("MakeDir", name, err)
	}
	return nil
}

// CopyWithin copies an object server-side with CopyObject.
func (p *Provider) CopyWithin(ctx context.Context, from, to string) error {
	_, err := p.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.bucket),
		Key:        aws.String(p.key(to)),
		CopySource: aws.String(copySource(p.bucket, p.key(from))),
	})
	if err != nil {
		return p.wrapError("CopyWithin", from, err)
	}
	return nil
}

// Close releases any resources held by the provider.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (p *Provider) Close() error {
	return nil
}

// key maps a provider path to an object key below the configured prefix.
func (p *Provider) key(name string) string {
	clean := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(name)), "/")
	switch {
	case p.prefix == "":
		return clean
	case clean == "":
		return p.prefix
	default:
		return p.prefix + "/" + clean
	}
}

// copySource URL-encodes each key segment for the x-amz-copy-source header.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// wrapError converts S3 errors to provider errors with appropriate sentinel errors.
func (p *Provider) wrapError(op, name string, err error) error {
	wrapped := &provider.ProviderError{
		Op:       op,
		Provider: provider.ProviderS3,
		Path:     name,
		Err:      err,
	}

	if errors.Is(err, provider.ErrAborted) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrapped
	}

	// Check for specific S3 error types first
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey), errors.As(err, &noSuchBucket):
		wrapped.Err = provider.ErrNotFound
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch code {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			wrapped.Err = provider.ErrNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = provider.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			wrapped.Err = provider.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = provider.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = provider.ErrProviderUnavailable
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "NoSuchBucket") || strings.Contains(errMsg, "404"):
		wrapped.Err = provider.ErrNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = provider.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = provider.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = provider.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = provider.ErrProviderUnavailable
	}

	return wrapped
}

// clampMaxKeys applies defaults and limits to maxKeys values.
// If requested is <= 0, uses providerDefault. Result is clamped to MaxAllowedKeys.
func clampMaxKeys(requested, providerDefault int) int {
	if requested <= 0 {
		requested = providerDefault
	}
	if requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion determines the final region to use after SDK config loading.
//
// The sdkRegion parameter is the region after SDK loading, which already
// incorporates explicit cfgRegion (if set) or env/profile resolution.
//
// This function only applies the fallback default:
//   - If sdkRegion is still empty AND no custom endpoint, default to us-east-1
//   - For S3-compatible stores (endpoint set), no defaulting occurs
func resolveRegion(cfgRegion, endpoint, sdkRegion string) string {
	_ = cfgRegion
	// SDK already resolved region (from explicit config, env, or profile)
	if sdkRegion != "" {
		return sdkRegion
	}

	// Only default for AWS S3 (no custom endpoint)
	if endpoint == "" {
		return DefaultAWSRegion
	}

	// S3-compatible: no default, provider may not need region
	return ""
}
