package mrpfs

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/mattetti/filebuffer"
)

// S3FileSystem abstracts AWS S3 as a filesystem. Paths take the form
// s3://bucket/key.
type S3FileSystem struct {
	s3Client s3iface.S3API
}

func parseS3URI(uri string) (*url.URL, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "s3" {
		return nil, fmt.Errorf("invalid s3 uri %q", uri)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("s3 uri %q has no bucket", uri)
	}
	parsed.Path = strings.TrimPrefix(parsed.Path, "/")
	return parsed, nil
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

// ListFiles lists all objects whose key matches the glob in filePath.
func (s *S3FileSystem) ListFiles(pathGlob string) ([]FileInfo, error) {
	s3Files := make([]FileInfo, 0)

	parsed, err := parseS3URI(pathGlob)
	if err != nil {
		return nil, err
	}

	// The listing prefix is the longest literal prefix of the key
	hasGlob := strings.ContainsAny(parsed.Path, "*?[\\")
	globPrefix := parsed.Path
	if idx := strings.IndexAny(globPrefix, "*?[\\"); idx >= 0 {
		globPrefix = globPrefix[:idx]
	}

	params := &s3.ListObjectsV2Input{
		Bucket: aws.String(parsed.Host),
		Prefix: aws.String(globPrefix),
	}

	var matchErr error
	err = s.s3Client.ListObjectsV2Pages(params,
		func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, object := range page.Contents {
				key := aws.StringValue(object.Key)
				if hasGlob {
					match, err := path.Match(parsed.Path, key)
					if err != nil {
						matchErr = err
						return false
					}
					if !match {
						continue
					}
				}
				s3Files = append(s3Files, FileInfo{
					Name: fmt.Sprintf("s3://%s/%s", parsed.Host, key),
					Size: aws.Int64Value(object.Size),
				})
			}
			return true
		})
	if matchErr != nil {
		return nil, matchErr
	}

	return s3Files, err
}

// OpenReader opens a reader on the object at filePath.
func (s *S3FileSystem) OpenReader(filePath string) (io.ReadCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}

	output, err := s.s3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(parsed.Path),
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("%s: %w", filePath, ErrNotExist)
	} else if err != nil {
		return nil, err
	}
	return output.Body, nil
}

// OpenWriter opens a writer to the object at filePath. The object is
// uploaded when the writer is closed.
func (s *S3FileSystem) OpenWriter(filePath string) (io.WriteCloser, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return nil, err
	}

	writer := &s3Writer{
		client: s.s3Client,
		bucket: parsed.Host,
		key:    parsed.Path,
		buf:    filebuffer.New([]byte{}),
	}
	return writer, nil
}

// Stat returns information about the object at filePath.
func (s *S3FileSystem) Stat(filePath string) (FileInfo, error) {
	parsed, err := parseS3URI(filePath)
	if err != nil {
		return FileInfo{}, err
	}

	head, err := s.s3Client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(parsed.Host),
		Key:    aws.String(parsed.Path),
	})
	if isNotFound(err) {
		return FileInfo{}, fmt.Errorf("%s: %w", filePath, ErrNotExist)
	} else if err != nil {
		return FileInfo{}, err
	}

	return FileInfo{
		Name: filePath,
		Size: aws.Int64Value(head.ContentLength),
	}, nil
}

// Init initializes the filesystem.
func (s *S3FileSystem) Init() error {
	os.Setenv("AWS_SDK_LOAD_CONFIG", "true")
	sess, err := session.NewSession()
	if err != nil {
		return err
	}
	s.s3Client = s3.New(sess)
	return nil
}

// Join joins file path elements. The first element keeps its s3:// scheme.
func (s *S3FileSystem) Join(elem ...string) string {
	if len(elem) == 0 {
		return ""
	}
	if strings.HasPrefix(elem[0], "s3://") {
		rest := append([]string{strings.TrimPrefix(elem[0], "s3://")}, elem[1:]...)
		return "s3://" + path.Join(rest...)
	}
	return path.Join(elem...)
}
