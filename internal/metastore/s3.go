package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/keithlinneman/linnemanlabs-damproxy/internal/xerrors"
)

// maxRecordSize bounds one metadata object.
const maxRecordSize = 1 << 20

// S3API is the subset of the S3 client used here.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store reads records stored as JSON objects at s3://{Bucket}/{Prefix}/{key}.json.
// The key's leading slash is dropped.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

func NewS3Store(client S3API, bucket, prefix string) (*S3Store, error) {
	if client == nil {
		return nil, xerrors.New("metastore: S3 client is required")
	}
	if bucket == "" {
		return nil, xerrors.New("metastore: S3 bucket is required")
	}
	return &S3Store{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3Store) objectKey(key string) string {
	k := strings.TrimPrefix(key, "/") + ".json"
	if s.prefix != "" {
		return s.prefix + "/" + k
	}
	return k
}

func (s *S3Store) Lookup(ctx context.Context, key string) (Record, bool, error) {
	objKey := s.objectKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, xerrors.Wrapf(err, "get S3 object s3://%s/%s", s.bucket, objKey)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxRecordSize+1))
	if err != nil {
		return nil, false, xerrors.Wrapf(err, "read S3 object s3://%s/%s", s.bucket, objKey)
	}
	if len(data) > maxRecordSize {
		return nil, false, xerrors.Newf("S3 object s3://%s/%s exceeds %d bytes", s.bucket, objKey, maxRecordSize)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, false, xerrors.Wrapf(err, "decode S3 object s3://%s/%s", s.bucket, objKey)
	}
	return rec, true, nil
}

// decodeRecord accepts a flat JSON object; nulls are absent, non-string
// scalars are kept as their JSON text.
func decodeRecord(data []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	rec := make(Record, len(raw))
	for name, v := range raw {
		s := strings.TrimSpace(string(v))
		switch {
		case s == "null":
		case strings.HasPrefix(s, `"`):
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				return nil, err
			}
			rec[name] = str
		case strings.HasPrefix(s, "{"), strings.HasPrefix(s, "["):
			return nil, xerrors.Newf("property %s is not a scalar", name)
		default:
			rec[name] = s
		}
	}
	return rec, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
