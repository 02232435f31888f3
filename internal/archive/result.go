package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/lucasew/gharun/internal/retrieve"
)

const imagesIndex = "images.json"

// Config selects a storage backend.
type Config struct {
	// Type is "local" or "minio".
	Type  string
	Path  string
	Minio MinioConfig
}

// Open builds the storage named by cfg.Type.
func Open(cfg Config) (Storage, error) {
	switch cfg.Type {
	case "local", "":
		if cfg.Path == "" {
			return nil, errors.New("archive path is required")
		}
		return NewLocalStorage(cfg.Path), nil
	case "minio":
		return NewMinioStorage(cfg.Minio)
	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Type)
	}
}

// SaveResult stores the outputs and the image name list under key.
func SaveResult(ctx context.Context, s Storage, key string, res *retrieve.Result) error {
	if err := s.Save(ctx, key, retrieve.OutputFile, strings.NewReader(res.OutputText)); err != nil {
		return err
	}
	if err := s.Save(ctx, key, retrieve.ErrorFile, strings.NewReader(res.ErrorText)); err != nil {
		return err
	}
	images := res.Images
	if images == nil {
		images = []string{}
	}
	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("encode image list: %w", err)
	}
	return s.Save(ctx, key, imagesIndex, bytes.NewReader(data))
}

// LoadResult reads back what SaveResult stored.
func LoadResult(ctx context.Context, s Storage, key string) (*retrieve.Result, error) {
	output, err := readAll(ctx, s, key, retrieve.OutputFile)
	if err != nil {
		return nil, err
	}
	errText, err := readAll(ctx, s, key, retrieve.ErrorFile)
	if err != nil {
		return nil, err
	}
	index, err := readAll(ctx, s, key, imagesIndex)
	if err != nil {
		return nil, err
	}

	res := &retrieve.Result{OutputText: string(output), ErrorText: string(errText)}
	if err := json.Unmarshal(index, &res.Images); err != nil {
		return nil, fmt.Errorf("decode image list: %w", err)
	}
	return res, nil
}

func readAll(ctx context.Context, s Storage, key, name string) ([]byte, error) {
	rc, err := s.Get(ctx, key, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", key, name, err)
	}
	return data, nil
}
