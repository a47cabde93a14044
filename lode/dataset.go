package lode

import (
	"context"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// NewDataset creates the journal Dataset over factory.
// The write and read paths share codec and layout.
func NewDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewReadDatasetFS creates a read Dataset with filesystem storage.
func NewReadDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewDataset(dataset, lode.NewFSFactory(rootPath))
}

// NewReadDatasetS3 creates a read Dataset with S3 storage.
func NewReadDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := NewS3StoreFactory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewDataset(dataset, factory)
}

// partitionFilter selects snapshots by Hive partition segments.
// Empty values match everything.
type partitionFilter map[string]string

// matches checks whether any file of snap lies in every filtered partition.
func (f partitionFilter) matches(snap *lode.DatasetSnapshot) bool {
	for _, file := range snap.Manifest.Files {
		ok := true
		for key, value := range f {
			if value != "" && !matchesPartitionValue(file.Path, key, value) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// matchesRecord applies the filter to record fields, which are
// authoritative over manifest paths.
func (f partitionFilter) matchesRecord(record map[string]any) bool {
	for key, value := range f {
		if value != "" && toString(record[key]) != value {
			return false
		}
	}
	return true
}

// matchesPartitionValue checks if a Hive-partitioned path contains an exact
// key=value segment. This avoids substring false positives (e.g.
// batch_run_id=br-1 matching batch_run_id=br-10).
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
