package bulk

import (
	"context"
	"fmt"
	"io"

	"github.com/pithecene-io/taskmanager/archive"
)

// ArchiveResult counts definitions written or read.
type ArchiveResult struct {
	Configurations int `json:"configurations"`
	Batches        int `json:"batches"`
}

// Export writes every configuration and batch to w as an archive.
func (s *Service) Export(ctx context.Context, w io.Writer) (ArchiveResult, error) {
	var res ArchiveResult

	cfgs, err := s.store.ListConfigurations(ctx)
	if err != nil {
		return res, fmt.Errorf("list configurations: %w", err)
	}
	batches, err := s.store.ListBatches(ctx)
	if err != nil {
		return res, fmt.Errorf("list batches: %w", err)
	}

	aw, err := archive.NewWriter(w, s.now())
	if err != nil {
		return res, err
	}
	for _, cfg := range cfgs {
		if err := aw.WriteConfiguration(cfg); err != nil {
			return res, fmt.Errorf("export configuration %s: %w", cfg.Name, err)
		}
		res.Configurations++
	}
	for _, b := range batches {
		if err := aw.WriteBatch(b); err != nil {
			return res, fmt.Errorf("export batch %s: %w", b.Name, err)
		}
		res.Batches++
	}

	s.logger.Info("exported definitions", map[string]any{
		"configurations": res.Configurations,
		"batches":        res.Batches,
	})
	return res, nil
}

// Import reads an archive from r and saves its contents, replacing
// definitions with the same name. The archive is decoded completely before
// anything is saved.
func (s *Service) Import(ctx context.Context, r io.Reader) (ArchiveResult, error) {
	var res ArchiveResult

	contents, err := archive.Read(r)
	if err != nil {
		return res, fmt.Errorf("read archive: %w", err)
	}
	for _, cfg := range contents.Configurations {
		if err := s.store.SaveConfiguration(ctx, cfg); err != nil {
			return res, fmt.Errorf("import configuration %s: %w", cfg.Name, err)
		}
		res.Configurations++
	}
	for _, b := range contents.Batches {
		if err := s.store.SaveBatch(ctx, b); err != nil {
			return res, fmt.Errorf("import batch %s: %w", b.Name, err)
		}
		res.Batches++
	}

	s.logger.Info("imported archive", map[string]any{
		"contract_version": contents.Header.ContractVersion,
		"exported_at":      contents.Header.ExportedAt,
		"configurations":   res.Configurations,
		"batches":          res.Batches,
	})
	return res, nil
}
