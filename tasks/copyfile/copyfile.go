// Package copyfile provides the CopyFile task type, which copies a file
// between file services.
package copyfile

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/pithecene-io/taskmanager/fileservice"
	"github.com/pithecene-io/taskmanager/param"
	"github.com/pithecene-io/taskmanager/task"
	"github.com/pithecene-io/taskmanager/types"
)

// Name is the registered task type name.
const Name = "CopyFile"

// Parameter names.
const (
	ParamSourceService = "source_service"
	ParamSourcePath    = "source_path"
	ParamTargetService = "target_service"
	ParamTargetPath    = "target_path"
)

// Type copies source_path in source_service to target_path in
// target_service. Rollback restores the target's previous content from its
// backup, or deletes the target if it did not exist.
type Type struct {
	services *fileservice.Registry
}

var _ task.Type = (*Type)(nil)

// New creates the task type over the given file services.
func New(services *fileservice.Registry) *Type {
	return &Type{services: services}
}

// Name implements task.Type.
func (t *Type) Name() string { return Name }

// ParameterInfo implements task.Type.
func (t *Type) ParameterInfo() map[string]types.ParameterInfo {
	svc := param.NewFileService(t.services)
	return map[string]types.ParameterInfo{
		ParamSourceService: types.NewParameterInfo(ParamSourceService, svc, true),
		ParamSourcePath: types.NewParameterInfo(ParamSourcePath, param.NewFile(t.services, true), true).
			WithDependsOn(true, ParamSourceService),
		ParamTargetService: types.NewParameterInfo(ParamTargetService, svc, true),
		ParamTargetPath: types.NewParameterInfo(ParamTargetPath, param.NewFile(t.services, false), true).
			WithDependsOn(true, ParamTargetService),
	}
}

func fileParam(tc *task.Context, name string) (param.FileRef, error) {
	v, ok := tc.Param(name)
	if !ok {
		return param.FileRef{}, fmt.Errorf("%s has no value", name)
	}
	ref, ok := v.(param.FileRef)
	if !ok {
		return param.FileRef{}, fmt.Errorf("%s is %T, want a file reference", name, v)
	}
	return ref, nil
}

// copyFile streams src into dst without holding the content in memory.
func copyFile(ctx context.Context, src, dst param.FileRef) error {
	rc, err := src.Service.Read(ctx, src.Path)
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	if err := dst.Service.Create(ctx, dst.Path, rc); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// Run implements task.Type.
//
// An existing target is first copied to a backup file next to it in the
// target service; commit deletes the backup and rollback restores from it.
func (t *Type) Run(ctx context.Context, tc *task.Context) (task.Result, error) {
	src, err := fileParam(tc, ParamSourcePath)
	if err != nil {
		return nil, err
	}
	dst, err := fileParam(tc, ParamTargetPath)
	if err != nil {
		return nil, err
	}

	r := &result{target: dst}
	existed, err := dst.Service.Exists(ctx, dst.Path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dst, err)
	}
	if existed {
		backup := param.FileRef{Service: dst.Service, Path: dst.Path + "." + uuid.NewString() + ".bak"}
		if err := copyFile(ctx, dst, backup); err != nil {
			return nil, fmt.Errorf("back up %s: %w", dst, err)
		}
		r.backup = &backup
	}

	if err := copyFile(ctx, src, dst); err != nil {
		if rbErr := r.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		return nil, err
	}
	return r, nil
}

// Cleanup implements task.Type.
func (t *Type) Cleanup(context.Context, *task.Context) error { return nil }

type result struct {
	target param.FileRef
	// backup holds the previous target content; nil when the target was
	// created by the run.
	backup *param.FileRef
	done   bool
}

func (r *result) Commit(ctx context.Context) error {
	if r.done || r.backup == nil {
		r.done = true
		return nil
	}
	if err := r.backup.Service.Delete(ctx, r.backup.Path); err != nil {
		return fmt.Errorf("delete backup %s: %w", r.backup, err)
	}
	r.done = true
	return nil
}

func (r *result) Rollback(ctx context.Context) error {
	if r.done {
		return nil
	}
	if r.backup == nil {
		exists, err := r.target.Service.Exists(ctx, r.target.Path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", r.target, err)
		}
		if exists {
			if err := r.target.Service.Delete(ctx, r.target.Path); err != nil {
				return err
			}
		}
		r.done = true
		return nil
	}
	if err := copyFile(ctx, *r.backup, r.target); err != nil {
		return fmt.Errorf("restore %s: %w", r.target, err)
	}
	if err := r.backup.Service.Delete(ctx, r.backup.Path); err != nil {
		return fmt.Errorf("delete backup %s: %w", r.backup, err)
	}
	r.done = true
	return nil
}
