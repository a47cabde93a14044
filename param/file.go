package param

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pithecene-io/taskmanager/fileservice"
	"github.com/pithecene-io/taskmanager/types"
)

// existsTimeout bounds the existence check a file parameter performs
// during validation.
const existsTimeout = 10 * time.Second

// FileService accepts the name of a registered file service.
type FileService struct {
	services *fileservice.Registry
}

var _ types.ParameterType = FileService{}

// NewFileService creates a file service type over services.
func NewFileService(services *fileservice.Registry) FileService {
	return FileService{services: services}
}

// Name implements types.ParameterType.
func (FileService) Name() string { return NameFileService }

// Domain implements types.ParameterType.
func (f FileService) Domain([]string) []string { return f.services.Names() }

// Validate implements types.ParameterType.
func (f FileService) Validate(value string, _ []string) bool {
	_, err := f.services.Get(value)
	return err == nil
}

// Parse implements types.ParameterType. Returns fileservice.Service.
func (f FileService) Parse(value string, _ []string) (any, error) {
	return f.services.Get(value)
}

// FileRef is the parsed value of a file parameter.
type FileRef struct {
	Service fileservice.Service
	Path    string
}

// String returns service:path.
func (r FileRef) String() string {
	return r.Service.Name() + ":" + r.Path
}

// File accepts a path within the file service named by its dependency.
// With MustExist set the file must already exist.
type File struct {
	services  *fileservice.Registry
	mustExist bool
}

var _ types.ParameterType = File{}

// NewFile creates a file type over services.
func NewFile(services *fileservice.Registry, mustExist bool) File {
	return File{services: services, mustExist: mustExist}
}

// Name implements types.ParameterType.
func (File) Name() string { return NameFile }

// Domain implements types.ParameterType. Lists the files of the service.
func (f File) Domain(deps []string) []string {
	svc, err := f.services.Get(first(deps))
	if err != nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), existsTimeout)
	defer cancel()
	paths, err := svc.List(ctx, "")
	if err != nil {
		return nil
	}
	return paths
}

// Validate implements types.ParameterType.
func (f File) Validate(value string, deps []string) bool {
	_, err := f.Parse(value, deps)
	return err == nil
}

// Parse implements types.ParameterType. Returns FileRef.
func (f File) Parse(value string, deps []string) (any, error) {
	if strings.TrimSpace(value) == "" {
		return nil, errors.New("empty file path")
	}
	svc, err := f.services.Get(first(deps))
	if err != nil {
		return nil, err
	}
	if f.mustExist {
		ctx, cancel := context.WithTimeout(context.Background(), existsTimeout)
		defer cancel()
		ok, err := svc.Exists(ctx, value)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s:%s", fileservice.ErrFileNotFound, svc.Name(), value)
		}
	}
	return FileRef{Service: svc, Path: value}, nil
}
