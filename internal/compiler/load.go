package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/intenthost/internal/core"
)

// Load error codes, shared with the CLI.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeNoDomain    = "E007" // Requested domain not declared
)

// LoadError is a failure to turn CUE files on disk into schemas.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load compiles every domain found at path. path is either a single .cue
// file or a directory whose .cue files form one package.
func Load(path string) ([]*core.Schema, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema path not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing schema path: %v", err)}
	}

	var (
		dir  string
		args []string
	)
	if info.IsDir() {
		files, err := FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
		dir, args = path, []string{"."}
	} else {
		if filepath.Ext(path) != ".cue" {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("not a CUE file: %s", path)}
		}
		dir, args = filepath.Dir(path), []string{filepath.Base(path)}
	}

	instances := load.Instances(args, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	ctx := cuecontext.New()
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
	}
	return CompileAll(value)
}

// LoadDomain loads path and returns the domain named id. An empty id is
// accepted when exactly one domain is declared.
func LoadDomain(path, id string) (*core.Schema, error) {
	schemas, err := Load(path)
	if err != nil {
		return nil, err
	}

	if id == "" {
		if len(schemas) == 1 {
			return schemas[0], nil
		}
		return nil, &LoadError{
			Code:    ErrCodeNoDomain,
			Message: fmt.Sprintf("%d domains declared, choose one of: %s", len(schemas), strings.Join(domainIDs(schemas), ", ")),
		}
	}
	for _, s := range schemas {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, &LoadError{
		Code:    ErrCodeNoDomain,
		Message: fmt.Sprintf("domain %q not declared (have: %s)", id, strings.Join(domainIDs(schemas), ", ")),
	}
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func domainIDs(schemas []*core.Schema) []string {
	ids := make([]string, len(schemas))
	for i, s := range schemas {
		ids[i] = s.ID
	}
	return ids
}
