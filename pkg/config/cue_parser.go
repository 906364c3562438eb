package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"
)

// paramsPath is the top-level CUE field holding the deployment parameters.
const paramsPath = "deployment"

// computedPath is the optional top-level CUE field holding a Starlark
// script for computed parameters.
const computedPath = "computed"

// Parser parses and validates CUE deployment-parameter files.
type Parser struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewParser creates a new parameter parser.
func NewParser() *Parser {
	return &Parser{
		ctx:       cuecontext.New(),
		schemas:   NewSchemaRegistry(),
		starlark:  NewStarlarkEvaluator(30 * time.Second),
		validator: validator.New(),
	}
}

// Load parses deployment parameters from the given sources. Sources may
// be CUE files or directories; multiple sources are unified.
func (p *Parser) Load(ctx context.Context, sources []string) (*ParsedParams, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	var cueValue cue.Value
	var sourceFiles []string
	var parseErrors []ValidationError

	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		var val cue.Value
		if info.IsDir() {
			var files []string
			var errs []ValidationError
			val, files, errs = p.loadDirectory(source)
			parseErrors = append(parseErrors, errs...)
			sourceFiles = append(sourceFiles, files...)
		} else {
			var errs []ValidationError
			val, errs = p.loadFile(source)
			parseErrors = append(parseErrors, errs...)
			sourceFiles = append(sourceFiles, source)
		}

		if val.Exists() {
			if cueValue.Exists() {
				cueValue = cueValue.Unify(val)
			} else {
				cueValue = val
			}
		}
	}

	if len(parseErrors) > 0 {
		return &ParsedParams{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      parseErrors,
		}, nil
	}

	if err := cueValue.Err(); err != nil {
		return &ParsedParams{
			SourceFiles: sourceFiles,
			ParsedAt:    time.Now(),
			Errors:      p.convertCUEErrors(err),
		}, nil
	}

	return p.extract(ctx, cueValue, sourceFiles)
}

// ParseInline parses inline CUE content.
func (p *Parser) ParseInline(ctx context.Context, content string) (*ParsedParams, error) {
	val := p.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &ParsedParams{
			SourceFiles: []string{"inline"},
			ParsedAt:    time.Now(),
			Errors:      p.convertCUEErrors(err),
		}, nil
	}

	return p.extract(ctx, val, []string{"inline"})
}

// Schemas returns the schema registry.
func (p *Parser) Schemas() *SchemaRegistry {
	return p.schemas
}

// loadDirectory loads a directory as a CUE package.
func (p *Parser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{{
			File:     dir,
			Message:  "no CUE files found",
			Severity: "error",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, p.convertCUEErrors(inst.Err)
	}

	val := p.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, p.convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}

	return val, files, nil
}

// loadFile loads a single CUE file.
func (p *Parser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{
			File:     path,
			Message:  fmt.Sprintf("failed to read file: %v", err),
			Severity: "error",
		}}
	}

	val := p.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, p.convertCUEErrors(err)
	}

	return val, nil
}

// extract decodes, defaults, and validates the deployment parameters,
// then runs the optional computed-parameters hook.
func (p *Parser) extract(ctx context.Context, val cue.Value, sourceFiles []string) (*ParsedParams, error) {
	parsed := &ParsedParams{
		SourceFiles: sourceFiles,
		ParsedAt:    time.Now(),
	}

	paramsVal := val.LookupPath(cue.ParsePath(paramsPath))
	if !paramsVal.Exists() {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     paramsPath,
			Message:  "missing top-level deployment block",
			Severity: "error",
		})
		return parsed, nil
	}

	if err := p.schemas.ValidateAgainstSchema(ctx, "deployment", decodeAny(paramsVal)); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     paramsPath,
			Message:  err.Error(),
			Severity: "error",
		})
		return parsed, nil
	}

	if err := paramsVal.Decode(&parsed.Params); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     paramsPath,
			Message:  fmt.Sprintf("failed to decode deployment parameters: %v", err),
			Severity: "error",
		})
		return parsed, nil
	}

	parsed.Params.ApplyDefaults()

	if err := p.runComputedHook(ctx, val, parsed); err != nil {
		parsed.Errors = append(parsed.Errors, ValidationError{
			Path:     computedPath,
			Message:  err.Error(),
			Severity: "error",
		})
		return parsed, nil
	}

	if err := p.validator.Struct(parsed.Params); err != nil {
		for _, ferr := range err.(validator.ValidationErrors) {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     ferr.Namespace(),
				Message:  fmt.Sprintf("failed on %q constraint", ferr.Tag()),
				Severity: "error",
			})
		}
	}

	return parsed, nil
}

// runComputedHook evaluates the optional Starlark script. Exported
// globals land in Computed; a tags dict merges into the parameter tags
// and an imageTag string overrides the configured tag.
func (p *Parser) runComputedHook(ctx context.Context, val cue.Value, parsed *ParsedParams) error {
	scriptVal := val.LookupPath(cue.ParsePath(computedPath))
	if !scriptVal.Exists() {
		return nil
	}

	script, err := scriptVal.String()
	if err != nil {
		return fmt.Errorf("computed hook must be a string: %w", err)
	}

	input := map[string]interface{}{
		"environment": parsed.Params.Environment,
		"location":    parsed.Params.Location,
		"imageName":   parsed.Params.Registry.ImageName,
		"imageTag":    parsed.Params.Registry.ImageTag,
	}

	result, err := p.starlark.Evaluate(ctx, script, input)
	if err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("computed hook error: %s", result.Error)
	}

	parsed.Computed = result.Output

	if tags, ok := result.Output["tags"].(map[string]interface{}); ok {
		if parsed.Params.Tags == nil {
			parsed.Params.Tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("computed tag %q is not a string", k)
			}
			parsed.Params.Tags[k] = s
		}
	}

	if tag, ok := result.Output["imageTag"].(string); ok && tag != "" {
		parsed.Params.Registry.ImageTag = tag
	}

	return nil
}

// convertCUEErrors converts CUE errors to a ValidationError slice.
func (p *Parser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// decodeAny decodes a CUE value into a generic Go value for schema
// re-unification.
func decodeAny(val cue.Value) interface{} {
	var out interface{}
	if err := val.Decode(&out); err != nil {
		return nil
	}
	return out
}
