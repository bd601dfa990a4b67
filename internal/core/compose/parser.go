package compose

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// DefaultProjectName is used when neither the source nor its directory yields a name.
const DefaultProjectName = "composeenv"

// =============================================================================
// Parser Functions
// =============================================================================

// Parse loads a compose file into a Definition.
// The content is supplied by the caller; relative paths resolve against
// Source.WorkingDir and ${VAR} references against Source.Environment.
func Parse(ctx context.Context, src Source) (*Definition, error) {
	if strings.TrimSpace(string(src.Content)) == "" {
		return nil, ErrEmptyInput
	}

	var root yaml.Node
	if err := yaml.Unmarshal(src.Content, &root); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	var dict map[string]interface{}
	if err := root.Decode(&dict); err != nil || dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	order := serviceOrder(&root)
	if len(order) == 0 {
		return nil, ErrNoServices
	}

	project, err := loadProject(ctx, src, dict)
	if err != nil {
		return nil, err
	}
	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	return &Definition{Project: project, Order: order}, nil
}

// loadProject loads a compose project using compose-go
func loadProject(ctx context.Context, src Source, dict map[string]interface{}) (*types.Project, error) {
	filename := src.Filename
	if filename == "" {
		filename = "docker-compose.yml"
	}
	if src.WorkingDir != "" && !filepath.IsAbs(filename) {
		filename = filepath.Join(src.WorkingDir, filename)
	}

	project, err := loader.LoadWithContext(ctx, types.ConfigDetails{
		WorkingDir: src.WorkingDir,
		ConfigFiles: []types.ConfigFile{
			{
				Filename: filename,
				Content:  src.Content,
				Config:   dict,
			},
		},
		Environment: types.Mapping(src.Environment),
	}, func(opts *loader.Options) {
		opts.SetProjectName(projectName(src), true)
		opts.SkipValidation = false
		opts.SkipInterpolation = false
		// Build contexts must survive the effective file moving to a temp dir
		opts.ResolvePaths = true
		opts.SkipResolveEnvironment = false
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewParseError("", "circular dependency detected", ErrCircularDependency)
		}
		return nil, NewParseError("", errStr, ErrInvalidYAML)
	}
	return project, nil
}

func projectName(src Source) string {
	if name := loader.NormalizeProjectName(src.ProjectName); name != "" {
		return name
	}
	if src.WorkingDir != "" {
		if name := loader.NormalizeProjectName(filepath.Base(src.WorkingDir)); name != "" {
			return name
		}
	}
	return DefaultProjectName
}

// serviceOrder returns the keys of the top-level services mapping in the order
// they appear in the document.
func serviceOrder(root *yaml.Node) []string {
	doc := root
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		doc = doc.Content[0]
	}
	if doc.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value != "services" {
			continue
		}
		services := doc.Content[i+1]
		if services.Kind != yaml.MappingNode {
			return nil
		}
		names := make([]string, 0, len(services.Content)/2)
		for j := 0; j+1 < len(services.Content); j += 2 {
			names = append(names, services.Content[j].Value)
		}
		return names
	}
	return nil
}

// =============================================================================
// Port helpers
// =============================================================================

func isTCP(protocol string) bool {
	return protocol == "" || strings.EqualFold(protocol, "tcp")
}
