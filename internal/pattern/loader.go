package pattern

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Definition is the YAML form of a pattern as shipped in a patterns directory
type Definition struct {
	ID              string                 `yaml:"id"`
	Name            string                 `yaml:"name"`
	Description     string                 `yaml:"description"`
	Category        string                 `yaml:"category"`
	Steps           []StepDefinition       `yaml:"steps"`
	StaticBindings  map[string]interface{} `yaml:"static_bindings"`
	DynamicBindings []Binding              `yaml:"dynamic_bindings"`
	Metadata        map[string]interface{} `yaml:"metadata"`
}

// StepDefinition is the YAML form of a single step
type StepDefinition struct {
	Tool       string                 `yaml:"tool"`
	Args       map[string]interface{} `yaml:"args"`
	Bindings   []Binding              `yaml:"bindings"`
	Validation *ValidationRule        `yaml:"validation"`
	OutputKey  string                 `yaml:"output_key"`
}

// LoadFromFile loads a single pattern definition from a YAML file
func LoadFromFile(path string) (*Pattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pattern YAML: %w", err)
	}

	return convertDefinition(&def), nil
}

// LoadDirectory loads all pattern definitions from a directory.
// Files that fail to parse are skipped with a warning so one bad file
// cannot block the rest of the catalog.
func LoadDirectory(dir string) ([]*Pattern, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read patterns directory: %w", err)
	}

	var patterns []*Pattern
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, file.Name())
		p, err := LoadFromFile(path)
		if err != nil {
			log.Printf("[Patterns] Warning: failed to load %s: %v", file.Name(), err)
			continue
		}

		patterns = append(patterns, p)
		log.Printf("[Patterns] Loaded pattern: %s (%s)", p.Name, p.Category)
	}

	return patterns, nil
}

func convertDefinition(def *Definition) *Pattern {
	p := &Pattern{
		ID:              def.ID,
		Name:            def.Name,
		Description:     def.Description,
		Category:        ParseCategory(def.Category),
		StaticBindings:  def.StaticBindings,
		DynamicBindings: def.DynamicBindings,
		Metadata:        def.Metadata,
	}
	for _, sd := range def.Steps {
		p.Steps = append(p.Steps, Step{
			Tool:       sd.Tool,
			Args:       sd.Args,
			Bindings:   sd.Bindings,
			Validation: sd.Validation,
			OutputKey:  sd.OutputKey,
		})
	}
	return p
}

// Watch re-registers pattern files when they change on disk. It blocks until
// the context is cancelled and is intended to run in its own goroutine.
func Watch(ctx context.Context, dir string, registry *Registry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	log.Printf("[Patterns] Watching %s for pattern changes", dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			p, err := LoadFromFile(event.Name)
			if err != nil {
				log.Printf("[Patterns] Warning: reload of %s failed: %v", event.Name, err)
				continue
			}
			if _, err := registry.Save(p); err != nil {
				log.Printf("[Patterns] Warning: re-register of %s failed: %v", p.Name, err)
				continue
			}
			log.Printf("[Patterns] Reloaded pattern %s from %s", p.Name, filepath.Base(event.Name))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Patterns] Watcher error: %v", err)
		}
	}
}
