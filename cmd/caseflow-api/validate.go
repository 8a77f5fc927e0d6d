package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/models"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var ErrInvalidDefinitions = errors.New("invalid workflow definitions found")

// DefinitionResult is the outcome of validating one definition of a file.
type DefinitionResult struct {
	Index int
	Name  string
	Err   error
}

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Aliases: []string{"v"},
		Usage:   "Validate workflow definitions from a YAML or JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the definition file",
				Required: true,
			},
		},
		Action: func(_ context.Context, command *cli.Command) error {
			path := command.String("file")

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			results, err := ValidateDefinitions(data, filepath.Ext(path))
			if err != nil {
				return err
			}

			return report(command.Root().Writer, results)
		},
	}
}

func report(w io.Writer, results []DefinitionResult) error {
	invalid := 0

	for _, result := range results {
		if result.Err != nil {
			invalid++

			_, _ = fmt.Fprintf(w, "✗ [%d] %s: %v\n", result.Index, result.Name, result.Err)

			continue
		}

		_, _ = fmt.Fprintf(w, "✓ [%d] %s\n", result.Index, result.Name)
	}

	_, _ = fmt.Fprintf(w, "%d definitions, %d invalid\n", len(results), invalid)

	if invalid > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidDefinitions, invalid, len(results))
	}

	return nil
}

// ValidateDefinitions parses every definition in data. JSON files hold one definition or an
// array; YAML files may also hold several documents.
func ValidateDefinitions(data []byte, ext string) ([]DefinitionResult, error) {
	var (
		raw []json.RawMessage
		err error
	)

	switch strings.ToLower(ext) {
	case ".json":
		raw, err = splitJSON(data)
	default:
		raw, err = splitYAML(data)
	}

	if err != nil {
		return nil, err
	}

	results := make([]DefinitionResult, 0, len(raw))

	for i, doc := range raw {
		result := DefinitionResult{Index: i}

		definition, err := models.ParseDefinition(doc)
		if err != nil {
			result.Err = err
			result.Name = nameOf(doc)
		} else {
			result.Name = definition.Name
		}

		results = append(results, result)
	}

	return results, nil
}

func splitJSON(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}

		return list, nil
	}

	return []json.RawMessage{trimmed}, nil
}

func splitYAML(data []byte) ([]json.RawMessage, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var docs []json.RawMessage

	for {
		var doc any

		err := decoder.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}

		if doc == nil {
			continue
		}

		items, ok := doc.([]any)
		if !ok {
			items = []any{doc}
		}

		for _, item := range items {
			encoded, err := json.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("failed to convert YAML to JSON: %w", err)
			}

			docs = append(docs, encoded)
		}
	}

	return docs, nil
}

func nameOf(doc json.RawMessage) string {
	var named struct {
		Name string `json:"name"`
	}

	if err := json.Unmarshal(doc, &named); err != nil || named.Name == "" {
		return "<unnamed>"
	}

	return named.Name
}
