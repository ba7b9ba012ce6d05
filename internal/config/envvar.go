package config

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvVarSpec is a parsed config value that may reference the environment.
type EnvVarSpec struct {
	VarName      string
	HasDefault   bool
	DefaultValue string

	IsLiteral    bool
	LiteralValue string
}

// envVarPattern matches ${VAR} and ${VAR:default}
var envVarPattern = regexp.MustCompile(`^\$\{([A-Z_][A-Z0-9_]*)(:[^}]*)?\}$`)

// ParseEnvVar parses a config value.
//
// Supported formats:
//   - ${VAR}         - required environment variable
//   - ${VAR:default} - environment variable with a default
//   - literal        - anything else
//
// A value shaped like a reference but with an invalid name is an error.
func ParseEnvVar(value string) (*EnvVarSpec, error) {
	matches := envVarPattern.FindStringSubmatch(value)
	if matches == nil {
		if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
			return nil, fmt.Errorf("invalid environment variable reference %q", value)
		}
		return &EnvVarSpec{IsLiteral: true, LiteralValue: value}, nil
	}

	spec := &EnvVarSpec{
		VarName:    matches[1],
		HasDefault: matches[2] != "",
	}
	if spec.HasDefault {
		spec.DefaultValue = strings.TrimPrefix(matches[2], ":")
	}
	return spec, nil
}

// Resolve returns the effective value using lookup for the environment.
func (s *EnvVarSpec) Resolve(lookup func(string) (string, bool)) (string, error) {
	if s.IsLiteral {
		return s.LiteralValue, nil
	}
	if value, ok := lookup(s.VarName); ok && value != "" {
		return value, nil
	}
	if s.HasDefault {
		return s.DefaultValue, nil
	}
	return "", fmt.Errorf("required environment variable %s is not set", s.VarName)
}

// isValidEnvVarName reports whether name is A-Z or underscore followed by
// A-Z, 0-9 or underscores.
func isValidEnvVarName(name string) bool {
	if name == "" {
		return false
	}
	first := name[0]
	if !((first >= 'A' && first <= 'Z') || first == '_') {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !((c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// expandNode replaces environment references in every scalar of the document.
// Substituted scalars lose their tag and quoting so they decode into the
// target field's type.
func expandNode(n *yaml.Node, lookup func(string) (string, bool)) error {
	switch n.Kind {
	case yaml.ScalarNode:
		if !strings.HasPrefix(n.Value, "${") {
			return nil
		}
		spec, err := ParseEnvVar(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		if !spec.IsLiteral && !isValidEnvVarName(spec.VarName) {
			return fmt.Errorf("line %d: invalid environment variable name: %s", n.Line, spec.VarName)
		}
		value, err := spec.Resolve(lookup)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		n.Value = value
		n.Tag = ""
		n.Style = 0
	case yaml.DocumentNode, yaml.SequenceNode, yaml.MappingNode:
		for i, child := range n.Content {
			if n.Kind == yaml.MappingNode && i%2 == 0 {
				continue
			}
			if err := expandNode(child, lookup); err != nil {
				return err
			}
		}
	}
	return nil
}
