package symbols

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marketsync/internal/pkg/symbol"

	"gopkg.in/yaml.v3"
)

// fileList is the mapping form of a YAML symbol file.
type fileList struct {
	Symbols []string `yaml:"symbols"`
}

// Load 读取标的列表文件：.yaml/.yml 支持序列或 {symbols: [...]}，
// 其余按逗号/换行分隔的纯文本处理，# 开头为注释。
func Load(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbol list %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAML(raw)
	default:
		return Parse(string(raw)), nil
	}
}

// Parse splits comma or newline separated text.
func Parse(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, strings.Split(line, ",")...)
	}
	return symbol.NormalizeList(items)
}

func parseYAML(raw []byte) ([]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse symbol yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := root.Decode(&list); err != nil {
			return nil, fmt.Errorf("parse symbol yaml: %w", err)
		}
		return symbol.NormalizeList(list), nil
	case yaml.MappingNode:
		var fl fileList
		if err := root.Decode(&fl); err != nil {
			return nil, fmt.Errorf("parse symbol yaml: %w", err)
		}
		return symbol.NormalizeList(fl.Symbols), nil
	default:
		return nil, fmt.Errorf("parse symbol yaml: expected list or mapping, got %v", root.Tag)
	}
}
