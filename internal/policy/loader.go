package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultCompareField 未配置 compare_field 时使用的时间戳列
const DefaultCompareField = "updated_at"

// Document 策略配置文档
//
//	conflict_resolution:
//	  default_strategy: newest_wins
//	  default_compare_field: updated_at
//	  default_tie_breaker: source
//	  table_strategies:
//	    chat_messages:
//	      strategy: merge
//	      merge_rules: {tags: union, attachments: append}
type Document struct {
	DefaultStrategy     string                   `yaml:"default_strategy" json:"default_strategy"`
	DefaultCompareField string                   `yaml:"default_compare_field" json:"default_compare_field"`
	DefaultTieBreaker   string                   `yaml:"default_tie_breaker" json:"default_tie_breaker"`
	TableStrategies     map[string]TableDocument `yaml:"table_strategies" json:"table_strategies"`
}

// TableDocument 单表配置
type TableDocument struct {
	Strategy     string            `yaml:"strategy" json:"strategy"`
	CompareField string            `yaml:"compare_field" json:"compare_field"`
	TieBreaker   string            `yaml:"tie_breaker" json:"tie_breaker"`
	MergeRules   map[string]string `yaml:"merge_rules" json:"merge_rules"`
}

// policyFile 兼容 {"conflict_resolution": {...}} 包装和直接顶层两种写法
type policyFile struct {
	ConflictResolution *Document `yaml:"conflict_resolution" json:"conflict_resolution"`
	Document           `yaml:",inline"`
}

// LoadFile 读取并解析策略文件
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Key: "path", Err: fmt.Errorf("failed to read %s: %w", path, err)}
	}
	return Parse(data)
}

// Parse 解析 YAML 或 JSON 文档（以 '{' 开头按 JSON 处理），未知字段视为格式错误
func Parse(data []byte) (*Set, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ConfigurationError{Err: errors.New("empty document")}
	}

	var doc Document
	if trimmed[0] == '{' {
		parsed, err := parseJSON(trimmed)
		if err != nil {
			return nil, &ConfigurationError{Err: fmt.Errorf("malformed json document: %w", err)}
		}
		doc = parsed
	} else {
		var file policyFile
		dec := yaml.NewDecoder(bytes.NewReader(trimmed))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return nil, &ConfigurationError{Err: fmt.Errorf("malformed yaml document: %w", err)}
		}
		doc = file.Document
		if file.ConflictResolution != nil {
			doc = *file.ConflictResolution
		}
	}

	return Build(doc)
}

func parseJSON(data []byte) (Document, error) {
	// 先判断是否为包装格式
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Document{}, err
	}
	if inner, ok := top["conflict_resolution"]; ok {
		data = inner
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Build 校验文档并构建不可变策略集合
func Build(doc Document) (*Set, error) {
	if doc.DefaultStrategy == "" {
		return nil, &ConfigurationError{Key: "default_strategy", Err: errors.New("is required")}
	}

	compareField := doc.DefaultCompareField
	if compareField == "" {
		compareField = DefaultCompareField
	}

	tieBreaker, err := ParseTieBreaker(doc.DefaultTieBreaker)
	if err != nil {
		return nil, &ConfigurationError{Key: "default_tie_breaker", Err: err}
	}

	defaults, err := buildTable("", TableDocument{Strategy: doc.DefaultStrategy}, compareField, tieBreaker)
	if err != nil {
		return nil, err
	}

	set := &Set{
		defaults: defaults,
		tables:   make(map[string]TablePolicy, len(doc.TableStrategies)),
	}
	for table, td := range doc.TableStrategies {
		if table == "" {
			return nil, &ConfigurationError{Key: "table_strategies", Err: errors.New("empty table name")}
		}
		p, err := buildTable(table, td, compareField, tieBreaker)
		if err != nil {
			return nil, err
		}
		set.tables[table] = p
	}
	return set, nil
}

func buildTable(table string, td TableDocument, defaultCompare string, defaultTie TieBreaker) (TablePolicy, error) {
	strategy, err := ParseStrategy(td.Strategy)
	if err != nil {
		key := "strategy"
		if table == "" {
			key = "default_strategy"
		}
		return TablePolicy{}, &ConfigurationError{Table: table, Key: key, Err: err}
	}

	p := TablePolicy{
		Table:        table,
		Strategy:     strategy,
		CompareField: td.CompareField,
		TieBreaker:   defaultTie,
	}
	if p.CompareField == "" {
		p.CompareField = defaultCompare
	}
	if td.TieBreaker != "" {
		tb, err := ParseTieBreaker(td.TieBreaker)
		if err != nil {
			return TablePolicy{}, &ConfigurationError{Table: table, Key: "tie_breaker", Err: err}
		}
		p.TieBreaker = tb
	}

	if len(td.MergeRules) > 0 {
		if strategy != StrategyMerge {
			return TablePolicy{}, &ConfigurationError{Table: table, Key: "merge_rules",
				Err: fmt.Errorf("only valid with strategy %q, got %q", StrategyMerge, strategy)}
		}
		fields := make([]string, 0, len(td.MergeRules))
		for field := range td.MergeRules {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			rule, err := ParseMergeRule(td.MergeRules[field])
			if err != nil {
				return TablePolicy{}, &ConfigurationError{Table: table, Key: "merge_rules." + field, Err: err}
			}
			p.MergeRules = append(p.MergeRules, FieldRule{Field: field, Rule: rule})
		}
	}

	// merge 策略必须带字段规则，不静默回退为 newest_wins
	if strategy == StrategyMerge && len(p.MergeRules) == 0 {
		return TablePolicy{}, &ConfigurationError{Table: table, Key: "merge_rules",
			Err: errors.New("merge strategy requires at least one merge rule")}
	}

	return p, nil
}
