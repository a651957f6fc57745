package trades

import (
	"fmt"
	"sort"
	"strings"
)

// AliasTable 把语义字段映射到一组可识别的列头拼写。
// 匹配前列头与别名都会做 trim + 小写归一化，表本身不可变，
// 每次解析显式传入，不依赖全局状态。
type AliasTable map[Field][]string

// Clone 返回深拷贝，供注册表对外暴露快照时使用。
func (t AliasTable) Clone() AliasTable {
	if t == nil {
		return nil
	}
	out := make(AliasTable, len(t))
	for field, aliases := range t {
		out[field] = append([]string(nil), aliases...)
	}
	return out
}

// Merge 返回 t 与 other 合并后的新表，other 中同字段的别名追加在后。
func (t AliasTable) Merge(other AliasTable) AliasTable {
	merged := t.Clone()
	if merged == nil {
		merged = make(AliasTable)
	}
	for field, aliases := range other {
		seen := make(map[string]bool, len(merged[field]))
		for _, a := range merged[field] {
			seen[normalizeHeader(a)] = true
		}
		for _, a := range aliases {
			key := normalizeHeader(a)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged[field] = append(merged[field], a)
		}
	}
	return merged
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// columnMap 是一次解析里字段到列下标的解析结果。
type columnMap map[Field]int

// resolveColumns 把列头解析为字段下标。规则：
//   - 同一字段的多个别名命中同一个列头只算一次匹配；
//   - 同一字段命中两个不同列，或两个字段争用同一列，都是 AmbiguousColumn；
//   - 必填字段无匹配是 MissingColumn；
//   - 无名列（NinjaTrader 行尾逗号产生）直接跳过。
func resolveColumns(headers []string, table AliasTable) (columnMap, *ParseError) {
	lookup := make(map[string]Field)
	for field, aliases := range table {
		for _, alias := range aliases {
			key := normalizeHeader(alias)
			if key == "" {
				continue
			}
			if prev, ok := lookup[key]; ok && prev != field {
				return nil, ambiguousColumn(field, fmt.Sprintf("alias %q already claimed by field %q", alias, prev))
			}
			lookup[key] = field
		}
	}

	cols := make(columnMap)
	claimed := make(map[int]Field)
	for idx, header := range headers {
		key := normalizeHeader(header)
		if key == "" {
			continue
		}
		field, ok := lookup[key]
		if !ok {
			continue
		}
		if owner, taken := claimed[idx]; taken && owner != field {
			return nil, ambiguousColumn(field, fmt.Sprintf("column %d (%q) matches both %q and %q", idx, header, owner, field))
		}
		if prev, dup := cols[field]; dup && prev != idx {
			return nil, ambiguousColumn(field, fmt.Sprintf("columns %d and %d both match field %q", prev, idx, field))
		}
		cols[field] = idx
		claimed[idx] = field
	}

	for _, field := range RequiredFields() {
		if _, ok := cols[field]; !ok {
			return nil, missingColumn(field)
		}
	}
	return cols, nil
}

// Fields 返回表中声明过别名的字段（排序后），用于日志与 API 展示。
func (t AliasTable) Fields() []Field {
	out := make([]Field, 0, len(t))
	for field := range t {
		out = append(out, field)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
