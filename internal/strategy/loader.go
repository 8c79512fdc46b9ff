// Package strategy 提供内置策略注册表与加载器。
// 策略描述是一个 JSON 文档 {"name": "...", "params": {...}}，
// 参数用各策略声明的 JSON Schema 校验。
package strategy

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"quantra/internal/backtest"
)

var (
	ErrUnknownStrategy = errors.New("未注册的策略")
	ErrInvalidSource   = errors.New("策略描述不合法")
)

// Builder 根据已校验的参数构建策略实例。
type Builder func(params map[string]any) (backtest.Strategy, error)

// Definition 是注册表里的一个内置策略。
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
	Build       Builder

	schemaCompiled *jsonschema.Schema
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Definition)
)

// Register 登记内置策略，schema 编译失败直接 panic，属于编程错误。
func Register(def Definition) {
	name := strings.TrimSpace(def.Name)
	if name == "" || def.Build == nil {
		panic("strategy: 注册信息不完整")
	}
	if def.Schema != nil {
		compiled, err := compileSchema(def.Schema)
		if err != nil {
			panic(fmt.Sprintf("strategy: %s 的参数 schema 编译失败: %v", name, err))
		}
		def.schemaCompiled = compiled
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = &def
}

// Names 返回全部已注册的策略名，按字母序。
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe 返回策略的注册信息。
func Describe(name string) (Definition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	def, ok := registry[strings.TrimSpace(name)]
	if !ok {
		return Definition{}, false
	}
	return *def, true
}

// Loader 把策略 JSON 描述解析为策略实例。
type Loader struct{}

func NewLoader() *Loader { return &Loader{} }

// Load 校验并构建策略。未知策略名、非法 JSON、参数不符合
// schema 都返回错误，交给调用方当作致命错误处理。
func (l *Loader) Load(source []byte) (backtest.Strategy, error) {
	if !gjson.ValidBytes(source) {
		return nil, fmt.Errorf("%w: 不是合法的 JSON", ErrInvalidSource)
	}
	doc := gjson.ParseBytes(source)
	name := strings.TrimSpace(doc.Get("name").String())
	if name == "" {
		return nil, fmt.Errorf("%w: 缺少 name 字段", ErrInvalidSource)
	}

	registryMu.RLock()
	def, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, name)
	}

	params := make(map[string]any)
	if raw := doc.Get("params"); raw.Exists() {
		if !raw.IsObject() {
			return nil, fmt.Errorf("%w: params 必须是对象", ErrInvalidSource)
		}
		if err := json.Unmarshal([]byte(raw.Raw), &params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSource, err)
		}
	}
	if def.schemaCompiled != nil {
		if err := def.schemaCompiled.Validate(any(params)); err != nil {
			return nil, fmt.Errorf("%w: 参数校验失败: %v", ErrInvalidSource, err)
		}
	}
	return def.Build(params)
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

// ============ 参数读取辅助 ============

func floatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	return int(floatParam(params, key, float64(def)))
}

func stringParam(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
