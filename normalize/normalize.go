// Package normalize runs optional per-topic JavaScript adapters that rewrite
// nonstandard device payloads into the canonical schema before decoding.
// Fleet devices with older firmware publish slightly different field names;
// an adapter script lets a deployment absorb that without a new build.
package normalize

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/AlexRomero01/Bridge-Server/logger"
)

// ScriptConfig configures one adapter: inline code wins over a file path.
type ScriptConfig struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// Manager holds the adapters keyed by topic kind (the trailing topic
// segment, e.g. "thermal").
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]*adapter
}

type adapter struct {
	vm        *goja.Runtime
	normalize goja.Callable
	// goja runtimes are not goroutine-safe; calls are serialized
	mu sync.Mutex
}

// NewManager loads every configured adapter script.
func NewManager(configs map[string]ScriptConfig) (*Manager, error) {
	m := &Manager{adapters: make(map[string]*adapter)}

	for kind, cfg := range configs {
		a, err := newAdapter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load normalizer for %s: %v", kind, err)
		}
		m.adapters[kind] = a
		logger.Info("loaded payload normalizer for topic kind %s", kind)
	}

	return m, nil
}

func loadScript(cfg ScriptConfig) (string, error) {
	if cfg.ScriptCode != "" {
		return cfg.ScriptCode, nil
	}
	if cfg.ScriptPath != "" {
		code, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return "", fmt.Errorf("failed to read script file %s: %v", cfg.ScriptPath, err)
		}
		return string(code), nil
	}
	return "", fmt.Errorf("no script code or script path provided")
}

func newAdapter(cfg ScriptConfig) (*adapter, error) {
	code, err := loadScript(cfg)
	if err != nil {
		return nil, err
	}

	vm := goja.New()

	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})
	_ = vm.Set("parseJSON", func(jsonStr string) interface{} {
		var data interface{}
		if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
			logger.Warn("parseJSON failed: %v", err)
			return nil
		}
		return data
	})
	_ = vm.Set("convertTemperature", func(value float64, fromUnit, toUnit string) float64 {
		fromUnit = strings.ToUpper(fromUnit)
		toUnit = strings.ToUpper(toUnit)

		var celsius float64
		switch fromUnit {
		case "C":
			celsius = value
		case "F":
			celsius = (value - 32) * 5 / 9
		case "K":
			celsius = value - 273.15
		default:
			return value
		}

		switch toUnit {
		case "C":
			return celsius
		case "F":
			return celsius*9/5 + 32
		case "K":
			return celsius + 273.15
		default:
			return celsius
		}
	})

	if _, err := vm.RunString(code); err != nil {
		return nil, fmt.Errorf("failed to evaluate script: %v", err)
	}

	fn := vm.Get("normalize")
	if fn == nil {
		return nil, fmt.Errorf("script does not define a 'normalize' function")
	}
	normalize, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("'normalize' is not a function")
	}

	return &adapter{vm: vm, normalize: normalize}, nil
}

// Apply runs the adapter registered for the topic kind, if any. The second
// return value reports whether an adapter ran.
func (m *Manager) Apply(topic string, payload []byte) ([]byte, bool, error) {
	parts := strings.Split(topic, "/")
	kind := parts[len(parts)-1]

	m.mu.RLock()
	a, ok := m.adapters[kind]
	m.mu.RUnlock()
	if !ok {
		return payload, false, nil
	}

	a.mu.Lock()
	result, err := a.normalize(goja.Undefined(), a.vm.ToValue(string(payload)))
	a.mu.Unlock()
	if err != nil {
		return nil, true, fmt.Errorf("normalize script failed: %v", err)
	}

	exported := result.Export()
	if s, ok := exported.(string); ok {
		return []byte(s), true, nil
	}
	out, err := json.Marshal(exported)
	if err != nil {
		return nil, true, fmt.Errorf("failed to serialize normalized payload: %v", err)
	}
	return out, true, nil
}

// ReplaceAll swaps the whole adapter set for the given configs, so kinds
// dropped from the config lose their adapter. An entry with neither code nor
// path counts as removed. Every script is loaded before the swap: one broken
// script keeps the current set untouched. Used by config hot reload.
func (m *Manager) ReplaceAll(configs map[string]ScriptConfig) error {
	adapters := make(map[string]*adapter, len(configs))
	for kind, cfg := range configs {
		if cfg.ScriptCode == "" && cfg.ScriptPath == "" {
			continue
		}
		a, err := newAdapter(cfg)
		if err != nil {
			return fmt.Errorf("failed to reload normalizer for %s: %v", kind, err)
		}
		adapters[kind] = a
	}

	m.mu.Lock()
	m.adapters = adapters
	m.mu.Unlock()

	logger.Info("reloaded payload normalizers, %d active", len(adapters))
	return nil
}
