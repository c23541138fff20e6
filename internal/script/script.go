// Package script implements the CustomScript step type (spec §3's Step
// type enum marks it optional/NotSupported by default; SPEC_FULL.md §5
// supplements it). It loads Go plugins (.so files built with
// `-buildmode=plugin`) that each export a symbol implementing Step, and
// dispatches a domain.Step configured with a "pluginPath" and "symbol"
// to the matching loaded plugin.
//
// This is adapted from the teacher's pkg/plugin dynamic workload loader:
// the same discover-a-directory, plugin.Open, Lookup-a-symbol mechanism,
// narrowed to the single Step interface this engine's CustomScript steps
// need instead of a full WorkloadPlugin lifecycle.
package script

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	goplugin "plugin"
	"strings"
	"sync"

	"github.com/loadsmith/loadsmith/internal/logging"
)

// Step is the interface a CustomScript plugin must export under the
// symbol name Registry.Execute looks up (default "Script").
type Step interface {
	// Execute runs the custom step and reports whether it succeeded.
	// A returned error is classified as domain.OutcomeFailRequest by the
	// adapter dispatcher; Registry itself never inspects the error.
	Execute(ctx context.Context, config map[string]interface{}) error
}

// Registry discovers, verifies, and caches loaded script plugins so a
// running scenario only pays the plugin.Open cost once per distinct
// file.
type Registry struct {
	logger logging.Logger

	mu      sync.Mutex
	loaded  map[string]Step
	allowed map[string]string // path -> expected sha256, empty = unchecked
}

// NewRegistry builds an empty Registry. allowedChecksums maps a plugin
// path to its expected SHA256 hex digest; a path absent from the map is
// loaded without integrity verification, matching the teacher's
// PluginSecurity default of "disabled by default for development".
func NewRegistry(allowedChecksums map[string]string, logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Registry{
		logger:  logger.With(logging.F.String("component", "script_registry")),
		loaded:  make(map[string]Step),
		allowed: allowedChecksums,
	}
}

// Load opens pluginPath (caching the result) and returns the Step it
// exports under symbol.
func (r *Registry) Load(pluginPath, symbol string) (Step, error) {
	if symbol == "" {
		symbol = "Script"
	}
	key := pluginPath + "#" + symbol

	r.mu.Lock()
	defer r.mu.Unlock()
	if step, ok := r.loaded[key]; ok {
		return step, nil
	}

	if expected, ok := r.allowed[pluginPath]; ok {
		if err := verifyChecksum(pluginPath, expected); err != nil {
			return nil, fmt.Errorf("script plugin %q failed integrity check: %w", pluginPath, err)
		}
	}

	p, err := goplugin.Open(pluginPath)
	if err != nil {
		return nil, fmt.Errorf("opening script plugin %q: %w", pluginPath, err)
	}

	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("script plugin %q: symbol %q not found: %w", pluginPath, symbol, err)
	}

	step, ok := sym.(Step)
	if !ok {
		return nil, fmt.Errorf("script plugin %q: symbol %q does not implement script.Step", pluginPath, symbol)
	}

	r.loaded[key] = step
	r.logger.Info("loaded custom script plugin",
		logging.F.String("path", pluginPath), logging.F.String("symbol", symbol))
	return step, nil
}

// Execute loads (or reuses) the plugin named by config["pluginPath"]/
// config["symbol"] and runs it.
func (r *Registry) Execute(ctx context.Context, config map[string]interface{}) error {
	pluginPath, _ := config["pluginPath"].(string)
	if pluginPath == "" {
		return fmt.Errorf("customScript step requires a pluginPath")
	}
	symbol, _ := config["symbol"].(string)

	step, err := r.Load(pluginPath, symbol)
	if err != nil {
		return err
	}
	return step.Execute(ctx, config)
}

// Discover scans dir for .so files and returns their paths, without
// loading them, matching the teacher's discoverInPath "scan, don't
// eagerly open" step.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading script plugin directory %q: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !isPluginFile(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

func isPluginFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".so")
}

func verifyChecksum(path, expectedHex string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expectedHex) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expectedHex, actual)
	}
	return nil
}
