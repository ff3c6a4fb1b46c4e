package deps

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/substratehq/playground/internal/infrastructure/logging"
	"github.com/substratehq/playground/internal/sandbox"
	"github.com/substratehq/playground/internal/template"
)

// Config controls the install gate.
type Config struct {
	// ManifestPath is the project manifest inside the sandbox.
	ManifestPath string
	// InstallDir is the dependency install output directory name.
	InstallDir string
	// InstallCmd and InstallArgs form the package installer invocation.
	InstallCmd  string
	InstallArgs []string
	// HashDevDependencies includes devDependencies in the skip hash.
	HashDevDependencies bool
}

// DefaultConfig returns the npm-shaped defaults.
func DefaultConfig() Config {
	return Config{
		ManifestPath:        "/package.json",
		InstallDir:          "node_modules",
		InstallCmd:          "npm",
		InstallArgs:         []string{"install"},
		HashDevDependencies: true,
	}
}

// Runner executes the package installer inside the sandbox and reports the
// exit code and captured output.
type Runner interface {
	Run(ctx context.Context, cmd string, args []string) (exitCode int, output string, err error)
}

// SandboxRunner adapts a sandbox instance to the Runner interface.
type SandboxRunner struct {
	Instance sandbox.Instance
}

// Run spawns the command and blocks until it exits.
func (r SandboxRunner) Run(ctx context.Context, cmd string, args []string) (int, string, error) {
	proc, err := r.Instance.Spawn(ctx, cmd, args, sandbox.SpawnOptions{})
	if err != nil {
		return 0, "", err
	}
	code := proc.Wait()
	return code, string(proc.Output()), nil
}

// Gate decides whether a template activation needs a dependency install.
// Installation is skipped when the declared dependency set hashes to the
// value recorded at the last successful install and the install output
// directory still exists.
type Gate struct {
	cfg    Config
	logger *logging.Logger

	mu       sync.Mutex
	lastHash string
}

// NewGate creates an install gate.
func NewGate(cfg Config, logger *logging.Logger) *Gate {
	if cfg.ManifestPath == "" {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{cfg: cfg, logger: logger.Named("deps")}
}

// Hash computes the content hash of a template's declared dependencies.
// Exact serialization equality is sufficient; encoding/json sorts map keys,
// which makes the serialization canonical.
func (g *Gate) Hash(tmpl *template.Template) string {
	payload := struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies,omitempty"`
	}{Dependencies: tmpl.Dependencies}
	if g.cfg.HashDevDependencies {
		payload.DevDependencies = tmpl.DevDependencies
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Maps of strings always marshal; keep the zero hash distinct.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Changed reports whether the dependency sets of two templates differ
// under the configured hashing rules.
func (g *Gate) Changed(old, new *template.Template) bool {
	return g.Hash(old) != g.Hash(new)
}

// Ensure installs the template's dependencies unless the gate can prove
// the installed state is already current: the dependency hash matches the
// last successful install and the install directory still exists.
func (g *Gate) Ensure(ctx context.Context, fs sandbox.FS, runner Runner, tmpl *template.Template) error {
	hash := g.Hash(tmpl)

	g.mu.Lock()
	last := g.lastHash
	g.mu.Unlock()

	if hash == last && last != "" {
		if ok, err := fs.Exists("/" + g.cfg.InstallDir); err == nil && ok {
			g.logger.Info("dependencies unchanged, skipping install",
				zap.String("hash", hash[:12]))
			return nil
		}
	}

	if err := g.writeManifest(fs, tmpl); err != nil {
		return err
	}
	if err := g.runInstaller(ctx, runner); err != nil {
		return err
	}

	g.mu.Lock()
	g.lastHash = hash
	g.mu.Unlock()
	return nil
}

// Reset forgets the last successful install. Called on engine cleanup.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.lastHash = ""
	g.mu.Unlock()
}

// writeManifest merges the template's declared dependencies into any
// manifest already present in the mounted tree. Template declarations win
// on conflict; unrelated manifest fields are preserved.
func (g *Gate) writeManifest(fs sandbox.FS, tmpl *template.Template) error {
	manifest := map[string]interface{}{}
	if existing, err := fs.ReadFile(g.cfg.ManifestPath); err == nil {
		if err := sonic.Unmarshal([]byte(existing), &manifest); err != nil {
			g.logger.Warn("existing manifest is malformed, replacing it",
				zap.String("path", g.cfg.ManifestPath), zap.Error(err))
			manifest = map[string]interface{}{}
		}
	}

	if _, ok := manifest["name"]; !ok {
		name := tmpl.Name
		if name == "" {
			name = tmpl.ID
		}
		manifest["name"] = name
	}
	manifest["dependencies"] = mergeDeps(manifest["dependencies"], tmpl.Dependencies)
	if len(tmpl.DevDependencies) > 0 || manifest["devDependencies"] != nil {
		manifest["devDependencies"] = mergeDeps(manifest["devDependencies"], tmpl.DevDependencies)
	}

	data, err := sonic.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := fs.WriteFile(g.cfg.ManifestPath, string(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func mergeDeps(existing interface{}, declared map[string]string) map[string]string {
	merged := make(map[string]string)
	if m, ok := existing.(map[string]interface{}); ok {
		for name, version := range m {
			if v, ok := version.(string); ok {
				merged[name] = v
			}
		}
	}
	for name, version := range declared {
		merged[name] = version
	}
	return merged
}

func (g *Gate) runInstaller(ctx context.Context, runner Runner) error {
	g.logger.Info("installing dependencies",
		zap.String("cmd", g.cfg.InstallCmd),
		zap.Strings("args", g.cfg.InstallArgs),
	)

	code, output, err := runner.Run(ctx, g.cfg.InstallCmd, g.cfg.InstallArgs)
	if err != nil {
		return &InstallError{Kind: KindUnknown, Err: err}
	}
	if code != 0 {
		return Classify(code, output)
	}
	return nil
}

// normalize lowercases output once for substring classification.
func normalize(output string) string {
	return strings.ToLower(output)
}
