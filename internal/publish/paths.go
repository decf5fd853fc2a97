package publish

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// targetFilenameRe allows simple lowercase filenames only, no paths.
	targetFilenameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}\.(webp|png|jpg|jpeg)$`)
	// manifestKeyRe is the same shape without an extension.
	manifestKeyRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)
)

// ValidTargetFilename reports whether a publish target filename is safe.
func ValidTargetFilename(name string) bool {
	return targetFilenameRe.MatchString(name)
}

// ValidManifestKey reports whether a manifest key is safe.
func ValidManifestKey(key string) bool {
	return manifestKeyRe.MatchString(key)
}

// AutoFilename derives a publish filename from an asset id.
func AutoFilename(assetID, format string) string {
	short := assetID
	if len(short) > 8 {
		short = short[:8]
	}
	format = strings.TrimPrefix(format, ".")
	if format == "" {
		format = "webp"
	}
	return fmt.Sprintf("asset_%s.%s", short, format)
}

// Canonicalize resolves a path to an absolute form with symlinks followed.
// When the leaf does not exist yet, its deepest existing ancestor is
// resolved instead so symlinked parents still collapse.
func Canonicalize(path string, mustExist bool) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if mustExist {
		return "", fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	// Walk up until something resolves, then re-append the tail.
	dir, tail := abs, ""
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		tail = filepath.Join(filepath.Base(dir), tail)
		dir = parent
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(resolved, tail), nil
		}
	}
}

// IsWithin checks containment after resolving symlinks on both sides, which
// is what stops traversal through a symlink planted inside a root.
func IsWithin(child, parent string, childMustExist bool) bool {
	childReal, err := Canonicalize(child, childMustExist)
	if err != nil {
		return false
	}
	parentReal, err := Canonicalize(parent, true)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(parentReal, childReal)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "..")
}

var projectMarkers = []string{".git", "package.json", "pyproject.toml", "Cargo.toml"}

// DetectProjectRoot finds the web project to publish into. The expected
// contract is that the server starts from the repo root; the upward marker
// search is a conservative fallback, and finding markers at several levels
// is treated as ambiguous rather than guessed at.
func DetectProjectRoot() (root string, method string, err error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}

	if hasAnyMarker(cwd) || dirExists(filepath.Join(cwd, "public")) || dirExists(filepath.Join(cwd, "static")) {
		return cwd, "cwd", nil
	}

	var found []string
	current := cwd
	for i := 0; i < 10; i++ {
		if hasAnyMarker(current) {
			found = append(found, current)
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	switch len(found) {
	case 0:
		log.Printf("[Publish] No project markers found, using cwd as project root")
		return cwd, "cwd", nil
	case 1:
		log.Printf("[Publish] Auto-detected project root: %s", found[0])
		return found[0], "auto-detected", nil
	default:
		return "", "", fmt.Errorf("ambiguous project root: markers at multiple levels %v; start the server from the repo root", found)
	}
}

func hasAnyMarker(dir string) bool {
	for _, m := range projectMarkers {
		if _, err := os.Stat(filepath.Join(dir, m)); err == nil {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// DefaultPublishRoot picks public/gen, static/gen or assets/gen under the
// project root, creating the first whose parent exists.
func DefaultPublishRoot(projectRoot string) (string, error) {
	candidates := []string{
		filepath.Join(projectRoot, "public", "gen"),
		filepath.Join(projectRoot, "static", "gen"),
		filepath.Join(projectRoot, "assets", "gen"),
	}
	for _, c := range candidates {
		if dirExists(filepath.Dir(c)) {
			if err := os.MkdirAll(c, 0o755); err != nil {
				return "", err
			}
			return c, nil
		}
	}
	if err := os.MkdirAll(candidates[0], 0o755); err != nil {
		return "", err
	}
	return candidates[0], nil
}

// ValidateOutputRoot checks whether a directory plausibly is a ComfyUI
// output directory: ComfyUI_*.png files, the output/ or temp/ structure, or
// at least a few loose images.
func ValidateOutputRoot(path string) bool {
	if !dirExists(path) {
		return false
	}
	if matches, _ := filepath.Glob(filepath.Join(path, "ComfyUI_*.png")); len(matches) > 0 {
		return true
	}
	if dirExists(filepath.Join(path, "output")) || dirExists(filepath.Join(path, "temp")) {
		return true
	}
	count := 0
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".webp", ".gif"} {
		matches, _ := filepath.Glob(filepath.Join(path, "*"+ext))
		count += len(matches)
		if count >= 3 {
			return true
		}
	}
	return false
}

// TriedPath records one candidate considered during output root detection.
type TriedPath struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Valid  bool   `json:"is_valid"`
	Source string `json:"source"`
}

// DetectOutputRoot looks for the engine's output directory: persisted
// config first, then a tight candidate list. No broad filesystem scanning.
func DetectOutputRoot(projectRoot string) (string, []TriedPath) {
	var tried []TriedPath

	if configured := loadPersisted().OutputRoot; configured != "" {
		exists := dirExists(configured)
		valid := exists && ValidateOutputRoot(configured)
		tried = append(tried, TriedPath{Path: configured, Exists: exists, Valid: valid, Source: "persistent_config"})
		if valid {
			log.Printf("[Publish] Using ComfyUI output root from persistent config: %s", configured)
			return configured, tried
		}
		if exists {
			log.Printf("[Publish] Configured ComfyUI output root exists but doesn't validate: %s", configured)
			return configured, tried
		}
	}

	candidates := []string{
		filepath.Join(projectRoot, "comfyui-desktop", "output"),
		filepath.Join(filepath.Dir(projectRoot), "comfyui-desktop", "output"),
		filepath.Join(projectRoot, "ComfyUI", "output"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "comfyui-desktop", "output"))
	}

	for _, c := range candidates {
		exists := dirExists(c)
		valid := exists && ValidateOutputRoot(c)
		tried = append(tried, TriedPath{Path: c, Exists: exists, Valid: valid, Source: "auto_detection"})
		if valid {
			log.Printf("[Publish] Auto-detected ComfyUI output root: %s", c)
			return c, tried
		}
	}

	log.Printf("[Publish] Could not detect ComfyUI output root (tried %d paths)", len(tried))
	return "", tried
}

// persistedConfig is the publish settings file under the user config dir.
type persistedConfig struct {
	OutputRoot string `json:"comfyui_output_root,omitempty"`
}

func persistedConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "comfy-mcp", "publish_config.json")
}

func loadPersisted() persistedConfig {
	var cfg persistedConfig
	path := persistedConfigPath()
	if path == "" {
		return cfg
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("[Publish] Failed to parse publish config %s: %v", path, err)
	}
	return cfg
}

func savePersisted(cfg persistedConfig) error {
	path := persistedConfigPath()
	if path == "" {
		return fmt.Errorf("no user config directory available")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
