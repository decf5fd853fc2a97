package publish

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/comfyforge/comfy-mcp/internal/imaging"
)

// Config is the resolved publish layout: where the web project lives, where
// published assets land, and where the engine writes its outputs.
type Config struct {
	ProjectRoot       string
	ProjectRootMethod string
	PublishRoot       string
	OutputRoot        string
	OutputRootMethod  string
	TriedPaths        []TriedPath
	MaxBytes          int64
}

// NewConfig resolves the publish layout. Empty arguments trigger detection;
// explicit values are taken as-is.
func NewConfig(projectRoot, publishRoot, outputRoot string, maxBytes int64) (*Config, error) {
	cfg := &Config{MaxBytes: maxBytes}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 600 * 1024
	}

	if projectRoot != "" {
		abs, err := filepath.Abs(projectRoot)
		if err != nil {
			return nil, err
		}
		cfg.ProjectRoot = abs
		cfg.ProjectRootMethod = "configured"
	} else {
		root, method, err := DetectProjectRoot()
		if err != nil {
			return nil, err
		}
		cfg.ProjectRoot = root
		cfg.ProjectRootMethod = method
	}

	if publishRoot != "" {
		abs, err := filepath.Abs(publishRoot)
		if err != nil {
			return nil, err
		}
		cfg.PublishRoot = abs
	} else {
		root, err := DefaultPublishRoot(cfg.ProjectRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare publish root: %w", err)
		}
		cfg.PublishRoot = root
	}
	if err := os.MkdirAll(cfg.PublishRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create publish root: %w", err)
	}

	if outputRoot != "" {
		abs, err := filepath.Abs(outputRoot)
		if err != nil {
			return nil, err
		}
		cfg.OutputRoot = abs
		cfg.OutputRootMethod = "explicit"
	} else {
		detected, tried := DetectOutputRoot(cfg.ProjectRoot)
		cfg.OutputRoot = detected
		cfg.TriedPaths = tried
		if detected != "" {
			cfg.OutputRootMethod = "auto-detected"
		} else {
			cfg.OutputRootMethod = "not_found"
		}
	}
	return cfg, nil
}

// Manager copies engine outputs into the web project under strict path
// containment, with an optional web-optimize compression pass.
type Manager struct {
	config *Config

	// manifestMu serializes manifest read-modify-write cycles within the
	// process.
	manifestMu sync.Mutex
}

func NewManager(config *Config) *Manager {
	m := &Manager{config: config}
	log.Printf("[Publish] Initialized with publish_root=%s", config.PublishRoot)
	if config.OutputRoot != "" {
		log.Printf("[Publish] ComfyUI output root: %s (method: %s)", config.OutputRoot, config.OutputRootMethod)
	}
	return m
}

// ReadyInfo carries diagnostics from a readiness check.
type ReadyInfo struct {
	Code       string      `json:"code,omitempty"`
	Message    string      `json:"message,omitempty"`
	TriedPaths []TriedPath `json:"tried_paths,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// EnsureReady checks the publish layout is usable before any copy happens.
func (m *Manager) EnsureReady() (bool, *ReadyInfo) {
	if f, err := os.CreateTemp(m.config.PublishRoot, ".write-check-*"); err != nil {
		return false, &ReadyInfo{
			Code:    "PUBLISH_ROOT_NOT_WRITABLE",
			Message: fmt.Sprintf("publish root is not writable: %s", m.config.PublishRoot),
		}
	} else {
		f.Close()
		os.Remove(f.Name())
	}

	if m.config.OutputRoot == "" {
		return false, &ReadyInfo{
			Code:       "COMFYUI_OUTPUT_ROOT_NOT_FOUND",
			Message:    "COMFYUI_OUTPUT_ROOT not configured; set the environment variable or call set_comfyui_output_root",
			TriedPaths: m.config.TriedPaths,
		}
	}
	if !dirExists(m.config.OutputRoot) {
		return false, &ReadyInfo{
			Code:    "COMFYUI_OUTPUT_ROOT_NOT_FOUND",
			Message: fmt.Sprintf("ComfyUI output root does not exist: %s", m.config.OutputRoot),
		}
	}

	var warnings []string
	if !ValidateOutputRoot(m.config.OutputRoot) {
		warnings = append(warnings, fmt.Sprintf("ComfyUI output root may not be valid: %s", m.config.OutputRoot))
	}
	if m.config.ProjectRootMethod == "auto-detected" {
		warnings = append(warnings, "using fallback project root detection; start the server from the repo root for best results")
	}
	if m.config.OutputRootMethod == "auto-detected" {
		warnings = append(warnings, "using auto-detected ComfyUI output root; set COMFYUI_OUTPUT_ROOT for explicit control")
	}
	if len(warnings) > 0 {
		return true, &ReadyInfo{Warnings: warnings}
	}
	return true, nil
}

// ResolveSourcePath maps asset metadata to a real file under the engine
// output root, rejecting anything that escapes it.
func (m *Manager) ResolveSourcePath(subfolder, filename string) (string, error) {
	if m.config.OutputRoot == "" {
		return "", fmt.Errorf("COMFYUI_OUTPUT_ROOT not configured")
	}
	source := filepath.Join(m.config.OutputRoot, subfolder, filename)
	real, err := Canonicalize(source, true)
	if err != nil {
		return "", fmt.Errorf("source path cannot be resolved: %w", err)
	}
	if !IsWithin(real, m.config.OutputRoot, true) {
		return "", fmt.Errorf("source path %s is outside ComfyUI output root", real)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("source file does not exist: %s", real)
	}
	if info.IsDir() {
		return "", fmt.Errorf("source path is not a file: %s", real)
	}
	return real, nil
}

// ResolveTargetPath validates a target filename and pins it inside the
// publish root.
func (m *Manager) ResolveTargetPath(targetFilename string) (string, error) {
	if !ValidTargetFilename(targetFilename) {
		return "", fmt.Errorf("invalid target_filename %q: must match ^[a-z0-9][a-z0-9._-]{0,63}\\.(webp|png|jpg|jpeg)$", targetFilename)
	}
	target := filepath.Join(m.config.PublishRoot, targetFilename)
	real, err := Canonicalize(target, false)
	if err != nil {
		return "", err
	}
	if !IsWithin(real, m.config.PublishRoot, false) {
		return "", fmt.Errorf("target path %s is outside publish root", real)
	}
	return real, nil
}

// CopyOptions control one publish copy.
type CopyOptions struct {
	Overwrite      bool
	WebOptimize    bool
	MaxBytes       int64
	AssetID        string
	TargetFilename string
}

// Result describes a published file.
type Result struct {
	DestPath        string                   `json:"dest_path"`
	DestURL         string                   `json:"dest_url"`
	BytesSize       int64                    `json:"bytes_size"`
	MimeType        string                   `json:"mime_type"`
	CompressionInfo *imaging.CompressionInfo `json:"compression_info,omitempty"`
}

// CopyAsset writes source to target through a temp file and rename, so a
// crash never leaves a half-written file at the published path. When
// WebOptimize is set, image sources are converted to WebP through the
// compression ladder first.
func (m *Manager) CopyAsset(sourcePath, targetPath string, opts CopyOptions) (*Result, error) {
	if _, err := os.Stat(targetPath); err == nil && !opts.Overwrite {
		return nil, fmt.Errorf("target file already exists and overwrite=false: %s", targetPath)
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = m.config.MaxBytes
	}

	tempPath := targetPath + ".tmp"
	defer os.Remove(tempPath)

	sourceExt := strings.ToLower(filepath.Ext(sourcePath))
	isImage := sourceExt == ".png" || sourceExt == ".jpg" || sourceExt == ".jpeg" || sourceExt == ".webp" || sourceExt == ".gif"

	var compression *imaging.CompressionInfo
	if isImage && opts.WebOptimize {
		src, err := os.ReadFile(sourcePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read source: %w", err)
		}
		data, info, err := imaging.CompressForWeb(src, "webp", maxBytes)
		if err != nil {
			return nil, err
		}
		compression = info
		if err := os.WriteFile(tempPath, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write compressed asset: %w", err)
		}
	} else {
		if err := copyFile(sourcePath, tempPath); err != nil {
			return nil, err
		}
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return nil, fmt.Errorf("failed to finalize publish: %w", err)
	}

	info, err := os.Stat(targetPath)
	if err != nil {
		return nil, err
	}

	destURL := "/gen/" + filepath.Base(targetPath)
	if rel, err := filepath.Rel(m.config.PublishRoot, targetPath); err == nil {
		destURL = "/gen/" + filepath.ToSlash(rel)
	}

	log.Printf("[Publish] Published asset: %s -> %s (%d bytes)", sourcePath, targetPath, info.Size())
	m.logPublish(opts.AssetID, opts.TargetFilename, sourcePath, targetPath, info.Size())

	return &Result{
		DestPath:        targetPath,
		DestURL:         destURL,
		BytesSize:       info.Size(),
		MimeType:        mimeFromExt(filepath.Ext(targetPath)),
		CompressionInfo: compression,
	}, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open temp target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy asset: %w", err)
	}
	return out.Close()
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

// UpdateManifest sets key -> filename in manifest.json with an atomic
// write. The manifest is a flat object; later publishes under the same key
// replace the entry.
func (m *Manager) UpdateManifest(key, filename string) error {
	if !ValidManifestKey(key) {
		return fmt.Errorf("invalid manifest_key %q: must match ^[a-z0-9][a-z0-9._-]{0,63}$", key)
	}
	manifestPath := filepath.Join(m.config.PublishRoot, "manifest.json")

	m.manifestMu.Lock()
	defer m.manifestMu.Unlock()

	manifest := map[string]string{}
	if data, err := os.ReadFile(manifestPath); err == nil {
		if err := json.Unmarshal(data, &manifest); err != nil {
			log.Printf("[Publish] Failed to read manifest, creating new one: %v", err)
			manifest = map[string]string{}
		}
	}
	manifest[key] = filename

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	tempPath := manifestPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to update manifest: %w", err)
	}
	if err := os.Rename(tempPath, manifestPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to update manifest: %w", err)
	}
	return nil
}

// logPublish appends one line to publish_log.jsonl; logging failures never
// fail the publish itself.
func (m *Manager) logPublish(assetID, targetFilename, sourcePath, destPath string, bytesSize int64) {
	entry := map[string]interface{}{
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"asset_id":        assetID,
		"target_filename": targetFilename,
		"source_path":     sourcePath,
		"dest_path":       destPath,
		"bytes_size":      bytesSize,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	logPath := filepath.Join(m.config.PublishRoot, "publish_log.jsonl")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[Publish] Failed to write to publish log: %v", err)
		return
	}
	defer f.Close()
	f.Write(append(data, '\n'))
}

// Info reports the resolved layout for the publish_info tool.
func (m *Manager) Info() map[string]interface{} {
	ready, readyInfo := m.EnsureReady()
	return map[string]interface{}{
		"project_root":        m.config.ProjectRoot,
		"project_root_method": m.config.ProjectRootMethod,
		"publish_root":        m.config.PublishRoot,
		"comfyui_output_root": m.config.OutputRoot,
		"output_root_method":  m.config.OutputRootMethod,
		"max_bytes":           m.config.MaxBytes,
		"ready":               ready,
		"ready_info":          readyInfo,
	}
}

// SetOutputRoot overrides the engine output root and persists it so later
// sessions skip detection.
func (m *Manager) SetOutputRoot(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !dirExists(abs) {
		return fmt.Errorf("directory does not exist: %s", abs)
	}
	if !ValidateOutputRoot(abs) {
		log.Printf("[Publish] Warning: %s does not look like a ComfyUI output directory", abs)
	}
	m.config.OutputRoot = abs
	m.config.OutputRootMethod = "configured"
	cfg := loadPersisted()
	cfg.OutputRoot = abs
	return savePersisted(cfg)
}
