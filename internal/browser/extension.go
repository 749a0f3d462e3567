package browser

import (
	"fmt"
	"os"
	"path/filepath"
)

// CaptchaExtension ships inside the browser directory rather than extensions/.
const CaptchaExtension = "rektCaptcha-extension"

// ExtensionBase returns EXTENSIONS_BASE_PATH, or the working directory.
func ExtensionBase() string {
	if base := os.Getenv("EXTENSIONS_BASE_PATH"); base != "" {
		return base
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// ResolveExtensionPath locates an unpacked extension under base. A base of
// "" means ExtensionBase().
func ResolveExtensionPath(base, name string) (string, error) {
	if base == "" {
		base = ExtensionBase()
	}

	var path string
	if name == CaptchaExtension {
		path = filepath.Join(base, "browser", CaptchaExtension, "build")
	} else {
		path = filepath.Join(base, "extensions", name)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve extension path %s: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("extension not found at %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("extension not found at %s: not a directory", abs)
	}
	return abs, nil
}
