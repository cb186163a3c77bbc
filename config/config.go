// Package config loads the drive-geometry and image tables the
// emulator presents to the host. The TOML file lives in the user's
// config directory on Windows and in a dotfile under the home
// directory elsewhere, and is seeded from an embedded default on
// first run.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

//go:embed floppy.toml
var defaultConfigData []byte

// Selected-drive state, filled in by Initialize.
var (
	DriveName string
	Cyls      int
	Heads     int
	RPM       int
	MaxKBps   int
	Images    []string
	ImageMap  map[string]string // image name -> filename
)

// Config is the full TOML document.
type Config struct {
	Default string  `toml:"default"`
	Drive   []Drive `toml:"drive"`
	Image   []Image `toml:"image"`
}

// Drive is one emulated drive's geometry plus the image names it may
// mount.
type Drive struct {
	Name    string   `toml:"name"`
	Cyls    int      `toml:"cyls"`
	Heads   int      `toml:"heads"`
	RPM     int      `toml:"rpm"`
	MaxKBps int      `toml:"maxkbps"`
	Images  []string `toml:"images"`
}

// Image maps an image name to its backing filename.
type Image struct {
	Name string `toml:"name"`
	File string `toml:"file"`
}

// validate rejects geometry a Shugart host could not drive.
func (d *Drive) validate() error {
	switch {
	case d.Cyls <= 0:
		return fmt.Errorf("drive %q has invalid cyls: %d", d.Name, d.Cyls)
	case d.Heads <= 0:
		return fmt.Errorf("drive %q has invalid heads: %d", d.Name, d.Heads)
	case d.RPM <= 0:
		return fmt.Errorf("drive %q has invalid rpm: %d", d.Name, d.RPM)
	case d.MaxKBps <= 0:
		return fmt.Errorf("drive %q has invalid maxkbps: %d", d.Name, d.MaxKBps)
	case len(d.Images) == 0:
		return fmt.Errorf("drive %q has no images listed", d.Name)
	}
	return nil
}

// drive looks a drive up by name.
func (c *Config) drive(name string) *Drive {
	for i := range c.Drive {
		if c.Drive[i].Name == name {
			return &c.Drive[i]
		}
	}
	return nil
}

// configPath picks the per-user config file location: the app-data
// directory on Windows, a dotfile in the home directory elsewhere.
func configPath() (string, error) {
	if runtime.GOOS == "windows" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		return filepath.Join(dir, "floppy", ".floppy"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user home directory: %w", err)
	}
	return filepath.Join(home, ".floppy"), nil
}

// seedDefault writes the embedded config to path if nothing is there
// yet, creating the parent directory as needed.
func seedDefault(path string) error {
	if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, defaultConfigData, 0644); err != nil {
		return fmt.Errorf("failed to create default config file at %s: %w", path, err)
	}
	return nil
}

// Initialize loads the config file (seeding it from the embedded
// default on first run), resolves the default drive, and publishes
// its geometry and image table through the package globals.
func Initialize() error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := seedDefault(path); err != nil {
		return err
	}

	var conf Config
	if _, err := toml.DecodeFile(path, &conf); err != nil {
		return fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
	}
	if conf.Default == "" {
		return errors.New("`default` key is missing or empty in config")
	}

	drive := conf.drive(conf.Default)
	if drive == nil {
		return fmt.Errorf("default drive %q not found in drive array", conf.Default)
	}
	if err := drive.validate(); err != nil {
		return err
	}

	// The drive's image names must all resolve to a file.
	files := make(map[string]string, len(conf.Image))
	for _, img := range conf.Image {
		files[img.Name] = img.File
	}
	for _, name := range drive.Images {
		if _, ok := files[name]; !ok {
			return fmt.Errorf("image %q listed under drive %q not found in image array", name, conf.Default)
		}
	}

	DriveName = drive.Name
	Cyls = drive.Cyls
	Heads = drive.Heads
	RPM = drive.RPM
	MaxKBps = drive.MaxKBps
	Images = append([]string(nil), drive.Images...)
	ImageMap = files
	return nil
}

// GetImageFilename resolves an image name from the loaded config.
func GetImageFilename(imageName string) (string, error) {
	filename, ok := ImageMap[imageName]
	if !ok {
		return "", fmt.Errorf("image %q not found in configuration", imageName)
	}
	return filename, nil
}
