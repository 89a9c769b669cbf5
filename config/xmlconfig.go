package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// LocationSpec is one <location> element from the legacy XML
// configuration fragment:
//
//	/dataFileStore/writeLocations/location[@property,@wwDir,@append,@create]
//	/dataFileStore/readLocations/location[@property,@wwDir,@append,@isInstall,@isMarkWhenUsed]
//
// Only the attributes listed above are parsed; anything else in the
// document is ignored. Append and Create are decoded but not used by
// ParseLocations.
type LocationSpec struct {
	Property       string `xml:"property,attr"`
	WWDir          string `xml:"wwDir,attr"`
	Append         string `xml:"append,attr"`
	Create         bool   `xml:"create,attr"`
	IsInstall      bool   `xml:"isInstall,attr"`
	IsMarkWhenUsed bool   `xml:"isMarkWhenUsed,attr"`
}

// dataFileStoreXML mirrors the shape of the /dataFileStore element
// closely enough to decode it with encoding/xml's struct tags; it is
// not exported because callers should go through ParseLocations
// instead of depending on the document shape directly.
type dataFileStoreXML struct {
	XMLName        xml.Name `xml:"dataFileStore"`
	WriteLocations struct {
		Locations []LocationSpec `xml:"location"`
	} `xml:"writeLocations"`
	ReadLocations struct {
		Locations []LocationSpec `xml:"location"`
	} `xml:"readLocations"`
}

// ParsedLocations is the result of parsing a dataFileStore XML fragment:
// the write locations and read locations, each with its property name
// already resolved to an absolute directory.
type ParsedLocations struct {
	Write []ResolvedLocation
	Read  []ResolvedLocation
}

// ResolvedLocation is a LocationSpec with Property resolved to Dir.
type ResolvedLocation struct {
	Dir            string
	IsInstall      bool
	IsMarkWhenUsed bool
}

// ParseLocations decodes the /dataFileStore XML fragment in data and
// resolves every location's property to an absolute directory via
// ResolveProperty.
func ParseLocations(data []byte) (*ParsedLocations, error) {
	var doc dataFileStoreXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: failed to parse dataFileStore XML: %w", err)
	}

	out := &ParsedLocations{}
	for _, loc := range doc.WriteLocations.Locations {
		dir, err := resolveLocation(loc)
		if err != nil {
			return nil, err
		}
		out.Write = append(out.Write, ResolvedLocation{Dir: dir})
	}
	for _, loc := range doc.ReadLocations.Locations {
		dir, err := resolveLocation(loc)
		if err != nil {
			return nil, err
		}
		out.Read = append(out.Read, ResolvedLocation{
			Dir:            dir,
			IsInstall:      loc.IsInstall,
			IsMarkWhenUsed: loc.IsMarkWhenUsed,
		})
	}
	return out, nil
}

func resolveLocation(loc LocationSpec) (string, error) {
	root, err := ResolveProperty(loc.Property)
	if err != nil {
		return "", err
	}
	if loc.WWDir == "" {
		return root, nil
	}
	return filepath.Join(root, loc.WWDir), nil
}

// ResolveProperty resolves a location's "property" attribute to an
// absolute directory:
//
//   - if name matches an OS environment variable, its value is used;
//   - otherwise a small set of recognized special names map to
//     platform-standard cache roots.
func ResolveProperty(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("config: location is missing a 'property' attribute")
	}

	if v, ok := os.LookupEnv(name); ok {
		return v, nil
	}

	switch name {
	case "system.cache.root":
		return systemCacheRoot()
	case "user.cache.root":
		return userCacheRoot()
	}

	return "", fmt.Errorf("config: unresolved location property %q", name)
}

// systemCacheRoot returns the platform-standard machine-wide cache
// directory: macOS /Library/Caches, Windows
// %ALLUSERSPROFILE%\Application Data, Linux/Unix /var/cache.
func systemCacheRoot() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		return "/Library/Caches", nil
	case "windows":
		base := os.Getenv("ALLUSERSPROFILE")
		if base == "" {
			return "", fmt.Errorf("config: ALLUSERSPROFILE is not set")
		}
		return filepath.Join(base, "Application Data"), nil
	default:
		return "/var/cache", nil
	}
}

// userCacheRoot returns the platform-standard per-user cache directory,
// the single-user variant of systemCacheRoot.
func userCacheRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: could not determine user home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Caches"), nil
	case "windows":
		return filepath.Join(home, "AppData", "Local"), nil
	default:
		return filepath.Join(home, ".cache"), nil
	}
}
