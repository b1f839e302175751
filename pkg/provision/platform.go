package provision

import (
	"fmt"
	"runtime"
)

// Descriptor names the whisper.cpp release artifacts for one OS/architecture.
type Descriptor struct {
	OS   string
	Arch string

	// ExecutableNames are the file names the extracted command-line binary may
	// carry. Older releases ship "main", newer ones "whisper-cli".
	ExecutableNames []string

	// ArchiveAssetName is the exact release asset to download.
	ArchiveAssetName string
}

// archiveNames maps GOOS/GOARCH to the published release archive.
var archiveNames = map[string]string{
	"windows/amd64": "whisper-bin-x64.zip",
	"windows/386":   "whisper-bin-Win32.zip",
	"darwin/arm64":  "whisper-bin-macos-arm64.zip",
	"darwin/amd64":  "whisper-bin-macos-x64.zip",
	"linux/amd64":   "whisper-bin-linux-x64.tar.gz",
	"linux/arm64":   "whisper-bin-linux-arm64.tar.gz",
}

// DescriptorFor returns the descriptor for goos/goarch. The second result is
// false when no prebuilt release exists for the platform.
func DescriptorFor(goos, goarch string) (Descriptor, bool) {
	d := Descriptor{OS: goos, Arch: goarch}
	if goos == "windows" {
		d.ExecutableNames = []string{"whisper-cli.exe", "main.exe"}
	} else {
		d.ExecutableNames = []string{"whisper-cli", "main"}
	}
	name, ok := archiveNames[goos+"/"+goarch]
	d.ArchiveAssetName = name
	return d, ok
}

// HostDescriptor returns the descriptor for the running binary's platform.
func HostDescriptor() (Descriptor, bool) {
	return DescriptorFor(runtime.GOOS, runtime.GOARCH)
}

// WithAsset returns a copy of d that downloads name instead of the
// platform-derived archive. An empty name returns d unchanged.
func (d Descriptor) WithAsset(name string) Descriptor {
	if name != "" {
		d.ArchiveAssetName = name
	}
	return d
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s/%s (%s)", d.OS, d.Arch, d.ArchiveAssetName)
}
