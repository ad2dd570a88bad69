package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Long:  `Display CLI build version information and, when a topology is configured, the first reachable worker's reported version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runVersion()
		},
	}
}

func (c *CLI) runVersion() error {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	var workerVersion, workerStatus string
	if c.topology != nil {
		for _, endpoint := range c.topology.Workers {
			if health, err := fetchWorkerHealth(endpoint); err == nil {
				workerVersion = health.Version
				workerStatus = health.Status
				break
			}
			workerStatus = "unavailable"
		}
	} else {
		workerStatus = "not configured"
	}

	if c.jsonOutput {
		output := struct {
			VersionInfo
			Worker struct {
				Version string `json:"version,omitempty"`
				Status  string `json:"status"`
			} `json:"worker"`
		}{VersionInfo: info}
		output.Worker.Version = workerVersion
		output.Worker.Status = workerStatus
		return c.outputJSON(output)
	}

	c.println("qserv-master")
	c.printf("  Version:    %s\n", info.Version)
	c.printf("  Git Commit: %s\n", info.GitCommit)
	c.printf("  Build Date: %s\n", info.BuildDate)
	c.printf("  Go Version: %s\n", info.GoVersion)
	c.printf("  OS/Arch:    %s/%s\n", info.OS, info.Arch)

	c.println("")
	c.println("Worker (sampled):")
	if workerVersion != "" {
		c.printf("  Version: %s\n", workerVersion)
		c.printf("  Status:  %s\n", workerStatus)
	} else {
		c.printf("  Status: %s\n", workerStatus)
	}

	return nil
}

// VersionInfo represents version information for JSON output.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// SetVersionInfo sets the version information (called from main).
func SetVersionInfo(version, commit, date string) {
	if version != "" {
		Version = version
	}
	if commit != "" {
		GitCommit = commit
	}
	if date != "" {
		BuildDate = date
	}
}

func init() {
	if GitCommit == "" {
		GitCommit = "dev"
	}
	if BuildDate == "" {
		BuildDate = "unknown"
	}
}

// GetVersionString returns a formatted version string.
func GetVersionString() string {
	return fmt.Sprintf("qserv-master version %s (commit: %s, built: %s)",
		Version, GitCommit, BuildDate)
}
