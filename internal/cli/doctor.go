package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/qserv/qserv/pkg/api"
	"github.com/qserv/qserv/pkg/models"
)

func (c *CLI) newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run system diagnostics",
		Long: `Run diagnostics against the master's configuration, topology, and
worker fleet.

Checks:
  - configuration loaded
  - topology file loaded and validated
  - catalog connectivity
  - reachability of every worker named in the topology`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runDoctor()
		},
	}
}

func (c *CLI) runDoctor() error {
	c.println("Qserv Master Diagnostics")
	c.println("========================")
	c.println("")

	checks := []DiagnosticCheck{
		c.checkConfig(),
		c.checkTopology(),
		c.checkCatalog(),
	}
	checks = append(checks, c.checkWorkers()...)

	allPassed := true
	for _, ch := range checks {
		if !ch.Passed {
			allPassed = false
		}
		c.printCheck(ch)
	}

	c.println("")

	if c.jsonOutput {
		return c.outputJSON(map[string]interface{}{
			"checks":     checks,
			"all_passed": allPassed,
		})
	}

	if allPassed {
		c.println("✓ All checks passed")
	} else {
		c.println("✗ Some checks failed - see above for details")
	}

	return nil
}

// DiagnosticCheck represents a single diagnostic check result.
type DiagnosticCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (c *CLI) printCheck(check DiagnosticCheck) {
	status := "✗"
	if check.Passed {
		status = "✓"
	}
	c.printf("%s %s: %s\n", status, check.Name, check.Message)
	if check.Details != "" && !check.Passed {
		c.printf("  → %s\n", check.Details)
	}
}

func (c *CLI) checkConfig() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Configuration"}
	if c.cfg == nil {
		check.Message = "No configuration loaded"
		check.Details = "Create ~/.qserv/qserv-master.yaml or use --config"
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("Default database: %s, dispatch endpoint: %s", c.cfg.Table.DefaultDB, c.cfg.Frontend.Xrootd)
	return check
}

func (c *CLI) checkTopology() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Topology"}
	if c.topology == nil {
		check.Message = "No topology configured"
		check.Details = "Pass --topology or set auth.topology in the master config"
		return check
	}
	check.Passed = true
	check.Message = fmt.Sprintf("%d worker(s), %d database(s)", len(c.topology.Workers), len(c.topology.Databases))
	return check
}

func (c *CLI) checkCatalog() DiagnosticCheck {
	check := DiagnosticCheck{Name: "Catalog"}
	if c.catalog == nil {
		check.Message = "Catalog not initialized"
		return check
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.catalog.CheckConnectivity(ctx); err != nil {
		check.Message = "Catalog unreachable"
		check.Details = err.Error()
		return check
	}
	check.Passed = true
	check.Message = "Reachable"
	return check
}

func (c *CLI) checkWorkers() []DiagnosticCheck {
	if c.topology == nil || len(c.topology.Workers) == 0 {
		return nil
	}
	checks := make([]DiagnosticCheck, 0, len(c.topology.Workers))
	for workerID, endpoint := range c.topology.Workers {
		checks = append(checks, c.checkWorker(workerID, endpoint))
	}
	return checks
}

func (c *CLI) checkWorker(workerID, endpoint string) DiagnosticCheck {
	check := DiagnosticCheck{Name: fmt.Sprintf("Worker %s", workerID)}

	conn, err := net.DialTimeout("tcp", endpoint, 2*time.Second)
	if err != nil {
		check.Message = "Unreachable"
		check.Details = err.Error()
		return check
	}
	conn.Close()

	health, err := fetchWorkerHealth(endpoint)
	if err != nil {
		check.Passed = true
		check.Message = fmt.Sprintf("TCP reachable at %s (health check failed: %v)", endpoint, err)
		return check
	}

	check.Passed = true
	check.Message = fmt.Sprintf("%s, pool %d, %d active task(s)", health.Status, health.PoolSize, health.ActiveTasks)
	return check
}

func fetchWorkerHealth(endpoint string) (*models.HealthInfo, error) {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + endpoint + api.RouteHealth)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	var health models.HealthInfo
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, err
	}
	return &health, nil
}
